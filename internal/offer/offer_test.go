package offer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openclassifieds/handoff/internal/listing"
)

// mockListings serves fixed listing snapshots.
type mockListings struct {
	listings map[string]*listing.Listing
}

func (m *mockListings) Get(_ context.Context, id string) (*listing.Listing, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, listing.ErrNotFound
	}
	return l, nil
}

// mockNotifier records emitted event types.
type mockNotifier struct {
	events []string
}

func (m *mockNotifier) OfferEvent(eventType string, _ *Offer) {
	m.events = append(m.events, eventType)
}

func (m *mockNotifier) PickupEvent(eventType string, _ *Offer, _ *PickupProposal) {
	m.events = append(m.events, eventType)
}

func (m *mockNotifier) has(eventType string) bool {
	for _, e := range m.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newTestService() (*Service, *MemoryStore, *mockNotifier) {
	store := NewMemoryStore()
	listings := &mockListings{listings: map[string]*listing.Listing{
		"lst_couch": {
			ID:             "lst_couch",
			OwnerID:        "seller",
			Title:          "Green couch",
			Type:           listing.TypeSale,
			Price:          "120.00",
			Currency:       "EUR",
			PickupLocation: "Central Library",
			Deliveries:     []listing.Delivery{listing.DeliveryPickup, listing.DeliveryShipping},
		},
		"lst_books": {
			ID:         "lst_books",
			OwnerID:    "seller",
			Title:      "Box of paperbacks",
			Type:       listing.TypeGift,
			Deliveries: []listing.Delivery{listing.DeliveryPickup},
		},
	}}
	notifier := &mockNotifier{}
	svc := NewService(store, listings).WithNotifier(notifier)
	return svc, store, notifier
}

func createTestOffer(t *testing.T, svc *Service, delivery listing.Delivery) *Offer {
	t.Helper()
	o, err := svc.Create(context.Background(), "buyer", CreateRequest{
		ListingID: "lst_couch",
		Delivery:  string(delivery),
		Amount:    "100.00",
		Currency:  "EUR",
		Message:   "Would pick it up this week",
	})
	if err != nil {
		t.Fatalf("failed to create offer: %v", err)
	}
	return o
}

func acceptedPickupOffer(t *testing.T, svc *Service) *Offer {
	t.Helper()
	o := createTestOffer(t, svc, listing.DeliveryPickup)
	o, err := svc.Accept(context.Background(), o.ID, "seller")
	if err != nil {
		t.Fatalf("failed to accept offer: %v", err)
	}
	return o
}

func proposeTestPickup(t *testing.T, svc *Service, offerID, actor string, dates ...string) *PickupProposal {
	t.Helper()
	if len(dates) == 0 {
		dates = []string{"2026-09-10", "2026-09-12"}
	}
	_, p, err := svc.ProposePickup(context.Background(), offerID, actor, ProposeRequest{
		Dates:       dates,
		WindowStart: "17:00",
		WindowEnd:   "19:00",
	})
	if err != nil {
		t.Fatalf("failed to propose pickup: %v", err)
	}
	return p
}

// --- Create tests ---

func TestCreateOffer(t *testing.T) {
	svc, _, notifier := newTestService()
	o := createTestOffer(t, svc, listing.DeliveryPickup)

	if !strings.HasPrefix(o.ID, "off_") {
		t.Errorf("expected ID prefix off_, got %s", o.ID)
	}
	if o.Status != StatusPending {
		t.Errorf("expected pending, got %s", o.Status)
	}
	if o.SellerID != "seller" || o.BuyerID != "buyer" {
		t.Errorf("unexpected parties: %s / %s", o.BuyerID, o.SellerID)
	}
	if o.ExpiresAt.IsZero() {
		t.Error("expected an expiry deadline")
	}
	if o.Version != 1 {
		t.Errorf("expected version 1, got %d", o.Version)
	}
	if !notifier.has(EventOfferCreated) {
		t.Error("expected offer.created event")
	}
}

func TestCreateOfferSelfOffer(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Create(context.Background(), "seller", CreateRequest{
		ListingID: "lst_couch",
		Delivery:  "pickup",
		Amount:    "100.00",
	})
	if !errors.Is(err, ErrSelfOffer) {
		t.Errorf("expected ErrSelfOffer, got %v", err)
	}
}

func TestCreateOfferValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"missing listing", CreateRequest{ListingID: "lst_gone", Delivery: "pickup", Amount: "5"}, listing.ErrNotFound},
		{"bad delivery", CreateRequest{ListingID: "lst_couch", Delivery: "teleport", Amount: "5"}, ErrValidation},
		{"disallowed delivery", CreateRequest{ListingID: "lst_books", Delivery: "shipping"}, ErrValidation},
		{"negative amount", CreateRequest{ListingID: "lst_couch", Delivery: "pickup", Amount: "-5"}, ErrValidation},
		{"sale needs amount", CreateRequest{ListingID: "lst_couch", Delivery: "pickup"}, ErrValidation},
		{"zero quantity item", CreateRequest{ListingID: "lst_couch", Delivery: "pickup", Amount: "5",
			Items: []ItemLine{{ItemID: "itm_1", Quantity: 0}}}, ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, "buyer", tc.req); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateGiftOfferWithoutAmount(t *testing.T) {
	svc, _, _ := newTestService()

	o, err := svc.Create(context.Background(), "buyer", CreateRequest{
		ListingID: "lst_books",
		Delivery:  "pickup",
		Items:     []ItemLine{{ItemID: "itm_tea", Quantity: 2, Condition: "new"}},
	})
	if err != nil {
		t.Fatalf("expected gift offer without amount to pass, got %v", err)
	}
	if o.Amount != "" {
		t.Errorf("expected empty amount, got %s", o.Amount)
	}
}

// --- Decision tests ---

func TestAcceptOffer(t *testing.T) {
	svc, _, _ := newTestService()
	o := createTestOffer(t, svc, listing.DeliveryPickup)

	o, err := svc.Accept(context.Background(), o.ID, "seller")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if o.Status != StatusAccepted {
		t.Errorf("expected accepted, got %s", o.Status)
	}
}

func TestAcceptShippingSkipsScheduling(t *testing.T) {
	svc, _, notifier := newTestService()
	o := createTestOffer(t, svc, listing.DeliveryShipping)

	o, err := svc.Accept(context.Background(), o.ID, "seller")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if o.Status != StatusConfirmed {
		t.Errorf("expected shipping offer to confirm on accept, got %s", o.Status)
	}
	if !notifier.has(EventOfferConfirmed) {
		t.Error("expected offer.confirmed event")
	}
}

func TestDecisionRoleGates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := createTestOffer(t, svc, listing.DeliveryPickup)

	if _, err := svc.Accept(ctx, o.ID, "buyer"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("buyer accept: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Reject(ctx, o.ID, "buyer"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("buyer reject: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Withdraw(ctx, o.ID, "seller"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("seller withdraw: expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Accept(ctx, o.ID, "stranger"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger accept: expected ErrUnauthorized, got %v", err)
	}
}

func TestRejectAndWithdraw(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := createTestOffer(t, svc, listing.DeliveryPickup)
	o, err := svc.Reject(ctx, o.ID, "seller")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if o.Status != StatusRejected {
		t.Errorf("expected rejected, got %s", o.Status)
	}

	// Terminal: no further decisions.
	if _, err := svc.Withdraw(ctx, o.ID, "buyer"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	o2 := createTestOffer(t, svc, listing.DeliveryPickup)
	o2, err = svc.Withdraw(ctx, o2.ID, "buyer")
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if o2.Status != StatusWithdrawn {
		t.Errorf("expected withdrawn, got %s", o2.Status)
	}
}

// --- Pickup negotiation tests ---

func TestProposePickup(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	p := proposeTestPickup(t, svc, o.ID, "buyer")

	if p.Status != ProposalProposed {
		t.Errorf("expected proposed, got %s", p.Status)
	}
	if p.Location != "Central Library" {
		t.Errorf("expected location defaulted from listing, got %q", p.Location)
	}

	o, err := svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusPickupScheduling {
		t.Errorf("expected pickup_scheduling, got %s", o.Status)
	}
	if !notifier.has(EventPickupProposed) {
		t.Error("expected pickup.proposed event")
	}

	// A second proposal while one is pending a response is rejected.
	_, _, err = svc.ProposePickup(ctx, o.ID, "seller", ProposeRequest{
		Dates: []string{"2026-09-11"}, WindowStart: "10:00", WindowEnd: "12:00",
	})
	if !errors.Is(err, ErrActiveProposal) {
		t.Errorf("expected ErrActiveProposal, got %v", err)
	}
}

func TestProposePickupGuards(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	pending := createTestOffer(t, svc, listing.DeliveryPickup)
	if _, _, err := svc.ProposePickup(ctx, pending.ID, "buyer", ProposeRequest{
		Dates: []string{"2026-09-10"}, WindowStart: "17:00", WindowEnd: "19:00",
	}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending offer: expected ErrInvalidTransition, got %v", err)
	}

	o := acceptedPickupOffer(t, svc)
	if _, _, err := svc.ProposePickup(ctx, o.ID, "stranger", ProposeRequest{
		Dates: []string{"2026-09-10"}, WindowStart: "17:00", WindowEnd: "19:00",
	}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger propose: expected ErrUnauthorized, got %v", err)
	}

	cases := []struct {
		name string
		req  ProposeRequest
	}{
		{"bad date format", ProposeRequest{Dates: []string{"Sept 10"}, WindowStart: "17:00", WindowEnd: "19:00"}},
		{"empty dates", ProposeRequest{Dates: nil, WindowStart: "17:00", WindowEnd: "19:00"}},
		{"inverted window", ProposeRequest{Dates: []string{"2026-09-10"}, WindowStart: "19:00", WindowEnd: "17:00"}},
		{"bad clock", ProposeRequest{Dates: []string{"2026-09-10"}, WindowStart: "5pm", WindowEnd: "19:00"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.ProposePickup(ctx, o.ID, "buyer", tc.req); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestAcceptPickup(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer")

	// The proposer cannot accept their own proposal.
	if _, _, err := svc.AcceptPickup(ctx, o.ID, "buyer", AcceptPickupRequest{
		Date: "2026-09-10", Time: "18:00",
	}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("proposer self-accept: expected ErrUnauthorized, got %v", err)
	}

	// Slot must be inside the proposal.
	if _, _, err := svc.AcceptPickup(ctx, o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-11", Time: "18:00",
	}); !errors.Is(err, ErrValidation) {
		t.Errorf("unlisted date: expected ErrValidation, got %v", err)
	}
	if _, _, err := svc.AcceptPickup(ctx, o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-10", Time: "20:30",
	}); !errors.Is(err, ErrValidation) {
		t.Errorf("out-of-window time: expected ErrValidation, got %v", err)
	}

	o2, p, err := svc.AcceptPickup(ctx, o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-10", Time: "18:00",
	})
	if err != nil {
		t.Fatalf("accept pickup failed: %v", err)
	}
	if o2.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", o2.Status)
	}
	if p.Status != ProposalAccepted || p.SelectedDate != "2026-09-10" || p.SelectedTime != "18:00" {
		t.Errorf("unexpected finalized proposal: %+v", p)
	}
}

// conflictingOfferStore fails the next offer update, as if another
// writer got there first.
type conflictingOfferStore struct {
	*MemoryStore
	failNext bool
}

func (s *conflictingOfferStore) UpdateOffer(ctx context.Context, o *Offer) error {
	if s.failNext {
		s.failNext = false
		return ErrConcurrentModification
	}
	return s.MemoryStore.UpdateOffer(ctx, o)
}

func TestAcceptPickupReopensProposalOnConflict(t *testing.T) {
	store := &conflictingOfferStore{MemoryStore: NewMemoryStore()}
	listings := &mockListings{listings: map[string]*listing.Listing{
		"lst_couch": {
			ID:             "lst_couch",
			OwnerID:        "seller",
			Type:           listing.TypeSale,
			Price:          "120.00",
			PickupLocation: "Central Library",
			Deliveries:     []listing.Delivery{listing.DeliveryPickup},
		},
	}}
	svc := NewService(store, listings)
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer")

	store.failNext = true
	if _, _, err := svc.AcceptPickup(ctx, o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-10", Time: "18:00",
	}); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	// The proposal is back to proposed with no selected slot, so it
	// still matches the offer's scheduling status.
	p, err := store.GetActiveProposal(ctx, o.ID)
	if err != nil {
		t.Fatalf("active proposal gone after conflict: %v", err)
	}
	if p.Status != ProposalProposed || p.SelectedDate != "" || p.SelectedTime != "" {
		t.Fatalf("proposal not reopened: %+v", p)
	}

	// A retry against the settled store succeeds.
	o2, p2, err := svc.AcceptPickup(ctx, o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-10", Time: "18:00",
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if o2.Status != StatusConfirmed || p2.Status != ProposalAccepted {
		t.Errorf("retry left %s / %s", o2.Status, p2.Status)
	}
}

func TestAcceptPickupWindowBounds(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer")

	// The window is inclusive at both ends.
	if _, _, err := svc.AcceptPickup(ctx, o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-10", Time: "17:00",
	}); err != nil {
		t.Errorf("window start should be acceptable: %v", err)
	}
}

func TestDeclineRescheduleCycle(t *testing.T) {
	svc, _, notifier := newTestService()
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer")

	// Decline leaves the offer in scheduling; a follow-up is explicit.
	p, err := svc.DeclinePickup(ctx, o.ID, "seller")
	if err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if p.Status != ProposalDeclined {
		t.Errorf("expected declined, got %s", p.Status)
	}
	if !notifier.has(EventPickupDeclined) {
		t.Error("expected pickup.declined event")
	}

	// No active proposal now; accept has nothing to act on.
	if _, _, err := svc.AcceptPickup(ctx, o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-10", Time: "18:00",
	}); !errors.Is(err, ErrNoActiveProposal) {
		t.Errorf("expected ErrNoActiveProposal, got %v", err)
	}

	// Reschedule before a new cycle; either party may open it.
	o, err = svc.ReschedulePickup(ctx, o.ID, "seller")
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if o.Status != StatusPickupRescheduling {
		t.Errorf("expected pickup_rescheduling, got %s", o.Status)
	}

	// The counter-proposal comes from the other side this time.
	proposeTestPickup(t, svc, o.ID, "seller", "2026-09-14", "2026-09-15")

	o, err = svc.Get(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusPickupRescheduling {
		t.Errorf("expected offer to stay in pickup_rescheduling, got %s", o.Status)
	}

	o2, _, err := svc.AcceptPickup(ctx, o.ID, "buyer", AcceptPickupRequest{
		Date: "2026-09-15", Time: "17:30",
	})
	if err != nil {
		t.Fatalf("second-cycle accept failed: %v", err)
	}
	if o2.Status != StatusConfirmed {
		t.Errorf("expected confirmed after second cycle, got %s", o2.Status)
	}

	proposals, err := svc.ListProposals(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(proposals) != 2 {
		t.Errorf("expected both cycles retained, got %d proposals", len(proposals))
	}
}

func TestRescheduleRequiresSettledProposal(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer")

	if _, err := svc.ReschedulePickup(ctx, o.ID, "seller"); !errors.Is(err, ErrActiveProposal) {
		t.Errorf("expected ErrActiveProposal, got %v", err)
	}
}

func TestAddPickupDates(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer", "2026-09-12", "2026-09-10")

	// Only the proposer extends the candidate set.
	if _, err := svc.AddPickupDates(ctx, o.ID, "seller", []string{"2026-09-13"}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	p, err := svc.AddPickupDates(ctx, o.ID, "buyer", []string{"2026-09-11", "2026-09-10"})
	if err != nil {
		t.Fatalf("add dates failed: %v", err)
	}

	want := []string{"2026-09-10", "2026-09-11", "2026-09-12"}
	if len(p.Dates) != len(want) {
		t.Fatalf("expected %d dates, got %v", len(want), p.Dates)
	}
	for i, d := range want {
		if p.Dates[i] != d {
			t.Errorf("dates[%d]: expected %s, got %s", i, d, p.Dates[i])
		}
	}
}

// --- Verification tests ---

func confirmedOffer(t *testing.T, svc *Service) *Offer {
	t.Helper()
	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer")
	o, _, err := svc.AcceptPickup(context.Background(), o.ID, "seller", AcceptPickupRequest{
		Date: "2026-09-10", Time: "18:00",
	})
	if err != nil {
		t.Fatalf("failed to confirm offer: %v", err)
	}
	return o
}

func TestVerifyCommutes(t *testing.T) {
	orders := []struct {
		name   string
		first  string
		mid    Status
		second string
	}{
		{"seller first", "seller", StatusSellerVerified, "buyer"},
		{"buyer first", "buyer", StatusBuyerVerified, "seller"},
	}

	for _, tc := range orders {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, notifier := newTestService()
			ctx := context.Background()
			o := confirmedOffer(t, svc)

			o, err := svc.Verify(ctx, o.ID, tc.first)
			if err != nil {
				t.Fatalf("first verify failed: %v", err)
			}
			if o.Status != tc.mid {
				t.Errorf("expected %s, got %s", tc.mid, o.Status)
			}

			o, err = svc.Verify(ctx, o.ID, tc.second)
			if err != nil {
				t.Fatalf("second verify failed: %v", err)
			}
			if o.Status != StatusCompleted {
				t.Errorf("expected completed, got %s", o.Status)
			}
			if !o.SellerVerified || !o.BuyerVerified {
				t.Error("expected both attestations recorded")
			}
			if !notifier.has(EventOfferCompleted) {
				t.Error("expected offer.completed event")
			}
		})
	}
}

func TestVerifyGuards(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	// Verification only starts once the exchange is confirmed.
	accepted := acceptedPickupOffer(t, svc)
	if _, err := svc.Verify(ctx, accepted.ID, "seller"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("verify before confirm: expected ErrInvalidTransition, got %v", err)
	}

	o := confirmedOffer(t, svc)
	if _, err := svc.Verify(ctx, o.ID, "stranger"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger verify: expected ErrUnauthorized, got %v", err)
	}

	if _, err := svc.Verify(ctx, o.ID, "seller"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if _, err := svc.Verify(ctx, o.ID, "seller"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double verify: expected ErrInvalidTransition, got %v", err)
	}
}

func TestVerifyShippingOffer(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := createTestOffer(t, svc, listing.DeliveryShipping)
	o, err := svc.Accept(ctx, o.ID, "seller")
	if err != nil {
		t.Fatal(err)
	}

	// Shipped goods still need both parties to attest.
	if o, err = svc.Verify(ctx, o.ID, "buyer"); err != nil {
		t.Fatalf("buyer verify failed: %v", err)
	}
	if o.Status != StatusBuyerVerified {
		t.Errorf("expected buyer_verified, got %s", o.Status)
	}
	if o, err = svc.Verify(ctx, o.ID, "seller"); err != nil {
		t.Fatalf("seller verify failed: %v", err)
	}
	if o.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", o.Status)
	}
}

// --- Cancellation and review tests ---

func TestCancelTransaction(t *testing.T) {
	svc, store, notifier := newTestService()
	ctx := context.Background()

	o := acceptedPickupOffer(t, svc)
	proposeTestPickup(t, svc, o.ID, "buyer")

	o, err := svc.CancelTransaction(ctx, o.ID, "seller", "buyer stopped responding")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", o.Status)
	}
	if o.CancelReason == "" {
		t.Error("expected cancel reason recorded")
	}
	if !notifier.has(EventOfferCancelled) {
		t.Error("expected offer.cancelled event")
	}

	// The active proposal goes down with the offer.
	if _, err := store.GetActiveProposal(ctx, o.ID); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("expected no active proposal after cancel, got %v", err)
	}
}

func TestCancelGuards(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	// Pending offers are withdrawn or rejected, not cancelled.
	pending := createTestOffer(t, svc, listing.DeliveryPickup)
	if _, err := svc.CancelTransaction(ctx, pending.ID, "buyer", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel pending: expected ErrInvalidTransition, got %v", err)
	}

	o := confirmedOffer(t, svc)
	if _, err := svc.CancelTransaction(ctx, o.ID, "stranger", ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger cancel: expected ErrUnauthorized, got %v", err)
	}
}

func TestMarkReviewed(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	o := confirmedOffer(t, svc)
	if _, err := svc.MarkReviewed(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("review before completion: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := svc.Verify(ctx, o.ID, "seller"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(ctx, o.ID, "buyer"); err != nil {
		t.Fatal(err)
	}

	o, err := svc.MarkReviewed(ctx, o.ID)
	if err != nil {
		t.Fatalf("mark reviewed failed: %v", err)
	}
	if o.Status != StatusReviewed {
		t.Errorf("expected reviewed, got %s", o.Status)
	}

	if _, err := svc.MarkReviewed(ctx, o.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second review: expected ErrInvalidTransition, got %v", err)
	}
}

// --- Concurrency and expiry tests ---

func TestConcurrentModification(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	o := createTestOffer(t, svc, listing.DeliveryPickup)

	stale, err := store.GetOffer(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Accept(ctx, o.ID, "seller"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	stale.Status = StatusRejected
	if err := store.UpdateOffer(ctx, stale); !errors.Is(err, ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}

	// The winning write survives untouched.
	cur, err := store.GetOffer(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != StatusAccepted {
		t.Errorf("expected accepted, got %s", cur.Status)
	}
}

func TestCheckExpired(t *testing.T) {
	svc, _, notifier := newTestService()
	svc.WithPendingTTL(time.Nanosecond)
	ctx := context.Background()

	stale := createTestOffer(t, svc, listing.DeliveryPickup)

	svc.WithPendingTTL(DefaultPendingTTL)
	fresh := createTestOffer(t, svc, listing.DeliveryPickup)

	time.Sleep(5 * time.Millisecond)
	svc.CheckExpired(ctx)

	o, err := svc.Get(ctx, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusExpired {
		t.Errorf("expected expired, got %s", o.Status)
	}
	if !notifier.has(EventOfferExpired) {
		t.Error("expected offer.expired event")
	}

	o, err = svc.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != StatusPending {
		t.Errorf("expected fresh offer untouched, got %s", o.Status)
	}

	// Expired offers reject further decisions.
	if _, err := svc.Accept(ctx, stale.ID, "seller"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

// --- State graph tests ---

func TestTransitionGraph(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusAccepted},
		{StatusPending, StatusRejected},
		{StatusPending, StatusWithdrawn},
		{StatusPending, StatusExpired},
		{StatusAccepted, StatusPickupScheduling},
		{StatusAccepted, StatusConfirmed},
		{StatusPickupScheduling, StatusConfirmed},
		{StatusPickupScheduling, StatusPickupRescheduling},
		{StatusPickupScheduling, StatusCancelled},
		{StatusPickupRescheduling, StatusConfirmed},
		{StatusPickupRescheduling, StatusCancelled},
		{StatusConfirmed, StatusSellerVerified},
		{StatusConfirmed, StatusBuyerVerified},
		{StatusConfirmed, StatusCancelled},
		{StatusSellerVerified, StatusCompleted},
		{StatusBuyerVerified, StatusCompleted},
		{StatusCompleted, StatusReviewed},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCompleted},
		{StatusAccepted, StatusPending},
		{StatusRejected, StatusAccepted},
		{StatusExpired, StatusAccepted},
		{StatusConfirmed, StatusCompleted},
		{StatusCompleted, StatusCancelled},
		{StatusReviewed, StatusCompleted},
		{StatusCancelled, StatusConfirmed},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}

	terminals := []Status{StatusRejected, StatusWithdrawn, StatusExpired, StatusReviewed, StatusCancelled}
	for _, s := range terminals {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	if StatusCompleted.IsTerminal() {
		t.Error("completed still awaits review, not terminal")
	}
}
