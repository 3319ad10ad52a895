package offer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for development
// and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	offers    map[string]*Offer
	proposals map[string]*PickupProposal
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		offers:    make(map[string]*Offer),
		proposals: make(map[string]*PickupProposal),
	}
}

func (s *MemoryStore) CreateOffer(ctx context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, id string) (*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateOffer(ctx context.Context, o *Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.offers[o.ID]
	if !ok {
		return ErrOfferNotFound
	}
	if cur.Version != o.Version {
		return ErrConcurrentModification
	}
	o.Version++
	cp := *o
	s.offers[o.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]*Offer, error) {
	return s.list(func(o *Offer) bool { return o.BuyerID == buyerID }, limit)
}

func (s *MemoryStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Offer, error) {
	return s.list(func(o *Offer) bool { return o.SellerID == sellerID }, limit)
}

func (s *MemoryStore) ListByListing(ctx context.Context, listingID string, limit int) ([]*Offer, error) {
	return s.list(func(o *Offer) bool { return o.ListingID == listingID }, limit)
}

func (s *MemoryStore) ListExpiredPending(ctx context.Context, before time.Time, limit int) ([]*Offer, error) {
	return s.list(func(o *Offer) bool {
		return o.Status == StatusPending && !o.ExpiresAt.After(before)
	}, limit)
}

func (s *MemoryStore) list(match func(*Offer) bool, limit int) ([]*Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Offer
	for _, o := range s.offers {
		if match(o) {
			cp := *o
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) CreateProposal(ctx context.Context, p *PickupProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	cp.Dates = append([]string(nil), p.Dates...)
	s.proposals[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProposal(ctx context.Context, id string) (*PickupProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return copyProposal(p), nil
}

func (s *MemoryStore) GetActiveProposal(ctx context.Context, offerID string) (*PickupProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.proposals {
		if p.OfferID == offerID && p.Status == ProposalProposed {
			return copyProposal(p), nil
		}
	}
	return nil, ErrProposalNotFound
}

func (s *MemoryStore) UpdateProposal(ctx context.Context, p *PickupProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.proposals[p.ID]
	if !ok {
		return ErrProposalNotFound
	}
	if cur.Version != p.Version {
		return ErrConcurrentModification
	}
	p.Version++
	s.proposals[p.ID] = copyProposal(p)
	return nil
}

func (s *MemoryStore) ListProposalsByOffer(ctx context.Context, offerID string) ([]*PickupProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*PickupProposal
	for _, p := range s.proposals {
		if p.OfferID == offerID {
			result = append(result, copyProposal(p))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func copyProposal(p *PickupProposal) *PickupProposal {
	cp := *p
	cp.Dates = append([]string(nil), p.Dates...)
	return &cp
}
