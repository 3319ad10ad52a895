package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openclassifieds/handoff/internal/idgen"
	"github.com/openclassifieds/handoff/internal/offer"
)

var (
	eventEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "handoff",
		Subsystem: "events",
		Name:      "emit_total",
		Help:      "Total event emit attempts by event type.",
	}, []string{"event_type"})

	eventEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "handoff",
		Subsystem: "events",
		Name:      "emit_errors_total",
		Help:      "Total event emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(eventEmitTotal, eventEmitErrors)
}

// Emitter turns offer state changes into webhook deliveries for both
// parties. All methods are fire-and-forget: errors are logged but never
// returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

var _ offer.Notifier = (*Emitter)(nil)

// NewEmitter creates a new event emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// OfferEvent notifies both parties of an offer state change.
func (e *Emitter) OfferEvent(eventType string, o *offer.Offer) {
	e.emit(eventType, o, map[string]interface{}{
		"offerId":   o.ID,
		"listingId": o.ListingID,
		"buyerId":   o.BuyerID,
		"sellerId":  o.SellerID,
		"status":    string(o.Status),
	})
}

// PickupEvent notifies both parties of scheduling progress.
func (e *Emitter) PickupEvent(eventType string, o *offer.Offer, p *offer.PickupProposal) {
	data := map[string]interface{}{
		"offerId":    o.ID,
		"proposalId": p.ID,
		"proposerId": p.ProposerID,
		"status":     string(o.Status),
		"dates":      p.Dates,
		"location":   p.Location,
	}
	if p.SelectedDate != "" {
		data["selectedDate"] = p.SelectedDate
		data["selectedTime"] = p.SelectedTime
	}
	e.emit(eventType, o, data)
}

func (e *Emitter) emit(eventType string, o *offer.Offer, data map[string]interface{}) {
	if e == nil || e.d == nil {
		return
	}
	eventEmitTotal.WithLabelValues(eventType).Inc()

	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Bounds the subscription lookups only; deliveries detach inside the
	// dispatcher and run on their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, userID := range []string{o.BuyerID, o.SellerID} {
		if err := e.d.DispatchToUser(ctx, userID, event); err != nil {
			eventEmitErrors.WithLabelValues(eventType).Inc()
			e.logger.Warn("event emit failed", "event", eventType, "user", userID, "error", err)
		}
	}
}
