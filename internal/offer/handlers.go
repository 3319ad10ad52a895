package offer

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openclassifieds/handoff/internal/listing"
)

// Handler provides HTTP endpoints for the offer lifecycle.
type Handler struct {
	service *Service
}

// NewHandler creates a new offer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up offer routes. All mutating routes identify the
// caller through the actor middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/offers", h.CreateOffer)
	r.GET("/offers/:id", h.GetOffer)
	r.GET("/offers/:id/proposals", h.ListProposals)
	r.GET("/users/:id/offers", h.ListUserOffers)
	r.GET("/listings/:id/offers", h.ListListingOffers)

	r.POST("/offers/:id/accept", h.AcceptOffer)
	r.POST("/offers/:id/reject", h.RejectOffer)
	r.POST("/offers/:id/withdraw", h.WithdrawOffer)

	r.POST("/offers/:id/pickup", h.ProposePickup)
	r.POST("/offers/:id/pickup/accept", h.AcceptPickup)
	r.POST("/offers/:id/pickup/decline", h.DeclinePickup)
	r.POST("/offers/:id/pickup/reschedule", h.ReschedulePickup)
	r.POST("/offers/:id/pickup/dates", h.AddPickupDates)

	r.POST("/offers/:id/verify", h.VerifyOffer)
	r.POST("/offers/:id/cancel", h.CancelOffer)
}

// CreateOffer handles POST /v1/offers
func (h *Handler) CreateOffer(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	o, err := h.service.Create(c.Request.Context(), c.GetString("actorID"), req)
	if err != nil {
		respondError(c, err, "offer_failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"offer": o})
}

// GetOffer handles GET /v1/offers/:id
func (h *Handler) GetOffer(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// ListProposals handles GET /v1/offers/:id/proposals
func (h *Handler) ListProposals(c *gin.Context) {
	proposals, err := h.service.ListProposals(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"proposals": proposals,
		"count":     len(proposals),
	})
}

// ListUserOffers handles GET /v1/users/:id/offers?role=buyer|seller
func (h *Handler) ListUserOffers(c *gin.Context) {
	offers, err := h.service.ListByUser(c.Request.Context(), c.Param("id"),
		c.Query("role"), parseLimit(c.Query("limit"), 50, 200))
	if err != nil {
		respondError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"offers": offers,
		"count":  len(offers),
	})
}

// ListListingOffers handles GET /v1/listings/:id/offers
func (h *Handler) ListListingOffers(c *gin.Context) {
	offers, err := h.service.ListByListing(c.Request.Context(), c.Param("id"),
		parseLimit(c.Query("limit"), 50, 200))
	if err != nil {
		respondError(c, err, "internal_error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"offers": offers,
		"count":  len(offers),
	})
}

// AcceptOffer handles POST /v1/offers/:id/accept
func (h *Handler) AcceptOffer(c *gin.Context) {
	o, err := h.service.Accept(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err, "accept_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// RejectOffer handles POST /v1/offers/:id/reject
func (h *Handler) RejectOffer(c *gin.Context) {
	o, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err, "reject_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// WithdrawOffer handles POST /v1/offers/:id/withdraw
func (h *Handler) WithdrawOffer(c *gin.Context) {
	o, err := h.service.Withdraw(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err, "withdraw_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// ProposePickup handles POST /v1/offers/:id/pickup
func (h *Handler) ProposePickup(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	o, p, err := h.service.ProposePickup(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req)
	if err != nil {
		respondError(c, err, "propose_failed")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"offer": o, "proposal": p})
}

// AcceptPickup handles POST /v1/offers/:id/pickup/accept
func (h *Handler) AcceptPickup(c *gin.Context) {
	var req AcceptPickupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	o, p, err := h.service.AcceptPickup(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req)
	if err != nil {
		respondError(c, err, "pickup_accept_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o, "proposal": p})
}

// DeclinePickup handles POST /v1/offers/:id/pickup/decline
func (h *Handler) DeclinePickup(c *gin.Context) {
	p, err := h.service.DeclinePickup(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err, "pickup_decline_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

// ReschedulePickup handles POST /v1/offers/:id/pickup/reschedule
func (h *Handler) ReschedulePickup(c *gin.Context) {
	o, err := h.service.ReschedulePickup(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err, "reschedule_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// AddPickupDatesRequest carries extra candidate dates for the active
// proposal.
type AddPickupDatesRequest struct {
	Dates []string `json:"dates" binding:"required"`
}

// AddPickupDates handles POST /v1/offers/:id/pickup/dates
func (h *Handler) AddPickupDates(c *gin.Context) {
	var req AddPickupDatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p, err := h.service.AddPickupDates(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.Dates)
	if err != nil {
		respondError(c, err, "add_dates_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

// VerifyOffer handles POST /v1/offers/:id/verify
func (h *Handler) VerifyOffer(c *gin.Context) {
	o, err := h.service.Verify(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondError(c, err, "verify_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// CancelOfferRequest carries an optional cancellation reason.
type CancelOfferRequest struct {
	Reason string `json:"reason"`
}

// CancelOffer handles POST /v1/offers/:id/cancel
func (h *Handler) CancelOffer(c *gin.Context) {
	var req CancelOfferRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	o, err := h.service.CancelTransaction(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.Reason)
	if err != nil {
		respondError(c, err, "cancel_failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"offer": o})
}

// respondError maps service errors to HTTP status codes. fallback is the
// error code used for anything outside the known taxonomy.
func respondError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	code := fallback

	switch {
	case errors.Is(err, ErrOfferNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, listing.ErrNotFound):
		status = http.StatusNotFound
		code = "listing_not_found"
	case errors.Is(err, ErrProposalNotFound):
		status = http.StatusNotFound
		code = "proposal_not_found"
	case errors.Is(err, ErrNoActiveProposal):
		status = http.StatusConflict
		code = "no_active_proposal"
	case errors.Is(err, ErrActiveProposal):
		status = http.StatusConflict
		code = "active_proposal_exists"
	case errors.Is(err, ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_state_transition"
	case errors.Is(err, ErrConcurrentModification):
		status = http.StatusConflict
		code = "concurrent_modification"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrSelfOffer):
		status = http.StatusBadRequest
		code = "self_offer"
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
		code = "validation_failed"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}
