package listing

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclassifieds/handoff/internal/idgen"
	"github.com/openclassifieds/handoff/internal/validation"
)

// Handler provides HTTP endpoints for listing snapshots.
type Handler struct {
	store Store
}

// NewHandler creates a new listing handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.Create)
	r.GET("/listings/:id", h.Get)
	r.GET("/users/:id/listings", h.ListByOwner)
}

// CreateRequest contains the parameters for registering a listing snapshot.
type CreateRequest struct {
	Title          string   `json:"title" binding:"required"`
	Type           string   `json:"type" binding:"required"`
	Price          string   `json:"price"`
	Currency       string   `json:"currency"`
	PickupLocation string   `json:"pickupLocation"`
	Deliveries     []string `json:"deliveries" binding:"required"`
}

// Create handles POST /v1/listings
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("title", req.Title),
		validation.MaxLength("title", req.Title, 200),
		validation.MaxLength("pickupLocation", req.PickupLocation, 500),
		validation.ValidAmount("price", req.Price),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": errs.Error(),
			"fields":  errs,
		})
		return
	}

	typ, err := ParseType(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_type", "message": err.Error()})
		return
	}

	var deliveries []Delivery
	for _, d := range req.Deliveries {
		parsed, err := ParseDelivery(d)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_delivery", "message": err.Error()})
			return
		}
		deliveries = append(deliveries, parsed)
	}

	l := &Listing{
		ID:             idgen.WithPrefix("lst_"),
		OwnerID:        c.GetString("actorID"),
		Title:          validation.SanitizeString(req.Title, 200),
		Type:           typ,
		Price:          req.Price,
		Currency:       req.Currency,
		PickupLocation: validation.SanitizeString(req.PickupLocation, 500),
		Deliveries:     deliveries,
		CreatedAt:      time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), l); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": l})
}

// Get handles GET /v1/listings/:id
func (h *Handler) Get(c *gin.Context) {
	l, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": l})
}

// ListByOwner handles GET /v1/users/:id/listings
func (h *Handler) ListByOwner(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	listings, err := h.store.ListByOwner(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}
