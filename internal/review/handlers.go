package review

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openclassifieds/handoff/internal/offer"
)

// Handler provides HTTP endpoints for reviews.
type Handler struct {
	service *Service
}

// NewHandler creates a new review handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up review routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/offers/:id/review", h.SubmitReview)
	r.GET("/offers/:id/review", h.GetOfferReview)
	r.GET("/offers/:id/review/eligibility", h.CheckEligibility)
	r.GET("/reviews/:id", h.GetReview)
	r.GET("/users/:id/reviews", h.ListUserReviews)
}

// SubmitReview handles POST /v1/offers/:id/review
func (h *Handler) SubmitReview(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	r, err := h.service.Submit(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "review_failed"
		switch {
		case errors.Is(err, offer.ErrOfferNotFound):
			status = http.StatusNotFound
			code = "not_found"
		case errors.Is(err, ErrAlreadyReviewed):
			status = http.StatusConflict
			code = "already_reviewed"
		case errors.Is(err, ErrNotEligible):
			status = http.StatusConflict
			code = "not_eligible"
		case errors.Is(err, ErrUnauthorized):
			status = http.StatusForbidden
			code = "unauthorized"
		case errors.Is(err, ErrValidation):
			status = http.StatusBadRequest
			code = "validation_failed"
		case errors.Is(err, offer.ErrConcurrentModification):
			status = http.StatusConflict
			code = "concurrent_modification"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"review": r})
}

// CheckEligibility handles GET /v1/offers/:id/review/eligibility
func (h *Handler) CheckEligibility(c *gin.Context) {
	verdict, err := h.service.Check(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		if errors.Is(err, offer.ErrOfferNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Offer not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// GetOfferReview handles GET /v1/offers/:id/review
func (h *Handler) GetOfferReview(c *gin.Context) {
	r, err := h.service.GetByOffer(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No review on this offer",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"review": r})
}

// GetReview handles GET /v1/reviews/:id
func (h *Handler) GetReview(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Review not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"review": r})
}

// ListUserReviews handles GET /v1/users/:id/reviews
func (h *Handler) ListUserReviews(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	reviews, next, err := h.service.ListByReviewee(c.Request.Context(), c.Param("id"), c.Query("cursor"), limit)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cursor",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	resp := gin.H{
		"reviews": reviews,
		"count":   len(reviews),
		"hasMore": next != "",
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}
