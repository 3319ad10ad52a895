package listing

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("actorID", "user_seller")
		c.Next()
	})
	NewHandler(NewMemoryStore()).RegisterRoutes(r.Group("/v1"))
	return r
}

func postListing(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/listings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCreateListingHandler(t *testing.T) {
	r := newTestRouter()

	w := postListing(r, `{"title":"Armchair","type":"sale","price":"40.00","deliveries":["pickup"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateListingValidation(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name string
		body string
	}{
		{"negative price", `{"title":"Armchair","type":"sale","price":"-5","deliveries":["pickup"]}`},
		{"non-numeric price", `{"title":"Armchair","type":"sale","price":"forty","deliveries":["pickup"]}`},
		{"title too long", `{"title":"` + strings.Repeat("a", 201) + `","type":"sale","deliveries":["pickup"]}`},
		{"unknown type", `{"title":"Armchair","type":"rental","deliveries":["pickup"]}`},
		{"unknown delivery", `{"title":"Armchair","type":"sale","deliveries":["teleport"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := postListing(r, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}
