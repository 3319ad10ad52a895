package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openclassifieds/handoff/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		OfferTTL:     7 * 24 * time.Hour,
		RateLimitRPS: 1000,
	}
}

// newTestServer creates a server backed by in-memory stores
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(s *Server, method, path, actorID, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actorID != "" {
		req.Header.Set("X-Actor-ID", actorID)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/live", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/health/ready", "", "")

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestOfferRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	offerRoutes := map[string]bool{
		"POST:/v1/offers":                       false,
		"GET:/v1/offers/:id":                    false,
		"POST:/v1/offers/:id/accept":            false,
		"POST:/v1/offers/:id/pickup":            false,
		"POST:/v1/offers/:id/pickup/accept":     false,
		"POST:/v1/offers/:id/pickup/decline":    false,
		"POST:/v1/offers/:id/pickup/reschedule": false,
		"POST:/v1/offers/:id/verify":            false,
		"POST:/v1/offers/:id/cancel":            false,
		"POST:/v1/offers/:id/review":            false,
		"GET:/v1/offers/:id/review/eligibility": false,}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := offerRoutes[key]; ok {
			offerRoutes[key] = true
		}
	}

	for route, found := range offerRoutes {
		if !found {
			t.Errorf("Offer route %s not registered", route)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/v1/listings",
		"GET:/v1/listings/:id",
		"POST:/v1/webhooks",
		"GET:/v1/users/:id/reviews",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Actor resolution tests
// ---------------------------------------------------------------------------

func TestMutationRequiresActor(t *testing.T) {
	s := newTestServer(t)

	body := `{"title":"Bookshelf","type":"sale","price":"20.00","deliveries":["pickup"]}`
	w := doJSON(s, "POST", "/v1/listings", "", body)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without X-Actor-ID, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["error"] != "missing_actor" {
		t.Errorf("Expected error 'missing_actor', got %v", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// Offer flow through the full router
// ---------------------------------------------------------------------------

func TestOfferFlowEndToEnd(t *testing.T) {
	s := newTestServer(t)

	// Seller registers a listing
	body := `{"title":"Bookshelf","type":"sale","price":"20.00","currency":"EUR","pickupLocation":"Main Square","deliveries":["pickup"]}`
	w := doJSON(s, "POST", "/v1/listings", "user_seller", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create listing: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Listing struct {
			ID string `json:"id"`
		} `json:"listing"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse listing response: %v", err)
	}

	// Buyer makes an offer
	offerBody := `{"listingId":"` + created.Listing.ID + `","amount":"18.00","delivery":"pickup"}`
	w = doJSON(s, "POST", "/v1/offers", "user_buyer", offerBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("Create offer: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var offerResp struct {
		Offer struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"offer"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &offerResp); err != nil {
		t.Fatalf("Failed to parse offer response: %v", err)
	}
	if offerResp.Offer.Status != "pending" {
		t.Errorf("Expected pending offer, got %q", offerResp.Offer.Status)
	}

	// Buyer cannot accept their own offer
	w = doJSON(s, "POST", "/v1/offers/"+offerResp.Offer.ID+"/accept", "user_buyer", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Buyer accept: expected 403, got %d: %s", w.Code, w.Body.String())
	}

	// Seller accepts
	w = doJSON(s, "POST", "/v1/offers/"+offerResp.Offer.ID+"/accept", "user_seller", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Seller accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &offerResp); err != nil {
		t.Fatalf("Failed to parse accept response: %v", err)
	}
	if offerResp.Offer.Status != "accepted" {
		t.Errorf("Expected accepted offer, got %q", offerResp.Offer.Status)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, "GET", "/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
