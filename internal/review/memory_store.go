package review

import (
	"context"
	"sort"
	"sync"

	"github.com/openclassifieds/handoff/internal/pagination"
)

// MemoryStore is an in-memory implementation of Store for development
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	reviews map[string]*Review
	byOffer map[string]string // offer ID -> review ID
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reviews: make(map[string]*Review),
		byOffer: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, r *Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byOffer[r.OfferID]; ok {
		return ErrAlreadyReviewed
	}
	cp := *r
	s.reviews[r.ID] = &cp
	s.byOffer[r.OfferID] = r.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetByOffer(ctx context.Context, offerID string) (*Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOffer[offerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.reviews[id]
	return &cp, nil
}

func (s *MemoryStore) ListByReviewee(ctx context.Context, revieweeID string, cursor *pagination.Cursor, limit int) ([]*Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Review
	for _, r := range s.reviews {
		if r.RevieweeID != revieweeID {
			continue
		}
		if cursor != nil && !before(r, cursor) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// before reports whether r sorts strictly after the cursor position in
// the newest-first ordering.
func before(r *Review, c *pagination.Cursor) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID < c.ID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}
