package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and single-node use
type MemoryRepository struct {
	mu   sync.RWMutex
	subs map[string]Subscription
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		subs: make(map[string]Subscription),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// snapshot copies the filter map so callers can't mutate stored state
func snapshot(s Subscription) Subscription {
	s.Filters = s.Filters.clone()
	return s
}

func sortByCreated(subs []Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
}

func (r *MemoryRepository) FindActiveByEvent(_ context.Context, eventType string) ([]Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscription
	for _, s := range r.subs {
		if s.Active && s.EventType == eventType {
			out = append(out, snapshot(s))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepository) FindByID(_ context.Context, owner, id string) (Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.subs[id]
	if !ok || s.Owner != owner {
		return Subscription{}, ErrNotFound
	}
	return snapshot(s), nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, owner string) ([]Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Subscription{}
	for _, s := range r.subs {
		if s.Owner == owner {
			out = append(out, snapshot(s))
		}
	}
	sortByCreated(out)
	return out, nil
}

func (r *MemoryRepository) Create(_ context.Context, in NewSubscription) (Subscription, error) {
	if err := in.Validate(); err != nil {
		return Subscription{}, err
	}
	now := r.now()
	s := Subscription{
		ID:        uuid.NewString(),
		Owner:     in.Owner,
		Name:      in.Name,
		URL:       in.URL,
		EventType: in.EventType,
		Filters:   in.Filters.clone(),
		Secret:    in.Secret,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.subs[s.ID] = s
	r.mu.Unlock()
	return snapshot(s), nil
}

func (r *MemoryRepository) Update(_ context.Context, owner, id string, patch Patch) (Subscription, error) {
	if err := patch.Validate(); err != nil {
		return Subscription{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok || s.Owner != owner {
		return Subscription{}, ErrNotFound
	}
	s = patch.apply(s, r.now())
	r.subs[id] = s
	return snapshot(s), nil
}

func (r *MemoryRepository) Delete(_ context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.subs[id]
	if !ok || s.Owner != owner {
		return ErrNotFound
	}
	delete(r.subs, id)
	return nil
}
