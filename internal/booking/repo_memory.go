package booking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory booking store for tests.
type MemoryRepo struct {
	mu       sync.Mutex
	bookings map[string]Booking
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{bookings: make(map[string]Booking)}
}

func (r *MemoryRepo) Insert(ctx context.Context, b Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bookings[b.ID] = b
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, b Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; !ok {
		return ErrNotFound
	}
	r.bookings[b.ID] = b
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, assistantID, id string) (Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.AssistantID != assistantID {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (r *MemoryRepo) List(ctx context.Context, assistantID string, statuses []Status) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Booking, 0)
	for _, b := range r.bookings {
		if b.AssistantID != assistantID {
			continue
		}
		if len(statuses) > 0 && !statusIn(b.Status, statuses) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (r *MemoryRepo) ListStartingBetween(ctx context.Context, from, to time.Time, statuses []Status) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Booking, 0)
	for _, b := range r.bookings {
		if b.StartsAt.Before(from) || !b.StartsAt.Before(to) {
			continue
		}
		if len(statuses) > 0 && !statusIn(b.Status, statuses) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
