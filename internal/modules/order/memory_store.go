// README: In-process order store for local runs and tests; one mutex serializes every write.
package order

import (
	"context"
	"sync"
	"time"

	"lastmile/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []Event
	nextID int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*Order)}
}

func (s *MemoryStore) FindByID(_ context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (s *MemoryStore) UpdateIfMatches(_ context.Context, id types.ID, pred Predicate, patch Patch) (*Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || !pred.matches(o) {
		return nil, false, nil
	}
	patch.apply(o, time.Now())
	return o.clone(), true, nil
}

func (s *MemoryStore) UpdateByID(ctx context.Context, id types.ID, patch Patch) (*Order, error) {
	o, ok, err := s.UpdateIfMatches(ctx, id, Predicate{}, patch)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return o, nil
}

func (s *MemoryStore) Insert(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return ErrConflict
	}
	s.orders[o.ID] = o.clone()
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	ev := *e
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, orderID types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Event
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
