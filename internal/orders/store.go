package orders

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/savora/go-order-lifecycle/internal/storage"
)

// Event describes one status transition for subscribers.
type Event struct {
	OrderID  string
	Previous Status
	Current  Status
	Order    Order
}

// Subscriber receives status-change events. Callbacks run outside the store's
// lock; they must not assume wall-clock ordering of server timestamps, only
// the order the store applied the changes in.
type Subscriber func(Event)

// Store is the single source of truth for in-memory orders. Every component
// that wants to change an order goes through its mutation operations; records
// are returned by value so callers cannot bypass them. After every mutation
// the store hands a compressed snapshot to the storage governor; persistence
// failures are the governor's problem, never the caller's.
type Store struct {
	mu       sync.Mutex
	list     []*Order // most recent first
	governor *storage.Governor
	subs     map[int]Subscriber
	nextSub  int
	nowFunc  func() time.Time
}

// NewStore returns a store persisting through governor.
func NewStore(governor *storage.Governor) *Store {
	return &Store{
		governor: governor,
		subs:     map[int]Subscriber{},
		nowFunc:  time.Now,
	}
}

// Subscribe registers fn for status-change events and returns an unsubscribe
// function.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// AddOrder inserts record at the head of the list. Creation is idempotent:
// if an order with the same id already exists the existing record is returned
// untouched, so repeated checkout submissions or re-delivered confirmation
// events never produce duplicates. A missing id is assigned client-side and a
// missing status defaults to WAITING; the status history is seeded with one
// entry.
func (s *Store) AddOrder(record Order) (Order, error) {
	s.mu.Lock()

	if record.ID != "" {
		if existing := s.find(record.ID); existing != nil {
			out := *existing
			s.mu.Unlock()
			return out, nil
		}
	}

	now := s.nowFunc()
	if record.ID == "" {
		record.ID = NewLocalID(now)
		record.Provisional = true
	}
	if record.Status == "" {
		record.Status = StatusWaiting
	}
	if _, err := ParseStatus(string(record.Status)); err != nil {
		s.mu.Unlock()
		return Order{}, err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.History = []StatusChange{{
		Status:    record.Status,
		Timestamp: now,
		Message:   "order created",
	}}

	s.list = append([]*Order{&record}, s.list...)
	snapshot := s.compressedLocked()
	out := record
	s.mu.Unlock()

	s.governor.Persist(snapshot)
	return out, nil
}

// UpdateStatus applies newStatus to the order with id. Setting the current
// status again is a no-op with no history entry and no persistence write.
// An unknown status fails with ErrInvalidStatus and leaves the order
// unchanged.
func (s *Store) UpdateStatus(id string, newStatus Status, message string) error {
	if _, err := ParseStatus(string(newStatus)); err != nil {
		return err
	}

	s.mu.Lock()
	order := s.find(id)
	if order == nil {
		s.mu.Unlock()
		return fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	if order.Status == newStatus {
		s.mu.Unlock()
		return nil
	}

	previous := order.Status
	order.Status = newStatus
	order.History = append(order.History, StatusChange{
		Status:    newStatus,
		Timestamp: s.nowFunc(),
		Message:   message,
	})
	event := Event{OrderID: id, Previous: previous, Current: newStatus, Order: *order}
	snapshot := s.compressedLocked()
	subs := s.subscribersLocked()
	s.mu.Unlock()

	s.governor.Persist(snapshot)
	for _, fn := range subs {
		fn(event)
	}
	return nil
}

// ReplaceOrder overwrites the record with record.ID with the authoritative
// snapshot the backend returned. The replacement clears the provisional flag.
// Unknown ids fail with ErrNotFound; callers must AddOrder first.
func (s *Store) ReplaceOrder(record Order) error {
	if _, err := ParseStatus(string(record.Status)); err != nil {
		return err
	}

	s.mu.Lock()
	existing := s.find(record.ID)
	if existing == nil {
		s.mu.Unlock()
		return fmt.Errorf("replace order %s: %w", record.ID, ErrNotFound)
	}
	record.Provisional = false
	if len(record.History) == 0 {
		record.History = []StatusChange{{Status: record.Status, Timestamp: s.nowFunc()}}
	}
	*existing = record
	snapshot := s.compressedLocked()
	s.mu.Unlock()

	s.governor.Persist(snapshot)
	return nil
}

// RemoveOrder deletes the record with id. This is the explicit user-initiated
// cleanup path; nothing else deletes in-memory orders.
func (s *Store) RemoveOrder(id string) error {
	s.mu.Lock()
	idx := -1
	for i, o := range s.list {
		if o.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("remove order %s: %w", id, ErrNotFound)
	}
	s.list = append(s.list[:idx], s.list[idx+1:]...)
	snapshot := s.compressedLocked()
	s.mu.Unlock()

	s.governor.Persist(snapshot)
	return nil
}

// Get returns a copy of the order with id.
func (s *Store) Get(id string) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.find(id); o != nil {
		return *o, true
	}
	return Order{}, false
}

// All returns copies of every order, most recent first.
func (s *Store) All() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, 0, len(s.list))
	for _, o := range s.list {
		out = append(out, *o)
	}
	return out
}

// Active returns the orders whose status is non-terminal. Recomputed on every
// call, never cached.
func (s *Store) Active() []Order {
	return s.filter(func(o *Order) bool { return !o.Status.Terminal() })
}

// Completed returns the orders whose status is terminal.
func (s *Store) Completed() []Order {
	return s.filter(func(o *Order) bool { return o.Status.Terminal() })
}

// Load rehydrates the in-memory list from the governor's read path. Persisted
// records are compressed display projections, so the restored orders are
// provisional until the backend replaces them.
func (s *Store) Load() {
	records := s.governor.Load()
	if len(records) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		if s.find(rec.ID) != nil {
			continue
		}
		status, err := ParseStatus(rec.Status)
		if err != nil {
			log.Printf("[orders] skipping persisted record %s: %v", rec.ID, err)
			continue
		}
		s.list = append([]*Order{{
			ID:          rec.ID,
			StoreID:     rec.StoreID,
			StoreName:   rec.StoreName,
			Status:      status,
			Total:       rec.Total,
			CreatedAt:   rec.CreatedAt,
			Provisional: true,
			History: []StatusChange{{
				Status:    status,
				Timestamp: rec.CreatedAt,
				Message:   "restored from local storage",
			}},
		}}, s.list...)
	}
}

func (s *Store) filter(keep func(*Order) bool) []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.list {
		if keep(o) {
			out = append(out, *o)
		}
	}
	return out
}

func (s *Store) find(id string) *Order {
	for _, o := range s.list {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (s *Store) compressedLocked() []storage.PersistedOrder {
	out := make([]storage.PersistedOrder, 0, len(s.list))
	for _, o := range s.list {
		out = append(out, o.Compressed())
	}
	return out
}

func (s *Store) subscribersLocked() []Subscriber {
	out := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}
