package payment

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Attempt statuses. At most one IN_PROGRESS attempt may exist per order id.
const (
	AttemptInProgress = "in_progress"
	AttemptSuccess    = "success"
	AttemptFailed     = "failed"
)

// attemptTTL is how long an attempt survives before the sweep removes it,
// regardless of status. It doubles as the safety net against a crash leaving
// a permanent in_progress lock.
const attemptTTL = 30 * time.Minute

// Attempt records one confirmation try for an order.
type Attempt struct {
	OrderID        string
	IdempotencyKey string
	Status         string
	StartedAt      time.Time
	CompletedAt    time.Time
}

// attemptRegistry is the in-memory per-order concurrency guard. begin is the
// conditional create: it fails when an in-progress attempt already holds the
// order id.
type attemptRegistry struct {
	mu      sync.Mutex
	byOrder map[string]*Attempt
	nowFunc func() time.Time
}

func newAttemptRegistry() *attemptRegistry {
	return &attemptRegistry{
		byOrder: map[string]*Attempt{},
		nowFunc: time.Now,
	}
}

// begin registers a fresh attempt for orderID with a generated idempotency
// key. Returns ErrConcurrentPayment if one is already in progress.
func (r *attemptRegistry) begin(orderID string) (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byOrder[orderID]; ok && existing.Status == AttemptInProgress {
		return Attempt{}, ErrConcurrentPayment
	}

	attempt := &Attempt{
		OrderID:        orderID,
		IdempotencyKey: uuid.NewString(),
		Status:         AttemptInProgress,
		StartedAt:      r.nowFunc(),
	}
	r.byOrder[orderID] = attempt
	return *attempt, nil
}

// finish marks the attempt for orderID terminal. Always called before an
// error is re-raised so no failure path leaves the lock held.
func (r *attemptRegistry) finish(orderID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if attempt, ok := r.byOrder[orderID]; ok {
		attempt.Status = status
		attempt.CompletedAt = r.nowFunc()
	}
}

// get returns a copy of the attempt for orderID.
func (r *attemptRegistry) get(orderID string) (Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if attempt, ok := r.byOrder[orderID]; ok {
		return *attempt, true
	}
	return Attempt{}, false
}

// sweep removes attempts older than attemptTTL regardless of status.
func (r *attemptRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.nowFunc().Add(-attemptTTL)
	for id, attempt := range r.byOrder {
		if attempt.StartedAt.Before(cutoff) {
			delete(r.byOrder, id)
		}
	}
}
