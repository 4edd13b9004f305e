// Package tracking polls the order backend for status changes and feeds them
// through the order state store.
package tracking

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/savora/go-order-lifecycle/internal/orders"
)

// Fetcher returns the backend's current snapshot of an order.
type Fetcher interface {
	FetchOrder(ctx context.Context, orderID string) (orders.Order, error)
}

// Updater is the slice of the order state store a tracker needs.
type Updater interface {
	UpdateStatus(id string, newStatus orders.Status, message string) error
}

// Change is delivered to the status-change callback for every observed
// transition.
type Change struct {
	OrderID  string
	Previous orders.Status
	Current  orders.Status
	Snapshot orders.Order
}

const (
	DefaultInterval = 5 * time.Second

	// maxConsecutiveErrors is the failure run after which tracking gives up.
	// Individual poll failures only degrade to last-known status; a run of
	// them is converted into a single tracking-stopped signal.
	maxConsecutiveErrors = 3
)

// Tracker polls one order. States: idle -> tracking -> idle/stopped. Polls
// for the same order are strictly sequential: a tick is skipped while a
// previous poll is still in flight.
type Tracker struct {
	fetcher  Fetcher
	store    Updater
	orderID  string
	interval time.Duration

	onChange func(Change)
	onError  func(error)

	mu        sync.Mutex
	tracking  bool
	stopCh    chan struct{}
	stopOnce  *sync.Once
	lastKnown orders.Status
	errCount  int

	polling atomic.Bool
}

// New returns an idle tracker for orderID. A non-positive interval falls back
// to DefaultInterval.
func New(fetcher Fetcher, store Updater, orderID string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		fetcher:  fetcher,
		store:    store,
		orderID:  orderID,
		interval: interval,
	}
}

// OnStatusChange registers the status-change callback. Must be set before
// StartTracking.
func (t *Tracker) OnStatusChange(fn func(Change)) { t.onChange = fn }

// OnError registers the tracking-broken callback, fired once when polling
// stops after repeated failures. Kept separate from OnStatusChange so the UI
// can distinguish "order finished" from "tracking broken".
func (t *Tracker) OnError(fn func(error)) { t.onError = fn }

// IsTracking reports whether a polling session is active.
func (t *Tracker) IsTracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

// StartTracking begins polling: one immediate poll, then one per interval.
// Calling it while already tracking is a no-op. Polling stops when the order
// reaches a terminal status, after maxConsecutiveErrors consecutive failures,
// when StopTracking is called, or when ctx is cancelled.
func (t *Tracker) StartTracking(ctx context.Context) {
	t.mu.Lock()
	if t.tracking {
		t.mu.Unlock()
		return
	}
	t.tracking = true
	t.stopCh = make(chan struct{})
	t.stopOnce = &sync.Once{}
	t.lastKnown = ""
	t.errCount = 0
	stopCh := t.stopCh
	t.mu.Unlock()

	go t.run(ctx, stopCh)
}

// StopTracking ends the session. Idempotent, and safe to call from within the
// callbacks fired by the poll loop being stopped.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	once := t.stopOnce
	stopCh := t.stopCh
	t.tracking = false
	t.mu.Unlock()

	if once != nil {
		once.Do(func() { close(stopCh) })
	}
}

// RefreshStatus performs one poll outside the interval schedule. It shares
// the poll-in-progress guard with the loop, so it never overlaps a scheduled
// poll.
func (t *Tracker) RefreshStatus(ctx context.Context) {
	t.poll(ctx)
}

func (t *Tracker) run(ctx context.Context, stopCh chan struct{}) {
	// first observation should not wait a full period
	t.poll(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			t.StopTracking()
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *Tracker) poll(ctx context.Context) {
	if !t.polling.CompareAndSwap(false, true) {
		return // previous poll still in flight
	}
	defer t.polling.Store(false)

	snapshot, err := t.fetcher.FetchOrder(ctx, t.orderID)
	if err != nil {
		t.handlePollError(err)
		return
	}

	t.mu.Lock()
	t.errCount = 0
	previous := t.lastKnown
	changed := snapshot.Status != previous
	t.lastKnown = snapshot.Status
	t.mu.Unlock()

	if changed {
		// UpdateStatus itself no-ops when the store already holds this
		// status, so the first observation never appends redundant history.
		if err := t.store.UpdateStatus(t.orderID, snapshot.Status, "status reported by backend"); err != nil {
			log.Printf("[tracking] update status for %s: %v", t.orderID, err)
		}
	}
	if changed && previous != "" {
		if t.onChange != nil {
			t.onChange(Change{
				OrderID:  t.orderID,
				Previous: previous,
				Current:  snapshot.Status,
				Snapshot: snapshot,
			})
		}
	}

	if snapshot.Status.Terminal() {
		t.StopTracking()
	}
}

func (t *Tracker) handlePollError(err error) {
	t.mu.Lock()
	t.errCount++
	broken := t.errCount >= maxConsecutiveErrors
	t.mu.Unlock()

	if !broken {
		log.Printf("[tracking] poll %s failed (will retry next tick): %v", t.orderID, err)
		return
	}

	t.StopTracking()
	if t.onError != nil {
		t.onError(err)
	}
}
