package tracking

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/savora/go-order-lifecycle/internal/orders"
)

// MultiTracker polls a set of orders on one shared interval. Each tick walks
// the set sequentially and applies the single-order comparison logic per id;
// a failure on one id never aborts the rest of the tick. Ids whose orders
// reach a terminal status drop out of the set, and the session stops itself
// once the set is empty.
type MultiTracker struct {
	fetcher  Fetcher
	store    Updater
	interval time.Duration

	onChange func(Change)
	onError  func(orderID string, err error)

	mu       sync.Mutex
	tracking bool
	stopCh   chan struct{}
	stopOnce *sync.Once
	entries  map[string]*multiEntry

	polling atomic.Bool
}

type multiEntry struct {
	lastKnown orders.Status
	errCount  int
}

// NewMulti returns an idle multi-order tracker.
func NewMulti(fetcher Fetcher, store Updater, orderIDs []string, interval time.Duration) *MultiTracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	entries := map[string]*multiEntry{}
	for _, id := range orderIDs {
		entries[id] = &multiEntry{}
	}
	return &MultiTracker{
		fetcher:  fetcher,
		store:    store,
		interval: interval,
		entries:  entries,
	}
}

func (m *MultiTracker) OnStatusChange(fn func(Change)) { m.onChange = fn }

// OnError fires per order id once that id's consecutive-failure run hits the
// threshold and the id is dropped from the set.
func (m *MultiTracker) OnError(fn func(orderID string, err error)) { m.onError = fn }

func (m *MultiTracker) IsTracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

// Add inserts an order id into a live session.
func (m *MultiTracker) Add(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[orderID]; !ok {
		m.entries[orderID] = &multiEntry{}
	}
}

// StartTracking begins the shared session: one immediate tick, then one per
// interval. Re-entrant calls are no-ops.
func (m *MultiTracker) StartTracking(ctx context.Context) {
	m.mu.Lock()
	if m.tracking {
		m.mu.Unlock()
		return
	}
	m.tracking = true
	m.stopCh = make(chan struct{})
	m.stopOnce = &sync.Once{}
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.run(ctx, stopCh)
}

// StopTracking is idempotent and re-entrant-safe.
func (m *MultiTracker) StopTracking() {
	m.mu.Lock()
	once := m.stopOnce
	stopCh := m.stopCh
	m.tracking = false
	m.mu.Unlock()

	if once != nil {
		once.Do(func() { close(stopCh) })
	}
}

func (m *MultiTracker) run(ctx context.Context, stopCh chan struct{}) {
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			m.StopTracking()
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *MultiTracker) tick(ctx context.Context) {
	if !m.polling.CompareAndSwap(false, true) {
		return
	}
	defer m.polling.Store(false)

	for _, id := range m.ids() {
		m.pollOne(ctx, id)
	}

	m.mu.Lock()
	empty := len(m.entries) == 0
	m.mu.Unlock()
	if empty {
		m.StopTracking()
	}
}

// ids returns a stable iteration order so ticks are deterministic.
func (m *MultiTracker) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for id := range m.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *MultiTracker) pollOne(ctx context.Context, orderID string) {
	snapshot, err := m.fetcher.FetchOrder(ctx, orderID)

	m.mu.Lock()
	entry, ok := m.entries[orderID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if err != nil {
		entry.errCount++
		broken := entry.errCount >= maxConsecutiveErrors
		if broken {
			delete(m.entries, orderID)
		}
		m.mu.Unlock()
		if broken {
			if m.onError != nil {
				m.onError(orderID, err)
			}
		} else {
			log.Printf("[tracking] poll %s failed (will retry next tick): %v", orderID, err)
		}
		return
	}

	entry.errCount = 0
	previous := entry.lastKnown
	changed := snapshot.Status != previous
	entry.lastKnown = snapshot.Status
	if snapshot.Status.Terminal() {
		delete(m.entries, orderID)
	}
	m.mu.Unlock()

	if changed {
		if err := m.store.UpdateStatus(orderID, snapshot.Status, "status reported by backend"); err != nil {
			log.Printf("[tracking] update status for %s: %v", orderID, err)
		}
	}
	if changed && previous != "" && m.onChange != nil {
		m.onChange(Change{
			OrderID:  orderID,
			Previous: previous,
			Current:  snapshot.Status,
			Snapshot: snapshot,
		})
	}
}
