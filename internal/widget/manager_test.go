package widget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderer tracks mounted containers so tests can prove renders never
// stack. Optional gates let a test hold a phase open.
type fakeRenderer struct {
	mu          sync.Mutex
	initCalls   int
	mounted     map[string]bool
	maxMounted  int
	initGate    chan struct{}
	releaseGate chan struct{}
	initErr     error
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{mounted: map[string]bool{}}
}

func (f *fakeRenderer) Initialize(ctx context.Context, providerKey, customerKey string) error {
	f.mu.Lock()
	f.initCalls++
	gate := f.initGate
	err := f.initErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeRenderer) Render(ctx context.Context, amount decimal.Decimal, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted[orderID] = true
	if n := len(f.mounted); n > f.maxMounted {
		f.maxMounted = n
	}
	return nil
}

func (f *fakeRenderer) Release(ctx context.Context) error {
	f.mu.Lock()
	gate := f.releaseGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mounted = map[string]bool{}
	return nil
}

func (f *fakeRenderer) initCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

func amt(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestInitializeIsReentrant(t *testing.T) {
	r := newFakeRenderer()
	r.initGate = make(chan struct{})
	m := NewManager(r)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Initialize(ctx, "pk", "ck")
		}(i)
	}

	require.Eventually(t, func() bool { return m.GetStatus() == StateInitializing },
		time.Second, time.Millisecond)
	close(r.initGate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, r.initCount(), "concurrent callers wait instead of re-initializing")
	assert.Equal(t, StateReady, m.GetStatus())

	// already initialized: immediate no-op
	require.NoError(t, m.Initialize(ctx, "pk", "ck"))
	assert.Equal(t, 1, r.initCount())
}

func TestInitializeFailureReturnsToUninitialized(t *testing.T) {
	r := newFakeRenderer()
	r.initErr = errors.New("sdk load failed")
	m := NewManager(r)

	err := m.Initialize(context.Background(), "pk", "ck")
	assert.Error(t, err)
	assert.Equal(t, StateUninitialized, m.GetStatus())

	// recoverable: a later attempt may succeed
	r.mu.Lock()
	r.initErr = nil
	r.mu.Unlock()
	assert.NoError(t, m.Initialize(context.Background(), "pk", "ck"))
	assert.Equal(t, StateReady, m.GetStatus())
}

func TestRenderRequiresInitialization(t *testing.T) {
	m := NewManager(newFakeRenderer())
	err := m.RenderWidgets(context.Background(), amt(1000), "order_1")
	assert.Error(t, err)
}

func TestRenderThenCleanupLifecycle(t *testing.T) {
	r := newFakeRenderer()
	m := NewManager(r)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "pk", "ck"))

	require.NoError(t, m.RenderWidgets(ctx, amt(1000), "order_1"))
	assert.Equal(t, StateRendered, m.GetStatus())
	orderID, ok := m.RenderedOrder()
	require.True(t, ok)
	assert.Equal(t, "order_1", orderID)

	require.NoError(t, m.Cleanup(ctx))
	assert.Equal(t, StateReady, m.GetStatus())
	_, ok = m.RenderedOrder()
	assert.False(t, ok)

	// cleanup with nothing rendered is a no-op
	require.NoError(t, m.Cleanup(ctx))
}

func TestRerenderNeverStacks(t *testing.T) {
	r := newFakeRenderer()
	m := NewManager(r)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "pk", "ck"))

	require.NoError(t, m.RenderWidgets(ctx, amt(1000), "order_1"))
	require.NoError(t, m.RenderWidgets(ctx, amt(2000), "order_2"))

	assert.Equal(t, 1, r.maxMounted, "previous containers are released before a new render mounts")
	orderID, _ := m.RenderedOrder()
	assert.Equal(t, "order_2", orderID)
}

func TestOverlappingRendersForDifferentOrders(t *testing.T) {
	r := newFakeRenderer()
	r.releaseGate = make(chan struct{})
	m := NewManager(r)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "pk", "ck"))
	require.NoError(t, m.RenderWidgets(ctx, amt(1000), "order_1"))

	// second render must wait behind the held-open cleanup of the first
	done := make(chan error, 1)
	go func() { done <- m.RenderWidgets(ctx, amt(2000), "order_2") }()

	require.Eventually(t, func() bool { return m.GetStatus() == StateCleaningUp },
		time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("second render began before the first render's cleanup completed")
	case <-time.After(20 * time.Millisecond):
	}

	close(r.releaseGate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, r.maxMounted, "both container sets were never populated simultaneously")
	orderID, _ := m.RenderedOrder()
	assert.Equal(t, "order_2", orderID)
}

func TestCleanupIsReentrant(t *testing.T) {
	r := newFakeRenderer()
	r.releaseGate = make(chan struct{})
	m := NewManager(r)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx, "pk", "ck"))
	require.NoError(t, m.RenderWidgets(ctx, amt(1000), "order_1"))

	done := make(chan error, 2)
	go func() { done <- m.Cleanup(ctx) }()
	go func() { done <- m.Cleanup(ctx) }()

	require.Eventually(t, func() bool { return m.GetStatus() == StateCleaningUp },
		time.Second, time.Millisecond)
	close(r.releaseGate)

	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, m.GetStatus())
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "cleaning_up", StateCleaningUp.String())
}
