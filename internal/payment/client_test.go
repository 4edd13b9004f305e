package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/savora/go-order-lifecycle/internal/retry"
	"github.com/savora/go-order-lifecycle/internal/transport"
)

// fakeDoer scripts transport responses. If block is non-nil, Post waits on it
// before returning, which lets tests hold a confirmation in flight.
type fakeDoer struct {
	mu       sync.Mutex
	postErr  error
	posts    int
	block    chan struct{}
	lastBody interface{}
}

func (f *fakeDoer) Get(ctx context.Context, path string, out interface{}) error { return nil }
func (f *fakeDoer) Put(ctx context.Context, path string, body, out interface{}) error {
	return nil
}
func (f *fakeDoer) Delete(ctx context.Context, path string, out interface{}) error { return nil }

func (f *fakeDoer) Post(ctx context.Context, path string, body, out interface{}) error {
	f.mu.Lock()
	f.posts++
	f.lastBody = body
	block := f.block
	err := f.postErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	if result, ok := out.(*ConfirmResult); ok {
		*result = ConfirmResult{Status: "DONE", ApprovedAt: time.Now()}
	}
	return nil
}

func (f *fakeDoer) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts
}

func noSleep() retry.Options {
	return retry.Options{}.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
}

func amount(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestConfirmValidatesInputBeforeAnyNetworkCall(t *testing.T) {
	doer := &fakeDoer{}
	c := NewClient(doer, WithRetryOptions(noSleep()))
	ctx := context.Background()

	_, err := c.Confirm(ctx, "", "order_1", amount(1000))
	assert.Error(t, err)

	_, err = c.Confirm(ctx, "pay_1", "", amount(1000))
	assert.Error(t, err)

	_, err = c.Confirm(ctx, "pay_1", "order_1", amount(0))
	assert.Error(t, err)

	_, err = c.Confirm(ctx, "pay_1", "order_1", amount(-500))
	assert.Error(t, err)

	assert.Zero(t, doer.postCount(), "local validation failures never reach the network")
}

func TestConfirmRejectsConcurrentAttemptForSameOrder(t *testing.T) {
	doer := &fakeDoer{block: make(chan struct{})}
	c := NewClient(doer, WithRetryOptions(noSleep()))
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.Confirm(ctx, "pay_1", "order_1", amount(1000))
		firstDone <- err
	}()

	// wait until the first confirm is holding the network call open
	require.Eventually(t, func() bool { return doer.postCount() == 1 },
		time.Second, time.Millisecond, "first confirm should be in flight")

	_, err := c.Confirm(ctx, "pay_2", "order_1", amount(1000))
	assert.ErrorIs(t, err, ErrConcurrentPayment, "second confirm fails fast while first is unresolved")

	// a different order is unaffected... but shares the blocked doer, so just
	// release and check the first attempt resolves
	close(doer.block)
	require.NoError(t, <-firstDone)

	// after resolution a new confirm for the same order is accepted
	doer.mu.Lock()
	doer.block = nil
	doer.mu.Unlock()
	_, err = c.Confirm(ctx, "pay_3", "order_1", amount(1000))
	assert.NoError(t, err)
}

func TestConfirmLeavesAttemptTerminalOnFailure(t *testing.T) {
	doer := &fakeDoer{postErr: &transport.Error{StatusCode: 500, Type: transport.TypeServer, Message: "boom"}}
	c := NewClient(doer, WithRetryOptions(noSleep()))

	_, err := c.Confirm(context.Background(), "pay_1", "order_1", amount(1000))
	require.Error(t, err)

	attempt, ok := c.AttemptFor("order_1")
	require.True(t, ok)
	assert.Equal(t, AttemptFailed, attempt.Status, "no failure path leaves the in_progress lock held")
	assert.False(t, attempt.CompletedAt.IsZero())

	// and the failed attempt does not block a retry
	doer.mu.Lock()
	doer.postErr = nil
	doer.mu.Unlock()
	_, err = c.Confirm(context.Background(), "pay_1", "order_1", amount(1000))
	assert.NoError(t, err)
}

func TestConfirmRetriesServerErrors(t *testing.T) {
	doer := &fakeDoer{postErr: &transport.Error{StatusCode: 503, Type: transport.TypeServer, Message: "unavailable"}}
	c := NewClient(doer, WithRetryOptions(noSleep()))

	_, err := c.Confirm(context.Background(), "pay_1", "order_1", amount(1000))

	require.Error(t, err)
	assert.Equal(t, 1+retry.DefaultMaxRetries, doer.postCount())
}

func TestConfirmMapsProviderCodesToCategories(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{"NOT_ENOUGH_BALANCE", CategoryInsufficientBalance},
		{"INVALID_CARD_EXPIRATION", CategoryExpiredCard},
		{"INVALID_CARD_NUMBER", CategoryInvalidCard},
		{"ALREADY_PROCESSED_PAYMENT", CategoryDuplicateOrderID},
		{"AMOUNT_MISMATCH", CategoryAmountMismatch},
		{"SOMETHING_NOVEL", CategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			doer := &fakeDoer{postErr: &transport.Error{
				StatusCode: 400,
				Type:       transport.TypeClient,
				Code:       tc.code,
				Message:    "rejected",
			}}
			c := NewClient(doer, WithRetryOptions(noSleep()))

			_, err := c.Confirm(context.Background(), "pay_1", "order_1", amount(1000))

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.category, pe.Category)
			assert.Equal(t, 1, doer.postCount(), "4xx rejections are not retried")
		})
	}
}

func TestConfirmAttachesIdempotencyKey(t *testing.T) {
	doer := &fakeDoer{}
	c := NewClient(doer, WithRetryOptions(noSleep()))

	_, err := c.Confirm(context.Background(), "pay_1", "order_1", amount(1000))
	require.NoError(t, err)

	req, ok := doer.lastBody.(confirmRequest)
	require.True(t, ok)
	assert.NotEmpty(t, req.IdempotencyKey)
	assert.Equal(t, "1000", req.Amount)
}

func TestAttemptSweepRemovesStaleEntries(t *testing.T) {
	r := newAttemptRegistry()
	now := time.Now()
	r.nowFunc = func() time.Time { return now }

	_, err := r.begin("stale_order")
	require.NoError(t, err)
	r.finish("stale_order", AttemptSuccess)

	// 31 minutes later the sweep collects it, terminal or not
	r.nowFunc = func() time.Time { return now.Add(31 * time.Minute) }
	_, err = r.begin("stuck_order")
	require.NoError(t, err)
	r.nowFunc = func() time.Time { return now.Add(62 * time.Minute) }
	r.sweep()

	_, ok := r.get("stale_order")
	assert.False(t, ok)
	_, ok = r.get("stuck_order")
	assert.False(t, ok, "even in_progress attempts are swept past the TTL")
}

func TestConfirmSweepsStaleInProgressLockBeforeRejecting(t *testing.T) {
	doer := &fakeDoer{}
	c := NewClient(doer, WithRetryOptions(noSleep()))

	// a crash 31 minutes ago left an in_progress attempt behind
	now := time.Now()
	c.attempts.nowFunc = func() time.Time { return now.Add(-31 * time.Minute) }
	_, err := c.attempts.begin("order_1")
	require.NoError(t, err)
	c.attempts.nowFunc = func() time.Time { return now }

	_, err = c.Confirm(context.Background(), "pay_1", "order_1", amount(1000))
	assert.NoError(t, err, "an attempt past its TTL must not block a new confirm")

	attempt, ok := c.AttemptFor("order_1")
	require.True(t, ok)
	assert.Equal(t, AttemptSuccess, attempt.Status)
}

func TestCancelFailureReportsCancelOperation(t *testing.T) {
	doer := &fakeDoer{postErr: &transport.Error{StatusCode: 500, Type: transport.TypeServer, Message: "boom"}}
	c := NewClient(doer)

	_, err := c.Cancel(context.Background(), "pay_1", "changed my mind")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancel payment pay_1")
	assert.True(t, transport.IsServer(err))
}

func TestSimulatedProviderConfirms(t *testing.T) {
	c := NewClient(nil, WithSimulatedProvider())

	result, err := c.Confirm(context.Background(), "pay_1", "order_1", amount(5000))
	require.NoError(t, err)
	assert.Equal(t, "DONE", result.Status)
	assert.True(t, result.Amount.Equal(amount(5000)))
	require.NotNil(t, result.Card)

	status, err := c.GetStatus(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "DONE", status.Status)

	cancel, err := c.Cancel(context.Background(), "pay_1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, "CANCELED", cancel.Status)
}

func TestCategorizeFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, CategoryUnknown, Categorize(""))
	assert.Equal(t, CategoryInsufficientBalance, Categorize("NOT_ENOUGH_BALANCE"))
}

func TestNormalizePassesThroughNetworkErrors(t *testing.T) {
	c := NewClient(nil)
	in := &transport.Error{Type: transport.TypeNetwork, Message: "down"}
	out := c.normalizeError("confirm order order_1", in)

	var pe *ProviderError
	assert.False(t, errors.As(out, &pe))
	assert.True(t, transport.IsNetwork(out))
}
