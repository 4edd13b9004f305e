package payment

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Terminal provider payment statuses.
var terminalPaymentStatuses = map[string]bool{
	"DONE":     true,
	"CANCELED": true,
	"ABORTED":  true,
	"FAILED":   true,
}

// TerminalPaymentStatus reports whether status is final on the provider side.
func TerminalPaymentStatus(status string) bool {
	return terminalPaymentStatuses[status]
}

// StatusClient is the slice of Client a poller needs.
type StatusClient interface {
	GetStatus(ctx context.Context, paymentKey string) (StatusResult, error)
}

const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollAttempts = 20 // x interval = 60s budget
)

// Poller watches one payment until it reaches a terminal status or the
// attempt budget runs out. Unlike order tracking, which is bounded by an
// error run, settlement is expected to finish quickly, so the session is
// time-boxed: attempts x interval. Exactly one of the OnComplete/OnError
// callbacks fires per session. Restart is supported via Stop then Start,
// never implicit.
type Poller struct {
	client      StatusClient
	paymentKey  string
	interval    time.Duration
	maxAttempts int

	onComplete func(StatusResult)
	onError    func(error)

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce *sync.Once
	resolved bool
}

// NewPoller returns an idle poller for paymentKey. Non-positive interval or
// attempts fall back to the defaults.
func NewPoller(client StatusClient, paymentKey string, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultPollAttempts
	}
	return &Poller{
		client:      client,
		paymentKey:  paymentKey,
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// OnComplete registers the terminal-status callback.
func (p *Poller) OnComplete(fn func(StatusResult)) { p.onComplete = fn }

// OnError registers the budget-exhausted / failure callback.
func (p *Poller) OnError(fn func(error)) { p.onError = fn }

// IsRunning reports whether a polling session is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins polling. A call while already running is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.resolved = false
	p.stopCh = make(chan struct{})
	p.stopOnce = &sync.Once{}
	stopCh := p.stopCh
	p.mu.Unlock()

	go p.run(ctx, stopCh)
}

// Stop ends the session without firing a callback. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	once := p.stopOnce
	stopCh := p.stopCh
	p.running = false
	p.mu.Unlock()

	if once != nil {
		once.Do(func() { close(stopCh) })
	}
}

func (p *Poller) run(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				p.Stop()
				return
			case <-ticker.C:
			}
		}

		result, err := p.client.GetStatus(ctx, p.paymentKey)
		if err != nil {
			// transient failures burn attempts but do not end the session;
			// the attempt budget is the only clock here
			lastErr = err
			continue
		}
		if TerminalPaymentStatus(result.Status) {
			p.resolve(func() {
				if p.onComplete != nil {
					p.onComplete(result)
				}
			})
			return
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("payment %s did not settle within %s",
			p.paymentKey, time.Duration(p.maxAttempts)*p.interval)
	}
	p.resolve(func() {
		if p.onError != nil {
			p.onError(lastErr)
		}
	})
}

// resolve fires fn at most once per session and stops the poller.
func (p *Poller) resolve(fn func()) {
	p.mu.Lock()
	already := p.resolved
	p.resolved = true
	p.mu.Unlock()

	p.Stop()
	if !already {
		fn()
	}
}
