// Package widget guards the lifecycle of the embedded payment UI so at most
// one live instance exists at a time.
package widget

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// State is the manager's explicit lifecycle state. Guarded transitions make
// illegal states (render while cleaning up, double initialization) hard
// failures instead of silent races.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRendering
	StateRendered
	StateCleaningUp
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRendering:
		return "rendering"
	case StateRendered:
		return "rendered"
	case StateCleaningUp:
		return "cleaning_up"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Renderer is the embedded payment UI: the provider SDK surface the manager
// drives. Release must leave no mounted containers behind.
type Renderer interface {
	Initialize(ctx context.Context, providerKey, customerKey string) error
	Render(ctx context.Context, amount decimal.Decimal, orderID string) error
	Release(ctx context.Context) error
}

// Manager serializes initialize / render / cleanup of the payment widget.
// It is an injectable instance, not a package singleton, so tests can build
// isolated managers.
type Manager struct {
	renderer Renderer

	mu          sync.Mutex
	state       State
	initDone    chan struct{}
	initErr     error
	cleanupDone chan struct{}
	cleanupErr  error
	orderID     string // order the current render belongs to
}

// NewManager returns an uninitialized manager over renderer.
func NewManager(renderer Renderer) *Manager {
	return &Manager{renderer: renderer}
}

// GetStatus returns the current lifecycle state.
func (m *Manager) GetStatus() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize brings the widget to Ready. Re-entrant: a caller arriving while
// another initialization is in flight waits for that one instead of starting
// a second, and an already-initialized manager returns immediately.
func (m *Manager) Initialize(ctx context.Context, providerKey, customerKey string) error {
	m.mu.Lock()
	switch m.state {
	case StateReady, StateRendering, StateRendered, StateCleaningUp:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		done := m.initDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.initErr
		m.mu.Unlock()
		return err
	}

	m.state = StateInitializing
	m.initDone = make(chan struct{})
	m.mu.Unlock()

	err := m.renderer.Initialize(ctx, providerKey, customerKey)

	m.mu.Lock()
	m.initErr = err
	if err != nil {
		m.state = StateUninitialized
	} else {
		m.state = StateReady
	}
	close(m.initDone)
	m.mu.Unlock()
	return err
}

// RenderWidgets mounts the widget for orderID. A previous render is cleaned
// up first so renders never stack; the new render only begins once that
// cleanup has completed.
func (m *Manager) RenderWidgets(ctx context.Context, amount decimal.Decimal, orderID string) error {
	for {
		m.mu.Lock()
		switch m.state {
		case StateUninitialized, StateInitializing:
			st := m.state
			m.mu.Unlock()
			return fmt.Errorf("render widgets: manager is %s, initialize first", st)
		case StateRendering:
			m.mu.Unlock()
			return fmt.Errorf("render widgets: a render is already in progress")
		case StateCleaningUp:
			done := m.cleanupDone
			m.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		case StateRendered:
			m.mu.Unlock()
			if err := m.Cleanup(ctx); err != nil {
				return fmt.Errorf("render widgets: cleanup previous render: %w", err)
			}
			continue
		case StateReady:
			m.state = StateRendering
			m.mu.Unlock()
		}
		break
	}

	err := m.renderer.Render(ctx, amount, orderID)

	m.mu.Lock()
	if err != nil {
		m.state = StateReady
		m.orderID = ""
	} else {
		m.state = StateRendered
		m.orderID = orderID
	}
	m.mu.Unlock()
	return err
}

// Cleanup releases the current render and returns the manager to Ready.
// Re-entrant: concurrent callers join the single in-flight cleanup rather
// than issuing a second one. Cleaning up a manager with nothing rendered is
// a no-op.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateCleaningUp:
		done := m.cleanupDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.cleanupErr
		m.mu.Unlock()
		return err
	case StateRendered:
		// fall through to the actual cleanup
	default:
		m.mu.Unlock()
		return nil
	}

	m.state = StateCleaningUp
	m.cleanupDone = make(chan struct{})
	m.mu.Unlock()

	err := m.renderer.Release(ctx)

	m.mu.Lock()
	m.cleanupErr = err
	m.state = StateReady
	m.orderID = ""
	close(m.cleanupDone)
	m.mu.Unlock()
	return err
}

// RenderedOrder returns the order id of the current render, if any.
func (m *Manager) RenderedOrder() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderID, m.state == StateRendered
}
