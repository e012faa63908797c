package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Manager manages multiple runnables with unified lifecycle.
type Manager struct {
	shutdownTimeout time.Duration

	mu      sync.Mutex
	servers []Runnable
	started []Runnable
}

// NewManager creates a manager whose Stop is bounded by shutdownTimeout.
func NewManager(shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &Manager{shutdownTimeout: shutdownTimeout}
}

// Add registers a runnable. Runnables start in registration order and stop in reverse.
func (m *Manager) Add(servers ...Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, servers...)
}

// Start starts all runnables. On failure the ones already started are stopped.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	servers := append([]Runnable(nil), m.servers...)
	m.mu.Unlock()

	for _, srv := range servers {
		if err := srv.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
			_ = m.Stop(stopCtx)
			cancel()
			return fmt.Errorf("failed to start %s: %w", srv.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, srv)
		m.mu.Unlock()
	}
	return nil
}

// Stop stops every started runnable in reverse order.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", started[i].Name(), err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Run starts all runnables, blocks until ctx is done, then shuts down gracefully.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Infow("Server shutting down...", "timeout", m.shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownTimeout)
	defer cancel()
	return m.Stop(shutdownCtx)
}
