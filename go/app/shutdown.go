package app

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DrainInterval is how often the shutdown drain re-checks whether the
// last connection has closed.
const DrainInterval = 250 * time.Millisecond

// ShutdownManager coordinates process exit: anything can initiate
// shutdown, long-lived tasks watch WhenShuttingDown, and work that
// must finish before exit registers through WaitFor.
type ShutdownManager struct {
	mu        sync.Mutex
	initiated bool
	ch        chan struct{}
	wg        sync.WaitGroup
}

// NewShutdownManager builds a manager in the running state.
func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{ch: make(chan struct{})}
}

// Shutdown initiates shutdown. Repeat calls are no-ops.
func (m *ShutdownManager) Shutdown(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initiated {
		return
	}
	m.initiated = true
	close(m.ch)
	log.WithField("reason", reason).Info("shutting down")
}

// WhenShuttingDown resolves once shutdown is initiated.
func (m *ShutdownManager) WhenShuttingDown() <-chan struct{} { return m.ch }

// IsShuttingDown reports whether shutdown has been initiated.
func (m *ShutdownManager) IsShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initiated
}

// WaitFor registers work that must complete before process exit: done
// must resolve before Drain returns.
func (m *ShutdownManager) WaitFor(done <-chan struct{}) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-done
	}()
}

// Drain blocks until all registered work completes, or ctx expires.
func (m *ShutdownManager) Drain(ctx context.Context) error {
	var done = make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainConnections asks connections to close, iterating on the drain
// interval until none remain or ctx expires.
func DrainConnections(ctx context.Context, count func() int, closeAll func()) error {
	var ticker = time.NewTicker(DrainInterval)
	defer ticker.Stop()
	for {
		closeAll()
		if count() == 0 {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
