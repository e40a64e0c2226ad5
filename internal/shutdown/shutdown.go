// Package shutdown sequences the teardown of printassist's long-lived
// daemon resources (HTTP listener, coordinator loop, database handle)
// so a SIGTERM during an active print doesn't leave the store or a
// goroutine in an inconsistent state.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/printassist/internal/logging"
)

// Manager runs registered teardown functions in reverse registration
// order once a shutdown is triggered, bounding the whole sequence by a
// single timeout.
type Manager struct {
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	doneChan      chan struct{}
	once          sync.Once
	log           *logging.Logger
}

// New creates a shutdown manager. log may be nil in tests.
func New(timeout time.Duration, log *logging.Logger) *Manager {
	return &Manager{
		timeout:  timeout,
		doneChan: make(chan struct{}),
		log:      log,
	}
}

// Register adds a teardown function. Functions run LIFO, so the
// resource registered last (typically the HTTP listener) is the first
// one stopped.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Wait blocks until SIGTERM or SIGINT arrives, then closes Done.
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	m.logf("received signal %v, initiating graceful shutdown", sig)

	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Done returns a channel closed once a shutdown signal has arrived.
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Shutdown runs every registered teardown function in LIFO order,
// bounded by the manager's configured timeout. Errors from individual
// functions are logged, not returned, so one failing stage never stops
// the rest from running. Stages run one after another, so a slow stage
// delays the ones after it.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		if err := m.shutdownFuncs[i](ctx); err != nil {
			m.logf("shutdown stage %d failed: %v", i, err)
		}
	}

	m.logf("graceful shutdown complete")
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.log == nil {
		return
	}
	m.log.Info(fmt.Sprintf(format, args...), nil)
}

// StopHTTPServer builds a teardown function for the API's http.Server.
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop %s server: %w", name, err)
		}
		return nil
	}
}
