// Package process ties long-running commands to OS signals
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/poltergeist/wisp/pkg/logger"
)

// Signals end a serve or watch session
var Signals = []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}

// Manager cancels a session context on the first signal and runs the
// registered shutdown handlers exactly once, newest first.
type Manager struct {
	logger   logger.Logger
	mu       sync.Mutex
	handlers []func()
	once     sync.Once
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{logger: log}
}

// OnShutdown registers fn to run when the session ends
func (m *Manager) OnShutdown(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Context returns a child of parent that is cancelled on the first signal.
// The returned cancel func releases the signal handler and runs Shutdown.
func (m *Manager) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, Signals...)

	go func() {
		select {
		case sig := <-sigCh:
			m.logger.Info("Received signal, shutting down", logger.WithField("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
		m.Shutdown()
	}
}

// Shutdown runs the handlers. Later calls do nothing.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.mu.Lock()
		handlers := append([]func(){}, m.handlers...)
		m.mu.Unlock()
		for i := len(handlers) - 1; i >= 0; i-- {
			handlers[i]()
		}
	})
}
