package system

import (
	"context"
	"fmt"
	"sync"
)

// Manager starts registered services in registration order and stops them in
// reverse. A failed start stops the services already running.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  []Service
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register appends a service. Registering the same name twice is an error.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("service %q already registered", svc.Name())
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// StartAll starts every registered service in order.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			_ = m.StopAll(ctx)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, svc)
		m.mu.Unlock()
	}
	return nil
}

// StopAll stops started services in reverse order, returning the first error
// while still stopping the rest.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	started := make([]Service, len(m.started))
	copy(started, m.started)
	m.started = m.started[:0]
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", started[i].Name(), err)
		}
	}
	return firstErr
}
