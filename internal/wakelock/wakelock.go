// Package wakelock keeps the host awake while the user wants sessions to keep
// running in the background. The Manager holds one primary (CPU) and one
// secondary (network) resource as a unit: it is either holding both or
// neither.
package wakelock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MobileDevCLI/MobileCLI-v6.0.0-API-Fixed-sub000/internal/logger"
)

// Resource is one underlying keep-awake handle
type Resource interface {
	Name() string
	Acquire() error
	Release() error
}

// Manager acquires and releases the primary/secondary pair. Calls do not
// stack: two Acquire calls followed by one Release leave nothing held.
type Manager struct {
	mu        sync.Mutex
	primary   Resource
	secondary Resource
	held      bool
	log       *logger.Logger
}

// NewManager creates a manager over the two resources
func NewManager(primary, secondary Resource) *Manager {
	return &Manager{
		primary:   primary,
		secondary: secondary,
		log:       logger.Global().WithPrefix("wakelock"),
	}
}

// Acquire takes the primary resource, then the secondary. If the secondary
// fails the primary is released again so the manager is never left half
// acquired.
func (m *Manager) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held {
		return nil
	}

	if err := m.primary.Acquire(); err != nil {
		return fmt.Errorf("acquire %s: %w", m.primary.Name(), err)
	}
	if err := m.secondary.Acquire(); err != nil {
		if rbErr := m.primary.Release(); rbErr != nil {
			m.log.Error("rollback of %s failed: %v", m.primary.Name(), rbErr)
			return errors.Join(fmt.Errorf("acquire %s: %w", m.secondary.Name(), err), rbErr)
		}
		return fmt.Errorf("acquire %s: %w", m.secondary.Name(), err)
	}

	m.held = true
	m.log.Info("acquired %s + %s", m.primary.Name(), m.secondary.Name())
	return nil
}

// Release drops both resources if held. Both are attempted even if the
// first fails; the held flag is cleared either way.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		return nil
	}
	m.held = false

	var errs []error
	if err := m.secondary.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release %s: %w", m.secondary.Name(), err))
	}
	if err := m.primary.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release %s: %w", m.primary.Name(), err))
	}
	if len(errs) > 0 {
		m.log.Warn("release finished with errors: %v", errors.Join(errs...))
	} else {
		m.log.Info("released")
	}
	return errors.Join(errs...)
}

// IsHeld reports whether both resources are currently held
func (m *Manager) IsHeld() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}
