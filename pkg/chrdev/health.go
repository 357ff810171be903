package chrdev

import (
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"
)

// Live implements api.Health. The module is live between Init and Exit.
func (m *Module) Live() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != moduleRunning {
		return ErrNotRunning
	}
	return nil
}

// Ready implements api.Health. On top of liveness it requires a free session
// slot and, when configured, enough available system memory.
func (m *Module) Ready() error {
	if err := m.Live(); err != nil {
		return err
	}
	buf := m.Buffer()
	if limit := buf.MaxSessions(); limit > 0 && buf.Sessions() >= limit {
		return errors.Errorf("session limit %d reached", limit)
	}
	return availableMemory(m.cfg.MinAvailableMemory)
}

func availableMemory(min uint64) error {
	if min == 0 {
		return nil
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return errors.Wrap(err, "read memory stats")
	}
	if vm.Available < min {
		return errors.Errorf("available memory %d below %d", vm.Available, min)
	}
	return nil
}
