package gpu

import (
	"fmt"
	"log/slog"
	"sync"
)

// Manager handles backend selection and lifecycle
type Manager struct {
	backend    GPUBackend
	name       string
	candidates map[string]func(*slog.Logger) GPUBackend
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewManager creates a new manager and initializes the preferred backend,
// falling back to CPU when it is unavailable
func NewManager(logger *slog.Logger, preferred string) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		logger: logger,
		candidates: map[string]func(*slog.Logger) GPUBackend{
			"cpu": func(l *slog.Logger) GPUBackend { return NewCPUBackend(l) },
		},
	}

	if err := m.detectAndInitialize(preferred); err != nil {
		return nil, err
	}

	return m, nil
}

// detectAndInitialize initializes the preferred backend, or CPU
func (m *Manager) detectAndInitialize(preferred string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if preferred != "" && preferred != "cpu" {
		create, ok := m.candidates[preferred]
		if !ok {
			m.logger.Warn("unknown backend requested, falling back to cpu", "backend", preferred)
		} else if backend := create(m.logger); backend.IsAvailable() {
			if err := backend.Initialize(); err == nil {
				m.backend = backend
				m.name = preferred
				return nil
			}
			// If initialization failed, try cleanup
			_ = backend.Cleanup()
		}
	}

	// Fall back to CPU
	cpuBackend := NewCPUBackend(m.logger)
	if err := cpuBackend.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize CPU backend: %w", err)
	}
	m.backend = cpuBackend
	m.name = "cpu"
	return nil
}

// Devices enumerates every backend this build knows about
func (m *Manager) Devices() []DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]DeviceInfo, 0, len(m.candidates))
	for name, create := range m.candidates {
		if name == m.name && m.backend != nil {
			devices = append(devices, m.backend.GetDeviceInfo())
			continue
		}
		if backend := create(m.logger); backend.IsAvailable() {
			devices = append(devices, backend.GetDeviceInfo())
		}
	}
	return devices
}

// GetBackend returns the current backend
func (m *Manager) GetBackend() GPUBackend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// GetDeviceInfo returns device information from the current backend
func (m *Manager) GetDeviceInfo() DeviceInfo {
	backend := m.GetBackend()
	if backend == nil {
		return DeviceInfo{Name: "No backend available"}
	}
	return backend.GetDeviceInfo()
}

// GetBackendType returns the name of the current backend
func (m *Manager) GetBackendType() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.backend == nil {
		return "none"
	}
	return m.name
}

// Cleanup releases resources held by the current backend
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil {
		if err := m.backend.Cleanup(); err != nil {
			return err
		}
		m.backend = nil
		m.name = ""
	}
	return nil
}
