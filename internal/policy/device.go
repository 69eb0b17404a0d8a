package policy

import (
	"fmt"
	"strings"

	"github.com/emer/etable/etensor"

	"github.com/thruflo/botloop/internal/logging"
)

// ComputeDevice names where inference runs.
type ComputeDevice string

// Known compute devices.
const (
	CPU  ComputeDevice = "cpu"
	CUDA ComputeDevice = "cuda"
	MPS  ComputeDevice = "mps"
)

// autoOrder is the preference order used when no device is requested.
var autoOrder = []ComputeDevice{CUDA, MPS, CPU}

// ParseDevice converts a config or flag value into a ComputeDevice. An
// empty string means "pick automatically" and returns "".
func ParseDevice(s string) (ComputeDevice, error) {
	switch d := ComputeDevice(strings.ToLower(strings.TrimSpace(s))); d {
	case "", CPU, CUDA, MPS:
		return d, nil
	default:
		return "", fmt.Errorf("unknown compute device %q (want cpu, cuda or mps)", s)
	}
}

// IsAccelerator reports whether d is not the host CPU.
func (d ComputeDevice) IsAccelerator() bool {
	return d == CUDA || d == MPS
}

// SupportsReducedPrecision reports whether mixed precision inference is
// available on d.
func (d ComputeDevice) SupportsReducedPrecision() bool {
	return d == CUDA || d == CPU
}

// Backend moves tensors between host memory and a compute device.
type Backend interface {
	Device() ComputeDevice
	ToDevice(t etensor.Tensor) (etensor.Tensor, error)
	ToHost(t etensor.Tensor) (etensor.Tensor, error)
}

// HostBackend runs inference in host memory.
type HostBackend struct{}

// Device implements Backend.
func (HostBackend) Device() ComputeDevice { return CPU }

// ToDevice implements Backend.
func (HostBackend) ToDevice(t etensor.Tensor) (etensor.Tensor, error) { return t, nil }

// ToHost implements Backend.
func (HostBackend) ToHost(t etensor.Tensor) (etensor.Tensor, error) { return t, nil }

// Backends is the set of backends available to this process.
type Backends map[ComputeDevice]Backend

// DefaultBackends returns the backends built into botloop.
func DefaultBackends() Backends {
	return Backends{CPU: HostBackend{}}
}

// Select resolves the backend for name, auto-selecting when name is empty.
// The returned bool is the effective AMP setting: AMP requested on a
// device without reduced precision support is switched off with a warning.
func (b Backends) Select(name string, useAMP bool, logger *logging.Logger) (Backend, bool, error) {
	if logger == nil {
		logger = logging.Default()
	}
	dev, err := ParseDevice(name)
	if err != nil {
		return nil, false, err
	}

	var backend Backend
	if dev == "" {
		for _, d := range autoOrder {
			if be, ok := b[d]; ok {
				backend = be
				break
			}
		}
		if backend == nil {
			return nil, false, fmt.Errorf("no compute device available")
		}
		logger.Info("Compute device auto-selected", "device", string(backend.Device()))
	} else {
		be, ok := b[dev]
		if !ok {
			return nil, false, fmt.Errorf("compute device %q is not available", dev)
		}
		backend = be
	}

	if useAMP && !backend.Device().SupportsReducedPrecision() {
		logger.Warn("Automatic mixed precision is not available on this device, deactivating",
			"device", string(backend.Device()))
		useAMP = false
	}
	return backend, useAMP, nil
}

// SelectBackend resolves name against DefaultBackends.
func SelectBackend(name string, useAMP bool, logger *logging.Logger) (Backend, bool, error) {
	return DefaultBackends().Select(name, useAMP, logger)
}
