package robot

import (
	"fmt"
	"slices"
)

// Supported device types.
const (
	TypeSim          = "sim"
	TypeSimBimanual  = "sim_bimanual"
	defaultCamWidth  = 64
	defaultCamHeight = 48
)

// Options are the driver-independent settings accepted by Make.
type Options struct {
	MaxRelativeTarget float32
	Cameras           map[string]CameraSpec
}

// Types lists the device types Make understands.
func Types() []string {
	return []string{TypeSim, TypeSimBimanual}
}

// Make builds a device of the given type.
func Make(deviceType string, opts Options) (Device, error) {
	switch deviceType {
	case TypeSim:
		return NewSimDevice(deviceType, SimOptions{
			Arms:              []string{"main"},
			Motors:            6,
			Cameras:           camerasOrDefault(opts.Cameras, "laptop"),
			MaxRelativeTarget: opts.MaxRelativeTarget,
		}), nil
	case TypeSimBimanual:
		return NewSimDevice(deviceType, SimOptions{
			Arms:              []string{"left", "right"},
			Motors:            6,
			Cameras:           camerasOrDefault(opts.Cameras, "high", "wrist"),
			MaxRelativeTarget: opts.MaxRelativeTarget,
		}), nil
	default:
		return nil, fmt.Errorf("device type %q is not available (supported: %v)", deviceType, Types())
	}
}

// IsSupported reports whether Make accepts deviceType.
func IsSupported(deviceType string) bool {
	return slices.Contains(Types(), deviceType)
}

func camerasOrDefault(cams map[string]CameraSpec, defaults ...string) map[string]CameraSpec {
	if cams != nil {
		return cams
	}
	out := make(map[string]CameraSpec, len(defaults))
	for _, name := range defaults {
		out[name] = CameraSpec{Width: defaultCamWidth, Height: defaultCamHeight}
	}
	return out
}
