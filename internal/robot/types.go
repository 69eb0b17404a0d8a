// Package robot defines the device contract consumed by the control loop,
// the observation/action value types, feature schemas, and the simulated
// devices shipped with botloop.
package robot

import (
	"maps"
	"slices"
	"strings"

	"github.com/emer/etable/etensor"
)

// Channel names shared by devices, policies and datasets.
const (
	ActionKey      = "action"
	StateKey       = "observation.state"
	ImageKeyPrefix = "observation.images."
)

// Observation maps a sensor channel name to its value. Image channels hold
// a [height, width, channel] *etensor.Uint8; other channels hold vectors.
type Observation map[string]etensor.Tensor

// Action maps an actuator channel name to a numeric vector.
type Action map[string]etensor.Tensor

// Frame is one timestep: an observation merged with the applied action.
type Frame map[string]etensor.Tensor

// IsImageKey reports whether a channel carries camera images.
func IsImageKey(name string) bool {
	return strings.Contains(name, "image")
}

// ImageKeys returns the image channel names of obs in sorted order.
func (obs Observation) ImageKeys() []string {
	var keys []string
	for k := range obs {
		if IsImageKey(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// MergeFrame builds a Frame from an observation and the action that was
// actually applied. Action channels win on key collisions.
func MergeFrame(obs Observation, action Action) Frame {
	frame := make(Frame, len(obs)+len(action))
	maps.Copy(frame, obs)
	maps.Copy(frame, action)
	return frame
}

// Feature describes one channel of a schema.
type Feature struct {
	DType string   `json:"dtype" yaml:"dtype"`
	Shape []int    `json:"shape" yaml:"shape"`
	Names []string `json:"names" yaml:"names"`
	// Info is free-form metadata (codec, pixel format) that never takes part
	// in compatibility checks.
	Info map[string]any `json:"info,omitempty" yaml:"info,omitempty"`
}

// Equal compares dtype, shape and names. Info is ignored.
func (f Feature) Equal(other Feature) bool {
	return f.DType == other.DType &&
		slices.Equal(f.Shape, other.Shape) &&
		slices.Equal(f.Names, other.Names)
}

// Features maps channel name to its descriptor.
type Features map[string]Feature

// Keys returns the channel names in sorted order.
func (fs Features) Keys() []string {
	return slices.Sorted(maps.Keys(fs))
}

// Clone returns a deep copy.
func (fs Features) Clone() Features {
	out := make(Features, len(fs))
	for k, f := range fs {
		out[k] = Feature{
			DType: f.DType,
			Shape: slices.Clone(f.Shape),
			Names: slices.Clone(f.Names),
			Info:  maps.Clone(f.Info),
		}
	}
	return out
}

// Schema is what a live device declares about itself at a given frame rate.
type Schema struct {
	Type     string
	FPS      int
	Features Features
}
