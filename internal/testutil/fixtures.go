package testutil

import (
	"github.com/thruflo/botloop/internal/robot"
)

// Fake device identity.
const (
	FakeDeviceType = "fake"
	FakeCamera     = "cam"
)

// SampleFeatures returns the feature schema of FakeDevice.
// Returns a new map each time to prevent test interference.
func SampleFeatures() robot.Features {
	return robot.Features{
		robot.StateKey:  {DType: "float32", Shape: []int{2}, Names: []string{"joint_0", "joint_1"}},
		robot.ActionKey: {DType: "float32", Shape: []int{2}, Names: []string{"joint_0", "joint_1"}},
		robot.ImageKeyPrefix + FakeCamera: {
			DType: "image",
			Shape: []int{2, 2, 3},
			Names: []string{"height", "width", "channels"},
			Info:  map[string]any{"pix_fmt": "rgb24"},
		},
	}
}

// SampleSchema returns the schema robot.SchemaOf reports for FakeDevice
// recorded as images at fps.
func SampleSchema(fps int) robot.Schema {
	fs := SampleFeatures()
	for k, f := range robot.DefaultFeatures() {
		fs[k] = f
	}
	return robot.Schema{Type: FakeDeviceType, FPS: fps, Features: fs}
}

// SampleObservation returns an observation shaped like FakeDevice output.
// The image pixel at (0,0) is (10, 20, 30).
func SampleObservation() robot.Observation {
	img := robot.NewImage(2, 2)
	copy(img.Values, []uint8{10, 20, 30})
	return robot.Observation{
		robot.StateKey:                   robot.NewVector(1, 2),
		robot.ImageKeyPrefix + FakeCamera: img,
	}
}
