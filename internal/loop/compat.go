package loop

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/thruflo/botloop/internal/robot"
)

// RecordingMeta is what a recording target says about the device that
// produced it.
type RecordingMeta struct {
	RobotType string
	FPS       int
	Features  robot.Features
}

// MetaOf reads the recording metadata of a recorder.
func MetaOf(rec Recorder) RecordingMeta {
	return RecordingMeta{RobotType: rec.RobotType(), FPS: rec.FPS(), Features: rec.Features()}
}

// Mismatch is one field that differs between the live device (Expected)
// and the recording target (Actual).
type Mismatch struct {
	Field    string
	Expected any
	Actual   any
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %v, got %v", m.Field, m.Expected, m.Actual)
}

// CompatibilityError lists every mismatch found by CheckCompatibility.
type CompatibilityError struct {
	Mismatches []Mismatch
}

func (e *CompatibilityError) Error() string {
	lines := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		lines[i] = m.String()
	}
	return "dataset metadata compatibility check failed with mismatches:\n" + strings.Join(lines, "\n")
}

// CheckCompatibility compares a recording target with the live device
// schema. Robot type, frame rate and every feature channel are checked
// independently and all differences are reported. Feature Info is ignored.
func CheckCompatibility(meta RecordingMeta, schema robot.Schema) error {
	var ms []Mismatch
	if meta.RobotType != schema.Type {
		ms = append(ms, Mismatch{Field: "robot_type", Expected: schema.Type, Actual: meta.RobotType})
	}
	if meta.FPS != schema.FPS {
		ms = append(ms, Mismatch{Field: "fps", Expected: schema.FPS, Actual: meta.FPS})
	}

	names := slices.Sorted(maps.Keys(schema.Features))
	for name := range meta.Features {
		if _, ok := schema.Features[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	for _, name := range names {
		want, inDevice := schema.Features[name]
		got, inDataset := meta.Features[name]
		field := "features." + name
		switch {
		case !inDataset:
			ms = append(ms, Mismatch{Field: field, Expected: describeFeature(want), Actual: "<missing>"})
		case !inDevice:
			ms = append(ms, Mismatch{Field: field, Expected: "<missing>", Actual: describeFeature(got)})
		case !want.Equal(got):
			ms = append(ms, Mismatch{Field: field, Expected: describeFeature(want), Actual: describeFeature(got)})
		}
	}

	if len(ms) == 0 {
		return nil
	}
	return &CompatibilityError{Mismatches: ms}
}

func describeFeature(f robot.Feature) string {
	return fmt.Sprintf("{dtype:%s shape:%v names:%v}", f.DType, f.Shape, f.Names)
}
