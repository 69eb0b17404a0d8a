package robot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedSim(t *testing.T, opts SimOptions) *SimDevice {
	t.Helper()
	d := NewSimDevice(TypeSim, opts)
	require.NoError(t, d.Connect(context.Background()))
	return d
}

func TestSimRequiresConnection(t *testing.T) {
	d := NewSimDevice(TypeSim, SimOptions{})
	_, err := d.CaptureObservation(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, d.Disconnect(), ErrNotConnected)
}

func TestSimTeleopStepReturnsAppliedAction(t *testing.T) {
	d := connectedSim(t, SimOptions{
		Motors:  2,
		Cameras: map[string]CameraSpec{"cam": {Width: 4, Height: 3}},
	})

	obs, action, err := d.TeleopStep(context.Background(), true)
	require.NoError(t, err)

	require.Contains(t, obs, StateKey)
	require.Contains(t, obs, ImageKeyPrefix+"cam")
	assert.Equal(t, []int{3, 4, 3}, obs[ImageKeyPrefix+"cam"].Shapes())
	require.Contains(t, action, ActionKey)
	assert.Equal(t, VectorValues(action[ActionKey]), VectorValues(obs[StateKey]),
		"follower ends at the applied goal")
}

func TestSimSendActionClips(t *testing.T) {
	d := connectedSim(t, SimOptions{Motors: 3, MaxRelativeTarget: 5})

	applied, err := d.SendAction(context.Background(), Action{ActionKey: NewVector(100, -100, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{5, -5, 2}, VectorValues(applied[ActionKey]))

	applied, err = d.SendAction(context.Background(), Action{ActionKey: NewVector(100, -100, 2)})
	require.NoError(t, err)
	assert.Equal(t, []float32{10, -10, 2}, VectorValues(applied[ActionKey]))
}

func TestSimSendActionValidates(t *testing.T) {
	d := connectedSim(t, SimOptions{Motors: 3})

	_, err := d.SendAction(context.Background(), Action{})
	assert.ErrorContains(t, err, "missing")

	_, err = d.SendAction(context.Background(), Action{ActionKey: NewVector(1)})
	assert.ErrorContains(t, err, "expects 3")
}

func TestSimTelemetry(t *testing.T) {
	d := connectedSim(t, SimOptions{
		Arms:    []string{"left", "right"},
		Motors:  1,
		Cameras: map[string]CameraSpec{"wrist": {Width: 2, Height: 2}},
	})
	_, _, err := d.TeleopStep(context.Background(), true)
	require.NoError(t, err)

	_, ok := d.Telemetry().LastDuration(OpReadLeaderPos, "left_leader")
	assert.True(t, ok)
	_, ok = d.Telemetry().LastDuration(OpReadCamera, "wrist")
	assert.True(t, ok)

	entries := d.Telemetry().Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, OpReadCamera, entries[0].Op, "entries sorted by op")
}

func TestSchemaOf(t *testing.T) {
	d := NewSimDevice(TypeSim, SimOptions{
		Motors:  2,
		Cameras: map[string]CameraSpec{"cam": {Width: 4, Height: 3}},
	})

	videos := SchemaOf(d, 30, true)
	assert.Equal(t, TypeSim, videos.Type)
	assert.Equal(t, 30, videos.FPS)
	assert.Equal(t, "video", videos.Features[ImageKeyPrefix+"cam"].DType)
	assert.Contains(t, videos.Features, FrameIndexKey)

	images := SchemaOf(d, 30, false)
	assert.Equal(t, "image", images.Features[ImageKeyPrefix+"cam"].DType)
	assert.Equal(t, "image", d.Features()[ImageKeyPrefix+"cam"].DType, "device features untouched")
}

func TestMake(t *testing.T) {
	dev, err := Make(TypeSimBimanual, Options{})
	require.NoError(t, err)
	assert.Equal(t, TypeSimBimanual, dev.Type())
	assert.Equal(t, []int{12}, dev.Features()[StateKey].Shape)
	assert.Contains(t, dev.Features(), ImageKeyPrefix+"wrist")

	_, err = Make("stretch", Options{})
	assert.ErrorContains(t, err, "not available")
	assert.False(t, IsSupported("stretch"))
}

func TestArmID(t *testing.T) {
	assert.Equal(t, "left_follower", ArmID("left", "follower"))
}
