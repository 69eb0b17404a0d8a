package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/robot"
)

func TestFakeClock(t *testing.T) {
	c := NewFakeClock()
	start := c.Now()

	c.Sleep(100 * time.Millisecond)
	c.Advance(5 * time.Millisecond)
	c.Sleep(0)

	assert.Equal(t, 105*time.Millisecond, c.Now().Sub(start))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 0}, c.Sleeps())
}

func TestFakeDeviceScript(t *testing.T) {
	d := NewFakeDevice()
	_, err := d.CaptureObservation(context.Background())
	assert.ErrorIs(t, err, robot.ErrNotConnected)

	require.NoError(t, d.Connect(context.Background()))
	var seen []int
	d.OnStep = func(step int) { seen = append(seen, step) }
	d.FailAt = 3

	obs, action, err := d.TeleopStep(context.Background(), true)
	require.NoError(t, err)
	AssertVector(t, []float32{1, 1}, obs[robot.StateKey])
	AssertVector(t, []float32{1, 1}, action[robot.ActionKey])

	obs, action, err = d.TeleopStep(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, obs)
	assert.Nil(t, action)

	_, err = d.CaptureObservation(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)

	total, recorded := d.TeleopCalls()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, recorded)
}

func TestFakeDeviceClips(t *testing.T) {
	d := NewFakeDevice()
	d.ClipTo = 1
	applied, err := d.SendAction(context.Background(), robot.Action{robot.ActionKey: robot.NewVector(5, -5)})
	require.NoError(t, err)
	AssertVector(t, []float32{1, -1}, applied[robot.ActionKey])
	AssertVector(t, []float32{5, -5}, d.Sent()[0][robot.ActionKey])
}

func TestFakeRecorder(t *testing.T) {
	r := NewFakeRecorder(30)
	require.NoError(t, r.StartWriter())
	assert.Error(t, r.StartWriter(), "writer is already started")

	require.NoError(t, r.AddFrame(robot.Frame{}))
	require.NoError(t, r.SaveEpisode())
	require.NoError(t, r.AddFrame(robot.Frame{}))
	require.NoError(t, r.ClearEpisodeBuffer())
	require.NoError(t, r.StopWriter())

	AssertEpisodes(t, r, 1)
	assert.Empty(t, r.Buffered())
	assert.Equal(t, 1, r.Clears())
	assert.Equal(t, 0, r.FramesOutsideWriter())
	starts, stops := r.WriterCalls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestSampleSchemaMatchesDevice(t *testing.T) {
	assert.Equal(t, SampleSchema(30), robot.SchemaOf(NewFakeDevice(), 30, false))
}

func TestAssertFlagsClear(t *testing.T) {
	AssertFlagsClear(t, events.New())
}

func TestSetupTestDir(t *testing.T) {
	dir, path := SetupTestDir(t)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), dir)
	assert.DirExists(t, dir+"/data")
}

func TestBufferLogger(t *testing.T) {
	logger, buf := NewBufferLogger()
	logger.Debug("hello", "k", 1)
	assert.Contains(t, buf.String(), "DEBUG: hello | k=1")
}

func TestFakeClockOnSleep(t *testing.T) {
	c := NewFakeClock()
	var seen []time.Duration
	c.OnSleep = func(d time.Duration) {
		seen = append(seen, d)
		assert.Equal(t, time.Unix(0, 0).Add(d), c.Now(), "clock advanced before the hook")
	}

	c.Sleep(time.Second)
	assert.Equal(t, []time.Duration{time.Second}, seen)
}
