package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/robot"
	"github.com/thruflo/botloop/internal/testutil"
)

type loopFixture struct {
	clock   *testutil.FakeClock
	device  *testutil.FakeDevice
	flags   *events.Flags
	display *testutil.FakeDisplay
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	clock := testutil.NewFakeClock()
	dev := testutil.NewFakeDevice()
	dev.Clock = clock
	return &loopFixture{
		clock:   clock,
		device:  dev,
		flags:   events.New(),
		display: &testutil.FakeDisplay{},
	}
}

func (f *loopFixture) options(cfg Config) Options {
	return Options{
		Config:  cfg,
		Device:  f.device,
		Flags:   f.flags,
		Display: f.display,
		Clock:   f.clock,
		Logger:  logging.Nop(),
	}
}

func TestLoopRunsForDuration(t *testing.T) {
	f := newLoopFixture(t)

	res, err := New(f.options(Config{Duration: 2 * time.Second, FPS: 10, Teleoperate: true})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ExitReasonDuration, res.Reason)
	assert.Equal(t, 20, res.Iterations)
	assert.Equal(t, 2*time.Second, res.Elapsed)
	assert.Zero(t, res.Overruns)

	total, recorded := f.device.TeleopCalls()
	assert.Equal(t, 20, total)
	assert.Zero(t, recorded, "no recorder or display, no data requested")
	assert.Equal(t, 1, f.device.Connects())
}

func TestLoopExitEarly(t *testing.T) {
	f := newLoopFixture(t)
	f.device.OnStep = func(step int) {
		if step == 6 {
			f.flags.SetExitEarly()
		}
	}

	res, err := New(f.options(Config{Duration: Forever, FPS: 10, Teleoperate: true})).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ExitReasonExitEarly, res.Reason)
	assert.Equal(t, 6, res.Iterations, "iteration 6 completes before exiting")
	assert.False(t, f.flags.ExitEarly(), "exit_early is consumed")
}

func TestLoopExitEarlyClearedWithOtherFlags(t *testing.T) {
	f := newLoopFixture(t)
	f.device.OnStep = func(step int) {
		if step == 2 {
			f.flags.RequestRerecord()
		}
	}

	_, err := New(f.options(Config{Duration: Forever, Teleoperate: true})).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, f.flags.ExitEarly())
	assert.True(t, f.flags.RerecordEpisode(), "rerecord is left for the session")
}

func TestLoopZeroDuration(t *testing.T) {
	f := newLoopFixture(t)

	res, err := New(f.options(Config{Duration: 0, FPS: 10, Teleoperate: true})).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Iterations)
	assert.Zero(t, f.device.Steps())
}

func TestLoopRejectsTeleopWithPredictor(t *testing.T) {
	f := newLoopFixture(t)
	opts := f.options(Config{Duration: time.Second, FPS: 10, Teleoperate: true})
	opts.Predictor = &testutil.FakePredictor{Values: []float32{0, 0}}

	_, err := New(opts).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "mutually exclusive")
	assert.Zero(t, f.device.Connects(), "no device I/O before validation")
	assert.Zero(t, f.device.Steps())
}

func TestLoopRejectsRecorderFPSMismatch(t *testing.T) {
	f := newLoopFixture(t)
	opts := f.options(Config{Duration: time.Second, FPS: 15, Teleoperate: true})
	rec := testutil.NewFakeRecorder(30)
	opts.Recorder = rec

	_, err := New(opts).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "30")
	assert.ErrorContains(t, err, "15")

	starts, _ := rec.WriterCalls()
	assert.Zero(t, starts, "writer never started")
	assert.Zero(t, f.device.Connects())
}

func TestLoopReportsEveryViolation(t *testing.T) {
	f := newLoopFixture(t)
	opts := f.options(Config{Duration: time.Second, FPS: 15, Teleoperate: true})
	opts.Recorder = testutil.NewFakeRecorder(30)
	opts.Predictor = &testutil.FakePredictor{}

	_, err := New(opts).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "mutually exclusive")
	assert.ErrorContains(t, err, "does not match")
}

func TestLoopRejectsAutonomousRecordingWithoutPolicy(t *testing.T) {
	f := newLoopFixture(t)
	opts := f.options(Config{Duration: time.Second, FPS: 10})
	opts.Recorder = testutil.NewFakeRecorder(10)

	_, err := New(opts).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "requires a policy")
}

func TestLoopUnpacedRecorderAnyFPS(t *testing.T) {
	f := newLoopFixture(t)
	f.device.StepCost = 10 * time.Millisecond
	opts := f.options(Config{Duration: 50 * time.Millisecond, Teleoperate: true})
	opts.Recorder = testutil.NewFakeRecorder(30)

	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Iterations)
	assert.Empty(t, f.clock.Sleeps())
}

func TestLoopRecordsTeleopFrames(t *testing.T) {
	f := newLoopFixture(t)
	rec := testutil.NewFakeRecorder(10)
	opts := f.options(Config{Duration: 500 * time.Millisecond, FPS: 10, Teleoperate: true})
	opts.Recorder = rec

	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, res.Iterations)

	frames := rec.Buffered()
	require.Len(t, frames, 5)
	testutil.AssertFrameHas(t, frames[0], robot.StateKey, robot.ActionKey, robot.ImageKeyPrefix+testutil.FakeCamera)
	testutil.AssertVector(t, []float32{3, 3}, frames[2][robot.ActionKey])

	starts, stops := rec.WriterCalls()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.Zero(t, rec.FramesOutsideWriter())
}

func TestLoopStopsWriterOnFailure(t *testing.T) {
	f := newLoopFixture(t)
	f.device.FailAt = 3
	f.device.StepErr = errors.New("bus timeout")
	rec := testutil.NewFakeRecorder(10)
	opts := f.options(Config{Duration: Forever, FPS: 10, Teleoperate: true})
	opts.Recorder = rec

	res, err := New(opts).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, f.device.StepErr, "device error keeps its context")
	assert.ErrorContains(t, err, "teleop step")
	assert.Equal(t, 2, res.Iterations)

	_, stops := rec.WriterCalls()
	assert.Equal(t, 1, stops, "writer released on failure")
}

func TestLoopStartWriterFailure(t *testing.T) {
	f := newLoopFixture(t)
	rec := testutil.NewFakeRecorder(10)
	rec.StartErr = errors.New("disk full")
	opts := f.options(Config{Duration: time.Second, FPS: 10, Teleoperate: true})
	opts.Recorder = rec

	_, err := New(opts).Run(context.Background())
	assert.ErrorIs(t, err, rec.StartErr)
	assert.Zero(t, f.device.Steps())
}

func TestLoopPolicyRecordsAppliedAction(t *testing.T) {
	f := newLoopFixture(t)
	f.device.ClipTo = 1
	pred := &testutil.FakePredictor{Values: []float32{5, -5}}
	rec := testutil.NewFakeRecorder(10)
	opts := f.options(Config{Duration: 300 * time.Millisecond, FPS: 10})
	opts.Predictor = pred
	opts.Recorder = rec

	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, pred.Calls())
	assert.Equal(t, 3, f.device.Captures())
	total, _ := f.device.TeleopCalls()
	assert.Zero(t, total)

	frames := rec.Buffered()
	require.Len(t, frames, 3)
	testutil.AssertVector(t, []float32{1, -1}, frames[0][robot.ActionKey])
}

func TestLoopPredictorFailure(t *testing.T) {
	f := newLoopFixture(t)
	opts := f.options(Config{Duration: time.Second, FPS: 10})
	opts.Predictor = &testutil.FakePredictor{Err: errors.New("nan in output")}

	_, err := New(opts).Run(context.Background())
	assert.ErrorContains(t, err, "predict action: nan in output")
	assert.Empty(t, f.device.Sent())
}

func TestLoopDisplaysConvertedImages(t *testing.T) {
	f := newLoopFixture(t)
	f.display.Order = robot.BGR

	_, err := New(f.options(Config{
		Duration:       200 * time.Millisecond,
		FPS:            10,
		Teleoperate:    true,
		DisplayCameras: true,
	})).Run(context.Background())
	require.NoError(t, err)

	shown := f.display.Shown()
	require.Len(t, shown, 2)
	assert.Equal(t, robot.ImageKeyPrefix+testutil.FakeCamera, shown[0].Name)
	assert.Equal(t, []uint8{30, 20, 10}, shown[0].Image.Values[:3], "RGB converted to BGR")

	_, recorded := f.device.TeleopCalls()
	assert.Equal(t, 2, recorded, "display needs observations")
}

func TestLoopHeadlessSkipsDisplay(t *testing.T) {
	f := newLoopFixture(t)
	opts := f.options(Config{Duration: 200 * time.Millisecond, FPS: 10, Teleoperate: true, DisplayCameras: true})
	opts.Headless = true

	_, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.display.Shown())
}

func TestLoopDisplayErrorsAreNotFatal(t *testing.T) {
	f := newLoopFixture(t)
	f.display.ShowErr = errors.New("window closed")
	logger, buf := testutil.NewBufferLogger()
	opts := f.options(Config{Duration: 300 * time.Millisecond, FPS: 10, Teleoperate: true, DisplayCameras: true})
	opts.Logger = logger

	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.Contains(t, buf.String(), "WARN: Display failed")
}

func TestLoopCancelled(t *testing.T) {
	f := newLoopFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.device.OnStep = func(step int) {
		if step == 4 {
			cancel()
		}
	}

	res, err := New(f.options(Config{Duration: Forever, FPS: 10, Teleoperate: true})).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExitReasonCancelled, res.Reason)
	assert.Equal(t, 4, res.Iterations)
}

func TestLoopOverrunProceedsWithoutWait(t *testing.T) {
	f := newLoopFixture(t)
	f.device.StepCost = 150 * time.Millisecond
	logger, buf := testutil.NewBufferLogger()
	opts := f.options(Config{Duration: time.Second, FPS: 10, Teleoperate: true})
	opts.Logger = logger
	opts.OverrunThreshold = 3

	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, res.Iterations)
	assert.Equal(t, 7, res.Overruns)
	assert.Empty(t, f.clock.Sleeps(), "overrun iterations never wait")
	assert.Contains(t, buf.String(), "WARN: Control loop below target rate")
	assert.Contains(t, buf.String(), "WARN: Sustained frame rate overrun")
}

func TestLoopSkipsConnectWhenConnected(t *testing.T) {
	f := newLoopFixture(t)
	require.NoError(t, f.device.Connect(context.Background()))

	_, err := New(f.options(Config{Duration: 100 * time.Millisecond, FPS: 10, Teleoperate: true})).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.device.Connects())
}

func TestExitReasonString(t *testing.T) {
	assert.Equal(t, "duration", ExitReasonDuration.String())
	assert.Equal(t, "exit early", ExitReasonExitEarly.String())
	assert.Equal(t, "cancelled", ExitReasonCancelled.String())
	assert.Equal(t, "unknown", ExitReason(99).String())
}
