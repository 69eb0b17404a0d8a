package loop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/testutil"
)

type sessionFixture struct {
	clock    *testutil.FakeClock
	device   *testutil.FakeSafetyDevice
	flags    *events.Flags
	display  *testutil.FakeDisplay
	listener *testutil.FakeListener
	session  *Session
}

func newSessionFixture(t *testing.T, headless bool) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		clock:    testutil.NewFakeClock(),
		device:   testutil.NewFakeSafetyDevice(),
		flags:    events.New(),
		display:  &testutil.FakeDisplay{},
		listener: &testutil.FakeListener{},
	}
	f.device.Clock = f.clock
	f.session = &Session{
		Device:   f.device,
		Flags:    f.flags,
		Listener: f.listener,
		Display:  f.display,
		Clock:    f.clock,
		Logger:   logging.Nop(),
		Headless: headless,
	}
	return f
}

func TestSessionWarmupDoesNotRecord(t *testing.T) {
	f := newSessionFixture(t, false)

	res, err := f.session.Warmup(context.Background(), time.Second, 10, true, false)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Iterations)
	total, recorded := f.device.TeleopCalls()
	assert.Equal(t, 10, total)
	assert.Zero(t, recorded)
}

func TestSessionRecordRequiresVerification(t *testing.T) {
	f := newSessionFixture(t, false)
	rec := testutil.NewFakeRecorder(10)

	_, err := f.session.RecordEpisode(context.Background(), rec, time.Second, 10, nil, false)
	assert.ErrorIs(t, err, ErrNotVerified)
	assert.Zero(t, f.device.Steps())

	require.NoError(t, f.session.PrepareRecording(rec, 10, false))
	res, err := f.session.RecordEpisode(context.Background(), rec, time.Second, 10, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Iterations)
	assert.Len(t, rec.Buffered(), 10)
}

func TestSessionPrepareRecordingRejectsMismatch(t *testing.T) {
	f := newSessionFixture(t, false)
	rec := testutil.NewFakeRecorder(30)

	err := f.session.PrepareRecording(rec, 30, true)
	var ce *CompatibilityError
	require.ErrorAs(t, err, &ce, "images recorded but videos requested")

	_, err = f.session.RecordEpisode(context.Background(), rec, time.Second, 30, nil, false)
	assert.ErrorIs(t, err, ErrNotVerified)
}

func TestSessionRecordWithPolicy(t *testing.T) {
	f := newSessionFixture(t, false)
	rec := testutil.NewFakeRecorder(10)
	require.NoError(t, f.session.PrepareRecording(rec, 10, false))

	pred := &testutil.FakePredictor{Values: []float32{0.5, 0.5}}
	res, err := f.session.RecordEpisode(context.Background(), rec, 500*time.Millisecond, 10, pred, false)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Iterations)
	assert.Equal(t, 5, pred.Calls())
	total, _ := f.device.TeleopCalls()
	assert.Zero(t, total, "policy mode never teleoperates")
}

func TestSessionResetTicksWithoutSafetyStop(t *testing.T) {
	clock := testutil.NewFakeClock()
	dev := testutil.NewFakeDevice()
	s := &Session{Device: dev, Flags: events.New(), Clock: clock, Logger: logging.Nop()}

	ticks, err := s.Reset(context.Background(), 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, ticks)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.Sleeps())
}

func TestSessionResetSafetyStopsOnce(t *testing.T) {
	f := newSessionFixture(t, false)

	ticks, err := f.session.Reset(context.Background(), 2500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 3, ticks)
	assert.Equal(t, 1, f.device.SafetyStops())
	assert.Equal(t, 500*time.Millisecond, f.clock.Sleeps()[2], "last tick is clipped to the duration")
}

func TestSessionResetExitEarly(t *testing.T) {
	f := newSessionFixture(t, false)
	f.flags.SetExitEarly()

	ticks, err := f.session.Reset(context.Background(), 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, ticks)
	assert.False(t, f.flags.ExitEarly())
}

func TestSessionShutdown(t *testing.T) {
	f := newSessionFixture(t, false)
	require.NoError(t, f.device.Connect(context.Background()))

	require.NoError(t, f.session.Shutdown())
	assert.False(t, f.device.IsConnected())
	assert.Equal(t, 1, f.listener.Stops())
	assert.Equal(t, 1, f.display.Closed())
}

func TestSessionShutdownHeadless(t *testing.T) {
	f := newSessionFixture(t, true)
	require.NoError(t, f.device.Connect(context.Background()))

	require.NoError(t, f.session.Shutdown())
	assert.Equal(t, 1, f.device.Disconnects())
	assert.Zero(t, f.listener.Stops())
	assert.Zero(t, f.display.Closed())
}
