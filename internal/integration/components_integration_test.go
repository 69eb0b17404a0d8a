//go:build integration

// Package integration provides integration tests for botloop workflows.
//
// These tests wire the real collaborators together: the simulated device,
// the local dataset, the linear policy and the camera viewer. To run:
//
//	go test -tags=integration ./internal/integration/...
//
// End-to-end tests of the built binary use the e2e tag:
//
//	go test -tags=e2e ./internal/integration/...
package integration

import (
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/botloop/internal/dataset"
	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/loop"
	"github.com/thruflo/botloop/internal/policy"
	"github.com/thruflo/botloop/internal/robot"
	"github.com/thruflo/botloop/internal/testutil"
	"github.com/thruflo/botloop/internal/viewer"
)

const testFPS = 50

// Test Helpers

type testRig struct {
	root    string
	device  robot.Device
	flags   *events.Flags
	clock   *testutil.FakeClock
	session *loop.Session
}

// newTestRig connects a simulated device with one 8x6 camera to a session
// driven by a fake clock.
func newTestRig(t *testing.T, display loop.Display) *testRig {
	t.Helper()

	dev, err := robot.Make(robot.TypeSim, robot.Options{
		Cameras: map[string]robot.CameraSpec{"laptop": {Width: 8, Height: 6}},
	})
	require.NoError(t, err)

	flags := events.New()
	clock := testutil.NewFakeClock()
	s := &loop.Session{
		Device:   dev,
		Flags:    flags,
		Display:  display,
		Clock:    clock,
		Logger:   logging.Nop(),
		Headless: display == nil,
	}
	t.Cleanup(func() { _ = s.Shutdown() })

	return &testRig{root: t.TempDir(), device: dev, flags: flags, clock: clock, session: s}
}

func (r *testRig) createDataset(t *testing.T, repoID string) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.Create(r.root, repoID, robot.SchemaOf(r.device, testFPS, false), dataset.Options{
		Compression:        dataset.CompressionZstd,
		ImageWriterWorkers: 2,
		Logger:             logging.Nop(),
	})
	require.NoError(t, err)
	return ds
}

func (r *testRig) plan(ds *dataset.Dataset, episodes int) loop.Plan {
	return loop.Plan{
		Recorder:    ds,
		FPS:         testFPS,
		EpisodeTime: 100 * time.Millisecond,
		NumEpisodes: episodes,
	}
}

func episodeLengths(t *testing.T, ds *dataset.Dataset) []int {
	t.Helper()
	var lengths []int
	for i := range ds.NumEpisodes() {
		ep, err := ds.LoadEpisode(i)
		require.NoError(t, err)
		lengths = append(lengths, len(ep.Frames))
	}
	return lengths
}

// Integration Tests

// TestRecordEpisodesIntoDataset records two teleoperated episodes and
// reads them back.
func TestRecordEpisodesIntoDataset(t *testing.T) {
	rig := newTestRig(t, nil)
	ds := rig.createDataset(t, "test/teleop")

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	saved, err := rig.session.RecordEpisodes(ctx, rig.plan(ds, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	// 100ms at 50fps is exactly 5 paced iterations on the fake clock.
	assert.Equal(t, []int{5, 5}, episodeLengths(t, ds))

	ep, err := ds.LoadEpisode(1)
	require.NoError(t, err)
	assert.EqualValues(t, 5, ep.Frames[0].Index, "indexes continue across episodes")
	assert.InDelta(t, 0.02, ep.Frames[1].Timestamp, 1e-6)

	img, err := ds.LoadImage(ep.Frames[4], robot.ImageKeyPrefix+"laptop")
	require.NoError(t, err)
	assert.Equal(t, []int{6, 8, 3}, img.Shapes())
}

// TestRerecordDiscardsEpisode requests a re-record during the first
// episode: it ends after one frame, is discarded, and both episodes are
// then recorded in full.
func TestRerecordDiscardsEpisode(t *testing.T) {
	rig := newTestRig(t, nil)
	ds := rig.createDataset(t, "test/rerecord")
	rig.flags.RequestRerecord()

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	saved, err := rig.session.RecordEpisodes(ctx, rig.plan(ds, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	assert.Equal(t, []int{5, 5}, episodeLengths(t, ds))
	testutil.AssertFlagsClear(t, rig.flags)

	_, err = os.Stat(filepath.Join(ds.Root(), "images", robot.ImageKeyPrefix+"laptop", "episode_000002"))
	assert.True(t, os.IsNotExist(err), "no images beyond the saved episodes")
}

// TestStopSavesCurrentEpisode requests a stop during the first episode.
func TestStopSavesCurrentEpisode(t *testing.T) {
	rig := newTestRig(t, nil)
	ds := rig.createDataset(t, "test/stop")
	rig.flags.RequestStop()

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	saved, err := rig.session.RecordEpisodes(ctx, rig.plan(ds, 3))
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, []int{1}, episodeLengths(t, ds))
}

// TestPolicyDrivenEpisode drives the device with an identity policy: the
// commanded action is the present state, so the arm holds still.
func TestPolicyDrivenEpisode(t *testing.T) {
	rig := newTestRig(t, nil)
	ds := rig.createDataset(t, "test/eval_identity")

	p := rig.plan(ds, 1)
	p.Predictor = &policy.Predictor{Policy: policy.Identity(6), Backend: policy.HostBackend{}}

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	saved, err := rig.session.RecordEpisodes(ctx, p)
	require.NoError(t, err)
	require.Equal(t, 1, saved)

	ep, err := ds.LoadEpisode(0)
	require.NoError(t, err)
	require.Len(t, ep.Frames, 5)
	for _, f := range ep.Frames {
		assert.Equal(t, f.Values[robot.StateKey], f.Values[robot.ActionKey])
	}
}

// TestRecordingFeedsViewer shows the recorded camera in the web viewer.
func TestRecordingFeedsViewer(t *testing.T) {
	v, err := viewer.New(viewer.Config{Logger: logging.Nop()})
	require.NoError(t, err)
	srv := httptest.NewServer(v.Handler())
	defer srv.Close()

	rig := newTestRig(t, v)
	ds := rig.createDataset(t, "test/viewer")
	p := rig.plan(ds, 1)
	p.Display = true

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	_, err = rig.session.RecordEpisodes(ctx, p)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/snapshot/laptop")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img, err := jpeg.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 6, img.Bounds().Dy())
}

// TestResumeRequiresMatchingDevice reopens a dataset recorded from one
// camera layout with a device that has another.
func TestResumeRequiresMatchingDevice(t *testing.T) {
	rig := newTestRig(t, nil)
	ds := rig.createDataset(t, "test/resume")

	ctx, cancel := testutil.LoopContext(t)
	defer cancel()
	_, err := rig.session.RecordEpisodes(ctx, rig.plan(ds, 1))
	require.NoError(t, err)

	other, err := robot.Make(robot.TypeSim, robot.Options{
		Cameras: map[string]robot.CameraSpec{"laptop": {Width: 16, Height: 12}},
	})
	require.NoError(t, err)
	reopened, err := dataset.Open(rig.root, "test/resume", dataset.Options{Logger: logging.Nop()})
	require.NoError(t, err)

	s := &loop.Session{Device: other, Flags: events.New(), Clock: rig.clock, Logger: logging.Nop(), Headless: true}
	_, err = s.RecordEpisodes(ctx, rig.plan(reopened, 1))
	var ce *loop.CompatibilityError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "features.observation.images.laptop", ce.Mismatches[0].Field)
}
