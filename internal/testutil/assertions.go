package testutil

import (
	"testing"

	"github.com/emer/etable/etensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/robot"
)

// AssertFlagsClear asserts that no event flag is set.
func AssertFlagsClear(t *testing.T, flags *events.Flags) {
	t.Helper()
	require.NotNil(t, flags, "flags are nil")
	assert.Equal(t, events.Snapshot{}, flags.Snapshot(), "event flags should all be false")
}

// AssertVector asserts that a tensor holds exactly want.
func AssertVector(t *testing.T, want []float32, got etensor.Tensor) {
	t.Helper()
	require.NotNil(t, got, "tensor is nil")
	assert.Equal(t, want, robot.VectorValues(got))
}

// AssertEpisodes asserts the frame count of every saved episode.
func AssertEpisodes(t *testing.T, rec *FakeRecorder, lengths ...int) {
	t.Helper()
	episodes := rec.Episodes()
	require.Len(t, episodes, len(lengths), "episode count mismatch")
	for i, n := range lengths {
		assert.Len(t, episodes[i], n, "episode[%d] frame count mismatch", i)
	}
}

// AssertFrameHas asserts that a frame carries every named channel.
func AssertFrameHas(t *testing.T, frame robot.Frame, channels ...string) {
	t.Helper()
	for _, ch := range channels {
		assert.Contains(t, frame, ch, "frame is missing channel %s", ch)
	}
}
