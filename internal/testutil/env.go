package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/botloop/internal/logging"
)

// TestConfig is a minimal botloop.yaml for command tests: a fast frame
// rate and short phases. The %s verb is the dataset root.
const TestConfig = `device:
  type: sim
  cameras:
    laptop: {width: 8, height: 6}
control:
  fps: 50
record:
  root: %s
  repo_id: test/episodes
  warmup_time_s: 0
  episode_time_s: 0.1
  reset_time_s: 0
  num_episodes: 2
  video: false
  compression: zstd
log:
  level: warn
`

// SetupTestDir creates a temporary directory holding botloop.yaml and a
// data directory. Returns the directory and the config path.
// The directory is automatically cleaned up when the test completes.
func SetupTestDir(t *testing.T) (dir, configPath string) {
	t.Helper()

	dir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0o755))

	configPath = filepath.Join(dir, "botloop.yaml")
	content := fmt.Sprintf(TestConfig, strconv.Quote(filepath.Join(dir, "data")))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return dir, configPath
}

// SyncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewBufferLogger returns a debug-level logger writing into a buffer.
func NewBufferLogger() (*logging.Logger, *SyncBuffer) {
	buf := &SyncBuffer{}
	logger := logging.New()
	logger.SetOutput(log.New(buf, "", 0))
	logger.SetLevel(logging.LevelDebug)
	return logger, buf
}

// MustMarshalJSON marshals a value to JSON, failing the test on error.
// Uses indented format for readability.
func MustMarshalJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	return data
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content to a file in the test directory.
// Creates parent directories as needed.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, content, 0o644))
}
