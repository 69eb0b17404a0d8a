//go:build e2e

// cli_harness_test.go provides a test harness for E2E testing of the botloop CLI.
//
// The CLIHarness builds the botloop binary and provides methods for executing
// CLI commands in an isolated workspace holding a fast test configuration.
package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/botloop/internal/keyboard"
	"github.com/thruflo/botloop/internal/testutil"
)

// CLIHarness manages a botloop CLI binary for E2E testing.
type CLIHarness struct {
	// BinaryPath is the path to the built botloop binary.
	BinaryPath string

	// WorkDir is the working directory where commands will be executed.
	// It contains botloop.yaml and the data directory.
	WorkDir string

	// ConfigPath is the botloop.yaml written into WorkDir.
	ConfigPath string

	// DataRoot is the dataset root named by the config.
	DataRoot string

	// EnvVars contains environment variables to set for command execution.
	EnvVars map[string]string

	t *testing.T
}

// CLIResult contains the output from a CLI command execution.
type CLIResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

// Success returns true if the command completed with exit code 0.
func (r *CLIResult) Success() bool {
	return r.ExitCode == 0 && r.Err == nil
}

// NewCLIHarness builds the botloop binary and creates a test workspace.
// Commands run headless so no terminal is needed.
func NewCLIHarness(t *testing.T) *CLIHarness {
	t.Helper()

	projectRoot := findProjectRoot(t)
	require.NotEmpty(t, projectRoot, "could not find project root (directory containing go.mod)")

	tmpDir := t.TempDir()
	binaryPath := filepath.Join(tmpDir, "botloop")

	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/botloop")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build botloop binary: %s", output)

	workDir := filepath.Join(tmpDir, "workspace")
	dataRoot := filepath.Join(workDir, "data")
	require.NoError(t, os.MkdirAll(dataRoot, 0o755))

	configPath := filepath.Join(workDir, "botloop.yaml")
	content := fmt.Sprintf(testutil.TestConfig, strconv.Quote(dataRoot))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	return &CLIHarness{
		BinaryPath: binaryPath,
		WorkDir:    workDir,
		ConfigPath: configPath,
		DataRoot:   dataRoot,
		EnvVars:    map[string]string{keyboard.HeadlessEnv: "1"},
		t:          t,
	}
}

// SetEnv sets an environment variable for subsequent command executions.
func (h *CLIHarness) SetEnv(key, value string) {
	h.EnvVars[key] = value
}

// Run executes a botloop command with default timeout (30 seconds).
func (h *CLIHarness) Run(args ...string) *CLIResult {
	return h.RunWithTimeout(30*time.Second, args...)
}

// RunWithTimeout executes a botloop command with the specified timeout.
func (h *CLIHarness) RunWithTimeout(timeout time.Duration, args ...string) *CLIResult {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return h.RunWithContext(ctx, nil, args...)
}

// RunWithInput executes a botloop command with stdin read from input.
func (h *CLIHarness) RunWithInput(input string, args ...string) *CLIResult {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return h.RunWithContext(ctx, strings.NewReader(input), args...)
}

// RunWithContext executes a botloop command with the given context. The
// workspace config is passed unless args already name one.
func (h *CLIHarness) RunWithContext(ctx context.Context, stdin io.Reader, args ...string) *CLIResult {
	h.t.Helper()

	if !hasConfigFlag(args) {
		args = append([]string{"--config", h.ConfigPath}, args...)
	}
	cmd := exec.CommandContext(ctx, h.BinaryPath, args...)
	cmd.Dir = h.WorkDir
	cmd.Env = h.buildEnv()
	cmd.Stdin = stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &CLIResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		result.Err = err
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
	}

	return result
}

func hasConfigFlag(args []string) bool {
	for _, a := range args {
		if a == "--config" || a == "-c" || strings.HasPrefix(a, "--config=") {
			return true
		}
	}
	return false
}

// buildEnv creates the environment variable slice for command execution.
func (h *CLIHarness) buildEnv() []string {
	env := os.Environ()
	for k, v := range h.EnvVars {
		env = append(env, k+"="+v)
	}
	return env
}

// findProjectRoot walks up from the current directory to the directory
// holding go.mod.
func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err, "failed to get working directory")

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// RequireSuccess fails the test if the command result indicates failure.
func (h *CLIHarness) RequireSuccess(result *CLIResult, msg string) {
	h.t.Helper()
	if !result.Success() {
		h.t.Fatalf("%s: exit=%d err=%v\nstdout: %s\nstderr: %s",
			msg, result.ExitCode, result.Err, result.Stdout, result.Stderr)
	}
}

// RequireFailure fails the test if the command result indicates success.
func (h *CLIHarness) RequireFailure(result *CLIResult, msg string) {
	h.t.Helper()
	if result.Success() {
		h.t.Fatalf("%s: command succeeded unexpectedly\nstdout: %s\nstderr: %s",
			msg, result.Stdout, result.Stderr)
	}
}
