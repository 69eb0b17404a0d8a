package dataset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/thruflo/botloop/internal/robot"
)

// FormatVersion is the on-disk layout version written to info.json.
const FormatVersion = 1

//go:embed schema/info.schema.json
var infoSchemaJSON []byte

const infoSchemaURL = "info.schema.json"

var infoSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(infoSchemaURL, bytes.NewReader(infoSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(infoSchemaURL)
})

// Info is the dataset metadata stored in meta/info.json.
type Info struct {
	Version       int            `json:"version"`
	SessionID     string         `json:"session_id"`
	RobotType     string         `json:"robot_type"`
	FPS           int            `json:"fps"`
	Compression   Compression    `json:"compression"`
	TotalEpisodes int            `json:"total_episodes"`
	TotalFrames   int            `json:"total_frames"`
	Features      robot.Features `json:"features"`
	Episodes      []EpisodeInfo  `json:"episodes"`
}

// EpisodeInfo locates and verifies one saved episode.
type EpisodeInfo struct {
	Index       int         `json:"episode_index"`
	Length      int         `json:"length"`
	Path        string      `json:"data_path"`
	Compression Compression `json:"compression"`
	RawSize     int         `json:"raw_size"`
	Checksum    string      `json:"checksum"`
	SessionID   string      `json:"session_id,omitempty"`
}

func infoPath(dir string) string {
	return filepath.Join(dir, "meta", "info.json")
}

// validateInfo checks raw info.json bytes against the embedded schema.
func validateInfo(raw []byte) error {
	schema, err := infoSchema()
	if err != nil {
		return fmt.Errorf("compile info schema: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("parse info.json: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid info.json: %w", err)
	}
	return nil
}

// ReadInfo loads and validates the metadata of the dataset in dir.
func ReadInfo(dir string) (*Info, error) {
	raw, err := os.ReadFile(infoPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("dataset not found: %s", dir)
		}
		return nil, fmt.Errorf("failed to read info file: %w", err)
	}
	if err := validateInfo(raw); err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse info file: %w", err)
	}
	return &info, nil
}

// writeInfo validates info and replaces meta/info.json atomically.
func writeInfo(dir string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal info: %w", err)
	}
	if err := validateInfo(data); err != nil {
		return err
	}
	return writeFileAtomic(infoPath(dir), data)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
