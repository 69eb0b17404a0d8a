package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emer/etable/etensor"
)

// ErrChecksumMismatch is returned when an episode file does not match
// the checksum recorded in info.json.
var ErrChecksumMismatch = errors.New("episode checksum mismatch")

// Episode is a decoded episode file.
type Episode struct {
	Index  int
	Frames []FrameRecord
}

// LoadEpisode reads, verifies and decodes a saved episode.
func (d *Dataset) LoadEpisode(index int) (*Episode, error) {
	d.mu.Lock()
	var meta *EpisodeInfo
	for i := range d.info.Episodes {
		if d.info.Episodes[i].Index == index {
			ep := d.info.Episodes[i]
			meta = &ep
			break
		}
	}
	d.mu.Unlock()
	if meta == nil {
		return nil, fmt.Errorf("episode %d not found", index)
	}

	stored, err := os.ReadFile(filepath.Join(d.dir, meta.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to read episode %d: %w", index, err)
	}
	if sum := checksum(stored); sum != meta.Checksum {
		return nil, fmt.Errorf("%w: episode %d has %s, expected %s", ErrChecksumMismatch, index, sum, meta.Checksum)
	}
	raw, err := decompress(stored, meta.Compression, meta.RawSize)
	if err != nil {
		return nil, fmt.Errorf("episode %d: %w", index, err)
	}

	var file episodeFile
	if err := unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to decode episode %d: %w", index, err)
	}
	if file.EpisodeIndex != index {
		return nil, fmt.Errorf("episode file %s holds episode %d", meta.Path, file.EpisodeIndex)
	}
	return &Episode{Index: file.EpisodeIndex, Frames: file.Frames}, nil
}

// LoadImage reads the image stored for channel in rec.
func (d *Dataset) LoadImage(rec FrameRecord, channel string) (*etensor.Uint8, error) {
	rel, ok := rec.Images[channel]
	if !ok {
		return nil, fmt.Errorf("frame %d has no image for %q", rec.FrameIndex, channel)
	}
	d.mu.Lock()
	f, ok := d.info.Features[channel]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", channel)
	}
	return ReadImage(filepath.Join(d.dir, rel), f.Shape)
}
