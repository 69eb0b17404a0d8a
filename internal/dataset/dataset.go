// Package dataset stores recorded episodes on local disk. A dataset lives
// under <root>/<repo_id>/ with its metadata in meta/info.json, one CBOR
// file per episode under data/ and camera frames under images/.
package dataset

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/emer/etable/etensor"
	"github.com/google/uuid"

	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/robot"
)

// ErrExists is returned by Create when the target already holds a dataset.
var ErrExists = errors.New("dataset already exists")

// Options tune how a dataset is written.
type Options struct {
	// Compression is the codec for new episode files. Empty keeps the
	// dataset's codec.
	Compression Compression
	// ImageWriterWorkers is the size of the image writer pool. Zero
	// writes images on the recording goroutine.
	ImageWriterWorkers int
	Logger             *logging.Logger
}

// FrameRecord is one stored timestep.
type FrameRecord struct {
	Index        int64   `cbor:"index"`
	FrameIndex   int64   `cbor:"frame_index"`
	EpisodeIndex int64   `cbor:"episode_index"`
	TaskIndex    int64   `cbor:"task_index"`
	Timestamp    float32 `cbor:"timestamp"`
	// Values holds every non-image channel.
	Values map[string][]float32 `cbor:"values"`
	// Images maps image channels to a file path relative to the dataset.
	Images map[string]string `cbor:"images,omitempty"`
}

// Action returns the recorded action of the frame.
func (r FrameRecord) Action() robot.Action {
	return robot.Action{robot.ActionKey: robot.NewVector(r.Values[robot.ActionKey]...)}
}

type episodeFile struct {
	EpisodeIndex int           `cbor:"episode_index"`
	Frames       []FrameRecord `cbor:"frames"`
}

// Dataset is a local episode recorder.
type Dataset struct {
	dir         string
	sessionID   string
	compression Compression
	writer      *ImageWriter
	logger      *logging.Logger

	mu     sync.Mutex
	info   *Info
	buffer []FrameRecord
}

// Dir returns the directory of repoID under root.
func Dir(root, repoID string) string {
	return filepath.Join(root, filepath.FromSlash(repoID))
}

// Exists reports whether root holds a dataset named repoID.
func Exists(root, repoID string) bool {
	_, err := os.Stat(infoPath(Dir(root, repoID)))
	return err == nil
}

// Create starts an empty dataset recorded from a device with the given
// schema.
func Create(root, repoID string, schema robot.Schema, opts Options) (*Dataset, error) {
	dir := Dir(root, repoID)
	if Exists(root, repoID) {
		return nil, fmt.Errorf("%w: %s", ErrExists, dir)
	}

	compression := opts.Compression
	if compression == "" {
		compression = CompressionZstd
	}
	features := schema.Features.Clone()
	for name, f := range robot.DefaultFeatures() {
		if _, ok := features[name]; !ok {
			features[name] = f
		}
	}

	d := newDataset(dir, opts, &Info{
		Version:     FormatVersion,
		RobotType:   schema.Type,
		FPS:         schema.FPS,
		Compression: compression,
		Features:    features,
	})
	d.info.SessionID = d.sessionID
	if err := writeInfo(dir, d.info); err != nil {
		return nil, err
	}
	d.logger.Info("Created dataset", "dir", dir, "robot_type", schema.Type, "fps", schema.FPS)
	return d, nil
}

// Open loads an existing dataset to append episodes to it.
func Open(root, repoID string, opts Options) (*Dataset, error) {
	dir := Dir(root, repoID)
	info, err := ReadInfo(dir)
	if err != nil {
		return nil, err
	}
	d := newDataset(dir, opts, info)
	d.logger.Info("Opened dataset", "dir", dir, "episodes", info.TotalEpisodes)
	return d, nil
}

func newDataset(dir string, opts Options, info *Info) *Dataset {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	compression := opts.Compression
	if compression == "" {
		compression = info.Compression
	}
	return &Dataset{
		dir:         dir,
		sessionID:   uuid.New().String(),
		compression: compression,
		writer:      NewImageWriter(opts.ImageWriterWorkers),
		logger:      logger.With("dataset", filepath.Base(dir)),
		info:        info,
	}
}

// Root returns the dataset directory.
func (d *Dataset) Root() string { return d.dir }

// SessionID identifies this recording session in saved episodes.
func (d *Dataset) SessionID() string { return d.sessionID }

// Info returns a copy of the dataset metadata.
func (d *Dataset) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	info := *d.info
	info.Features = d.info.Features.Clone()
	info.Episodes = slices.Clone(d.info.Episodes)
	return info
}

// FPS returns the recorded frame rate.
func (d *Dataset) FPS() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.FPS
}

// Features returns the recorded feature schema.
func (d *Dataset) Features() robot.Features {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.Features.Clone()
}

// RobotType returns the device type the dataset was recorded with.
func (d *Dataset) RobotType() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.RobotType
}

// NumEpisodes returns the number of saved episodes.
func (d *Dataset) NumEpisodes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.TotalEpisodes
}

// BufferedFrames returns the number of frames in the current episode.
func (d *Dataset) BufferedFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffer)
}

// StartWriter starts the image writer pool.
func (d *Dataset) StartWriter() error {
	return d.writer.Start()
}

// StopWriter waits for queued images and stops the pool.
func (d *Dataset) StopWriter() error {
	return d.writer.Stop()
}

// AddFrame validates frame against the dataset features and appends it
// to the current episode. Images are handed to the image writer.
func (d *Dataset) AddFrame(frame robot.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := validateFrame(d.info.Features, frame); err != nil {
		return err
	}

	frameIndex := len(d.buffer)
	episode := d.info.TotalEpisodes
	rec := FrameRecord{
		Index:        int64(d.info.TotalFrames + frameIndex),
		FrameIndex:   int64(frameIndex),
		EpisodeIndex: int64(episode),
		Timestamp:    float32(frameIndex) / float32(d.info.FPS),
		Values:       make(map[string][]float32),
	}

	for _, name := range slices.Sorted(maps.Keys(frame)) {
		t := frame[name]
		if !isImageFeature(d.info.Features[name]) {
			rec.Values[name] = robot.VectorValues(t)
			continue
		}
		rel := imagePath(name, episode, frameIndex)
		if err := d.writer.Submit(filepath.Join(d.dir, rel), t.(*etensor.Uint8)); err != nil {
			return err
		}
		if rec.Images == nil {
			rec.Images = make(map[string]string)
		}
		rec.Images[name] = rel
	}

	d.buffer = append(d.buffer, rec)
	return nil
}

// SaveEpisode writes the buffered frames as the next episode and updates
// the metadata.
func (d *Dataset) SaveEpisode() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.buffer) == 0 {
		return errors.New("no frames to save")
	}
	if err := d.writer.Wait(); err != nil {
		return fmt.Errorf("failed to write episode images: %w", err)
	}

	index := d.info.TotalEpisodes
	raw, err := marshal(episodeFile{EpisodeIndex: index, Frames: d.buffer})
	if err != nil {
		return fmt.Errorf("failed to encode episode: %w", err)
	}
	stored, err := compress(raw, d.compression)
	if err != nil {
		return err
	}

	rel := episodePath(index)
	if err := writeFileAtomic(filepath.Join(d.dir, rel), stored); err != nil {
		return err
	}

	info := *d.info
	info.Episodes = append(slices.Clone(d.info.Episodes), EpisodeInfo{
		Index:       index,
		Length:      len(d.buffer),
		Path:        rel,
		Compression: d.compression,
		RawSize:     len(raw),
		Checksum:    checksum(stored),
		SessionID:   d.sessionID,
	})
	info.TotalEpisodes++
	info.TotalFrames += len(d.buffer)
	if err := writeInfo(d.dir, &info); err != nil {
		return err
	}

	d.logger.Info("Saved episode", "episode", index, "frames", len(d.buffer), "bytes", len(stored))
	d.info = &info
	d.buffer = nil
	return nil
}

// ClearEpisodeBuffer discards the current episode and its images.
func (d *Dataset) ClearEpisodeBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	errs := []error{d.writer.Wait()}
	episode := d.info.TotalEpisodes
	for name, f := range d.info.Features {
		if !isImageFeature(f) {
			continue
		}
		dir := filepath.Join(d.dir, filepath.Dir(imagePath(name, episode, 0)))
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove episode images: %w", err))
		}
	}
	d.buffer = nil
	return errors.Join(errs...)
}

func isImageFeature(f robot.Feature) bool {
	return f.DType == "image" || f.DType == "video"
}

func imagePath(channel string, episode, frame int) string {
	return filepath.Join("images", channel, fmt.Sprintf("episode_%06d", episode), fmt.Sprintf("frame_%06d.lz4", frame))
}

func episodePath(episode int) string {
	return filepath.Join("data", fmt.Sprintf("episode_%06d.cbor", episode))
}

// validateFrame reports every channel of frame that does not match
// features. Bookkeeping channels are filled in by the dataset and must
// not be supplied.
func validateFrame(features robot.Features, frame robot.Frame) error {
	bookkeeping := robot.DefaultFeatures()
	var errs []error
	for _, name := range features.Keys() {
		if _, ok := bookkeeping[name]; ok {
			continue
		}
		t, ok := frame[name]
		if !ok {
			errs = append(errs, fmt.Errorf("missing channel %q", name))
			continue
		}
		if err := checkChannel(name, features[name], t); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(frame)) {
		if _, ok := bookkeeping[name]; ok {
			errs = append(errs, fmt.Errorf("channel %q is reserved", name))
			continue
		}
		if _, ok := features[name]; !ok {
			errs = append(errs, fmt.Errorf("unexpected channel %q", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid frame: %w", errors.Join(errs...))
	}
	return nil
}

func checkChannel(name string, f robot.Feature, t etensor.Tensor) error {
	if t == nil {
		return fmt.Errorf("channel %q is nil", name)
	}
	if isImageFeature(f) {
		if _, ok := t.(*etensor.Uint8); !ok {
			return fmt.Errorf("channel %q: expected uint8 image, got %s", name, robot.DType(t))
		}
	} else if got := robot.DType(t); got != f.DType {
		return fmt.Errorf("channel %q: expected dtype %s, got %s", name, f.DType, got)
	}
	if !slices.Equal(t.Shapes(), f.Shape) {
		return fmt.Errorf("channel %q: expected shape %v, got %v", name, f.Shape, t.Shapes())
	}
	return nil
}
