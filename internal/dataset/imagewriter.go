package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/emer/etable/etensor"
	"github.com/pierrec/lz4/v4"
)

// queueDepth is how many images each worker may have queued before
// Submit blocks.
const queueDepth = 8

type imageJob struct {
	path string
	img  *etensor.Uint8
}

// ImageWriter writes camera frames to disk on a bounded pool of
// goroutines. Without workers, or outside Start/Stop, images are written
// on the caller's goroutine.
type ImageWriter struct {
	workers int

	mu      sync.Mutex
	jobs    chan imageJob
	pending sync.WaitGroup
	pool    sync.WaitGroup
	errs    []error
}

// NewImageWriter creates a writer with the given number of workers.
func NewImageWriter(workers int) *ImageWriter {
	return &ImageWriter{workers: max(workers, 0)}
}

// Running reports whether the worker pool is started.
func (w *ImageWriter) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.jobs != nil
}

// Start launches the worker pool.
func (w *ImageWriter) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.jobs != nil {
		return errors.New("image writer already started")
	}
	if w.workers == 0 {
		return nil
	}
	w.jobs = make(chan imageJob, w.workers*queueDepth)
	for range w.workers {
		w.pool.Add(1)
		go w.work(w.jobs)
	}
	return nil
}

func (w *ImageWriter) work(jobs <-chan imageJob) {
	defer w.pool.Done()
	for job := range jobs {
		if err := writeImage(job.path, job.img); err != nil {
			w.mu.Lock()
			w.errs = append(w.errs, err)
			w.mu.Unlock()
		}
		w.pending.Done()
	}
}

// Submit queues img to be written at path. It blocks while the queue is
// full.
func (w *ImageWriter) Submit(path string, img *etensor.Uint8) error {
	w.mu.Lock()
	jobs := w.jobs
	w.mu.Unlock()
	if jobs == nil {
		return writeImage(path, img)
	}
	w.pending.Add(1)
	jobs <- imageJob{path: path, img: img}
	return nil
}

// Wait blocks until every submitted image is on disk and returns the
// write errors collected since the last Wait.
func (w *ImageWriter) Wait() error {
	w.pending.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	err := errors.Join(w.errs...)
	w.errs = nil
	return err
}

// Stop drains the queue and stops the workers.
func (w *ImageWriter) Stop() error {
	w.mu.Lock()
	jobs := w.jobs
	w.jobs = nil
	w.mu.Unlock()
	if jobs != nil {
		close(jobs)
		w.pool.Wait()
	}
	return w.Wait()
}

// writeImage stores raw pixels as an lz4 frame.
func writeImage(path string, img *etensor.Uint8) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close image file: %w", cerr)
		}
	}()

	zw := lz4.NewWriter(f)
	if _, err := zw.Write(img.Values); err != nil {
		return fmt.Errorf("failed to write image %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush image %s: %w", path, err)
	}
	return nil
}

// ReadImage loads an image written by the image writer. shape is the
// [height, width, channels] of the camera feature.
func ReadImage(path string, shape []int) (*etensor.Uint8, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	pixels, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("image shape %v is not [height, width, channels]", shape)
	}
	img := etensor.NewUint8(shape, nil, nil)
	if len(pixels) != len(img.Values) {
		return nil, fmt.Errorf("image %s has %d bytes, shape %v needs %d", path, len(pixels), shape, len(img.Values))
	}
	copy(img.Values, pixels)
	return img, nil
}
