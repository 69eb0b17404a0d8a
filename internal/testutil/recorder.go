package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/emer/etable/etensor"

	"github.com/thruflo/botloop/internal/robot"
)

// FakeRecorder is an in-memory episode recorder. Its metadata matches
// FakeDevice recorded as images unless overridden.
type FakeRecorder struct {
	mu sync.Mutex

	Rate     int
	Type     string
	Feats    robot.Features
	AddErr   error
	StartErr error
	buffer   []robot.Frame
	episodes [][]robot.Frame
	clears   int
	starts   int
	stops    int
	writerOn bool
	addedOff int
}

// NewFakeRecorder returns a recorder compatible with FakeDevice at fps.
func NewFakeRecorder(fps int) *FakeRecorder {
	return &FakeRecorder{Rate: fps, Type: FakeDeviceType, Feats: SampleSchema(fps).Features}
}

// AddFrame buffers frame.
func (r *FakeRecorder) AddFrame(frame robot.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.AddErr != nil {
		return r.AddErr
	}
	if !r.writerOn {
		r.addedOff++
	}
	r.buffer = append(r.buffer, frame)
	return nil
}

// FPS returns the configured frame rate.
func (r *FakeRecorder) FPS() int { return r.Rate }

// Features returns the recorded feature schema.
func (r *FakeRecorder) Features() robot.Features { return r.Feats }

// RobotType returns the recorded device type.
func (r *FakeRecorder) RobotType() string { return r.Type }

// StartWriter opens the writer scope.
func (r *FakeRecorder) StartWriter() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StartErr != nil {
		return r.StartErr
	}
	if r.writerOn {
		return errors.New("writer already started")
	}
	r.starts++
	r.writerOn = true
	return nil
}

// StopWriter closes the writer scope.
func (r *FakeRecorder) StopWriter() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.writerOn = false
	return nil
}

// SaveEpisode moves the buffer into a saved episode.
func (r *FakeRecorder) SaveEpisode() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.episodes = append(r.episodes, r.buffer)
	r.buffer = nil
	return nil
}

// ClearEpisodeBuffer discards buffered frames.
func (r *FakeRecorder) ClearEpisodeBuffer() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.buffer = nil
	return nil
}

// NumEpisodes returns how many episodes were saved.
func (r *FakeRecorder) NumEpisodes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.episodes)
}

// Buffered returns the frames of the current episode.
func (r *FakeRecorder) Buffered() []robot.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]robot.Frame(nil), r.buffer...)
}

// Episodes returns the saved episodes.
func (r *FakeRecorder) Episodes() [][]robot.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]robot.Frame(nil), r.episodes...)
}

// Clears returns how many times the buffer was discarded.
func (r *FakeRecorder) Clears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

// WriterCalls returns StartWriter and StopWriter call counts.
func (r *FakeRecorder) WriterCalls() (starts, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

// FramesOutsideWriter counts frames added while the writer was stopped.
func (r *FakeRecorder) FramesOutsideWriter() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addedOff
}

// Shown is one image passed to FakeDisplay.Show.
type Shown struct {
	Name  string
	Image *etensor.Uint8
}

// FakeDisplay records every image it is shown.
type FakeDisplay struct {
	mu      sync.Mutex
	Order   robot.ColorOrder
	ShowErr error
	shown   []Shown
	closed  int
}

// Show records img.
func (d *FakeDisplay) Show(name string, img *etensor.Uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, Shown{Name: name, Image: img})
	return d.ShowErr
}

// CloseAll counts the call.
func (d *FakeDisplay) CloseAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

// ColorOrder returns Order.
func (d *FakeDisplay) ColorOrder() robot.ColorOrder { return d.Order }

// Shown returns every recorded image.
func (d *FakeDisplay) Shown() []Shown {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Shown(nil), d.shown...)
}

// Closed returns how many times CloseAll was called.
func (d *FakeDisplay) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// FakePredictor returns Values as the action for every observation.
type FakePredictor struct {
	mu     sync.Mutex
	Values []float32
	Err    error
	calls  int
}

// Predict implements the loop's predictor contract.
func (p *FakePredictor) Predict(ctx context.Context, obs robot.Observation) (robot.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	return robot.Action{robot.ActionKey: robot.NewVector(p.Values...)}, nil
}

// Calls returns how many predictions were made.
func (p *FakePredictor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// FakeListener counts Stop calls.
type FakeListener struct {
	mu    sync.Mutex
	stops int
}

// Stop implements the listener contract.
func (l *FakeListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stops++
	return nil
}

// Stops returns how many times Stop was called.
func (l *FakeListener) Stops() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stops
}
