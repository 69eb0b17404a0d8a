package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/emer/etable/etensor"
)

// ErrNotConnected is returned when a device is used before Connect.
var ErrNotConnected = errors.New("device is not connected")

// CameraSpec is the resolution of a simulated camera.
type CameraSpec struct {
	Width  int
	Height int
}

// SimOptions configures a simulated manipulator.
type SimOptions struct {
	// Arms names the leader/follower pairs, e.g. "main" or "left", "right".
	Arms []string
	// Motors is the number of joints per arm.
	Motors int
	// Cameras maps camera name to resolution.
	Cameras map[string]CameraSpec
	// MaxRelativeTarget limits how far a single command may move a joint
	// from its present position. Zero disables the limit.
	MaxRelativeTarget float32
}

// SimDevice is a software leader/follower manipulator with synthetic
// cameras. The leader follows a slow sinusoid; the follower tracks whatever
// it is commanded, clipped by MaxRelativeTarget.
type SimDevice struct {
	deviceType string
	opts       SimOptions
	logs       *Logs

	mu          sync.Mutex
	connected   bool
	step        int
	follower    map[string][]float32
	safetyStops int
}

// NewSimDevice creates a disconnected simulated device.
func NewSimDevice(deviceType string, opts SimOptions) *SimDevice {
	if opts.Motors <= 0 {
		opts.Motors = 6
	}
	if len(opts.Arms) == 0 {
		opts.Arms = []string{"main"}
	}
	return &SimDevice{
		deviceType: deviceType,
		opts:       opts,
		logs:       NewLogs(),
		follower:   make(map[string][]float32),
	}
}

// Type implements Device.
func (d *SimDevice) Type() string { return d.deviceType }

// Telemetry implements Device.
func (d *SimDevice) Telemetry() Telemetry { return d.logs }

// IsConnected implements Device.
func (d *SimDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Connect implements Device.
func (d *SimDevice) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return fmt.Errorf("%s device is already connected", d.deviceType)
	}
	for _, arm := range d.opts.Arms {
		d.follower[arm] = make([]float32, d.opts.Motors)
	}
	d.connected = true
	return nil
}

// Disconnect implements Device.
func (d *SimDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrNotConnected
	}
	d.connected = false
	return nil
}

// SafetyStop implements SafetyStopper.
func (d *SimDevice) SafetyStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.safetyStops++
	return nil
}

// SafetyStops returns how many times SafetyStop was called.
func (d *SimDevice) SafetyStops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.safetyStops
}

// Features implements Device.
func (d *SimDevice) Features() Features {
	names := d.motorNames()
	fs := Features{
		StateKey:  {DType: "float32", Shape: []int{len(names)}, Names: names},
		ActionKey: {DType: "float32", Shape: []int{len(names)}, Names: slices.Clone(names)},
	}
	for cam, spec := range d.opts.Cameras {
		fs[ImageKeyPrefix+cam] = Feature{
			DType: "image",
			Shape: []int{spec.Height, spec.Width, 3},
			Names: []string{"height", "width", "channels"},
			Info:  map[string]any{"pix_fmt": "rgb24"},
		}
	}
	return fs
}

func (d *SimDevice) motorNames() []string {
	var names []string
	for _, arm := range d.opts.Arms {
		for m := range d.opts.Motors {
			names = append(names, fmt.Sprintf("%s_joint_%d", arm, m))
		}
	}
	return names
}

// TeleopStep implements Device.
func (d *SimDevice) TeleopStep(ctx context.Context, record bool) (Observation, Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, nil, ErrNotConnected
	}

	var goal []float32
	for i, arm := range d.opts.Arms {
		start := time.Now()
		leader := d.leaderPosition(i)
		d.logs.Measure(OpReadLeaderPos, ArmID(arm, "leader"), start)

		start = time.Now()
		applied := d.clip(d.follower[arm], leader)
		d.follower[arm] = applied
		d.logs.Measure(OpWriteFollowerGoalPos, ArmID(arm, "follower"), start)
		goal = append(goal, applied...)
	}
	d.step++

	if !record {
		return nil, nil, nil
	}

	obs := d.observeLocked()
	return obs, Action{ActionKey: NewVector(goal...)}, nil
}

// CaptureObservation implements Device.
func (d *SimDevice) CaptureObservation(ctx context.Context) (Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, ErrNotConnected
	}
	d.step++
	return d.observeLocked(), nil
}

// SendAction implements Device.
func (d *SimDevice) SendAction(ctx context.Context, action Action) (Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	requested, ok := action[ActionKey]
	if !ok {
		return nil, fmt.Errorf("action is missing %q channel", ActionKey)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, ErrNotConnected
	}

	values := VectorValues(requested)
	want := len(d.opts.Arms) * d.opts.Motors
	if len(values) != want {
		return nil, fmt.Errorf("action has %d values, %s device expects %d", len(values), d.deviceType, want)
	}

	var applied []float32
	for i, arm := range d.opts.Arms {
		start := time.Now()
		goal := d.clip(d.follower[arm], values[i*d.opts.Motors:(i+1)*d.opts.Motors])
		d.follower[arm] = goal
		d.logs.Measure(OpWriteFollowerGoalPos, ArmID(arm, "follower"), start)
		applied = append(applied, goal...)
	}
	return Action{ActionKey: NewVector(applied...)}, nil
}

// leaderPosition is the leader arm's joint vector at the current step.
func (d *SimDevice) leaderPosition(arm int) []float32 {
	pos := make([]float32, d.opts.Motors)
	phase := float64(d.step) * 0.05
	for m := range pos {
		pos[m] = float32(30 * math.Sin(phase+float64(m)+float64(arm)*math.Pi/2))
	}
	return pos
}

// clip limits each joint's move from present towards goal.
func (d *SimDevice) clip(present, goal []float32) []float32 {
	out := slices.Clone(goal)
	limit := d.opts.MaxRelativeTarget
	if limit <= 0 {
		return out
	}
	for i := range out {
		delta := out[i] - present[i]
		if delta > limit {
			out[i] = present[i] + limit
		} else if delta < -limit {
			out[i] = present[i] - limit
		}
	}
	return out
}

func (d *SimDevice) observeLocked() Observation {
	obs := make(Observation, 1+len(d.opts.Cameras))

	var state []float32
	for _, arm := range d.opts.Arms {
		start := time.Now()
		state = append(state, d.follower[arm]...)
		d.logs.Measure(OpReadFollowerPos, ArmID(arm, "follower"), start)
	}
	obs[StateKey] = NewVector(state...)

	for cam, spec := range d.opts.Cameras {
		start := time.Now()
		obs[ImageKeyPrefix+cam] = d.renderCamera(spec)
		d.logs.Measure(OpReadCamera, cam, start)
	}
	return obs
}

// renderCamera draws a moving gradient so consecutive frames differ.
func (d *SimDevice) renderCamera(spec CameraSpec) *etensor.Uint8 {
	img := NewImage(spec.Height, spec.Width)
	shift := d.step % 256
	for y := range spec.Height {
		for x := range spec.Width {
			i := (y*spec.Width + x) * 3
			img.Values[i] = uint8((x + shift) % 256)
			img.Values[i+1] = uint8((y + shift) % 256)
			img.Values[i+2] = uint8(shift)
		}
	}
	return img
}
