package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thruflo/botloop/internal/robot"
)

// FakeDevice is a scripted robot.Device. Every TeleopStep or
// CaptureObservation is one step; the state vector holds the step number.
type FakeDevice struct {
	mu sync.Mutex

	// OnStep runs at the start of every step with the 1-based step number.
	OnStep func(step int)
	// FailAt makes step number FailAt return StepErr.
	FailAt  int
	StepErr error
	// Clock and StepCost simulate I/O time spent in each step.
	Clock    *FakeClock
	StepCost time.Duration
	// ClipTo limits every action value sent to [-ClipTo, ClipTo] when set.
	ClipTo float32

	connected   bool
	steps       int
	teleopCalls int
	recordCalls int
	captures    int
	sent        []robot.Action
	connects    int
	disconnects int
	logs        *robot.Logs
}

// NewFakeDevice returns a disconnected FakeDevice.
func NewFakeDevice() *FakeDevice {
	return &FakeDevice{logs: robot.NewLogs()}
}

// IsConnected implements robot.Device.
func (d *FakeDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Connect implements robot.Device.
func (d *FakeDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	d.connected = true
	return nil
}

// Disconnect implements robot.Device.
func (d *FakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return robot.ErrNotConnected
	}
	d.disconnects++
	d.connected = false
	return nil
}

// Type implements robot.Device.
func (d *FakeDevice) Type() string { return FakeDeviceType }

// Features implements robot.Device.
func (d *FakeDevice) Features() robot.Features { return SampleFeatures() }

// Telemetry implements robot.Device.
func (d *FakeDevice) Telemetry() robot.Telemetry { return d.logs }

// step advances the step counter and applies the script. Callers must not
// hold d.mu.
func (d *FakeDevice) step() (int, error) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return 0, robot.ErrNotConnected
	}
	d.steps++
	n := d.steps
	onStep := d.OnStep
	d.mu.Unlock()

	if onStep != nil {
		onStep(n)
	}
	if d.Clock != nil && d.StepCost > 0 {
		d.Clock.Advance(d.StepCost)
	}
	d.logs.Record(robot.OpReadFollowerPos, robot.ArmID("main", "follower"), d.StepCost)
	if d.FailAt > 0 && n == d.FailAt {
		err := d.StepErr
		if err == nil {
			err = errors.New("fake device failure")
		}
		return n, err
	}
	return n, nil
}

func (d *FakeDevice) observation(step int) robot.Observation {
	obs := SampleObservation()
	obs[robot.StateKey] = robot.NewVector(float32(step), float32(step))
	return obs
}

// TeleopStep implements robot.Device.
func (d *FakeDevice) TeleopStep(ctx context.Context, record bool) (robot.Observation, robot.Action, error) {
	n, err := d.step()
	d.mu.Lock()
	d.teleopCalls++
	if record {
		d.recordCalls++
	}
	d.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	if !record {
		return nil, nil, nil
	}
	return d.observation(n), robot.Action{robot.ActionKey: robot.NewVector(float32(n), float32(n))}, nil
}

// CaptureObservation implements robot.Device.
func (d *FakeDevice) CaptureObservation(ctx context.Context) (robot.Observation, error) {
	n, err := d.step()
	d.mu.Lock()
	d.captures++
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.observation(n), nil
}

// SendAction implements robot.Device, clipping by ClipTo.
func (d *FakeDevice) SendAction(ctx context.Context, action robot.Action) (robot.Action, error) {
	vals := robot.VectorValues(action[robot.ActionKey])
	if d.ClipTo > 0 {
		for i, v := range vals {
			vals[i] = max(-d.ClipTo, min(d.ClipTo, v))
		}
	}
	applied := robot.Action{robot.ActionKey: robot.NewVector(vals...)}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, action)
	return applied, nil
}

// Steps returns how many steps ran.
func (d *FakeDevice) Steps() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.steps
}

// TeleopCalls returns how many TeleopStep calls were made and how many of
// them asked for data.
func (d *FakeDevice) TeleopCalls() (total, recorded int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.teleopCalls, d.recordCalls
}

// Captures returns how many CaptureObservation calls were made.
func (d *FakeDevice) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// Sent returns the actions passed to SendAction.
func (d *FakeDevice) Sent() []robot.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]robot.Action(nil), d.sent...)
}

// Connects returns how many times Connect was called.
func (d *FakeDevice) Connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

// Disconnects returns how many times Disconnect succeeded.
func (d *FakeDevice) Disconnects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

// FakeSafetyDevice is a FakeDevice that implements robot.SafetyStopper.
type FakeSafetyDevice struct {
	*FakeDevice
	mu    sync.Mutex
	stops int
}

// NewFakeSafetyDevice returns a disconnected FakeSafetyDevice.
func NewFakeSafetyDevice() *FakeSafetyDevice {
	return &FakeSafetyDevice{FakeDevice: NewFakeDevice()}
}

// SafetyStop implements robot.SafetyStopper.
func (d *FakeSafetyDevice) SafetyStop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	return nil
}

// SafetyStops returns how many times SafetyStop was called.
func (d *FakeSafetyDevice) SafetyStops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}
