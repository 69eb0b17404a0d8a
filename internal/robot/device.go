package robot

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Device is the contract the control loop holds. Concrete drivers (simulated
// or physical) implement it; the loop never depends on a concrete type.
type Device interface {
	IsConnected() bool
	Connect(ctx context.Context) error
	Disconnect() error

	// TeleopStep runs one leader→follower step and returns the observation and
	// the action actually applied, which may differ from the leader command
	// after safety limiting.
	TeleopStep(ctx context.Context, record bool) (Observation, Action, error)

	CaptureObservation(ctx context.Context) (Observation, error)

	// SendAction commands the follower and returns the applied action. The
	// returned value is what gets recorded.
	SendAction(ctx context.Context, action Action) (Action, error)

	Type() string
	Features() Features
	Telemetry() Telemetry
}

// SafetyStopper is implemented by devices that can halt teleoperation
// motion before a reset. Devices without it are left alone.
type SafetyStopper interface {
	SafetyStop() error
}

// Telemetry operation names.
const (
	OpReadLeaderPos        = "read_leader_pos"
	OpWriteFollowerGoalPos = "write_follower_goal_pos"
	OpReadFollowerPos      = "read_follower_pos"
	OpReadCamera           = "read_camera"
)

// TelemetryEntry is the last measured duration of one sub-operation.
type TelemetryEntry struct {
	Op        string
	Component string
	Seconds   float64
}

// Telemetry exposes per-operation timings. It is used for logging only.
type Telemetry interface {
	LastDuration(op, component string) (seconds float64, ok bool)
	Entries() []TelemetryEntry
}

type telemetryKey struct {
	op        string
	component string
}

// Logs is a concurrency-safe Telemetry implementation for device drivers.
type Logs struct {
	mu      sync.RWMutex
	entries map[telemetryKey]float64
}

// NewLogs returns an empty Logs.
func NewLogs() *Logs {
	return &Logs{entries: make(map[telemetryKey]float64)}
}

// Record stores the duration of op on component.
func (l *Logs) Record(op, component string, d time.Duration) {
	l.mu.Lock()
	l.entries[telemetryKey{op, component}] = d.Seconds()
	l.mu.Unlock()
}

// Measure records the time elapsed since start.
func (l *Logs) Measure(op, component string, start time.Time) {
	l.Record(op, component, time.Since(start))
}

// LastDuration implements Telemetry.
func (l *Logs) LastDuration(op, component string) (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.entries[telemetryKey{op, component}]
	return v, ok
}

// Entries implements Telemetry, ordered by op then component.
func (l *Logs) Entries() []TelemetryEntry {
	l.mu.RLock()
	out := make([]TelemetryEntry, 0, len(l.entries))
	for k, v := range l.entries {
		out = append(out, TelemetryEntry{Op: k.op, Component: k.component, Seconds: v})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Op != out[j].Op {
			return out[i].Op < out[j].Op
		}
		return out[i].Component < out[j].Component
	})
	return out
}

// ArmID returns the identifier of an arm, e.g. "left_follower".
func ArmID(name, armType string) string {
	return name + "_" + armType
}
