package loop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/emer/etable/etensor"

	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/robot"
)

// Forever is the Duration of a loop that only ends on exit early or
// cancellation.
const Forever time.Duration = math.MaxInt64

// ErrInvalidConfig wraps every precondition violation found by Run.
var ErrInvalidConfig = errors.New("invalid control loop configuration")

// ExitReason indicates why the loop stopped.
type ExitReason int

const (
	ExitReasonUnknown   ExitReason = iota
	ExitReasonDuration             // Ran for the configured duration
	ExitReasonExitEarly            // exit_early flag observed
	ExitReasonCancelled            // Context cancelled
)

// String returns a human-readable description of the exit reason.
func (r ExitReason) String() string {
	switch r {
	case ExitReasonDuration:
		return "duration"
	case ExitReasonExitEarly:
		return "exit early"
	case ExitReasonCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a loop execution.
type Result struct {
	Reason     ExitReason
	Iterations int
	Elapsed    time.Duration
	// Overruns counts iterations that exceeded the frame budget.
	Overruns int
}

// Config is the per-run configuration of a Loop.
type Config struct {
	// Duration bounds the run. Use Forever for an unbounded run.
	Duration time.Duration
	// FPS is the target frame rate. Zero runs unpaced.
	FPS            int
	Teleoperate    bool
	DisplayCameras bool
}

// Options holds the collaborators of a Loop. Only Device and Flags are
// required.
type Options struct {
	Config    Config
	Device    robot.Device
	Flags     *events.Flags
	Recorder  Recorder
	Predictor Predictor
	Display   Display
	Clock     Clock
	Logger    *logging.Logger
	Headless  bool
	// LogInterval throttles per-iteration control info. Zero uses one
	// second.
	LogInterval time.Duration
	// OverrunThreshold is how many consecutive overruns trigger a
	// sustained overrun warning. Zero uses the frame rate, i.e. one second.
	OverrunThreshold int
}

// Loop is one run of the control loop.
type Loop struct {
	cfg       Config
	device    robot.Device
	flags     *events.Flags
	recorder  Recorder
	predictor Predictor
	display   Display
	clock     Clock
	logger    *logging.Logger
	headless  bool
	info      *controlInfo
	overruns  *overrunTracker
}

// New creates a Loop. Preconditions are checked by Run.
func New(opts Options) *Loop {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	threshold := opts.OverrunThreshold
	if threshold <= 0 {
		threshold = max(opts.Config.FPS, 1)
	}
	return &Loop{
		cfg:       opts.Config,
		device:    opts.Device,
		flags:     opts.Flags,
		recorder:  opts.Recorder,
		predictor: opts.Predictor,
		display:   opts.Display,
		clock:     clock,
		logger:    logger,
		headless:  opts.Headless,
		info:      newControlInfo(logger, opts.LogInterval),
		overruns:  newOverrunTracker(threshold),
	}
}

// validate collects every precondition violation.
func (l *Loop) validate() error {
	var errs []error
	if l.device == nil {
		errs = append(errs, errors.New("no device"))
	}
	if l.flags == nil {
		errs = append(errs, errors.New("no event flags"))
	}
	if l.cfg.FPS < 0 {
		errs = append(errs, fmt.Errorf("fps must not be negative, got %d", l.cfg.FPS))
	}
	if l.cfg.Teleoperate && l.predictor != nil {
		errs = append(errs, errors.New("teleoperation and a policy predictor are mutually exclusive"))
	}
	if l.recorder != nil {
		if l.cfg.FPS > 0 && l.recorder.FPS() != l.cfg.FPS {
			errs = append(errs, fmt.Errorf("recorder fps (%d) does not match requested fps (%d)",
				l.recorder.FPS(), l.cfg.FPS))
		}
		if !l.cfg.Teleoperate && l.predictor == nil {
			errs = append(errs, errors.New("recording without teleoperation requires a policy predictor"))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Run executes iterations until the duration is exhausted, exit early is
// observed or ctx is cancelled. Device and inference errors end the run
// and are returned wrapped.
func (l *Loop) Run(ctx context.Context) (res Result, err error) {
	if err := l.validate(); err != nil {
		return Result{}, err
	}

	if !l.device.IsConnected() {
		if err := l.device.Connect(ctx); err != nil {
			return Result{}, fmt.Errorf("connect %s device: %w", l.device.Type(), err)
		}
	}

	if ws, ok := l.recorder.(WriterScope); ok {
		if err := ws.StartWriter(); err != nil {
			return Result{}, fmt.Errorf("start recorder writer: %w", err)
		}
		defer func() {
			if stopErr := ws.StopWriter(); stopErr != nil {
				err = errors.Join(err, fmt.Errorf("stop recorder writer: %w", stopErr))
			}
		}()
	}

	gov := NewGovernor(l.cfg.FPS, l.clock)
	showCameras := l.cfg.DisplayCameras && l.display != nil && !l.headless
	episode := -1
	if er, ok := l.recorder.(EpisodeRecorder); ok {
		episode = er.NumEpisodes()
	}

	start := l.clock.Now()
	for {
		if l.clock.Now().Sub(start) >= l.cfg.Duration {
			res.Reason = ExitReasonDuration
			break
		}
		if ctx.Err() != nil {
			res.Reason = ExitReasonCancelled
			break
		}

		iterStart := l.clock.Now()
		if err := l.step(ctx, showCameras); err != nil {
			res.Elapsed = l.clock.Now().Sub(start)
			return res, err
		}

		gov.Wait(l.clock.Now().Sub(iterStart))
		dt := l.clock.Now().Sub(iterStart)
		if gov.Overran(dt) {
			res.Overruns++
		}
		if l.overruns.observe(gov.Overran(dt)) {
			l.logger.Warn("Sustained frame rate overrun",
				"iterations", l.overruns.threshold, "fps", l.cfg.FPS, "last_hz", Rate(dt))
		}
		l.info.log(l.device.Telemetry(), dt, l.cfg.FPS, episode, res.Iterations)
		res.Iterations++

		if l.flags.ConsumeExitEarly() {
			res.Reason = ExitReasonExitEarly
			break
		}
	}

	res.Elapsed = l.clock.Now().Sub(start)
	return res, nil
}

// step performs one iteration's device, policy, recording and display
// work.
func (l *Loop) step(ctx context.Context, showCameras bool) error {
	var (
		obs    robot.Observation
		action robot.Action
		err    error
	)

	if l.cfg.Teleoperate {
		obs, action, err = l.device.TeleopStep(ctx, l.recorder != nil || showCameras)
		if err != nil {
			return fmt.Errorf("teleop step: %w", err)
		}
	} else {
		obs, err = l.device.CaptureObservation(ctx)
		if err != nil {
			return fmt.Errorf("capture observation: %w", err)
		}
		if l.predictor != nil {
			predicted, err := l.predictor.Predict(ctx, obs)
			if err != nil {
				return fmt.Errorf("predict action: %w", err)
			}
			action, err = l.device.SendAction(ctx, predicted)
			if err != nil {
				return fmt.Errorf("send action: %w", err)
			}
		}
	}

	if l.recorder != nil {
		if err := l.recorder.AddFrame(robot.MergeFrame(obs, action)); err != nil {
			return fmt.Errorf("add frame: %w", err)
		}
	}

	if showCameras {
		l.show(obs)
	}
	return nil
}

// show forwards every image channel to the display. Display failures are
// logged and never end the run.
func (l *Loop) show(obs robot.Observation) {
	order := l.display.ColorOrder()
	for _, name := range obs.ImageKeys() {
		img, ok := obs[name].(*etensor.Uint8)
		if !ok {
			l.logger.Warn("Skipping non-uint8 image channel", "channel", name, "dtype", robot.DType(obs[name]))
			continue
		}
		if err := l.display.Show(name, robot.ConvertColor(img, robot.RGB, order)); err != nil {
			l.logger.Warn("Display failed", "channel", name, "error", err)
		}
	}
}
