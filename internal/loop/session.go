package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/robot"
)

// ErrNotVerified is returned when recording into a target that has not
// passed PrepareRecording.
var ErrNotVerified = errors.New("recorder has not passed the compatibility check")

// ResetTick is the granularity of the reset wait.
const ResetTick = time.Second

// Session sequences the phases of a recording session against one
// device. Flags are shared with the keyboard listener for the whole
// session. Phases run strictly one after another on the caller's
// goroutine.
type Session struct {
	Device   robot.Device
	Flags    *events.Flags
	Listener Stopper
	Display  Display
	Clock    Clock
	Logger   *logging.Logger
	Headless bool
	// LogInterval throttles control info, see Options.
	LogInterval time.Duration

	verified []Recorder
}

func (s *Session) clock() Clock {
	if s.Clock == nil {
		return SystemClock{}
	}
	return s.Clock
}

func (s *Session) logger() *logging.Logger {
	if s.Logger == nil {
		return logging.Default()
	}
	return s.Logger
}

func (s *Session) run(ctx context.Context, cfg Config, rec Recorder, pred Predictor) (Result, error) {
	return New(Options{
		Config:      cfg,
		Device:      s.Device,
		Flags:       s.Flags,
		Recorder:    rec,
		Predictor:   pred,
		Display:     s.Display,
		Clock:       s.clock(),
		Logger:      s.logger(),
		Headless:    s.Headless,
		LogInterval: s.LogInterval,
	}).Run(ctx)
}

// Warmup runs the loop without recording so the operator can settle the
// device before the first episode.
func (s *Session) Warmup(ctx context.Context, duration time.Duration, fps int, teleoperate, display bool) (Result, error) {
	s.logger().Info("Warmup", "seconds", duration.Seconds(), "teleoperate", teleoperate)
	return s.run(ctx, Config{
		Duration:       duration,
		FPS:            fps,
		Teleoperate:    teleoperate,
		DisplayCameras: display,
	}, nil, nil)
}

// PrepareRecording checks rec against the live device at fps and, on
// success, allows RecordEpisode to record into it.
func (s *Session) PrepareRecording(rec Recorder, fps int, useVideos bool) error {
	if rec == nil {
		return errors.New("no recorder")
	}
	if err := CheckCompatibility(MetaOf(rec), robot.SchemaOf(s.Device, fps, useVideos)); err != nil {
		return err
	}
	if !s.isVerified(rec) {
		s.verified = append(s.verified, rec)
	}
	return nil
}

func (s *Session) isVerified(rec Recorder) bool {
	for _, v := range s.verified {
		if v == rec {
			return true
		}
	}
	return false
}

// RecordEpisode records one episode into rec. The device is teleoperated
// unless a predictor is given.
func (s *Session) RecordEpisode(ctx context.Context, rec Recorder, duration time.Duration, fps int, pred Predictor, display bool) (Result, error) {
	if rec == nil || !s.isVerified(rec) {
		return Result{}, ErrNotVerified
	}
	return s.run(ctx, Config{
		Duration:       duration,
		FPS:            fps,
		Teleoperate:    pred == nil,
		DisplayCameras: display,
	}, rec, pred)
}

// Reset gives the operator time to reset the scene. The device is
// safety-stopped first when it supports it, then the wait proceeds in
// one-second ticks until duration has elapsed or exit early is observed.
// It returns the number of ticks.
func (s *Session) Reset(ctx context.Context, duration time.Duration) (int, error) {
	if ss, ok := s.Device.(robot.SafetyStopper); ok {
		if err := ss.SafetyStop(); err != nil {
			return 0, fmt.Errorf("safety stop: %w", err)
		}
	}

	s.logger().Info("Reset the environment", "seconds", duration.Seconds())
	clock := s.clock()
	start := clock.Now()
	ticks := 0
	for {
		elapsed := clock.Now().Sub(start)
		if elapsed >= duration || ctx.Err() != nil {
			break
		}
		clock.Sleep(min(ResetTick, duration-elapsed))
		ticks++
		if s.Flags != nil && s.Flags.ConsumeExitEarly() {
			break
		}
	}
	return ticks, nil
}

// Shutdown disconnects the device and, when interactive, stops the
// listener and closes the display.
func (s *Session) Shutdown() error {
	var errs []error
	if s.Device != nil && s.Device.IsConnected() {
		if err := s.Device.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect: %w", err))
		}
	}
	if !s.Headless {
		if s.Listener != nil {
			if err := s.Listener.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop listener: %w", err))
			}
		}
		if s.Display != nil {
			if err := s.Display.CloseAll(); err != nil {
				errs = append(errs, fmt.Errorf("close display: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}
