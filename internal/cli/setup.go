package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thruflo/botloop/internal/config"
	"github.com/thruflo/botloop/internal/events"
	"github.com/thruflo/botloop/internal/keyboard"
	"github.com/thruflo/botloop/internal/logging"
	"github.com/thruflo/botloop/internal/loop"
	"github.com/thruflo/botloop/internal/policy"
	"github.com/thruflo/botloop/internal/robot"
	"github.com/thruflo/botloop/internal/viewer"
)

// env bundles the collaborators shared by the loop commands.
type env struct {
	cfg      *config.Config
	logger   *logging.Logger
	device   robot.Device
	flags    *events.Flags
	listener keyboard.Handle
	viewer   *viewer.Viewer
	headless bool
}

// newEnv builds the device and viewer described by cfg. The keyboard
// listener is started separately by listen so tests can run without a
// terminal.
func newEnv(cfg *config.Config, logger *logging.Logger) (*env, error) {
	dev, err := robot.Make(cfg.Device.Type, robot.Options{
		MaxRelativeTarget: cfg.Device.MaxRelativeTarget,
		Cameras:           cameraSpecs(cfg.Device.Cameras),
	})
	if err != nil {
		return nil, err
	}

	rt := &env{
		cfg:      cfg,
		logger:   logger,
		device:   dev,
		flags:    events.New(),
		headless: keyboard.Headless(),
	}

	if cfg.Control.DisplayCameras && !rt.headless {
		vc := cfg.Viewer
		if vc == nil {
			vc = config.DefaultViewerConfig()
		}
		rt.viewer, err = viewer.New(viewer.Config{
			Addr:         vc.Addr,
			PasswordHash: vc.PasswordHash,
			Logger:       logger.With("component", "viewer"),
		})
		if err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func cameraSpecs(cams map[string]config.CameraConfig) map[string]robot.CameraSpec {
	if cams == nil {
		return nil
	}
	out := make(map[string]robot.CameraSpec, len(cams))
	for name, c := range cams {
		out[name] = robot.CameraSpec{Width: c.Width, Height: c.Height}
	}
	return out
}

// listen starts the keyboard listener. Log lines written while the
// terminal is raw need explicit carriage returns.
func (rt *env) listen() {
	if !rt.headless {
		logging.SetOutput(log.New(keyboard.NewCRLFWriter(os.Stderr), "", log.LstdFlags|log.Lmicroseconds))
	}
	rt.listener = keyboard.Start(rt.flags, rt.logger)
}

// serveViewer runs the camera viewer until ctx ends.
func (rt *env) serveViewer(ctx context.Context) {
	if rt.viewer == nil {
		return
	}
	go func() {
		if err := rt.viewer.Start(ctx); err != nil {
			rt.logger.Error("Camera viewer stopped", "error", err)
		}
	}()
}

// display returns the viewer as a loop display, or nil when there is none.
func (rt *env) display() loop.Display {
	if rt.viewer == nil {
		return nil
	}
	return rt.viewer
}

func (rt *env) session() *loop.Session {
	return &loop.Session{
		Device:      rt.device,
		Flags:       rt.flags,
		Listener:    rt.listener,
		Display:     rt.display(),
		Logger:      rt.logger,
		Headless:    rt.headless,
		LogInterval: logInterval(rt.cfg.Log.RateHz),
	}
}

// logInterval converts log.rate_hz to the control info interval. Zero
// keeps the loop default.
func logInterval(rateHz float64) time.Duration {
	if rateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / rateHz)
}

// shutdown releases the device, keyboard and display.
func (rt *env) shutdown() error {
	err := rt.session().Shutdown()
	if rt.viewer != nil {
		err = errors.Join(err, rt.viewer.Stop())
	}
	return err
}

// loadPredictor returns the configured policy bound to its compute
// device, or nil when no policy is configured.
func loadPredictor(pc config.PolicyConfig, logger *logging.Logger) (loop.Predictor, error) {
	if pc.Path == "" {
		return nil, nil
	}
	pol, err := policy.LoadLinear(pc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	backend, useAMP, err := policy.SelectBackend(pc.Device, pc.UseAMP, logger)
	if err != nil {
		return nil, err
	}
	return &policy.Predictor{Policy: pol, Backend: backend, UseAMP: useAMP}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM. In raw mode Ctrl+C
// arrives as a key press instead.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
