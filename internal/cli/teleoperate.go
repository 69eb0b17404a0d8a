package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/thruflo/botloop/internal/config"
	"github.com/thruflo/botloop/internal/loop"
)

var (
	teleopFPS     int
	teleopTime    float64
	teleopDisplay bool
)

var teleoperateCmd = &cobra.Command{
	Use:   "teleoperate",
	Short: "Drive the follower arms from the leader arms",
	Long: `Runs the control loop with teleoperation and no recording until the
configured time elapses, the right arrow key is pressed or the process is
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runTeleoperate,
}

func init() {
	teleoperateCmd.Flags().IntVar(&teleopFPS, "fps", 0, "target frame rate (default control.fps)")
	teleoperateCmd.Flags().Float64Var(&teleopTime, "time", -1, "seconds to run, 0 runs until stopped (default control.teleop_time_s)")
	teleoperateCmd.Flags().BoolVar(&teleopDisplay, "display-cameras", false, "show cameras in the web viewer")

	rootCmd.AddCommand(teleoperateCmd)
}

func runTeleoperate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if teleopFPS > 0 {
		cfg.Control.FPS = teleopFPS
	}
	if teleopTime >= 0 {
		cfg.Control.TeleopTimeS = teleopTime
	}
	if teleopDisplay {
		cfg.Control.DisplayCameras = true
	}

	rt, err := newEnv(cfg, logger)
	if err != nil {
		return err
	}
	rt.listen()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	rt.serveViewer(ctx)

	_, err = teleoperate(ctx, rt)
	return errors.Join(err, rt.shutdown())
}

// teleoperate runs one unrecorded teleoperation loop.
func teleoperate(ctx context.Context, rt *env) (loop.Result, error) {
	duration := loop.Forever
	if rt.cfg.Control.TeleopTimeS > 0 {
		duration = config.Seconds(rt.cfg.Control.TeleopTimeS)
	}

	res, err := loop.New(loop.Options{
		Config: loop.Config{
			Duration:       duration,
			FPS:            rt.cfg.Control.FPS,
			Teleoperate:    true,
			DisplayCameras: rt.cfg.Control.DisplayCameras,
		},
		Device:      rt.device,
		Flags:       rt.flags,
		Display:     rt.display(),
		Logger:      rt.logger,
		Headless:    rt.headless,
		LogInterval: logInterval(rt.cfg.Log.RateHz),
	}).Run(ctx)
	if err != nil {
		return res, err
	}
	rt.logger.Info("Teleoperation finished",
		"reason", res.Reason.String(), "iterations", res.Iterations, "overruns", res.Overruns)
	return res, nil
}
