package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thruflo/botloop/internal/dataset"
	"github.com/thruflo/botloop/internal/loop"
)

var (
	replayRepoID  string
	replayRoot    string
	replayEpisode int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send the actions of a recorded episode to the device",
	Long: `Replays the recorded actions of one episode at the dataset's frame
rate. The device type must match the one the dataset was recorded with.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayRepoID, "repo-id", "", "dataset id <owner>/<name> (default record.repo_id)")
	replayCmd.Flags().StringVar(&replayRoot, "root", "", "dataset root directory (default record.root)")
	replayCmd.Flags().IntVarP(&replayEpisode, "episode", "e", 0, "episode index to replay")

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if replayRepoID != "" {
		cfg.Record.RepoID = replayRepoID
	}
	if replayRoot != "" {
		cfg.Record.Root = replayRoot
	}

	ds, err := dataset.Open(cfg.Record.Root, cfg.Record.RepoID, dataset.Options{Logger: logger})
	if err != nil {
		return err
	}

	rt, err := newEnv(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	n, err := replay(ctx, rt, ds, replayEpisode, loop.SystemClock{})
	err = errors.Join(err, rt.shutdown())
	fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d frame(s) of episode %d\n", n, replayEpisode)
	return err
}

// replay sends every recorded action of episode to the device, paced at
// the dataset frame rate. It returns the number of frames sent.
func replay(ctx context.Context, rt *env, ds *dataset.Dataset, episode int, clock loop.Clock) (int, error) {
	if ds.RobotType() != rt.device.Type() {
		return 0, fmt.Errorf("dataset was recorded with a %s device, not %s", ds.RobotType(), rt.device.Type())
	}
	ep, err := ds.LoadEpisode(episode)
	if err != nil {
		return 0, err
	}

	if !rt.device.IsConnected() {
		if err := rt.device.Connect(ctx); err != nil {
			return 0, fmt.Errorf("connect %s device: %w", rt.device.Type(), err)
		}
	}

	rt.logger.Info("Replaying episode", "episode", ep.Index, "frames", len(ep.Frames), "fps", ds.FPS())
	gov := loop.NewGovernor(ds.FPS(), clock)
	sent := 0
	for _, rec := range ep.Frames {
		if ctx.Err() != nil {
			return sent, nil
		}
		start := clock.Now()
		if _, err := rt.device.SendAction(ctx, rec.Action()); err != nil {
			return sent, fmt.Errorf("send action of frame %d: %w", rec.FrameIndex, err)
		}
		sent++
		gov.Wait(clock.Now().Sub(start))
	}
	return sent, nil
}
