package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thruflo/botloop/internal/config"
	"github.com/thruflo/botloop/internal/dataset"
	"github.com/thruflo/botloop/internal/loop"
	"github.com/thruflo/botloop/internal/robot"
)

var (
	recordRepoID      string
	recordRoot        string
	recordEpisodes    int
	recordFPS         int
	recordResume      bool
	recordPolicy      string
	recordCompression string
	recordDisplay     bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record episodes into a local dataset",
	Long: `Runs a warm-up phase and then records episodes, with a reset phase
between them. The device is teleoperated unless a policy is configured, in
which case the dataset name must begin with "eval_".

Keys: right arrow ends the current phase, left arrow re-records the current
episode, escape saves the current episode and stops.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordRepoID, "repo-id", "", "dataset id <owner>/<name> (default record.repo_id)")
	recordCmd.Flags().StringVar(&recordRoot, "root", "", "dataset root directory (default record.root)")
	recordCmd.Flags().IntVarP(&recordEpisodes, "num-episodes", "n", 0, "episodes to record (default record.num_episodes)")
	recordCmd.Flags().IntVar(&recordFPS, "fps", 0, "target frame rate (default control.fps)")
	recordCmd.Flags().BoolVar(&recordResume, "resume", false, "append to an existing dataset")
	recordCmd.Flags().StringVarP(&recordPolicy, "policy", "p", "", "path to policy weights (default policy.path)")
	recordCmd.Flags().StringVar(&recordCompression, "compression", "", "episode compression: none, lz4 or zstd (default record.compression)")
	recordCmd.Flags().BoolVar(&recordDisplay, "display-cameras", false, "show cameras in the web viewer")

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	applyRecordFlags(cfg)
	if err := config.ValidateConfig(cfg); err != nil {
		return err
	}

	rt, err := newEnv(cfg, logger)
	if err != nil {
		return err
	}
	rt.listen()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	rt.serveViewer(ctx)

	saved, err := record(ctx, rt)
	err = errors.Join(err, rt.shutdown())
	if saved > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %d episode(s) to %s\n", saved,
			dataset.Dir(cfg.Record.Root, cfg.Record.RepoID))
	}
	return err
}

func applyRecordFlags(cfg *config.Config) {
	if recordRepoID != "" {
		cfg.Record.RepoID = recordRepoID
	}
	if recordRoot != "" {
		cfg.Record.Root = recordRoot
	}
	if recordEpisodes > 0 {
		cfg.Record.NumEpisodes = recordEpisodes
	}
	if recordFPS > 0 {
		cfg.Control.FPS = recordFPS
	}
	if recordResume {
		cfg.Record.Resume = true
	}
	if recordPolicy != "" {
		cfg.Policy.Path = recordPolicy
	}
	if recordCompression != "" {
		cfg.Record.Compression = recordCompression
	}
	if recordDisplay {
		cfg.Control.DisplayCameras = true
	}
}

// record runs a full recording session and returns the episodes saved.
func record(ctx context.Context, rt *env) (int, error) {
	rc := rt.cfg.Record
	pred, err := loadPredictor(rt.cfg.Policy, rt.logger)
	if err != nil {
		return 0, err
	}
	if err := loop.SanityCheckDatasetName(rc.RepoID, pred != nil); err != nil {
		return 0, err
	}

	ds, err := openDataset(rt, rc)
	if err != nil {
		return 0, err
	}

	return rt.session().RecordEpisodes(ctx, loop.Plan{
		Recorder:    ds,
		FPS:         rt.cfg.Control.FPS,
		UseVideos:   rc.Video,
		WarmupTime:  config.Seconds(rc.WarmupTimeS),
		EpisodeTime: config.Seconds(rc.EpisodeTimeS),
		ResetTime:   config.Seconds(rc.ResetTimeS),
		NumEpisodes: rc.NumEpisodes,
		Predictor:   pred,
		Display:     rt.cfg.Control.DisplayCameras,
	})
}

// openDataset creates the dataset, or opens it when resuming.
func openDataset(rt *env, rc config.RecordConfig) (*dataset.Dataset, error) {
	compression, err := dataset.ParseCompression(rc.Compression)
	if err != nil {
		return nil, err
	}
	opts := dataset.Options{
		Compression:        compression,
		ImageWriterWorkers: rc.ImageWriterWorkers,
		Logger:             rt.logger.With("component", "dataset"),
	}

	if rc.Resume {
		ds, err := dataset.Open(rc.Root, rc.RepoID, opts)
		if err != nil {
			return nil, err
		}
		rt.logger.Info("Resuming dataset", "repo_id", rc.RepoID, "episodes", ds.NumEpisodes())
		return ds, nil
	}
	return dataset.Create(rc.Root, rc.RepoID, robot.SchemaOf(rt.device, rt.cfg.Control.FPS, rc.Video), opts)
}
