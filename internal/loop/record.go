package loop

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Plan describes a multi-episode recording session.
type Plan struct {
	Recorder    EpisodeRecorder
	FPS         int
	UseVideos   bool
	WarmupTime  time.Duration
	EpisodeTime time.Duration
	ResetTime   time.Duration
	NumEpisodes int
	// Predictor drives the device autonomously. Nil means teleoperation.
	Predictor Predictor
	Display   bool
}

// RecordEpisodes runs warm-up and then records Plan.NumEpisodes episodes,
// with a reset between them. A rerecord request discards the current
// episode and repeats it; a stop request saves the current episode and
// ends the session. It returns the number of episodes saved.
func (s *Session) RecordEpisodes(ctx context.Context, p Plan) (int, error) {
	if err := s.PrepareRecording(p.Recorder, p.FPS, p.UseVideos); err != nil {
		return 0, err
	}

	if _, err := s.Warmup(ctx, p.WarmupTime, p.FPS, p.Predictor == nil, p.Display); err != nil {
		return 0, fmt.Errorf("warmup: %w", err)
	}

	log := s.logger()
	saved := 0
	for saved < p.NumEpisodes {
		if ctx.Err() != nil {
			return saved, ctx.Err()
		}

		log.Info("Recording episode", "episode", p.Recorder.NumEpisodes())
		res, err := s.RecordEpisode(ctx, p.Recorder, p.EpisodeTime, p.FPS, p.Predictor, p.Display)
		if err != nil {
			return saved, fmt.Errorf("record episode %d: %w", p.Recorder.NumEpisodes(), err)
		}
		if res.Reason == ExitReasonCancelled {
			return saved, ctx.Err()
		}

		stopping := s.Flags.StopRecording()
		if !stopping && (saved < p.NumEpisodes-1 || s.Flags.RerecordEpisode()) {
			if _, err := s.Reset(ctx, p.ResetTime); err != nil {
				return saved, err
			}
		}

		if s.Flags.RerecordEpisode() {
			log.Info("Re-record episode", "episode", p.Recorder.NumEpisodes())
			s.Flags.ClearRerecord()
			s.Flags.ConsumeExitEarly()
			if err := p.Recorder.ClearEpisodeBuffer(); err != nil {
				return saved, fmt.Errorf("clear episode buffer: %w", err)
			}
			continue
		}

		if err := p.Recorder.SaveEpisode(); err != nil {
			return saved, fmt.Errorf("save episode: %w", err)
		}
		saved++

		// Stop may also be requested during the reset.
		if s.Flags.StopRecording() {
			break
		}
	}

	log.Info("Stop recording", "saved", saved)
	return saved, nil
}

// EvalPrefix marks datasets recorded from a policy.
const EvalPrefix = "eval_"

// SanityCheckDatasetName requires the dataset name of repoID to start
// with EvalPrefix exactly when a policy is used.
func SanityCheckDatasetName(repoID string, hasPolicy bool) error {
	_, name, ok := strings.Cut(repoID, "/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("repo id %q must have the form <owner>/<name>", repoID)
	}
	isEval := strings.HasPrefix(name, EvalPrefix)
	switch {
	case isEval && !hasPolicy:
		return fmt.Errorf("dataset name begins with %q (%s), but no policy is provided", EvalPrefix, name)
	case !isEval && hasPolicy:
		return fmt.Errorf("dataset name does not begin with %q (%s), but a policy is provided", EvalPrefix, name)
	}
	return nil
}
