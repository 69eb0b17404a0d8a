package loop

import (
	"context"

	"github.com/emer/etable/etensor"

	"github.com/thruflo/botloop/internal/robot"
)

// Recorder receives the frames of an episode.
type Recorder interface {
	AddFrame(frame robot.Frame) error
	FPS() int
	Features() robot.Features
	RobotType() string
}

// WriterScope is implemented by recorders with a background writer that
// must run for the duration of a loop.
type WriterScope interface {
	StartWriter() error
	StopWriter() error
}

// EpisodeRecorder is a Recorder that buffers an episode until it is saved
// or discarded.
type EpisodeRecorder interface {
	Recorder
	SaveEpisode() error
	ClearEpisodeBuffer() error
	NumEpisodes() int
}

// Predictor computes an action for an observation.
type Predictor interface {
	Predict(ctx context.Context, obs robot.Observation) (robot.Action, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, obs robot.Observation) (robot.Action, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(ctx context.Context, obs robot.Observation) (robot.Action, error) {
	return f(ctx, obs)
}

// Display shows camera images to the operator.
type Display interface {
	Show(name string, img *etensor.Uint8) error
	CloseAll() error
	ColorOrder() robot.ColorOrder
}

// Stopper is a background resource, such as a keyboard listener, that
// must be stopped at shutdown.
type Stopper interface {
	Stop() error
}
