package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/emer/etable/etensor"

	"github.com/thruflo/botloop/internal/robot"
)

// Policy maps a batched observation to a batched action.
type Policy interface {
	SelectAction(ctx context.Context, batch map[string]etensor.Tensor) (etensor.Tensor, error)
}

// Predict runs pol on a single observation.
//
// Image channels are converted from uint8 [H, W, C] to float32 [C, H, W]
// in [0, 1], every channel gets a leading batch dimension, and inputs are
// moved to the backend's device. Reduced precision applies only when
// useAMP is set and the backend is CUDA. obs itself is never modified.
func Predict(ctx context.Context, obs robot.Observation, pol Policy, backend Backend, useAMP bool) (robot.Action, error) {
	if pol == nil {
		return nil, errors.New("predict: no policy")
	}
	if backend == nil {
		backend = HostBackend{}
	}
	amp := useAMP && backend.Device() == CUDA

	batch := make(map[string]etensor.Tensor, len(obs))
	for name, t := range obs {
		in, err := prepare(name, t)
		if err != nil {
			return nil, fmt.Errorf("predict: channel %s: %w", name, err)
		}
		in, err = backend.ToDevice(in)
		if err != nil {
			return nil, fmt.Errorf("predict: move %s to %s: %w", name, backend.Device(), err)
		}
		if amp {
			in = roundHalf(in)
		}
		batch[name] = in
	}

	out, err := pol.SelectAction(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("predict: select action: %w", err)
	}
	if out == nil {
		return nil, errors.New("predict: policy returned no action")
	}
	if amp {
		out = roundHalf(out)
	}

	out, err = robot.Squeeze(out)
	if err != nil {
		return nil, fmt.Errorf("predict: remove batch dimension: %w", err)
	}
	out, err = backend.ToHost(out)
	if err != nil {
		return nil, fmt.Errorf("predict: move action to host: %w", err)
	}
	return robot.Action{robot.ActionKey: out}, nil
}

func prepare(name string, t etensor.Tensor) (etensor.Tensor, error) {
	if robot.IsImageKey(name) {
		img, ok := t.(*etensor.Uint8)
		if !ok {
			return nil, fmt.Errorf("image channel must be uint8, got %s", robot.DType(t))
		}
		chw, err := robot.ImageToCHW(img)
		if err != nil {
			return nil, err
		}
		t = chw
	}
	return robot.Unsqueeze(t)
}

// Predictor binds a policy to a backend so it can drive a control loop.
type Predictor struct {
	Policy  Policy
	Backend Backend
	UseAMP  bool
}

// Predict runs the bound policy on obs.
func (p *Predictor) Predict(ctx context.Context, obs robot.Observation) (robot.Action, error) {
	return Predict(ctx, obs, p.Policy, p.Backend, p.UseAMP)
}
