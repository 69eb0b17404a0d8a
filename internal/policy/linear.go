package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/emer/etable/etensor"
	"gopkg.in/yaml.v3"

	"github.com/thruflo/botloop/internal/robot"
)

// LinearWeights is the on-disk form of a Linear policy.
type LinearWeights struct {
	// Input is the observation channel fed to the policy. Defaults to the
	// robot state.
	Input   string      `yaml:"input,omitempty"`
	Weights [][]float32 `yaml:"weights"`
	Bias    []float32   `yaml:"bias,omitempty"`
}

// Linear computes action = W·x + b over one observation channel.
type Linear struct {
	input string
	w     [][]float32
	b     []float32
}

// NewLinear validates lw and builds the policy.
func NewLinear(lw LinearWeights) (*Linear, error) {
	if len(lw.Weights) == 0 {
		return nil, fmt.Errorf("linear policy: weights are empty")
	}
	cols := len(lw.Weights[0])
	for i, row := range lw.Weights {
		if len(row) != cols || cols == 0 {
			return nil, fmt.Errorf("linear policy: row %d has %d columns, want %d", i, len(row), cols)
		}
	}
	bias := lw.Bias
	if bias == nil {
		bias = make([]float32, len(lw.Weights))
	}
	if len(bias) != len(lw.Weights) {
		return nil, fmt.Errorf("linear policy: bias has %d values, want %d", len(bias), len(lw.Weights))
	}
	input := lw.Input
	if input == "" {
		input = robot.StateKey
	}
	return &Linear{input: input, w: lw.Weights, b: bias}, nil
}

// LoadLinear reads a Linear policy from a YAML weights file.
func LoadLinear(path string) (*Linear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	var lw LinearWeights
	if err := yaml.Unmarshal(data, &lw); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return NewLinear(lw)
}

// Identity returns a Linear policy that echoes an n-dimensional state.
func Identity(n int) *Linear {
	w := make([][]float32, n)
	for i := range w {
		w[i] = make([]float32, n)
		w[i][i] = 1
	}
	return &Linear{input: robot.StateKey, w: w, b: make([]float32, n)}
}

// SelectAction implements Policy. The input channel must be shaped
// [batch, in]; the result is float32 [batch, out].
func (l *Linear) SelectAction(ctx context.Context, batch map[string]etensor.Tensor) (etensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, ok := batch[l.input]
	if !ok {
		return nil, fmt.Errorf("linear policy: batch has no %q channel", l.input)
	}
	shape := x.Shapes()
	in := len(l.w[0])
	if len(shape) != 2 || shape[1] != in {
		return nil, fmt.Errorf("linear policy: input shape %v, want [batch %d]", shape, in)
	}

	rows, out := shape[0], len(l.w)
	y := etensor.NewFloat32([]int{rows, out}, nil, nil)
	for r := range rows {
		for o, weights := range l.w {
			sum := l.b[o]
			for i, w := range weights {
				sum += w * float32(x.FloatVal1D(r*in+i))
			}
			y.Values[r*out+o] = sum
		}
	}
	return y, nil
}
