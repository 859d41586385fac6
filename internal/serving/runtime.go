// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package serving

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/goccy/go-json"
)

// Features is the numeric input of one prediction.
type Features map[string]float64

// Output is the numeric result of one prediction. Scoring models put the
// score in element 0.
type Output []float64

// Score returns element 0, or 0 for an empty output.
func (o Output) Score() float64 {
	if len(o) == 0 {
		return 0
	}
	return o[0]
}

// Runtime executes a loaded model artifact.
// BatchPredict must return exactly one output per input, in input order.
type Runtime interface {
	Load(ctx context.Context, path string) error
	BatchPredict(ctx context.Context, inputs []Features) ([]Output, error)
}

// Describer is implemented by runtimes whose artifact carries its own metadata.
type Describer interface {
	Describe() Info
}

// Activation names supported by LinearRuntime.
const (
	ActivationSigmoid  = "sigmoid"
	ActivationIdentity = "identity"
)

// linearArtifact is the on-disk JSON format of a linear scoring model.
type linearArtifact struct {
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	InputShape  []int              `json:"input_shape"`
	OutputShape []int              `json:"output_shape"`
	Bias        float64            `json:"bias"`
	Weights     map[string]float64 `json:"weights"`
	Activation  string             `json:"activation"`
}

// LinearRuntime scores feature maps with a logistic or linear model:
// activation(bias + sum(weight[f] * x[f])). Unknown features weigh 0.
type LinearRuntime struct {
	mu       sync.RWMutex
	artifact *linearArtifact
}

// NewLinearRuntime creates an unloaded linear runtime.
func NewLinearRuntime() *LinearRuntime {
	return &LinearRuntime{}
}

// Load reads and validates the JSON artifact at path.
func (r *LinearRuntime) Load(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrModelLoad, path, err)
	}
	art, err := parseLinearArtifact(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrModelLoad, path, err)
	}

	r.mu.Lock()
	r.artifact = art
	r.mu.Unlock()
	return nil
}

func parseLinearArtifact(data []byte) (*linearArtifact, error) {
	var art linearArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if len(art.Weights) == 0 {
		return nil, fmt.Errorf("artifact has no weights")
	}
	switch art.Activation {
	case "":
		art.Activation = ActivationSigmoid
	case ActivationSigmoid, ActivationIdentity:
	default:
		return nil, fmt.Errorf("unknown activation %q", art.Activation)
	}
	for name, w := range art.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight %q is not finite", name)
		}
	}
	return &art, nil
}

// BatchPredict scores every input.
func (r *LinearRuntime) BatchPredict(ctx context.Context, inputs []Features) ([]Output, error) {
	r.mu.RLock()
	art := r.artifact
	r.mu.RUnlock()
	if art == nil {
		return nil, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputs := make([]Output, len(inputs))
	for i, in := range inputs {
		z := art.Bias
		for name, x := range in {
			z += art.Weights[name] * x
		}
		if art.Activation == ActivationSigmoid {
			z = 1 / (1 + math.Exp(-z))
		}
		if math.IsNaN(z) {
			return nil, fmt.Errorf("input %d produced NaN", i)
		}
		outputs[i] = Output{z}
	}
	return outputs, nil
}

// Describe returns the metadata recorded in the artifact.
func (r *LinearRuntime) Describe() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.artifact == nil {
		return Info{}
	}
	return Info{
		Name:        r.artifact.Name,
		Version:     r.artifact.Version,
		InputShape:  r.artifact.InputShape,
		OutputShape: r.artifact.OutputShape,
	}
}

// PredictFunc scores one input.
type PredictFunc func(ctx context.Context, in Features) (Output, error)

// FuncRuntime adapts a Go function into a Runtime. Load succeeds without
// reading anything unless LoadFunc is set.
type FuncRuntime struct {
	LoadFunc    func(ctx context.Context, path string) error
	PredictFunc PredictFunc
}

// Load calls LoadFunc when set.
func (r *FuncRuntime) Load(ctx context.Context, path string) error {
	if r.PredictFunc == nil {
		return fmt.Errorf("%w: no predict function", ErrModelLoad)
	}
	if r.LoadFunc == nil {
		return nil
	}
	if err := r.LoadFunc(ctx, path); err != nil {
		return fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return nil
}

// BatchPredict applies PredictFunc to every input; the first error fails the batch.
func (r *FuncRuntime) BatchPredict(ctx context.Context, inputs []Features) ([]Output, error) {
	outputs := make([]Output, len(inputs))
	for i, in := range inputs {
		out, err := r.PredictFunc(ctx, in)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}
	return outputs, nil
}
