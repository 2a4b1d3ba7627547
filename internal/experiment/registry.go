package experiment

import (
	"fmt"
	"slices"

	"github.com/san-kum/rxsim/internal/dynamo"
	"github.com/san-kum/rxsim/internal/metrics"
	"github.com/san-kum/rxsim/internal/models"
)

const DefaultChainSize = 20

// Registry maps model names to constructors. It holds no mutable model
// state; every lookup builds a fresh model.
type Registry struct {
	models map[string]func(size int) dynamo.Model
}

func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]func(int) dynamo.Model)}

	r.models["decay"] = func(int) dynamo.Model { return models.NewDecay() }
	r.models["conversion"] = func(int) dynamo.Model { return models.NewConversion() }
	r.models["robertson"] = func(int) dynamo.Model { return models.NewRobertson() }
	r.models["robertson-dae"] = func(int) dynamo.Model { return models.NewRobertsonDAE() }
	r.models["sawtooth"] = func(int) dynamo.Model { return models.NewSawtooth() }
	r.models["nanwall"] = func(int) dynamo.Model { return models.NewNanWall() }
	r.models["rotator"] = func(int) dynamo.Model { return models.NewRotator() }
	r.models["enzyme"] = func(int) dynamo.Model { return models.NewEnzyme() }
	r.models["dosing"] = func(int) dynamo.Model { return models.NewDosing() }
	r.models["chain"] = func(size int) dynamo.Model {
		if size <= 0 {
			size = DefaultChainSize
		}
		return models.NewChain(size)
	}

	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, fn func(size int) dynamo.Model) {
	r.models[name] = fn
}

// GetModel builds the named model. size only matters for models of
// variable dimension.
func (r *Registry) GetModel(name string, size int) (dynamo.Model, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return fn(size), nil
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Nominal returns the model's representative parameters, or ones.
func Nominal(m dynamo.Model) []float64 {
	if n, ok := m.(models.Nominal); ok {
		return n.NominalParameters()
	}
	p := make([]float64, m.Dims().NP)
	for i := range p {
		p[i] = 1
	}
	return p
}

// Describe returns the model's names, filling in generic ones.
func Describe(name string, m dynamo.Model) dynamo.Info {
	if d, ok := m.(dynamo.Describer); ok {
		return d.Info()
	}
	dims := m.Dims()
	info := dynamo.Info{Name: name, States: make([]string, dims.NX), Parameters: make([]string, dims.NP)}
	for i := range info.States {
		info.States[i] = fmt.Sprintf("x%d", i)
	}
	for i := range info.Parameters {
		info.Parameters[i] = fmt.Sprintf("p%d", i)
	}
	return info
}

// DefaultMetrics are attached to every experiment run.
func (r *Registry) DefaultMetrics(name string, m dynamo.Model) []metrics.Metric {
	return metrics.ForStates(Describe(name, m).States)
}
