package nn

import (
	"fmt"
	"math/rand/v2"
)

// Snapshot is a deep copy of a module's parameters and buffers.
type Snapshot struct {
	Params  [][]float64 `json:"params"`
	Buffers [][]float64 `json:"buffers,omitempty"`
}

// Capture copies the current values of m.
func Capture(m Module) Snapshot {
	var s Snapshot
	for _, p := range m.Params() {
		s.Params = append(s.Params, append([]float64(nil), p.Data...))
	}
	for _, b := range m.Buffers() {
		s.Buffers = append(s.Buffers, append([]float64(nil), b...))
	}
	return s
}

// Restore writes s back into m in place. Shapes must match.
func Restore(m Module, s Snapshot) error {
	params := m.Params()
	if len(params) != len(s.Params) {
		return fmt.Errorf("nn: snapshot has %d parameters, module has %d", len(s.Params), len(params))
	}
	for i, p := range params {
		if len(p.Data) != len(s.Params[i]) {
			return fmt.Errorf("nn: parameter %d has %d values, snapshot has %d", i, len(p.Data), len(s.Params[i]))
		}
	}
	bufs := m.Buffers()
	if len(bufs) != len(s.Buffers) {
		return fmt.Errorf("nn: snapshot has %d buffers, module has %d", len(s.Buffers), len(bufs))
	}
	for i, b := range bufs {
		if len(b) != len(s.Buffers[i]) {
			return fmt.Errorf("nn: buffer %d has %d values, snapshot has %d", i, len(b), len(s.Buffers[i]))
		}
	}
	for i, p := range params {
		copy(p.Data, s.Params[i])
	}
	for i, b := range bufs {
		copy(b, s.Buffers[i])
	}
	return nil
}

// GeneratorState is the persisted form of a Generator.
type GeneratorState struct {
	InputDim int   `json:"input_dim"`
	DataDim  int   `json:"data_dim"`
	Dims     []int `json:"dims"`
	Snapshot
}

// State exports the generator.
func (g *Generator) State() GeneratorState {
	return GeneratorState{InputDim: g.InputDim, DataDim: g.DataDim, Dims: append([]int(nil), g.Dims...), Snapshot: Capture(g)}
}

// GeneratorFromState rebuilds a generator from its persisted form.
func GeneratorFromState(s GeneratorState) (*Generator, error) {
	// Initialization values are overwritten by Restore.
	g := NewGenerator(s.InputDim, s.Dims, s.DataDim, rand.New(rand.NewPCG(0, 0)))
	if err := Restore(g, s.Snapshot); err != nil {
		return nil, err
	}
	return g, nil
}
