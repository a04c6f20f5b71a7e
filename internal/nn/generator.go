package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/hpungsan/tabsynth/internal/tensor"
)

// Generator maps [noise, conditional vector] to raw logits of a transformed row.
type Generator struct {
	InputDim int
	DataDim  int
	Dims     []int
	Blocks   []*Residual
	Out      *Linear
}

// NewGenerator builds a residual generator with one block per entry of dims.
func NewGenerator(inputDim int, dims []int, dataDim int, rng *rand.Rand) *Generator {
	g := &Generator{InputDim: inputDim, DataDim: dataDim, Dims: append([]int(nil), dims...)}
	dim := inputDim
	for _, d := range dims {
		g.Blocks = append(g.Blocks, NewResidual(dim, d, rng))
		dim += d
	}
	g.Out = NewLinear(dim, dataDim, rng)
	return g
}

// Forward returns raw logits; activations are applied by the caller per column block.
func (g *Generator) Forward(x *tensor.Tensor, mode Mode) *tensor.Tensor {
	if x.Cols != g.InputDim {
		panic(fmt.Sprintf("nn: generator input has %d columns, want %d", x.Cols, g.InputDim))
	}
	h := x
	for _, b := range g.Blocks {
		h = b.Forward(h, mode)
	}
	return g.Out.Forward(h)
}

// Params returns all trainable parameters in a stable order.
func (g *Generator) Params() []*tensor.Tensor {
	var ps []*tensor.Tensor
	for _, b := range g.Blocks {
		ps = append(ps, b.Params()...)
	}
	return append(ps, g.Out.Params()...)
}

// Buffers returns the BatchNorm running statistics in a stable order.
func (g *Generator) Buffers() [][]float64 {
	var bs [][]float64
	for _, b := range g.Blocks {
		bs = append(bs, b.BN.Buffers()...)
	}
	return bs
}
