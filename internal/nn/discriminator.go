package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/hpungsan/tabsynth/internal/tensor"
)

const (
	leakySlope  = 0.2
	dropoutRate = 0.5
)

// Discriminator is the PacGAN critic: it scores groups of Pac consecutive rows
// concatenated along the feature axis.
type Discriminator struct {
	InputDim int
	Pac      int
	Dims     []int
	Hidden   []*Linear
	Out      *Linear
}

// NewDiscriminator builds a critic over rows of inputDim features.
func NewDiscriminator(inputDim int, dims []int, pac int, rng *rand.Rand) *Discriminator {
	d := &Discriminator{InputDim: inputDim, Pac: pac, Dims: append([]int(nil), dims...)}
	dim := inputDim * pac
	for _, h := range dims {
		d.Hidden = append(d.Hidden, NewLinear(dim, h, rng))
		dim = h
	}
	d.Out = NewLinear(dim, 1, rng)
	return d
}

// Forward scores x (batch x InputDim). The batch must be divisible by Pac; the result
// has one row per group.
func (d *Discriminator) Forward(x *tensor.Tensor, mode Mode, rng *rand.Rand) *tensor.Tensor {
	if x.Cols != d.InputDim {
		panic(fmt.Sprintf("nn: critic input has %d columns, want %d", x.Cols, d.InputDim))
	}
	if x.Rows%d.Pac != 0 {
		panic(fmt.Sprintf("nn: batch of %d rows is not divisible by pac %d", x.Rows, d.Pac))
	}
	h := tensor.Reshape(x, x.Rows/d.Pac, x.Cols*d.Pac)
	for _, l := range d.Hidden {
		h = Dropout(tensor.LeakyReLU(l.Forward(h), leakySlope), dropoutRate, mode, rng)
	}
	return d.Out.Forward(h)
}

// GradientPenalty returns lambda * mean((||grad critic(interp)||_2 - 1)^2), where interp
// mixes real and fake rows with one uniform coefficient per contiguous pac group and the
// norm is taken over each group's concatenated features. The result is differentiable
// with respect to the critic's parameters.
func (d *Discriminator) GradientPenalty(real, fake *tensor.Tensor, lambda float64, rng *rand.Rand) *tensor.Tensor {
	if real.Rows != fake.Rows || real.Cols != fake.Cols {
		panic("nn: gradient penalty needs equally shaped batches")
	}
	groups := real.Rows / d.Pac
	interp := make([]float64, len(real.Data))
	for g := 0; g < groups; g++ {
		alpha := rng.Float64()
		lo, hi := g*d.Pac*real.Cols, (g+1)*d.Pac*real.Cols
		for i := lo; i < hi; i++ {
			interp[i] = alpha*real.Data[i] + (1-alpha)*fake.Data[i]
		}
	}
	x := tensor.Leaf(real.Rows, real.Cols, interp)

	scores := d.Forward(x, Train, rng)
	grad := tensor.Grad(tensor.Sum(scores), []*tensor.Tensor{x}, true)[0]
	grouped := tensor.Reshape(grad, groups, d.Pac*real.Cols)
	norm := tensor.Sqrt(tensor.AddScalar(tensor.SumCols(tensor.Square(grouped)), 1e-12))
	return tensor.Scale(tensor.Mean(tensor.Square(tensor.AddScalar(norm, -1))), lambda)
}

// Params returns all trainable parameters in a stable order.
func (d *Discriminator) Params() []*tensor.Tensor {
	var ps []*tensor.Tensor
	for _, l := range d.Hidden {
		ps = append(ps, l.Params()...)
	}
	return append(ps, d.Out.Params()...)
}

// Buffers returns nil; the critic has no running statistics.
func (d *Discriminator) Buffers() [][]float64 { return nil }
