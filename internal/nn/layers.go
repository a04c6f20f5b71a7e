// Package nn provides the layers, networks and optimizer used by the synthesizer.
package nn

import (
	"math"
	"math/rand/v2"

	"github.com/hpungsan/tabsynth/internal/tensor"
)

// Mode selects training or inference behavior for mode-dependent layers.
type Mode int

const (
	Train Mode = iota
	Eval
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Eval {
		return "eval"
	}
	return "train"
}

// Module is anything with trainable parameters. Buffers are non-trainable state
// (BatchNorm running statistics) that is persisted and snapshotted with the parameters.
type Module interface {
	Params() []*tensor.Tensor
	Buffers() [][]float64
}

// Linear is a fully connected layer computing x @ W + b, with W stored in x out.
type Linear struct {
	W *tensor.Tensor
	B *tensor.Tensor
}

// NewLinear initializes weights and bias uniformly in ±1/sqrt(in).
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	bound := 1 / math.Sqrt(float64(in))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * bound
	}
	b := make([]float64, out)
	for i := range b {
		b[i] = (2*rng.Float64() - 1) * bound
	}
	return &Linear{W: tensor.Leaf(in, out, w), B: tensor.Leaf(1, out, b)}
}

// In returns the input width.
func (l *Linear) In() int { return l.W.Rows }

// Out returns the output width.
func (l *Linear) Out() int { return l.W.Cols }

// Forward applies the layer.
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.AddRow(tensor.MatMul(x, l.W), l.B)
}

// Params returns W and b.
func (l *Linear) Params() []*tensor.Tensor { return []*tensor.Tensor{l.W, l.B} }

// BatchNorm normalizes each feature over the batch.
type BatchNorm struct {
	Gamma       *tensor.Tensor
	Beta        *tensor.Tensor
	RunningMean []float64
	RunningVar  []float64
	Momentum    float64
	Eps         float64
}

// NewBatchNorm creates a BatchNorm over dim features.
func NewBatchNorm(dim int) *BatchNorm {
	gamma := make([]float64, dim)
	runVar := make([]float64, dim)
	for i := range gamma {
		gamma[i] = 1
		runVar[i] = 1
	}
	return &BatchNorm{
		Gamma:       tensor.Leaf(1, dim, gamma),
		Beta:        tensor.Leaf(1, dim, make([]float64, dim)),
		RunningMean: make([]float64, dim),
		RunningVar:  runVar,
		Momentum:    0.1,
		Eps:         1e-5,
	}
}

// Forward normalizes x. Train mode uses batch statistics and updates the running
// estimates. Eval mode also uses batch statistics, the way the generator was trained
// adversarially, except for single-row batches, which fall back to the running estimates.
func (bn *BatchNorm) Forward(x *tensor.Tensor, mode Mode) *tensor.Tensor {
	n := x.Rows
	if mode == Eval && n < 2 {
		scale := make([]float64, x.Cols)
		shift := make([]float64, x.Cols)
		for j := range scale {
			scale[j] = 1 / math.Sqrt(bn.RunningVar[j]+bn.Eps)
			shift[j] = -bn.RunningMean[j] * scale[j]
		}
		norm := tensor.AddRow(tensor.MulRow(x, tensor.New(1, x.Cols, scale)), tensor.New(1, x.Cols, shift))
		return tensor.AddRow(tensor.MulRow(norm, bn.Gamma), bn.Beta)
	}

	mean := tensor.Scale(tensor.SumRows(x), 1/float64(n))
	centered := tensor.Sub(x, tensor.BroadcastRows(mean, n))
	variance := tensor.Scale(tensor.SumRows(tensor.Square(centered)), 1/float64(n))
	inv := tensor.Pow(tensor.AddScalar(variance, bn.Eps), -0.5)
	norm := tensor.MulRow(centered, inv)

	if mode == Train {
		unbias := 1.0
		if n > 1 {
			unbias = float64(n) / float64(n-1)
		}
		for j := range bn.RunningMean {
			bn.RunningMean[j] = (1-bn.Momentum)*bn.RunningMean[j] + bn.Momentum*mean.Data[j]
			bn.RunningVar[j] = (1-bn.Momentum)*bn.RunningVar[j] + bn.Momentum*variance.Data[j]*unbias
		}
	}
	return tensor.AddRow(tensor.MulRow(norm, bn.Gamma), bn.Beta)
}

// Params returns gamma and beta.
func (bn *BatchNorm) Params() []*tensor.Tensor { return []*tensor.Tensor{bn.Gamma, bn.Beta} }

// Buffers returns the running statistics.
func (bn *BatchNorm) Buffers() [][]float64 { return [][]float64{bn.RunningMean, bn.RunningVar} }

// Dropout zeroes each element with probability p in Train mode and rescales the rest.
func Dropout(x *tensor.Tensor, p float64, mode Mode, rng *rand.Rand) *tensor.Tensor {
	if mode != Train || p <= 0 {
		return x
	}
	mask := make([]float64, len(x.Data))
	keep := 1 / (1 - p)
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = keep
		}
	}
	return tensor.MulConst(x, mask)
}

// Residual is a generator block: out = [ReLU(BN(FC(x))), x].
type Residual struct {
	FC *Linear
	BN *BatchNorm
}

// NewResidual creates a block mapping in features to in+out features.
func NewResidual(in, out int, rng *rand.Rand) *Residual {
	return &Residual{FC: NewLinear(in, out, rng), BN: NewBatchNorm(out)}
}

// Forward applies the block.
func (r *Residual) Forward(x *tensor.Tensor, mode Mode) *tensor.Tensor {
	h := tensor.ReLU(r.BN.Forward(r.FC.Forward(x), mode))
	return tensor.ConcatCols(h, x)
}

// Params returns the block's parameters.
func (r *Residual) Params() []*tensor.Tensor {
	return append(r.FC.Params(), r.BN.Params()...)
}
