package synth

import (
	"math"
	"math/rand/v2"

	"github.com/hpungsan/tabsynth/internal/nn"
	"github.com/hpungsan/tabsynth/internal/tensor"
	"github.com/hpungsan/tabsynth/internal/transform"
)

// activate applies the per-span output activations to raw generator logits. Scalar spans
// get tanh. Softmax spans get a Gumbel-softmax relaxation with temperature tau in Train
// mode and a hard one-hot of the Gumbel arg-max in Eval mode, so inference draws
// categories with the same probabilities the relaxation was trained on.
func activate(raw *tensor.Tensor, spans []transform.Span, mode nn.Mode, tau float64, rng *rand.Rand) *tensor.Tensor {
	parts := make([]*tensor.Tensor, 0, len(spans))
	start := 0
	for _, s := range spans {
		end := start + s.Dim
		logits := tensor.SliceCols(raw, start, end)
		switch s.Activation {
		case transform.Tanh:
			parts = append(parts, tensor.Tanh(logits))
		case transform.Softmax:
			noise := gumbel(len(logits.Data), rng)
			if mode == nn.Eval {
				parts = append(parts, hardArgmax(logits, noise))
			} else {
				parts = append(parts, tensor.Softmax(tensor.Scale(tensor.AddConst(logits, noise), 1/tau)))
			}
		}
		start = end
	}
	return tensor.ConcatCols(parts...)
}

// gumbel draws n samples of -log(-log(U)).
func gumbel(n int, rng *rand.Rand) []float64 {
	g := make([]float64, n)
	for i := range g {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		g[i] = -math.Log(-math.Log(u))
	}
	return g
}

// hardArgmax returns a constant one-hot of the row-wise arg-max of logits+noise.
func hardArgmax(logits *tensor.Tensor, noise []float64) *tensor.Tensor {
	out := tensor.Zeros(logits.Rows, logits.Cols)
	for i := 0; i < logits.Rows; i++ {
		best := 0
		for j := 1; j < logits.Cols; j++ {
			k := i*logits.Cols + j
			if logits.Data[k]+noise[k] > logits.Data[i*logits.Cols+best]+noise[i*logits.Cols+best] {
				best = j
			}
		}
		out.Data[i*logits.Cols+best] = 1
	}
	return out
}
