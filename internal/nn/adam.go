package nn

import (
	"math"

	"github.com/hpungsan/tabsynth/internal/tensor"
)

// Adam implements the Adam optimizer with L2 weight decay folded into the gradient.
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	params []*tensor.Tensor
	m, v   [][]float64
	t      int
}

// NewAdam creates an optimizer over params.
func NewAdam(params []*tensor.Tensor, lr, beta1, beta2, weightDecay float64) *Adam {
	o := &Adam{LR: lr, Beta1: beta1, Beta2: beta2, Eps: 1e-8, WeightDecay: weightDecay, params: params}
	o.m = make([][]float64, len(params))
	o.v = make([][]float64, len(params))
	for i, p := range params {
		o.m[i] = make([]float64, len(p.Data))
		o.v[i] = make([]float64, len(p.Data))
	}
	return o
}

// ZeroGrad clears the gradients of every parameter.
func (o *Adam) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}

// Step applies one update from the accumulated gradients. Parameters without a
// gradient are skipped.
func (o *Adam) Step() {
	o.t++
	c1 := 1 - math.Pow(o.Beta1, float64(o.t))
	c2 := 1 - math.Pow(o.Beta2, float64(o.t))
	for i, p := range o.params {
		if p.Grad == nil {
			continue
		}
		m, v := o.m[i], o.v[i]
		for j := range p.Data {
			g := p.Grad[j] + o.WeightDecay*p.Data[j]
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*g
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*g*g
			p.Data[j] -= o.LR * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.Eps)
		}
	}
}

// Steps returns how many updates have been applied.
func (o *Adam) Steps() int { return o.t }
