// Package tensor implements dense row-major 2-D tensors with reverse-mode automatic
// differentiation.
//
// Every backward rule is itself written with tensor operations, so gradients can be taken
// with createGraph=true and differentiated again. The critic's gradient penalty needs this.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a rows x cols matrix of float64 stored row-major.
type Tensor struct {
	Rows, Cols int
	Data       []float64

	// Grad is accumulated by Backward for leaf tensors that require gradients.
	Grad []float64

	requiresGrad bool
	parents      []*Tensor
	backward     backwardFunc
}

// backwardFunc maps the gradient of the output to one gradient per parent (nil = none).
type backwardFunc func(g *Tensor, create bool) []*Tensor

// New wraps data as a constant tensor. data is used without copying.
func New(rows, cols int, data []float64) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: %d values for shape %dx%d", len(data), rows, cols))
	}
	return &Tensor{Rows: rows, Cols: cols, Data: data}
}

// Zeros returns a constant zero tensor.
func Zeros(rows, cols int) *Tensor {
	return New(rows, cols, make([]float64, rows*cols))
}

// Full returns a constant tensor filled with v.
func Full(rows, cols int, v float64) *Tensor {
	t := Zeros(rows, cols)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Scalar returns a constant 1x1 tensor.
func Scalar(v float64) *Tensor { return New(1, 1, []float64{v}) }

// Leaf wraps data as a tensor that requires gradients. Parameters and inputs that
// gradients are taken with respect to are leaves.
func Leaf(rows, cols int, data []float64) *Tensor {
	t := New(rows, cols, data)
	t.requiresGrad = true
	return t
}

// RequiresGrad reports whether gradients flow into t.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// IsLeaf reports whether t requires gradients and was not produced by an operation.
func (t *Tensor) IsLeaf() bool { return t.requiresGrad && t.backward == nil }

// Detach returns a constant tensor sharing t's data.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{Rows: t.Rows, Cols: t.Cols, Data: t.Data}
}

// Clone returns a constant deep copy.
func (t *Tensor) Clone() *Tensor {
	d := make([]float64, len(t.Data))
	copy(d, t.Data)
	return New(t.Rows, t.Cols, d)
}

// At returns element (i, j).
func (t *Tensor) At(i, j int) float64 { return t.Data[i*t.Cols+j] }

// Row returns a view of row i.
func (t *Tensor) Row(i int) []float64 { return t.Data[i*t.Cols : (i+1)*t.Cols] }

// Item returns the single value of a 1x1 tensor.
func (t *Tensor) Item() float64 {
	if len(t.Data) != 1 {
		panic(fmt.Sprintf("tensor: Item on %dx%d tensor", t.Rows, t.Cols))
	}
	return t.Data[0]
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	for i := range t.Grad {
		t.Grad[i] = 0
	}
}

// IsFinite reports whether every element is finite.
func (t *Tensor) IsFinite() bool {
	for _, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// String renders the shape, for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%dx%d, grad=%v)", t.Rows, t.Cols, t.requiresGrad)
}

// result builds an op output; the graph is recorded only if some parent requires grad.
func result(rows, cols int, data []float64, parents []*Tensor, bw backwardFunc) *Tensor {
	t := New(rows, cols, data)
	for _, p := range parents {
		if p.requiresGrad {
			t.requiresGrad = true
			t.parents = parents
			t.backward = bw
			break
		}
	}
	return t
}

// keep returns x for use inside a backward rule: the tensor itself when building a
// higher-order graph, otherwise a detached view so no graph is recorded.
func keep(x *Tensor, create bool) *Tensor {
	if create {
		return x
	}
	return x.Detach()
}

func sameShape(op string, a, b *Tensor) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("tensor: %s shape mismatch %dx%d vs %dx%d", op, a.Rows, a.Cols, b.Rows, b.Cols))
	}
}
