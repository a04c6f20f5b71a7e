package tensor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MatMul returns a @ b.
func MatMul(a, b *Tensor) *Tensor {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("tensor: MatMul %dx%d @ %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := make([]float64, a.Rows*b.Cols)
	if len(out) > 0 && a.Cols > 0 {
		dst := mat.NewDense(a.Rows, b.Cols, out)
		dst.Mul(mat.NewDense(a.Rows, a.Cols, a.Data), mat.NewDense(b.Rows, b.Cols, b.Data))
	}
	return result(a.Rows, b.Cols, out, []*Tensor{a, b}, func(g *Tensor, create bool) []*Tensor {
		return []*Tensor{
			MatMul(g, Transpose(keep(b, create))),
			MatMul(Transpose(keep(a, create)), g),
		}
	})
}

// Transpose returns a^T.
func Transpose(a *Tensor) *Tensor {
	out := make([]float64, len(a.Data))
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			out[j*a.Rows+i] = a.Data[i*a.Cols+j]
		}
	}
	return result(a.Cols, a.Rows, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{Transpose(g)}
	})
}

// Add returns a + b element-wise.
func Add(a, b *Tensor) *Tensor {
	sameShape("Add", a, b)
	out := make([]float64, len(a.Data))
	for i := range out {
		out[i] = a.Data[i] + b.Data[i]
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a, b}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{g, g}
	})
}

// Sub returns a - b element-wise.
func Sub(a, b *Tensor) *Tensor {
	sameShape("Sub", a, b)
	out := make([]float64, len(a.Data))
	for i := range out {
		out[i] = a.Data[i] - b.Data[i]
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a, b}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{g, Scale(g, -1)}
	})
}

// Mul returns a * b element-wise.
func Mul(a, b *Tensor) *Tensor {
	sameShape("Mul", a, b)
	out := make([]float64, len(a.Data))
	for i := range out {
		out[i] = a.Data[i] * b.Data[i]
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a, b}, func(g *Tensor, create bool) []*Tensor {
		return []*Tensor{Mul(g, keep(b, create)), Mul(g, keep(a, create))}
	})
}

// Scale returns s * a.
func Scale(a *Tensor, s float64) *Tensor {
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = s * v
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{Scale(g, s)}
	})
}

// AddScalar returns a + s.
func AddScalar(a *Tensor, s float64) *Tensor {
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = v + s
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{g}
	})
}

// AddConst returns a + c for a constant c of a's shape.
func AddConst(a *Tensor, c []float64) *Tensor {
	if len(c) != len(a.Data) {
		panic("tensor: AddConst length mismatch")
	}
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = v + c[i]
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{g}
	})
}

// MulConst returns a * c for a constant c of a's shape. Masks (ReLU, dropout) use this,
// which keeps their second derivative at zero.
func MulConst(a *Tensor, c []float64) *Tensor {
	if len(c) != len(a.Data) {
		panic("tensor: MulConst length mismatch")
	}
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = v * c[i]
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{MulConst(g, c)}
	})
}

// SumRows sums over rows: (r x c) -> (1 x c).
func SumRows(a *Tensor) *Tensor {
	out := make([]float64, a.Cols)
	for i := 0; i < a.Rows; i++ {
		row := a.Data[i*a.Cols : (i+1)*a.Cols]
		for j, v := range row {
			out[j] += v
		}
	}
	rows := a.Rows
	return result(1, a.Cols, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{BroadcastRows(g, rows)}
	})
}

// BroadcastRows repeats a (1 x c) tensor n times: -> (n x c).
func BroadcastRows(a *Tensor, n int) *Tensor {
	if a.Rows != 1 {
		panic("tensor: BroadcastRows needs a single row")
	}
	out := make([]float64, n*a.Cols)
	for i := 0; i < n; i++ {
		copy(out[i*a.Cols:], a.Data)
	}
	return result(n, a.Cols, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{SumRows(g)}
	})
}

// SumCols sums over columns: (r x c) -> (r x 1).
func SumCols(a *Tensor) *Tensor {
	out := make([]float64, a.Rows)
	for i := 0; i < a.Rows; i++ {
		s := 0.0
		for _, v := range a.Data[i*a.Cols : (i+1)*a.Cols] {
			s += v
		}
		out[i] = s
	}
	cols := a.Cols
	return result(a.Rows, 1, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{BroadcastCols(g, cols)}
	})
}

// BroadcastCols repeats a (r x 1) tensor n times across columns: -> (r x n).
func BroadcastCols(a *Tensor, n int) *Tensor {
	if a.Cols != 1 {
		panic("tensor: BroadcastCols needs a single column")
	}
	out := make([]float64, a.Rows*n)
	for i := 0; i < a.Rows; i++ {
		v := a.Data[i]
		for j := 0; j < n; j++ {
			out[i*n+j] = v
		}
	}
	return result(a.Rows, n, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{SumCols(g)}
	})
}

// AddRow adds a (1 x c) row to every row of a.
func AddRow(a, row *Tensor) *Tensor {
	return Add(a, BroadcastRows(row, a.Rows))
}

// MulRow multiplies every row of a element-wise by a (1 x c) row.
func MulRow(a, row *Tensor) *Tensor {
	return Mul(a, BroadcastRows(row, a.Rows))
}

// Sum returns the sum of all elements as 1x1.
func Sum(a *Tensor) *Tensor { return SumCols(SumRows(a)) }

// Mean returns the mean of all elements as 1x1.
func Mean(a *Tensor) *Tensor { return Scale(Sum(a), 1/float64(len(a.Data))) }

// Pow returns a^p element-wise.
func Pow(a *Tensor, p float64) *Tensor {
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = math.Pow(v, p)
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, create bool) []*Tensor {
		return []*Tensor{Mul(g, Scale(Pow(keep(a, create), p-1), p))}
	})
}

// Square returns a^2 element-wise.
func Square(a *Tensor) *Tensor { return Mul(a, a) }

// Sqrt returns sqrt(a) element-wise.
func Sqrt(a *Tensor) *Tensor { return Pow(a, 0.5) }

// Tanh returns tanh(a) element-wise.
func Tanh(a *Tensor) *Tensor {
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = math.Tanh(v)
	}
	var y *Tensor
	y = result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, create bool) []*Tensor {
		yy := keep(y, create)
		return []*Tensor{Mul(g, AddScalar(Scale(Mul(yy, yy), -1), 1))}
	})
	return y
}

// Exp returns e^a element-wise.
func Exp(a *Tensor) *Tensor {
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = math.Exp(v)
	}
	var y *Tensor
	y = result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, create bool) []*Tensor {
		return []*Tensor{Mul(g, keep(y, create))}
	})
	return y
}

// Log returns ln(a) element-wise.
func Log(a *Tensor) *Tensor {
	out := make([]float64, len(a.Data))
	for i, v := range a.Data {
		out[i] = math.Log(v)
	}
	return result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, create bool) []*Tensor {
		return []*Tensor{Mul(g, Pow(keep(a, create), -1))}
	})
}

// ReLU returns max(a, 0).
func ReLU(a *Tensor) *Tensor { return LeakyReLU(a, 0) }

// LeakyReLU returns a where a > 0, slope*a elsewhere.
func LeakyReLU(a *Tensor, slope float64) *Tensor {
	mask := make([]float64, len(a.Data))
	for i, v := range a.Data {
		if v > 0 {
			mask[i] = 1
		} else {
			mask[i] = slope
		}
	}
	return MulConst(a, mask)
}

// SliceCols returns columns [start, end).
func SliceCols(a *Tensor, start, end int) *Tensor {
	if start < 0 || end > a.Cols || start > end {
		panic(fmt.Sprintf("tensor: SliceCols [%d,%d) of %d columns", start, end, a.Cols))
	}
	w := end - start
	out := make([]float64, a.Rows*w)
	for i := 0; i < a.Rows; i++ {
		copy(out[i*w:(i+1)*w], a.Data[i*a.Cols+start:i*a.Cols+end])
	}
	total := a.Cols
	return result(a.Rows, w, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{PadCols(g, start, total)}
	})
}

// PadCols places a at column offset start inside a zero tensor with total columns.
func PadCols(a *Tensor, start, total int) *Tensor {
	if start < 0 || start+a.Cols > total {
		panic("tensor: PadCols out of range")
	}
	out := make([]float64, a.Rows*total)
	for i := 0; i < a.Rows; i++ {
		copy(out[i*total+start:], a.Data[i*a.Cols:(i+1)*a.Cols])
	}
	w := a.Cols
	return result(a.Rows, total, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{SliceCols(g, start, start+w)}
	})
}

// ConcatCols concatenates tensors with equal row counts along the column axis.
func ConcatCols(ts ...*Tensor) *Tensor {
	if len(ts) == 0 {
		panic("tensor: ConcatCols of nothing")
	}
	rows := ts[0].Rows
	total := 0
	for _, t := range ts {
		if t.Rows != rows {
			panic(fmt.Sprintf("tensor: ConcatCols row mismatch %d vs %d", t.Rows, rows))
		}
		total += t.Cols
	}
	out := make([]float64, rows*total)
	offsets := make([]int, len(ts))
	off := 0
	for k, t := range ts {
		offsets[k] = off
		for i := 0; i < rows; i++ {
			copy(out[i*total+off:], t.Data[i*t.Cols:(i+1)*t.Cols])
		}
		off += t.Cols
	}
	return result(rows, total, out, ts, func(g *Tensor, _ bool) []*Tensor {
		grads := make([]*Tensor, len(ts))
		for k, t := range ts {
			grads[k] = SliceCols(g, offsets[k], offsets[k]+t.Cols)
		}
		return grads
	})
}

// Reshape reinterprets the row-major data with a new shape.
func Reshape(a *Tensor, rows, cols int) *Tensor {
	if rows*cols != len(a.Data) {
		panic(fmt.Sprintf("tensor: Reshape %dx%d to %dx%d", a.Rows, a.Cols, rows, cols))
	}
	out := make([]float64, len(a.Data))
	copy(out, a.Data)
	r, c := a.Rows, a.Cols
	return result(rows, cols, out, []*Tensor{a}, func(g *Tensor, _ bool) []*Tensor {
		return []*Tensor{Reshape(g, r, c)}
	})
}

// Softmax applies a row-wise softmax.
func Softmax(a *Tensor) *Tensor {
	out := make([]float64, len(a.Data))
	for i := 0; i < a.Rows; i++ {
		softmaxRow(a.Data[i*a.Cols:(i+1)*a.Cols], out[i*a.Cols:(i+1)*a.Cols])
	}
	var y *Tensor
	y = result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, create bool) []*Tensor {
		yy := keep(y, create)
		dot := BroadcastCols(SumCols(Mul(g, yy)), g.Cols)
		return []*Tensor{Mul(yy, Sub(g, dot))}
	})
	return y
}

// LogSoftmax applies a row-wise log-softmax.
func LogSoftmax(a *Tensor) *Tensor {
	out := make([]float64, len(a.Data))
	for i := 0; i < a.Rows; i++ {
		row := a.Data[i*a.Cols : (i+1)*a.Cols]
		m := math.Inf(-1)
		for _, v := range row {
			m = math.Max(m, v)
		}
		s := 0.0
		for _, v := range row {
			s += math.Exp(v - m)
		}
		lse := m + math.Log(s)
		for j, v := range row {
			out[i*a.Cols+j] = v - lse
		}
	}
	var y *Tensor
	y = result(a.Rows, a.Cols, out, []*Tensor{a}, func(g *Tensor, create bool) []*Tensor {
		p := Exp(keep(y, create))
		return []*Tensor{Sub(g, Mul(p, BroadcastCols(SumCols(g), g.Cols)))}
	})
	return y
}

func softmaxRow(in, out []float64) {
	m := math.Inf(-1)
	for _, v := range in {
		m = math.Max(m, v)
	}
	s := 0.0
	for j, v := range in {
		out[j] = math.Exp(v - m)
		s += out[j]
	}
	for j := range out {
		out[j] /= s
	}
}
