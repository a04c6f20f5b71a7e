package sampler

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/hpungsan/tabsynth/internal/tensor"
	"github.com/hpungsan/tabsynth/internal/transform"
)

// Condvec is a batch of conditional vectors with the mask of the conditioned column.
type Condvec struct {
	Rows       int
	Cond       []float64 // Rows x CondWidth, one-hot within the selected column's block
	Mask       []float64 // Rows x NumColumns, 1 at the selected column
	Columns    []int     // selected discrete column per row
	Categories []int     // selected category per row
}

// Tensor returns the conditional vectors as a constant tensor.
func (c *Condvec) Tensor() *tensor.Tensor {
	return tensor.New(c.Rows, len(c.Cond)/max(c.Rows, 1), c.Cond)
}

// Permute returns a copy of c with rows reordered by perm.
func (c *Condvec) Permute(perm []int) *Condvec {
	cw, mw := len(c.Cond)/c.Rows, len(c.Mask)/c.Rows
	out := &Condvec{
		Rows:       c.Rows,
		Cond:       make([]float64, len(c.Cond)),
		Mask:       make([]float64, len(c.Mask)),
		Columns:    make([]int, c.Rows),
		Categories: make([]int, c.Rows),
	}
	for i, p := range perm {
		copy(out.Cond[i*cw:(i+1)*cw], c.Cond[p*cw:(p+1)*cw])
		copy(out.Mask[i*mw:(i+1)*mw], c.Mask[p*mw:(p+1)*mw])
		out.Columns[i] = c.Columns[p]
		out.Categories[i] = c.Categories[p]
	}
	return out
}

// Sampler draws conditional vectors and matching rows of a transformed matrix.
// Only the rng is mutated; the data and frequency table are read-only.
type Sampler struct {
	data      *mat.Dense
	freq      *FrequencyTable
	rowsByCat [][][]int
	rng       *rand.Rand
}

// New indexes data by discrete category.
func New(data *mat.Dense, blocks []transform.Block, rng *rand.Rand) *Sampler {
	s := &Sampler{data: data, freq: NewFrequencyTable(data, blocks), rng: rng}
	rows, _ := data.Dims()
	for _, c := range s.freq.columns {
		byCat := make([][]int, len(c.Counts))
		for i := 0; i < rows; i++ {
			for k := range byCat {
				if data.At(i, c.Offset+k) > 0 {
					byCat[k] = append(byCat[k], i)
				}
			}
		}
		s.rowsByCat = append(s.rowsByCat, byCat)
	}
	return s
}

// Frequencies returns the frequency table snapshot.
func (s *Sampler) Frequencies() *FrequencyTable { return s.freq }

// SampleCondvec draws one condition per row for training: a discrete column uniformly,
// then a category with probability proportional to log(1 + count). It returns nil when
// there are no discrete columns.
func (s *Sampler) SampleCondvec(batch int) *Condvec {
	n := s.freq.NumColumns()
	if n == 0 {
		return nil
	}
	cv := newCondvec(batch, s.freq)
	for i := 0; i < batch; i++ {
		col := s.rng.IntN(n)
		c := s.freq.columns[col]
		cv.set(i, col, c.draw(s.rng.Float64()), s.freq)
	}
	return cv
}

// SampleOriginalCondvec draws conditions for unconditional generation.
func (s *Sampler) SampleOriginalCondvec(batch int) *Condvec {
	return s.freq.OriginalCondvec(batch, s.rng)
}

// CondvecFor fixes every row to category cat of discrete column col.
func (s *Sampler) CondvecFor(col, cat, batch int) (*Condvec, error) {
	return s.freq.FixedCondvec(col, cat, batch)
}

// SampleData draws one real row per condition, uniformly among the rows holding that
// category. With cv nil it draws rows uniformly from the whole matrix.
func (s *Sampler) SampleData(batch int, cv *Condvec) (*tensor.Tensor, error) {
	rows, width := s.data.Dims()
	out := make([]float64, batch*width)
	for i := 0; i < batch; i++ {
		var r int
		if cv == nil {
			r = s.rng.IntN(rows)
		} else {
			col, cat := cv.Columns[i], cv.Categories[i]
			if err := s.checkSupport(col, cat); err != nil {
				return nil, err
			}
			match := s.rowsByCat[col][cat]
			r = match[s.rng.IntN(len(match))]
		}
		mat.Row(out[i*width:(i+1)*width], r, s.data)
	}
	return tensor.New(batch, width, out), nil
}

func (s *Sampler) checkSupport(col, cat int) error {
	if len(s.rowsByCat[col][cat]) == 0 {
		return s.freq.emptyCategory(col, cat)
	}
	return nil
}

func newCondvec(batch int, f *FrequencyTable) *Condvec {
	return &Condvec{
		Rows:       batch,
		Cond:       make([]float64, batch*f.width),
		Mask:       make([]float64, batch*len(f.columns)),
		Columns:    make([]int, batch),
		Categories: make([]int, batch),
	}
}

func (c *Condvec) set(i, col, cat int, f *FrequencyTable) {
	c.Cond[i*f.width+f.columns[col].CondOffset+cat] = 1
	c.Mask[i*len(f.columns)+col] = 1
	c.Columns[i] = col
	c.Categories[i] = cat
}
