// Package sampler implements training-by-sampling: log-frequency conditional vectors and
// real rows drawn to match them.
package sampler

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/table"
	"github.com/hpungsan/tabsynth/internal/transform"
)

// ColumnFrequency holds the category counts of one discrete column.
type ColumnFrequency struct {
	Column     string   `json:"column"`
	Offset     int      `json:"offset"`      // block offset in the transformed row
	CondOffset int      `json:"cond_offset"` // block offset in the conditional vector
	Categories []string `json:"categories"`
	Counts     []int    `json:"counts"`

	probs []float64
	cum   []float64
	raw   []float64
}

// Probabilities returns the selection probability of each category, proportional to
// log(1 + count).
func (c *ColumnFrequency) Probabilities() []float64 { return c.probs }

// RawProbabilities returns each category's share of the training rows.
func (c *ColumnFrequency) RawProbabilities() []float64 { return c.raw }

func (c *ColumnFrequency) init() {
	c.probs = make([]float64, len(c.Counts))
	c.cum = make([]float64, len(c.Counts))
	c.raw = make([]float64, len(c.Counts))
	total, rows := 0.0, 0
	for i, n := range c.Counts {
		c.probs[i] = math.Log1p(float64(n))
		total += c.probs[i]
		rows += n
	}
	for i, n := range c.Counts {
		if rows > 0 {
			c.raw[i] = float64(n) / float64(rows)
		}
	}
	acc := 0.0
	for i := range c.probs {
		if total > 0 {
			c.probs[i] /= total
		}
		acc += c.probs[i]
		c.cum[i] = acc
	}
}

// FrequencyTable is an immutable snapshot of discrete-column category counts taken
// when the sampler is built. It is safe for concurrent reads.
type FrequencyTable struct {
	columns []*ColumnFrequency
	width   int
}

// NewFrequencyTable counts the one-hot categories of every discrete block in data.
func NewFrequencyTable(data mat.Matrix, blocks []transform.Block) *FrequencyTable {
	rows, _ := data.Dims()
	ft := &FrequencyTable{}
	for _, b := range blocks {
		if b.Kind != table.KindDiscrete {
			continue
		}
		cf := &ColumnFrequency{
			Column:     b.Column,
			Offset:     b.Offset,
			CondOffset: ft.width,
			Categories: b.Categories,
			Counts:     make([]int, b.Width),
		}
		for i := 0; i < rows; i++ {
			for k := 0; k < b.Width; k++ {
				if data.At(i, b.Offset+k) > 0 {
					cf.Counts[k]++
				}
			}
		}
		cf.init()
		ft.columns = append(ft.columns, cf)
		ft.width += b.Width
	}
	return ft
}

// NumColumns returns the number of discrete columns.
func (f *FrequencyTable) NumColumns() int { return len(f.columns) }

// CondWidth returns the conditional vector width: the total category count.
func (f *FrequencyTable) CondWidth() int { return f.width }

// Columns returns the per-column frequencies in block order.
func (f *FrequencyTable) Columns() []*ColumnFrequency { return f.columns }

// Lookup returns the position of a discrete column by name.
func (f *FrequencyTable) Lookup(column string) (int, bool) {
	for i, c := range f.columns {
		if c.Column == column {
			return i, true
		}
	}
	return 0, false
}

// Probability returns the selection probability of category cat within column col.
func (f *FrequencyTable) Probability(col, cat int) float64 {
	return f.columns[col].probs[cat]
}

// MarshalJSON encodes the counts; probabilities are derived on load.
func (f *FrequencyTable) MarshalJSON() ([]byte, error) {
	cols := f.columns
	if cols == nil {
		cols = []*ColumnFrequency{}
	}
	return json.Marshal(cols)
}

// UnmarshalJSON restores a persisted table.
func (f *FrequencyTable) UnmarshalJSON(data []byte) error {
	var cols []*ColumnFrequency
	if err := json.Unmarshal(data, &cols); err != nil {
		return err
	}
	f.columns, f.width = cols, 0
	for _, c := range cols {
		c.init()
		f.width += len(c.Counts)
	}
	return nil
}

// draw picks a category index by inverse CDF.
func (c *ColumnFrequency) draw(r float64) int {
	for i, v := range c.cum {
		if r < v {
			return i
		}
	}
	return len(c.cum) - 1
}

// OriginalCondvec draws conditions from the flattened real category shares of all
// discrete columns, for unconditional generation, so generated rows keep the category
// mix of the training data. It returns nil when there are no discrete columns.
func (f *FrequencyTable) OriginalCondvec(batch int, rng *rand.Rand) *Condvec {
	if len(f.columns) == 0 {
		return nil
	}
	type pair struct{ col, cat int }
	var pairs []pair
	var cum []float64
	acc := 0.0
	for col, c := range f.columns {
		for cat, p := range c.raw {
			acc += p
			pairs = append(pairs, pair{col, cat})
			cum = append(cum, acc)
		}
	}

	cv := newCondvec(batch, f)
	for i := 0; i < batch; i++ {
		r := rng.Float64() * acc
		k := len(cum) - 1
		for j, v := range cum {
			if r < v {
				k = j
				break
			}
		}
		cv.set(i, pairs[k].col, pairs[k].cat, f)
	}
	return cv
}

// FixedCondvec fixes every row to category cat of discrete column col.
func (f *FrequencyTable) FixedCondvec(col, cat, batch int) (*Condvec, error) {
	if col < 0 || col >= len(f.columns) || cat < 0 || cat >= len(f.columns[col].Counts) {
		return nil, errors.NewInvalidRequest("condition outside the conditional vector")
	}
	if f.columns[col].Counts[cat] == 0 {
		return nil, f.emptyCategory(col, cat)
	}
	cv := newCondvec(batch, f)
	for i := 0; i < batch; i++ {
		cv.set(i, col, cat, f)
	}
	return cv, nil
}

func (f *FrequencyTable) emptyCategory(col, cat int) error {
	c := f.columns[col]
	name := strconv.Itoa(cat)
	if cat < len(c.Categories) {
		name = c.Categories[cat]
	}
	return errors.NewEmptyCategory(c.Column, name)
}
