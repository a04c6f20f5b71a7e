// Package transform implements mode-specific normalization: per-column encoders and the
// Transformer that lays their blocks out into one fixed-width numeric row.
package transform

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/table"
)

// Activation is the output activation applied to a span of generator logits.
type Activation string

const (
	Tanh    Activation = "tanh"
	Softmax Activation = "softmax"
)

// Span is a run of consecutive output columns sharing one activation.
type Span struct {
	Dim        int        `json:"dim"`
	Activation Activation `json:"activation"`
}

// Block describes where one column lives inside a transformed row.
type Block struct {
	Column     string
	Kind       table.Kind
	Offset     int
	Width      int
	Spans      []Span
	Categories []string // discrete columns only
}

// Column is the fitted encoder for one column.
type Column struct {
	Spec   table.ColumnSpec `json:"spec"`
	Offset int              `json:"offset"`
	Width  int              `json:"width"`

	Modes      *ModeSet `json:"modes,omitempty"`
	Numeric    *Numeric `json:"numeric,omitempty"`
	Categories []string `json:"categories,omitempty"`
	IntegerIDs bool     `json:"integer_ids,omitempty"`

	index map[string]int
}

// Kind returns how the column is modeled.
func (c *Column) Kind() table.Kind { return c.Spec.Kind() }

// Spans returns the activation layout of the column's block.
func (c *Column) Spans() []Span {
	switch c.Kind() {
	case table.KindContinuous:
		return []Span{{Dim: 1, Activation: Tanh}, {Dim: c.Width - 1, Activation: Softmax}}
	case table.KindDiscrete:
		return []Span{{Dim: c.Width, Activation: Softmax}}
	default:
		return nil
	}
}

// Category returns the one-hot position of value within the column's block.
func (c *Column) Category(value string) (int, bool) {
	if c.Kind() != table.KindDiscrete {
		return 0, false
	}
	return EncodeDiscrete(value, c.index)
}

// Options controls Transformer fitting.
type Options struct {
	Modes      ModeOptions
	ClipMinMax bool
}

// DefaultOptions returns the standard fitting options.
func DefaultOptions() Options {
	return Options{
		Modes:      ModeOptions{MaxModes: MaxModes, WeightThreshold: DefaultWeightThreshold},
		ClipMinMax: true,
	}
}

// Transformer encodes whole tables into transformed matrices and back.
type Transformer struct {
	Columns    []*Column `json:"columns"`
	ClipMinMax bool      `json:"clip_min_max"`

	width int
}

// Fit fits one encoder per schema column, in schema order.
func Fit(t *table.Table, schema *table.Schema, opts Options, rng *rand.Rand) (*Transformer, error) {
	if err := schema.Validate(t.Header); err != nil {
		return nil, err
	}
	if t.NumRows() == 0 {
		return nil, errors.NewInvalidRequest("table has no rows")
	}

	tr := &Transformer{ClipMinMax: opts.ClipMinMax}
	for _, spec := range schema.Columns {
		cells, _ := t.Column(spec.Name)
		col, err := fitColumn(spec, cells, opts.Modes, rng)
		if err != nil {
			return nil, err
		}
		tr.Columns = append(tr.Columns, col)
	}
	tr.layout()
	if tr.width == 0 {
		return nil, errors.NewInvalidRequest("schema has no modeled columns")
	}
	return tr, nil
}

func fitColumn(spec table.ColumnSpec, cells []string, opts ModeOptions, rng *rand.Rand) (*Column, error) {
	col := &Column{Spec: spec}
	switch spec.Kind() {
	case table.KindContinuous:
		num, values, err := fitNumeric(spec, cells)
		if err != nil {
			return nil, err
		}
		modes, err := FitContinuous(spec.Name, values, opts, rng)
		if err != nil {
			return nil, err
		}
		col.Numeric, col.Modes = num, &modes
		col.Width = 1 + modes.Width()
	case table.KindDiscrete:
		col.Categories = FitDiscrete(cells)
		switch {
		case len(col.Categories) == 1 && col.Categories[0] == NullCategory:
			return nil, errDegenerate(spec.Name, "all values are missing")
		case len(col.Categories) < 2:
			return nil, errDegenerate(spec.Name, "only one distinct value")
		}
		col.Width = len(col.Categories)
	case table.KindID:
		col.IntegerIDs = allIntegers(cells)
	}
	return col, nil
}

// layout assigns block offsets and rebuilds lookup indexes.
func (tr *Transformer) layout() {
	tr.width = 0
	for _, c := range tr.Columns {
		c.Offset = tr.width
		tr.width += c.Width
		if c.Kind() == table.KindDiscrete {
			c.index = indexOf(c.Categories)
		}
	}
}

// UnmarshalJSON restores a persisted transformer.
func (tr *Transformer) UnmarshalJSON(data []byte) error {
	type plain Transformer
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*tr = Transformer(p)
	tr.layout()
	return nil
}

// Width returns the transformed row width.
func (tr *Transformer) Width() int { return tr.width }

// Schema returns the column specs in order.
func (tr *Transformer) Schema() *table.Schema {
	s := &table.Schema{}
	for _, c := range tr.Columns {
		s.Columns = append(s.Columns, c.Spec)
	}
	return s
}

// Column returns the encoder for name.
func (tr *Transformer) Column(name string) (*Column, bool) {
	for _, c := range tr.Columns {
		if c.Spec.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Blocks returns the block layout of every modeled column.
func (tr *Transformer) Blocks() []Block {
	var blocks []Block
	for _, c := range tr.Columns {
		if c.Width == 0 {
			continue
		}
		blocks = append(blocks, Block{
			Column:     c.Spec.Name,
			Kind:       c.Kind(),
			Offset:     c.Offset,
			Width:      c.Width,
			Spans:      c.Spans(),
			Categories: c.Categories,
		})
	}
	return blocks
}

// Spans returns the activation layout of a whole row.
func (tr *Transformer) Spans() []Span {
	var spans []Span
	for _, b := range tr.Blocks() {
		spans = append(spans, b.Spans...)
	}
	return spans
}

// Encode transforms t into a rows x Width matrix. Unseen categories, and missing values in
// a column trained without any, encode as all zeros.
func (tr *Transformer) Encode(t *table.Table) (*mat.Dense, error) {
	if err := tr.Schema().Validate(t.Header); err != nil {
		return nil, err
	}
	if t.NumRows() == 0 {
		return nil, errors.NewInvalidRequest("table has no rows")
	}

	m := mat.NewDense(t.NumRows(), tr.width, nil)
	for _, c := range tr.Columns {
		if c.Width == 0 {
			continue
		}
		j := t.Index(c.Spec.Name)
		for i, row := range t.Rows {
			cell := row[j]
			switch c.Kind() {
			case table.KindContinuous:
				v, err := c.Numeric.Parse(cell)
				if err != nil {
					return nil, errSchema(c.Spec.Name, err)
				}
				scalar, slot := EncodeContinuous(v, c.Modes)
				m.Set(i, c.Offset, scalar)
				if slot >= 0 {
					m.Set(i, c.Offset+1+slot, 1)
				}
			case table.KindDiscrete:
				if k, ok := EncodeDiscrete(cell, c.index); ok {
					m.Set(i, c.Offset+k, 1)
				}
			}
		}
	}
	return m, nil
}

// Decode inverts Encode. Blocks may hold soft values; the arg-max decides. id columns
// come back empty; AssignIDs fills them.
func (tr *Transformer) Decode(m mat.Matrix) (*table.Table, error) {
	rows, cols := m.Dims()
	if cols != tr.width {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("matrix has %d columns, transformer width is %d", cols, tr.width))
	}

	out := table.New(tr.Schema().Names())
	buf := make([]float64, tr.width)
	for i := 0; i < rows; i++ {
		mat.Row(buf, i, m)
		rec := make([]string, len(tr.Columns))
		for k, c := range tr.Columns {
			block := buf[c.Offset : c.Offset+c.Width]
			switch c.Kind() {
			case table.KindContinuous:
				v := DecodeContinuous(block[0], block[1:], c.Modes)
				rec[k] = c.Numeric.Format(v, tr.ClipMinMax)
			case table.KindDiscrete:
				rec[k] = DecodeDiscrete(block, c.Categories)
			}
		}
		out.Rows = append(out.Rows, rec)
	}
	return out, nil
}

// AssignIDs fills id columns of t: sequential integers when every training id was an
// integer, ULIDs drawn from entropy otherwise.
func (tr *Transformer) AssignIDs(t *table.Table, entropy io.Reader) error {
	for _, c := range tr.Columns {
		if c.Kind() != table.KindID {
			continue
		}
		j := t.Index(c.Spec.Name)
		if j < 0 {
			return errors.NewSchemaMismatch(c.Spec.Name, "column missing from table")
		}
		now := ulid.Timestamp(time.Now())
		for i, row := range t.Rows {
			if c.IntegerIDs {
				row[j] = strconv.Itoa(i)
				continue
			}
			id, err := ulid.New(now, entropy)
			if err != nil {
				return fmt.Errorf("generate id: %w", err)
			}
			row[j] = id.String()
		}
	}
	return nil
}

func allIntegers(cells []string) bool {
	for _, c := range cells {
		if c == table.Missing {
			continue
		}
		if _, err := strconv.ParseInt(c, 10, 64); err != nil {
			return false
		}
	}
	return true
}

func errSchema(column string, err error) error {
	return errors.NewSchemaMismatch(column, err.Error())
}

func errDegenerate(column, reason string) error {
	return errors.NewDegenerateColumn(column, reason)
}
