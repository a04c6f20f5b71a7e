package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/hpungsan/tabsynth/internal/table"
)

const maxDecimals = 10

// datetimeCandidates are tried in order when a datetime column declares no format.
var datetimeCandidates = []string{
	"%Y-%m-%d %H:%M:%S",
	"%Y-%m-%dT%H:%M:%S",
	"%Y-%m-%d",
	"%Y/%m/%d",
	"%m/%d/%Y",
	"%d/%m/%Y",
	"%m/%d/%Y %H:%M",
}

// Numeric converts cells of a continuous column to model space and back. Datetime cells
// become Unix seconds. Log-scale columns are modeled as ln(x).
type Numeric struct {
	Decimals       int     `json:"decimals"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
	LogScale       bool    `json:"log_scale,omitempty"`
	DatetimeFormat string  `json:"datetime_format,omitempty"`
}

// fitNumeric learns the value range, precision and (for datetimes) format of a column
// and returns the column values in model space, NaN for missing.
func fitNumeric(spec table.ColumnSpec, cells []string) (*Numeric, []float64, error) {
	n := &Numeric{LogScale: spec.LogScale, Min: math.Inf(1), Max: math.Inf(-1)}
	if spec.SDType == table.Datetime {
		n.DatetimeFormat = spec.DatetimeFormat
		if n.DatetimeFormat == "" {
			f, err := inferDatetimeFormat(cells)
			if err != nil {
				return nil, nil, errSchema(spec.Name, err)
			}
			n.DatetimeFormat = f
		}
	} else {
		n.Decimals = learnDecimals(cells)
	}

	raw := make([]float64, len(cells))
	for i, c := range cells {
		v, err := n.value(c)
		if err != nil {
			return nil, nil, errSchema(spec.Name, err)
		}
		raw[i] = v
		if math.IsNaN(v) {
			continue
		}
		n.Min = math.Min(n.Min, v)
		n.Max = math.Max(n.Max, v)
	}
	if math.IsInf(n.Min, 1) {
		return nil, nil, errDegenerate(spec.Name, "all values are missing")
	}
	if n.LogScale && n.Min <= 0 {
		return nil, nil, errDegenerate(spec.Name, "log scale requires values greater than 0")
	}

	model := make([]float64, len(raw))
	for i, v := range raw {
		model[i] = n.toModel(v)
	}
	return n, model, nil
}

// value parses one cell into its natural value (NaN when missing).
func (n *Numeric) value(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == table.Missing {
		return math.NaN(), nil
	}
	if n.DatetimeFormat != "" {
		t, err := strftime.Parse(n.DatetimeFormat, cell)
		if err != nil {
			return 0, fmt.Errorf("value %q does not match datetime format %q", cell, n.DatetimeFormat)
		}
		return float64(t.Unix()), nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", cell)
	}
	return v, nil
}

func (n *Numeric) toModel(v float64) float64 {
	if n.LogScale && !math.IsNaN(v) {
		return math.Log(v)
	}
	return v
}

// Parse converts a cell to model space.
func (n *Numeric) Parse(cell string) (float64, error) {
	v, err := n.value(cell)
	if err != nil {
		return 0, err
	}
	return n.toModel(v), nil
}

// Format converts a model-space value back to a cell, optionally clipping to the
// training range. NaN formats as a missing cell.
func (n *Numeric) Format(v float64, clipRange bool) string {
	if math.IsNaN(v) {
		return table.Missing
	}
	if n.LogScale {
		v = math.Exp(v)
	}
	if clipRange {
		v = clip(v, n.Min, n.Max)
	}
	if n.DatetimeFormat != "" {
		return strftime.Format(n.DatetimeFormat, time.Unix(int64(math.Round(v)), 0).UTC())
	}
	s := strconv.FormatFloat(v, 'f', n.Decimals, 64)
	if strings.HasPrefix(s, "-") && strings.Trim(s, "-0.") == "" {
		s = s[1:]
	}
	return s
}

// learnDecimals returns the largest number of fractional digits among the cells.
func learnDecimals(cells []string) int {
	d := 0
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if e := strings.IndexAny(c, "eE"); e >= 0 {
			c = c[:e]
		}
		if dot := strings.IndexByte(c, '.'); dot >= 0 {
			d = max(d, len(c)-dot-1)
		}
	}
	return min(d, maxDecimals)
}

// inferDatetimeFormat returns the first candidate format that parses every cell.
func inferDatetimeFormat(cells []string) (string, error) {
	for _, f := range datetimeCandidates {
		ok := true
		for _, c := range cells {
			c = strings.TrimSpace(c)
			if c == table.Missing {
				continue
			}
			if _, err := strftime.Parse(f, c); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("no known datetime format matches the column; declare datetime_format")
}
