package transform

import (
	stderrors "errors"
	"math"
	"math/rand/v2"

	"github.com/hpungsan/tabsynth/internal/errors"
	"github.com/hpungsan/tabsynth/internal/vgm"
)

// MaxModes is the fixed mode capacity of a continuous column.
const MaxModes = 10

// DefaultWeightThreshold is the minimum mixture weight of an active mode.
const DefaultWeightThreshold = 0.005

// Mode is one mixture component of a continuous column.
type Mode struct {
	Weight float64 `json:"weight"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Active bool    `json:"active"`
}

// ModeSet is the fixed-capacity set of modes for one column. Inactive slots are never
// encoded, so the block width is known once the set is fitted. Missing adds one extra
// slot that marks missing values.
type ModeSet struct {
	Modes   [MaxModes]Mode `json:"modes"`
	Missing bool           `json:"missing,omitempty"`
}

// ModeOptions controls continuous fitting.
type ModeOptions struct {
	MaxModes        int
	WeightThreshold float64
	VGM             vgm.Options
}

// Slots returns the indexes of the active modes in ascending order.
func (s *ModeSet) Slots() []int {
	var slots []int
	for i, m := range s.Modes {
		if m.Active {
			slots = append(slots, i)
		}
	}
	return slots
}

// Width returns the size of the one-hot mode indicator.
func (s *ModeSet) Width() int {
	w := len(s.Slots())
	if s.Missing {
		w++
	}
	return w
}

// FitContinuous fits a mode set to values, where NaN marks a missing value.
func FitContinuous(column string, values []float64, opts ModeOptions, rng *rand.Rand) (ModeSet, error) {
	var ms ModeSet
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		switch {
		case math.IsNaN(v):
			ms.Missing = true
		case math.IsInf(v, 0):
			return ms, errors.NewDegenerateColumn(column, "column contains infinite values")
		default:
			finite = append(finite, v)
		}
	}

	capacity := opts.MaxModes
	if capacity <= 0 || capacity > MaxModes {
		capacity = MaxModes
	}
	threshold := opts.WeightThreshold
	if threshold <= 0 {
		threshold = DefaultWeightThreshold
	}
	vopts := opts.VGM
	vopts.Components = capacity

	mix, err := vgm.Fit(finite, vopts, rng)
	if stderrors.Is(err, vgm.ErrTooFewValues) {
		return ms, errors.NewDegenerateColumn(column, "fewer than 2 distinct finite values")
	}
	if err != nil {
		return ms, err
	}

	best, total := 0, 0.0
	for i, w := range mix.Weights {
		ms.Modes[i] = Mode{Weight: w, Mean: mix.Means[i], Std: mix.Stds[i], Active: w > threshold}
		if w > mix.Weights[best] {
			best = i
		}
		if ms.Modes[i].Active {
			total += w
		}
	}
	if total == 0 {
		ms.Modes[best].Active = true
		total = ms.Modes[best].Weight
	}
	for i := range ms.Modes {
		if ms.Modes[i].Active {
			ms.Modes[i].Weight /= total
		} else {
			ms.Modes[i].Weight = 0
		}
	}
	return ms, nil
}

// EncodeContinuous returns the normalized scalar and the one-hot slot for x. The slot is
// the active mode with the highest posterior weight*N(x|mean,std), lowest index on ties.
// A NaN maps to scalar 0 and the missing slot, or to slot -1 when the set has none.
func EncodeContinuous(x float64, ms *ModeSet) (float64, int) {
	slots := ms.Slots()
	if math.IsNaN(x) {
		if !ms.Missing {
			return 0, -1
		}
		return 0, len(slots)
	}
	bestSlot, bestLog := 0, math.Inf(-1)
	for k, i := range slots {
		m := ms.Modes[i]
		z := (x - m.Mean) / m.Std
		lp := math.Log(m.Weight) - math.Log(m.Std) - 0.5*z*z
		if lp > bestLog {
			bestSlot, bestLog = k, lp
		}
	}
	m := ms.Modes[slots[bestSlot]]
	return clip((x-m.Mean)/(4*m.Std), -1, 1), bestSlot
}

// DecodeContinuous inverts EncodeContinuous. The slot is the arg-max of modeLogits, so
// soft or hard indicators both work. The missing slot decodes to NaN.
func DecodeContinuous(scalar float64, modeLogits []float64, ms *ModeSet) float64 {
	slots := ms.Slots()
	k := argmax(modeLogits)
	if k >= len(slots) {
		return math.NaN()
	}
	m := ms.Modes[slots[k]]
	return m.Mean + clip(scalar, -1, 1)*4*m.Std
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// argmax returns the index of the largest value, lowest index on ties.
func argmax(v []float64) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}
