package transform

import "github.com/hpungsan/tabsynth/internal/table"

// NullCategory stands in for a missing discrete value.
const NullCategory = "__NULL__"

// FitDiscrete returns the category list in first-appearance order.
func FitDiscrete(values []string) []string {
	seen := make(map[string]bool)
	var cats []string
	for _, v := range values {
		v = categoryOf(v)
		if !seen[v] {
			seen[v] = true
			cats = append(cats, v)
		}
	}
	return cats
}

// EncodeDiscrete returns the one-hot index of v, or false for an unseen category.
func EncodeDiscrete(v string, index map[string]int) (int, bool) {
	i, ok := index[categoryOf(v)]
	return i, ok
}

// DecodeDiscrete returns the category with the largest logit.
func DecodeDiscrete(logits []float64, cats []string) string {
	c := cats[argmax(logits)]
	if c == NullCategory {
		return table.Missing
	}
	return c
}

func categoryOf(v string) string {
	if v == table.Missing {
		return NullCategory
	}
	return v
}

func indexOf(cats []string) map[string]int {
	idx := make(map[string]int, len(cats))
	for i, c := range cats {
		idx[c] = i
	}
	return idx
}
