package sampler

import "github.com/hpungsan/tabsynth/internal/tensor"

// ConditionalLoss is the cross-entropy between the raw logits of each conditioned
// discrete block and its target category, counted only where the mask selects the
// column, summed and divided by the batch size.
func ConditionalLoss(raw *tensor.Tensor, cv *Condvec, f *FrequencyTable) *tensor.Tensor {
	if cv == nil || f.NumColumns() == 0 {
		return tensor.Scalar(0)
	}
	n := f.NumColumns()
	var total *tensor.Tensor
	for col, c := range f.columns {
		w := len(c.Counts)
		weights := make([]float64, raw.Rows*w)
		for i := 0; i < raw.Rows; i++ {
			if m := cv.Mask[i*n+col]; m != 0 {
				weights[i*w+cv.Categories[i]] = m
			}
		}
		ls := tensor.LogSoftmax(tensor.SliceCols(raw, c.Offset, c.Offset+w))
		term := tensor.Sum(tensor.MulConst(ls, weights))
		if total == nil {
			total = term
		} else {
			total = tensor.Add(total, term)
		}
	}
	return tensor.Scale(total, -1/float64(raw.Rows))
}
