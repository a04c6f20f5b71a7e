// Package vgm fits one-dimensional variational Bayesian Gaussian mixtures with a
// Dirichlet-process prior on the weights. Components the data does not need end up with
// near-zero weight, so callers can fit a fixed capacity and keep only the active ones.
package vgm

import (
	stderrors "errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewValues is returned when the input has fewer than 2 distinct finite values.
var ErrTooFewValues = stderrors.New("vgm: fewer than 2 distinct finite values")

// Options controls the fit. Zero fields take the defaults below.
type Options struct {
	Components          int     // capacity, default 10
	WeightConcentration float64 // Dirichlet-process concentration prior, default 1e-3
	MaxIter             int     // default 100
	Tol                 float64 // default 1e-3
	RegCovar            float64 // default 1e-6
}

func (o Options) withDefaults() Options {
	if o.Components <= 0 {
		o.Components = 10
	}
	if o.WeightConcentration <= 0 {
		o.WeightConcentration = 1e-3
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 100
	}
	if o.Tol <= 0 {
		o.Tol = 1e-3
	}
	if o.RegCovar <= 0 {
		o.RegCovar = 1e-6
	}
	return o
}

// Mixture is a fitted mixture. All slices have one entry per component.
type Mixture struct {
	Weights    []float64
	Means      []float64
	Stds       []float64
	Iterations int
	Converged  bool
}

// posterior holds the variational parameters between iterations.
type posterior struct {
	alpha, beta   []float64 // stick-breaking Beta parameters
	meanPrecision []float64
	means         []float64
	dof           []float64
	covariances   []float64
}

// priors are data-dependent, computed once per fit.
type priors struct {
	weightConcentration float64
	meanPrecision       float64
	mean                float64
	dof                 float64
	covariance          float64
}

// Fit fits a mixture to x. Non-finite values must already be removed.
func Fit(x []float64, opts Options, rng *rand.Rand) (*Mixture, error) {
	opts = opts.withDefaults()

	distinct := countDistinct(x)
	if distinct < 2 {
		return nil, ErrTooFewValues
	}
	k := opts.Components
	if k > distinct {
		k = distinct
	}

	pr := priors{
		weightConcentration: opts.WeightConcentration,
		meanPrecision:       1,
		mean:                stat.Mean(x, nil),
		dof:                 1,
		covariance:          stat.Variance(x, nil),
	}

	n := len(x)
	resp := make([]float64, n*k)
	for i, label := range kmeansLabels(x, k, rng) {
		resp[i*k+label] = 1
	}

	post := mStep(x, resp, k, pr, opts.RegCovar)
	logResp := make([]float64, n*k)
	prev := math.Inf(-1)
	m := &Mixture{}
	for iter := 1; iter <= opts.MaxIter; iter++ {
		lpn := eStep(x, post, k, logResp)
		for i := range resp {
			resp[i] = math.Exp(logResp[i])
		}
		post = mStep(x, resp, k, pr, opts.RegCovar)
		m.Iterations = iter
		if math.Abs(lpn-prev) < opts.Tol {
			m.Converged = true
			break
		}
		prev = lpn
	}

	m.Weights = stickWeights(post.alpha, post.beta)
	m.Means = post.means
	m.Stds = make([]float64, k)
	for j, c := range post.covariances {
		m.Stds[j] = math.Sqrt(c)
	}
	return m, nil
}

// mStep estimates the variational posterior from responsibilities.
func mStep(x, resp []float64, k int, pr priors, reg float64) posterior {
	nk := make([]float64, k)
	xk := make([]float64, k)
	sk := make([]float64, k)
	eps := 10 * 2.220446049250313e-16
	for i, v := range x {
		row := resp[i*k : (i+1)*k]
		for j, r := range row {
			nk[j] += r
			xk[j] += r * v
		}
	}
	for j := range nk {
		nk[j] += eps
		xk[j] /= nk[j]
	}
	for i, v := range x {
		row := resp[i*k : (i+1)*k]
		for j, r := range row {
			d := v - xk[j]
			sk[j] += r * d * d
		}
	}
	for j := range sk {
		sk[j] = sk[j]/nk[j] + reg
	}

	p := posterior{
		alpha:         make([]float64, k),
		beta:          make([]float64, k),
		meanPrecision: make([]float64, k),
		means:         make([]float64, k),
		dof:           make([]float64, k),
		covariances:   make([]float64, k),
	}
	tail := 0.0
	for j := k - 1; j >= 0; j-- {
		p.alpha[j] = 1 + nk[j]
		p.beta[j] = pr.weightConcentration + tail
		tail += nk[j]
	}
	for j := 0; j < k; j++ {
		p.meanPrecision[j] = pr.meanPrecision + nk[j]
		p.means[j] = (pr.meanPrecision*pr.mean + nk[j]*xk[j]) / p.meanPrecision[j]
		p.dof[j] = pr.dof + nk[j]
		diff := xk[j] - pr.mean
		cov := pr.covariance + nk[j]*sk[j] + nk[j]*pr.meanPrecision/p.meanPrecision[j]*diff*diff
		p.covariances[j] = cov / p.dof[j]
	}
	return p
}

// eStep writes log responsibilities into logResp and returns the summed log normalizer.
func eStep(x []float64, p posterior, k int, logResp []float64) float64 {
	logW := make([]float64, k)
	acc := 0.0
	for j := 0; j < k; j++ {
		dsum := mathext.Digamma(p.alpha[j] + p.beta[j])
		logW[j] = mathext.Digamma(p.alpha[j]) - dsum + acc
		acc += mathext.Digamma(p.beta[j]) - dsum
	}

	constTerm := make([]float64, k)
	precChol := make([]float64, k)
	for j := 0; j < k; j++ {
		precChol[j] = 1 / math.Sqrt(p.covariances[j])
		logLambda := math.Ln2 + mathext.Digamma(0.5*p.dof[j])
		constTerm[j] = math.Log(precChol[j]) - 0.5*math.Log(p.dof[j]) +
			0.5*(logLambda-1/p.meanPrecision[j]) + logW[j]
	}

	log2Pi := math.Log(2 * math.Pi)
	total := 0.0
	for i, v := range x {
		row := logResp[i*k : (i+1)*k]
		for j := 0; j < k; j++ {
			y := (v - p.means[j]) * precChol[j]
			row[j] = -0.5*(log2Pi+y*y) + constTerm[j]
		}
		lse := floats.LogSumExp(row)
		for j := range row {
			row[j] -= lse
		}
		total += lse
	}
	return total
}

// stickWeights converts stick-breaking Beta parameters into normalized expected weights.
func stickWeights(alpha, beta []float64) []float64 {
	w := make([]float64, len(alpha))
	remaining := 1.0
	for j := range alpha {
		s := alpha[j] + beta[j]
		w[j] = alpha[j] / s * remaining
		remaining *= beta[j] / s
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// kmeansLabels clusters x into k groups with k-means++ seeding and Lloyd iterations.
func kmeansLabels(x []float64, k int, rng *rand.Rand) []int {
	n := len(x)
	centers := make([]float64, 0, k)
	centers = append(centers, x[rng.IntN(n)])
	distSq := make([]float64, n)
	for len(centers) < k {
		total := 0.0
		for i, v := range x {
			best := math.MaxFloat64
			for _, c := range centers {
				if d := (v - c) * (v - c); d < best {
					best = d
				}
			}
			distSq[i] = best
			total += best
		}
		r := rng.Float64() * total
		cumulative := 0.0
		for i, d2 := range distSq {
			cumulative += d2
			if d2 > 0 && cumulative >= r {
				centers = append(centers, x[i])
				break
			}
		}
	}

	labels := make([]int, n)
	sums := make([]float64, k)
	counts := make([]int, k)
	for it := 0; it < 100; it++ {
		changed := false
		for i, v := range x {
			best, bestD := 0, math.MaxFloat64
			for j, c := range centers {
				if d := (v - c) * (v - c); d < bestD {
					best, bestD = j, d
				}
			}
			if labels[i] != best || it == 0 {
				changed = true
			}
			labels[i] = best
		}
		if !changed {
			break
		}
		for j := range sums {
			sums[j], counts[j] = 0, 0
		}
		for i, v := range x {
			sums[labels[i]] += v
			counts[labels[i]]++
		}
		for j := range centers {
			if counts[j] > 0 {
				centers[j] = sums[j] / float64(counts[j])
			}
		}
	}
	return labels
}

func countDistinct(x []float64) int {
	seen := make(map[float64]struct{})
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		seen[v] = struct{}{}
		if len(seen) > 64 {
			break
		}
	}
	return len(seen)
}
