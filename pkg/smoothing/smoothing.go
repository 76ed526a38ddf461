// Package smoothing provides the one-dimensional filters applied along
// the energy (row) direction of detector columns: masked Gaussian
// low-pass, gradients, sub-row shifts and robust medians.
package smoothing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// GaussianKernel returns a normalized kernel covering +-3 sigma.
// A non-positive sigma yields the identity kernel {1}.
func GaussianKernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
		kernel[i+radius] = w
		sum += w
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// MaskedGaussian smooths values with a Gaussian of the given sigma (in
// samples), using only entries flagged in valid and renormalizing the
// weights at gaps and array ends. Invalid entries are copied through
// unchanged. A nil mask treats every entry as valid.
//
// The output always has the length of the input.
func MaskedGaussian(values []float64, valid []bool, sigma float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	if sigma <= 0 || len(values) < 2 {
		return out
	}

	kernel := GaussianKernel(sigma)
	radius := len(kernel) / 2
	for i := range values {
		if valid != nil && !valid[i] {
			continue
		}
		sum, wsum := 0.0, 0.0
		for k := -radius; k <= radius; k++ {
			j := i + k
			if j < 0 || j >= len(values) {
				continue
			}
			if valid != nil && !valid[j] {
				continue
			}
			w := kernel[k+radius]
			sum += w * values[j]
			wsum += w
		}
		if wsum > 0 {
			out[i] = sum / wsum
		}
	}
	return out
}

// Gradient returns the central-difference derivative, one-sided at the ends.
func Gradient(values []float64) []float64 {
	n := len(values)
	grad := make([]float64, n)
	if n < 2 {
		return grad
	}
	grad[0] = values[1] - values[0]
	grad[n-1] = values[n-1] - values[n-2]
	for i := 1; i < n-1; i++ {
		grad[i] = (values[i+1] - values[i-1]) / 2
	}
	return grad
}

// ArgMax returns the index of the largest value among entries flagged
// valid (all when valid is nil) and whether one was found.
func ArgMax(values []float64, valid []bool) (int, bool) {
	best, found := -1, false
	for i, v := range values {
		if valid != nil && !valid[i] {
			continue
		}
		if math.IsNaN(v) {
			continue
		}
		if !found || v > values[best] {
			best, found = i, true
		}
	}
	return best, found
}

// ParabolicPeak refines an integer peak position i using the parabola
// through its neighbours. The offset is bounded to half a sample.
func ParabolicPeak(values []float64, i int) float64 {
	if i <= 0 || i >= len(values)-1 {
		return float64(i)
	}
	a, b, c := values[i-1], values[i], values[i+1]
	den := a - 2*b + c
	if den == 0 {
		return float64(i)
	}
	off := 0.5 * (a - c) / den
	if off > 0.5 {
		off = 0.5
	} else if off < -0.5 {
		off = -0.5
	}
	return float64(i) + off
}

// Shift resamples values so that out[r] = values(r + offset), linearly
// interpolating between samples. Positions falling outside the input, or
// touching an invalid neighbour, are flagged invalid in the returned mask.
func Shift(values []float64, valid []bool, offset float64) ([]float64, []bool) {
	n := len(values)
	out := make([]float64, n)
	ok := make([]bool, n)
	if offset == 0 {
		copy(out, values)
		for i := range ok {
			ok[i] = valid == nil || valid[i]
		}
		return out, ok
	}
	for r := 0; r < n; r++ {
		x := float64(r) + offset
		lo := int(math.Floor(x))
		frac := x - float64(lo)
		hi := lo + 1
		if frac == 0 {
			hi = lo
		}
		if lo < 0 || hi >= n {
			continue
		}
		if valid != nil && (!valid[lo] || !valid[hi]) {
			continue
		}
		out[r] = values[lo]*(1-frac) + values[hi]*frac
		ok[r] = true
	}
	return out, ok
}

// Median returns the median of the finite values, NaN when none remain.
func Median(values []float64) float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)
	n := len(sorted)
	// The middle element, or the mean of the middle two
	return stat.Mean(sorted[(n-1)/2:n/2+1], nil)
}
