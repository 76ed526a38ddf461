package calibration

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"nearedge/pkg/smoothing"
)

// nextPow2 returns the smallest power of two >= n.
func nextPow2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

// crossCorrelate computes the circular cross-correlation
// r[k] = sum_t a[t+k] b[t] of the mean-removed inputs through the FFT.
// Inputs are zero padded to at least twice their length so that lags
// up to len(a)-1 in either direction do not wrap.
//
// Parameters:
//   - a, b: equally long profiles, invalid samples already zeroed
//
// Returns:
//   - the correlation indexed by lag, negative lags at the end
func crossCorrelate(a, b []float64) []float64 {
	size := nextPow2(2 * len(a))
	fft := fourier.NewFFT(size)

	pa := make([]float64, size)
	pb := make([]float64, size)
	ma := stat.Mean(a, nil)
	mb := stat.Mean(b, nil)
	for i := range a {
		pa[i] = a[i] - ma
		pb[i] = b[i] - mb
	}

	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for i := range ca {
		ca[i] *= cmplx.Conj(cb[i])
	}
	return fft.Sequence(nil, ca)
}

// estimateLag returns the sub-row shift d such that profile(r+d) best
// matches reference(r), searching lags within +-maxLag.
func estimateLag(profile, reference []float64, maxLag int) float64 {
	corr := crossCorrelate(profile, reference)
	size := len(corr)
	if maxLag <= 0 || maxLag >= len(profile) {
		maxLag = len(profile) - 1
	}

	lagAt := func(k int) float64 { return corr[(k%size+size)%size] }

	best := 0
	bestVal := math.Inf(-1)
	for k := -maxLag; k <= maxLag; k++ {
		if v := lagAt(k); v > bestVal {
			best, bestVal = k, v
		}
	}
	if bestVal <= 0 {
		return 0
	}

	window := []float64{lagAt(best - 1), lagAt(best), lagAt(best + 1)}
	return float64(best) + smoothing.ParabolicPeak(window, 1) - 1
}
