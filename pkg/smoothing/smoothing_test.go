package smoothing

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"
)

// TestGaussianKernelNormalized checks the kernel sums to one and is symmetric
func TestGaussianKernelNormalized(t *testing.T) {
	for _, sigma := range []float64{0.5, 1, 2.5} {
		k := GaussianKernel(sigma)
		sum := 0.0
		for _, w := range k {
			sum += w
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("sigma=%.1f: kernel sums to %f", sigma, sum)
		}
		for i := range k {
			if math.Abs(k[i]-k[len(k)-1-i]) > 1e-15 {
				t.Errorf("sigma=%.1f: kernel not symmetric at %d", sigma, i)
			}
		}
	}

	if k := GaussianKernel(0); len(k) != 1 || k[0] != 1 {
		t.Errorf("Expected identity kernel for sigma=0, got %v", k)
	}
}

// TestMaskedGaussianPreservesConstant verifies that a flat signal stays
// flat, including next to masked samples
func TestMaskedGaussianPreservesConstant(t *testing.T) {
	values := make([]float64, 20)
	valid := make([]bool, 20)
	for i := range values {
		values[i] = 3.5
		valid[i] = i != 7 && i != 8
	}
	values[7] = 1000 // masked, must not leak into neighbours

	out := MaskedGaussian(values, valid, 2)
	if len(out) != len(values) {
		t.Fatalf("Expected length %d, got %d", len(values), len(out))
	}
	for i, v := range out {
		if !valid[i] {
			if v != values[i] {
				t.Errorf("Masked sample %d changed from %f to %f", i, values[i], v)
			}
			continue
		}
		if math.Abs(v-3.5) > 1e-12 {
			t.Errorf("Sample %d: expected 3.5, got %f", i, v)
		}
	}
}

// TestMaskedGaussianReducesVariance checks that smoothing white noise
// lowers its variance
func TestMaskedGaussianReducesVariance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	values := make([]float64, 400)
	for i := range values {
		values[i] = 1 + 0.1*rng.NormFloat64()
	}
	out := MaskedGaussian(values, nil, 2)
	if stat.Variance(out, nil) >= stat.Variance(values, nil) {
		t.Errorf("Smoothing did not reduce variance: %f >= %f",
			stat.Variance(out, nil), stat.Variance(values, nil))
	}
}

func TestGradientAndPeak(t *testing.T) {
	// Smooth step centred between rows 9 and 10
	values := make([]float64, 20)
	for i := range values {
		values[i] = 1 / (1 + math.Exp(-(float64(i)-9.5)*2))
	}
	grad := Gradient(values)
	i, ok := ArgMax(grad, nil)
	if !ok {
		t.Fatal("ArgMax found no peak")
	}
	peak := ParabolicPeak(grad, i)
	if math.Abs(peak-9.5) > 0.51 {
		t.Errorf("Expected peak near 9.5, got %f", peak)
	}
}

func TestShift(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5}

	out, ok := Shift(values, nil, 0.5)
	for r := 0; r < 5; r++ {
		if !ok[r] {
			t.Errorf("Row %d unexpectedly invalid", r)
		}
		if math.Abs(out[r]-(float64(r)+0.5)) > 1e-12 {
			t.Errorf("Row %d: expected %f, got %f", r, float64(r)+0.5, out[r])
		}
	}
	if ok[5] {
		t.Error("Last row should fall outside the input after a positive shift")
	}

	out, ok = Shift(values, nil, -2)
	if ok[0] || ok[1] {
		t.Error("First two rows should be invalid after shifting by -2")
	}
	if out[2] != 0 || out[5] != 3 {
		t.Errorf("Unexpected shifted values %v", out)
	}
}

func TestMedian(t *testing.T) {
	cases := []struct {
		in   []float64
		want float64
	}{
		{[]float64{3, 1, 2}, 2},
		{[]float64{4, 1, 3, 2}, 2.5},
		{[]float64{math.NaN(), 5, 7, 6}, 6},
		{[]float64{9, 1, 8, 2, 7, 3}, 5},
		{[]float64{5}, 5},
		{[]float64{1, math.Inf(1), 3}, 2},
	}
	for _, c := range cases {
		if got := Median(c.in); got != c.want {
			t.Errorf("Median(%v) = %f, want %f", c.in, got, c.want)
		}
	}
	if !math.IsNaN(Median(nil)) {
		t.Error("Median of empty input should be NaN")
	}
}
