// Package absorbance converts raw projection images into absorbance
// (mu*t) volumes using the calibrated beam parameters.
package absorbance

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"nearedge/internal/models"
	"nearedge/pkg/smoothing"
)

// DefaultMaxInvalidFraction is the share of unusable beam reference
// pixels tolerated inside the analysed window.
const DefaultMaxInvalidFraction = 0.5

// Range is a half-open column window [First, Last).
type Range struct {
	First int
	Last  int
}

// SideCrop returns the window excluding side columns at both edges.
func SideCrop(cols, side int) *Range {
	if side <= 0 {
		return nil
	}
	return &Range{First: side, Last: cols - side}
}

// Options controls the mu*t computation.
type Options struct {
	// Lowpass smooths the transmitted ratio along energy before the logarithm
	Lowpass bool

	// LowpassSigma is the Gaussian sigma in rows used by Lowpass
	LowpassSigma float64

	// Crop restricts the analysed columns; nil keeps all of them
	Crop *Range

	// Clip floors mu*t at zero
	Clip bool

	// PutDarkBack treats the projections as already dark corrected: the
	// dark field is left in the signal instead of being subtracted again
	PutDarkBack bool

	// MaxInvalidFraction bounds the invalid reference share in the
	// window; zero selects DefaultMaxInvalidFraction
	MaxInvalidFraction float64

	// NumWorkers is the number of projections processed concurrently;
	// zero uses all CPUs
	NumWorkers int
}

// DefaultOptions returns the computation defaults.
func DefaultOptions() Options {
	return Options{
		LowpassSigma:       2,
		MaxInvalidFraction: DefaultMaxInvalidFraction,
		NumWorkers:         runtime.NumCPU(),
	}
}

// Compute returns the mu*t volume of every projection in tomo.
//
// For each projection and column the dark field is subtracted, the
// column is shifted into the aligned frame when the beam parameters are
// motion corrected, and divided by the beam reference. Non-positive
// ratios and invalid reference pixels are masked. With Lowpass enabled
// the ratio is smoothed along rows before taking mu*t = -ln(ratio).
//
// tomo and beam are never modified.
func Compute(tomo *models.Stack, beam *models.BeamParameters, opts Options) (*models.MuTVolume, error) {
	if tomo == nil || tomo.Len() == 0 {
		return nil, fmt.Errorf("no projections to process")
	}
	if beam == nil || beam.Reference == nil {
		return nil, fmt.Errorf("beam parameters are missing")
	}
	rows, cols := tomo.Rows(), tomo.Cols()
	if rows != beam.Rows() || cols != beam.Cols() {
		return nil, fmt.Errorf("projection shape %dx%d does not match beam reference %s",
			rows, cols, beam.Reference.Shape())
	}

	window := Range{First: 0, Last: cols}
	if opts.Crop != nil {
		window = *opts.Crop
		if window.First < 0 || window.Last > cols || window.First >= window.Last {
			return nil, fmt.Errorf("crop [%d, %d) outside %d columns", window.First, window.Last, cols)
		}
	}

	limit := opts.MaxInvalidFraction
	if limit <= 0 {
		limit = DefaultMaxInvalidFraction
	}
	if frac := beam.InvalidFraction(window.First, window.Last); frac > limit {
		return nil, &models.NormalizationError{Input: "beam reference", InvalidFraction: frac, Limit: limit}
	}

	vol := models.NewMuTVolume(rows, cols, tomo.Len())
	vol.FirstCol, vol.LastCol = window.First, window.Last

	workers := opts.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > tomo.Len() {
		workers = tomo.Len()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				computeProjection(vol, p, tomo.Frames[p], beam, window, opts)
			}
		}()
	}
	for p := 0; p < tomo.Len(); p++ {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	return vol, nil
}

// computeProjection fills projection p of vol. Each call writes a
// disjoint region of the volume.
func computeProjection(vol *models.MuTVolume, p int, frame *models.Frame, beam *models.BeamParameters, window Range, opts Options) {
	rows := frame.Rows
	signal := make([]float64, rows)
	ratio := make([]float64, rows)
	ok := make([]bool, rows)

	for c := window.First; c < window.Last; c++ {
		for r := 0; r < rows; r++ {
			signal[r] = frame.At(r, c)
			if !opts.PutDarkBack {
				signal[r] -= beam.Dark.At(r, c)
			}
		}
		shifted, shiftedOK := signal, []bool(nil)
		if beam.MotionCorrected && beam.RowOffset[c] != 0 {
			shifted, shiftedOK = smoothing.Shift(signal, nil, beam.RowOffset[c])
		}

		for r := 0; r < rows; r++ {
			ok[r] = false
			ratio[r] = 0
			if shiftedOK != nil && !shiftedOK[r] {
				continue
			}
			if !beam.IsValid(r, c) {
				continue
			}
			v := shifted[r] / beam.Reference.At(r, c)
			if v > 0 && !math.IsInf(v, 0) {
				ratio[r] = v
				ok[r] = true
			}
		}

		values := ratio
		if opts.Lowpass {
			values = smoothing.MaskedGaussian(ratio, ok, opts.LowpassSigma)
		}

		for r := 0; r < rows; r++ {
			if !ok[r] || values[r] <= 0 {
				continue
			}
			mu := -math.Log(values[r])
			if opts.Clip && mu < 0 {
				mu = 0
			}
			i := vol.Index(p, r, c)
			vol.Data[i] = mu
			vol.Valid[i] = true
		}
	}
}
