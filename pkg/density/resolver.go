// Package density decomposes absorbance spectra into areal densities of
// the library materials by per-position least squares.
package density

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"nearedge/internal/models"
	"nearedge/pkg/spectra"
)

// maxCondition is the largest design condition number accepted before a
// position is treated as rank deficient.
const maxCondition = 1e12

// Options controls the decomposition.
type Options struct {
	// UseWeights weights each energy row by the square root of the beam
	// reference intensity, matching the counting noise of mu*t
	UseWeights bool

	// EnergyWeights multiplies the weight of each energy row; rows with a
	// zero weight are left out. nil weights every row equally
	EnergyWeights []float64

	// NumWorkers is the number of concurrent solvers; zero uses all CPUs
	NumWorkers int
}

// DefaultOptions returns an unweighted, fully parallel configuration.
func DefaultOptions() Options {
	return Options{NumWorkers: runtime.NumCPU()}
}

// Resolve solves mu*t = sum_k rhot_k * mu/rho_k for every column of
// every projection inside the volume's column window.
//
// Positions with fewer valid rows than regression materials, or with a
// singular system, are left at the unresolved sentinel (NaN) and counted
// in DensityResult.Unresolved. Columns outside the window stay NaN and
// are not counted.
//
// beam is only consulted when opts.UseWeights is set and may be nil otherwise.
func Resolve(mu *models.MuTVolume, lib *spectra.Library, beam *models.BeamParameters, opts Options) (*models.DensityResult, error) {
	if mu == nil {
		return nil, fmt.Errorf("mu*t volume is missing")
	}
	if lib == nil {
		return nil, fmt.Errorf("spectral library is missing")
	}
	if len(lib.Energy) != mu.Rows {
		return nil, fmt.Errorf("library has %d energy rows, mu*t volume %d", len(lib.Energy), mu.Rows)
	}
	if opts.UseWeights {
		if beam == nil || beam.Reference == nil {
			return nil, fmt.Errorf("weighted regression needs the beam reference")
		}
		if beam.Rows() != mu.Rows || beam.Cols() != mu.Cols {
			return nil, fmt.Errorf("beam reference %s does not match mu*t volume %dx%d",
				beam.Reference.Shape(), mu.Rows, mu.Cols)
		}
	}

	if opts.EnergyWeights != nil {
		if len(opts.EnergyWeights) != mu.Rows {
			return nil, fmt.Errorf("%d energy weights for %d energy rows", len(opts.EnergyWeights), mu.Rows)
		}
		for r, w := range opts.EnergyWeights {
			if w < 0 || math.IsNaN(w) {
				return nil, fmt.Errorf("energy weight %d is %g, want >= 0", r, w)
			}
		}
	}

	design := lib.Matrix()
	result := models.NewDensityResult(lib.Names(), mu.Cols, mu.Projections)

	workers := opts.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > mu.Projections {
		workers = mu.Projections
	}

	unresolved := make([]int, mu.Projections)
	first := make([]*models.RegressionRankError, mu.Projections)
	errs := make([]error, mu.Projections)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				unresolved[p], first[p], errs[p] = resolveProjection(result, mu, p, design, beam, opts)
			}
		}()
	}
	for p := 0; p < mu.Projections; p++ {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	for p := range errs {
		if errs[p] != nil {
			return nil, errs[p]
		}
		result.Unresolved += unresolved[p]
		if result.FirstUnresolved == nil {
			result.FirstUnresolved = first[p]
		}
	}
	return result, nil
}

// resolveProjection solves every windowed column of projection p and
// returns how many were left unresolved and the first of them.
func resolveProjection(result *models.DensityResult, mu *models.MuTVolume, p int, design *mat.Dense, beam *models.BeamParameters, opts Options) (int, *models.RegressionRankError, error) {
	unresolved := 0
	var first *models.RegressionRankError
	var weights []float64
	if opts.UseWeights || opts.EnergyWeights != nil {
		weights = make([]float64, mu.Rows)
	}

	for c := mu.FirstCol; c < mu.LastCol; c++ {
		spectrum, valid := mu.Spectrum(p, c)
		if weights != nil {
			for r := range weights {
				w := 1.0
				if opts.UseWeights {
					w = math.Sqrt(math.Max(beam.Reference.At(r, c), 0))
				}
				if opts.EnergyWeights != nil {
					w *= opts.EnergyWeights[r]
				}
				weights[r] = w
			}
		}

		coef, residual, err := SolvePosition(spectrum, valid, design, weights)
		if err != nil {
			var rankErr *models.RegressionRankError
			if errors.As(err, &rankErr) {
				rankErr.Projection, rankErr.Column = p, c
				if first == nil {
					first = rankErr
				}
				unresolved++
				continue
			}
			return 0, nil, fmt.Errorf("projection %d column %d: %w", p, c, err)
		}

		copy(result.At(p, c), coef)
		i := p*result.Cols + c
		result.Residual[i] = residual
		result.Resolved[i] = true
	}
	return unresolved, first, nil
}

// SolvePosition fits one mu*t spectrum against the design matrix, whose
// column k holds the mu/rho spectrum of material k. Only rows flagged in
// valid (and with positive weight when weights is non-nil) take part.
//
// Returns:
//   - the areal densities in design column order
//   - the L2 norm of the unweighted fit gap over the rows used
//   - a *models.RegressionRankError when the system cannot be solved
func SolvePosition(spectrum []float64, valid []bool, design *mat.Dense, weights []float64) ([]float64, float64, error) {
	rows, unknowns := design.Dims()
	if len(spectrum) != rows || len(valid) != rows {
		return nil, 0, fmt.Errorf("spectrum has %d rows, design matrix %d", len(spectrum), rows)
	}

	used := make([]int, 0, rows)
	for r := 0; r < rows; r++ {
		if !valid[r] {
			continue
		}
		if weights != nil && !(weights[r] > 0) {
			continue
		}
		used = append(used, r)
	}
	n := len(used)
	if n < unknowns {
		return nil, 0, &models.RegressionRankError{ValidRows: n, Unknowns: unknowns}
	}

	// One material, one energy: the direct ratio mu*t / (mu/rho)
	if unknowns == 1 && n == 1 {
		a := design.At(used[0], 0)
		if a == 0 {
			return nil, 0, &models.RegressionRankError{ValidRows: n, Unknowns: unknowns}
		}
		return []float64{spectrum[used[0]] / a}, 0, nil
	}

	a := mat.NewDense(n, unknowns, nil)
	b := mat.NewDense(n, 1, nil)
	for i, r := range used {
		w := 1.0
		if weights != nil {
			w = weights[r]
		}
		for k := 0; k < unknowns; k++ {
			a.Set(i, k, w*design.At(r, k))
		}
		b.Set(i, 0, w*spectrum[r])
	}

	var qr mat.QR
	qr.Factorize(a)
	if cond := qr.Cond(); math.IsInf(cond, 1) || cond > maxCondition {
		return nil, 0, &models.RegressionRankError{ValidRows: n, Unknowns: unknowns}
	}
	var x mat.Dense
	if err := qr.SolveTo(&x, false, b); err != nil {
		// mat.Condition: numerically rank deficient
		return nil, 0, &models.RegressionRankError{ValidRows: n, Unknowns: unknowns}
	}

	coef := make([]float64, unknowns)
	for k := range coef {
		coef[k] = x.At(k, 0)
	}

	gap := make([]float64, n)
	for i, r := range used {
		fit := 0.0
		for k := 0; k < unknowns; k++ {
			fit += design.At(r, k) * coef[k]
		}
		gap[i] = fit - spectrum[r]
	}
	return coef, floats.Norm(gap, 2), nil
}
