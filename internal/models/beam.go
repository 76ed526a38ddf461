package models

import "math"

// EnergyAxis holds one beam energy in keV per detector row. It is
// strictly increasing and never modified after calibration.
type EnergyAxis []float64

// Len returns the number of energy rows.
func (e EnergyAxis) Len() int { return len(e) }

// Min returns the lowest energy on the axis.
func (e EnergyAxis) Min() float64 {
	if len(e) == 0 {
		return math.NaN()
	}
	return e[0]
}

// Max returns the highest energy on the axis.
func (e EnergyAxis) Max() float64 {
	if len(e) == 0 {
		return math.NaN()
	}
	return e[len(e)-1]
}

// IsIncreasing reports whether every energy exceeds its predecessor.
func (e EnergyAxis) IsIncreasing() bool {
	for i := 1; i < len(e); i++ {
		if !(e[i] > e[i-1]) {
			return false
		}
	}
	return len(e) > 0
}

// BeamParameters is the calibration outcome shared read-only by every
// downstream stage.
type BeamParameters struct {
	// Energy maps each detector row to its beam energy
	Energy EnergyAxis

	// EnergyWidth is the energy interval (keV) subtended by each row
	EnergyWidth []float64

	// Dispersion is the signed energy step per row in keV
	Dispersion float64

	// Reference is the dark-subtracted flat field. When MotionCorrected
	// is set it has already been resampled into the aligned frame.
	Reference *Frame

	// Dark is the dark field subtracted from every projection
	Dark *Frame

	// Valid marks reference pixels usable as divisors, indexed like Reference.Data
	Valid []bool

	// RowOffset is the per-column vertical shift (rows) relative to the
	// reference column. All zero when no correction was estimated.
	RowOffset []float64

	// MotionCorrected reports whether RowOffset was estimated and applied
	MotionCorrected bool

	// EdgeRow is the detected absorption-edge row, NaN when no edge anchored the axis
	EdgeRow float64
}

// Rows returns the detector row count.
func (b *BeamParameters) Rows() int { return b.Reference.Rows }

// Cols returns the detector column count.
func (b *BeamParameters) Cols() int { return b.Reference.Cols }

// IsValid reports whether the reference pixel at (r, c) may be divided by.
func (b *BeamParameters) IsValid(r, c int) bool {
	return b.Valid[r*b.Reference.Cols+c]
}

// InvalidFraction returns the share of invalid reference pixels inside
// columns [first, last).
func (b *BeamParameters) InvalidFraction(first, last int) float64 {
	total, bad := 0, 0
	for r := 0; r < b.Reference.Rows; r++ {
		for c := first; c < last; c++ {
			total++
			if !b.Valid[r*b.Reference.Cols+c] {
				bad++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total)
}
