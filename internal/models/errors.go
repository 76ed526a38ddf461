package models

import "fmt"

// CalibrationError reports calibration scans or geometry the beam
// calibrator cannot work with.
type CalibrationError struct {
	// Input names the offending scan or geometry field
	Input  string
	Reason string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration failed on %s: %s", e.Input, e.Reason)
}

// NormalizationError reports a beam reference with too many unusable
// pixels inside the analysed window.
type NormalizationError struct {
	Input           string
	InvalidFraction float64
	Limit           float64
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization failed on %s: %.1f%% of beam reference pixels invalid (limit %.1f%%)",
		e.Input, 100*e.InvalidFraction, 100*e.Limit)
}

// MaterialResolutionError reports a material whose spectrum could not be obtained.
type MaterialResolutionError struct {
	Material string
	Source   string
	Err      error
}

func (e *MaterialResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("material %q (%s) could not be resolved", e.Material, e.Source)
	}
	return fmt.Sprintf("material %q (%s) could not be resolved: %v", e.Material, e.Source, e.Err)
}

func (e *MaterialResolutionError) Unwrap() error { return e.Err }

// RegressionRankError reports a position with fewer usable energy rows
// than unknown materials, or a numerically singular system.
type RegressionRankError struct {
	Projection, Column int
	ValidRows          int
	Unknowns           int
}

func (e *RegressionRankError) Error() string {
	return fmt.Sprintf("projection %d column %d: %d valid rows for %d unknowns",
		e.Projection, e.Column, e.ValidRows, e.Unknowns)
}
