// Package calibration derives the beam parameters of an energy-dispersive
// near-edge imaging setup from its flat, dark and edge calibration scans:
// the row-to-energy mapping, the normalization reference, its validity
// mask and the optional per-column vertical motion correction.
package calibration

import (
	"math"

	"nearedge/internal/models"
	"nearedge/pkg/smoothing"
)

// Scans holds the averaged calibration images. Edge may be nil when no
// edge reference was recorded; the energy axis is then anchored on the
// geometry alone.
type Scans struct {
	Flat *models.Frame
	Dark *models.Frame
	Edge *models.Frame
}

// Geometry describes how energy disperses across the detector rows.
type Geometry struct {
	// EnergyRange is the total energy span (keV) covered by all rows
	EnergyRange float64 `yaml:"energyRange"`

	// EdgeEnergy is the absorption-edge energy (keV) of the edge-scan foil
	EdgeEnergy float64 `yaml:"edgeEnergy"`

	// CenterEnergy is the energy (keV) at the centre row, used when no
	// edge anchors the axis
	CenterEnergy float64 `yaml:"centerEnergy"`

	// Flip reports that energy decreases with row on the raw detector
	Flip bool `yaml:"flip"`

	// DetectorRows is the row count EnergyRange spans when the scans hold
	// only a band of the detector; 0 means the scans are the full detector
	DetectorRows int `yaml:"-"`

	// FirstRow is the detector row of the scans' row 0
	FirstRow int `yaml:"-"`
}

// Options tunes the calibrator.
type Options struct {
	// FixVerticalMotion enables the per-column vertical shift estimate
	FixVerticalMotion bool

	// MinIntensity is the dark-subtracted flat level at or below which a
	// pixel is unusable as a divisor
	MinIntensity float64

	// EdgeThreshold is the minimum median edge gradient (optical depth
	// per row) for an edge to count as present
	EdgeThreshold float64

	// SmoothSigma is the Gaussian sigma (rows) applied before locating the edge
	SmoothSigma float64

	// MaxShift bounds the vertical shift search in rows; 0 means Rows/4
	MaxShift int

	// FlatGamma raises the stored beam reference to this power to undo a
	// nonlinear detector response; 0 and 1 leave it unchanged
	FlatGamma float64
}

// DefaultOptions returns the calibrator defaults.
func DefaultOptions() Options {
	return Options{
		FixVerticalMotion: false,
		MinIntensity:      0,
		EdgeThreshold:     0.02,
		SmoothSigma:       2,
		FlatGamma:         1,
	}
}

// edgeProfile is the located absorption edge of a single column.
type edgeProfile struct {
	row      float64
	strength float64
	ok       bool
}

// Calibrate computes the beam parameters from the calibration scans.
//
// The energy axis is E[r] = anchorEnergy + (r - anchorRow) * EnergyRange/DetectorRows.
// The anchor is the detected edge row paired with Geometry.EdgeEnergy
// when the edge scan shows an edge, otherwise the detector centre row
// paired with Geometry.CenterEnergy. For a row band, rows are numbered
// from the band start and the axis equals the matching slice of the
// full-detector axis. Scans are expected with energy increasing along
// rows; callers flip them beforehand when Geometry.Flip is set.
//
// Returns:
//   - the beam parameters, or a *models.CalibrationError
func Calibrate(scans Scans, geom Geometry, opts Options) (*models.BeamParameters, error) {
	if err := validateScans(scans); err != nil {
		return nil, err
	}
	if !(geom.EnergyRange > 0) {
		return nil, &models.CalibrationError{Input: "geometry.energyRange", Reason: "energy range must be positive"}
	}

	rows, cols := scans.Flat.Rows, scans.Flat.Cols
	detectorRows := rows
	if geom.DetectorRows > 0 {
		if geom.FirstRow < 0 || geom.FirstRow+rows > geom.DetectorRows {
			return nil, &models.CalibrationError{Input: "geometry", Reason: "row band outside the detector rows"}
		}
		detectorRows = geom.DetectorRows
	}

	// Dark-subtract the flat and flag pixels that cannot serve as divisors
	ref := models.NewFrame(rows, cols)
	valid := make([]bool, rows*cols)
	for i := range ref.Data {
		ref.Data[i] = scans.Flat.Data[i] - scans.Dark.Data[i]
		valid[i] = ref.Data[i] > opts.MinIntensity
	}

	// Edge optical depth per pixel, invalid where either scan is unusable
	var edgeOD []float64
	var edgeValid []bool
	if scans.Edge != nil {
		edgeOD = make([]float64, rows*cols)
		edgeValid = make([]bool, rows*cols)
		for i := range edgeOD {
			e := scans.Edge.Data[i] - scans.Dark.Data[i]
			if valid[i] && e > 0 {
				edgeOD[i] = -math.Log(e / ref.Data[i])
				edgeValid[i] = true
			}
		}
	}

	params := &models.BeamParameters{
		Dark:      scans.Dark.Clone(),
		RowOffset: make([]float64, cols),
		EdgeRow:   math.NaN(),
	}

	// Smoothed edge gradient per column; the rising absorption edge is its peak
	var edgeGrad []float64
	var edgeGradValid []bool
	if edgeOD != nil {
		edgeGrad = make([]float64, rows*cols)
		edgeGradValid = make([]bool, rows*cols)
		for c := 0; c < cols; c++ {
			od, ok := columnOf(edgeOD, edgeValid, rows, cols, c)
			grad, gradOK := edgeGradient(od, ok, opts.SmoothSigma)
			for r := 0; r < rows; r++ {
				edgeGrad[r*cols+c] = grad[r]
				edgeGradValid[r*cols+c] = gradOK[r]
			}
		}
	}

	// Vertical motion: align each column's profile with the centre column
	if opts.FixVerticalMotion {
		profile, profileValid := ref.Data, valid
		if edgeGrad != nil {
			profile, profileValid = edgeGrad, edgeGradValid
		}
		params.RowOffset = estimateRowOffsets(profile, profileValid, rows, cols, opts)
		params.MotionCorrected = true
	}

	// Locate the edge in every column, in the aligned frame
	edgeRow := math.NaN()
	if edgeGrad != nil {
		rowsFound := make([]float64, 0, cols)
		strengths := make([]float64, 0, cols)
		for c := 0; c < cols; c++ {
			grad, ok := columnOf(edgeGrad, edgeGradValid, rows, cols, c)
			if params.MotionCorrected {
				grad, ok = smoothing.Shift(grad, ok, params.RowOffset[c])
			}
			ep := locateEdge(grad, ok)
			if !ep.ok {
				continue
			}
			rowsFound = append(rowsFound, ep.row)
			strengths = append(strengths, ep.strength)
		}
		if len(strengths) > 0 && smoothing.Median(strengths) >= opts.EdgeThreshold {
			edgeRow = smoothing.Median(rowsFound)
		}
	}

	anchorRow, anchorEnergy := 0.0, 0.0
	switch {
	case !math.IsNaN(edgeRow) && geom.EdgeEnergy > 0:
		anchorRow, anchorEnergy = edgeRow, geom.EdgeEnergy
		params.EdgeRow = edgeRow
	case geom.CenterEnergy > 0:
		anchorRow, anchorEnergy = float64(detectorRows-1)/2-float64(geom.FirstRow), geom.CenterEnergy
	default:
		reason := "no absorption edge detected and no centre energy configured"
		if !math.IsNaN(edgeRow) {
			reason = "edge detected but neither edge energy nor centre energy configured"
		}
		return nil, &models.CalibrationError{Input: "edge", Reason: "unresolvable energy anchor: " + reason}
	}

	params.Dispersion = geom.EnergyRange / float64(detectorRows)
	params.Energy = make(models.EnergyAxis, rows)
	for r := 0; r < rows; r++ {
		params.Energy[r] = anchorEnergy + (float64(r)-anchorRow)*params.Dispersion
	}
	params.EnergyWidth = rowWidths(params.Energy)

	// Store the reference in the aligned frame
	if params.MotionCorrected {
		aligned := models.NewFrame(rows, cols)
		alignedValid := make([]bool, rows*cols)
		for c := 0; c < cols; c++ {
			col, ok := columnOf(ref.Data, valid, rows, cols, c)
			col, ok = smoothing.Shift(col, ok, params.RowOffset[c])
			for r := 0; r < rows; r++ {
				aligned.Data[r*cols+c] = col[r]
				alignedValid[r*cols+c] = ok[r] && col[r] > opts.MinIntensity
			}
		}
		ref, valid = aligned, alignedValid
	}
	if g := opts.FlatGamma; g > 0 && g != 1 {
		for i := range ref.Data {
			if !valid[i] {
				continue
			}
			ref.Data[i] = math.Pow(ref.Data[i], g)
			valid[i] = ref.Data[i] > opts.MinIntensity
		}
	}
	params.Reference = ref
	params.Valid = valid

	return params, nil
}

// validateScans checks presence and shape agreement of the calibration scans.
func validateScans(scans Scans) error {
	if scans.Flat == nil || len(scans.Flat.Data) == 0 {
		return &models.CalibrationError{Input: "flat", Reason: "flat scan is missing"}
	}
	if scans.Dark == nil || len(scans.Dark.Data) == 0 {
		return &models.CalibrationError{Input: "dark", Reason: "dark scan is missing"}
	}
	if !scans.Dark.SameShape(scans.Flat) {
		return &models.CalibrationError{
			Input:  "dark",
			Reason: "dark shape " + scans.Dark.Shape() + " does not match flat shape " + scans.Flat.Shape(),
		}
	}
	if scans.Edge != nil && !scans.Dark.SameShape(scans.Edge) {
		return &models.CalibrationError{
			Input:  "dark",
			Reason: "dark shape " + scans.Dark.Shape() + " does not match edge shape " + scans.Edge.Shape(),
		}
	}
	if scans.Flat.Rows < 2 {
		return &models.CalibrationError{Input: "flat", Reason: "at least two energy rows are required"}
	}
	return nil
}

// columnOf extracts column c of a row-major buffer with its mask.
func columnOf(data []float64, valid []bool, rows, cols, c int) ([]float64, []bool) {
	col := make([]float64, rows)
	ok := make([]bool, rows)
	for r := 0; r < rows; r++ {
		col[r] = data[r*cols+c]
		ok[r] = valid[r*cols+c]
	}
	return col, ok
}

// edgeGradient smooths a column's edge optical depth and differentiates
// it along rows. A gradient sample is only trusted where both neighbours
// are valid.
func edgeGradient(od []float64, valid []bool, sigma float64) ([]float64, []bool) {
	grad := smoothing.Gradient(smoothing.MaskedGaussian(od, valid, sigma))
	gradValid := make([]bool, len(grad))
	for i := 1; i < len(grad)-1; i++ {
		gradValid[i] = valid[i-1] && valid[i] && valid[i+1]
	}
	return grad, gradValid
}

// locateEdge finds the steepest rise of a column's edge optical depth.
func locateEdge(grad []float64, valid []bool) edgeProfile {
	i, ok := smoothing.ArgMax(grad, valid)
	if !ok {
		return edgeProfile{}
	}
	return edgeProfile{
		row:      smoothing.ParabolicPeak(grad, i),
		strength: grad[i],
		ok:       true,
	}
}

// estimateRowOffsets cross-correlates every column's profile against the
// centre column and returns the per-column shift in rows.
func estimateRowOffsets(profile []float64, valid []bool, rows, cols int, opts Options) []float64 {
	offsets := make([]float64, cols)
	refCol := cols / 2
	maxLag := opts.MaxShift
	if maxLag <= 0 {
		maxLag = rows / 4
	}

	reference := maskedColumn(profile, valid, rows, cols, refCol)
	for c := 0; c < cols; c++ {
		if c == refCol {
			continue
		}
		offsets[c] = estimateLag(maskedColumn(profile, valid, rows, cols, c), reference, maxLag)
	}
	return offsets
}

// maskedColumn extracts a column with invalid samples replaced by the
// mean of the valid ones, so they carry no correlation weight.
func maskedColumn(data []float64, valid []bool, rows, cols, c int) []float64 {
	col, ok := columnOf(data, valid, rows, cols, c)
	sum, n := 0.0, 0
	for r := range col {
		if ok[r] {
			sum += col[r]
			n++
		}
	}
	mean := 0.0
	if n > 0 {
		mean = sum / float64(n)
	}
	for r := range col {
		if !ok[r] {
			col[r] = mean
		}
	}
	return col
}

// rowWidths returns the energy interval each row subtends.
func rowWidths(energy models.EnergyAxis) []float64 {
	n := len(energy)
	widths := make([]float64, n)
	if n < 2 {
		return widths
	}
	widths[0] = energy[1] - energy[0]
	widths[n-1] = energy[n-1] - energy[n-2]
	for i := 1; i < n-1; i++ {
		widths[i] = (energy[i+1] - energy[i-1]) / 2
	}
	return widths
}
