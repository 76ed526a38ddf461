package models

import "math"

// MuTVolume holds the absorbance mu*t for every (projection, energy row,
// column). Entries whose source intensity or beam reference was unusable
// are flagged in Valid; their Data value is zero and must not be read
// as a measurement.
type MuTVolume struct {
	// Data is indexed (p*Rows + r)*Cols + c
	Data []float64

	// Valid flags usable entries, indexed like Data
	Valid []bool

	// Rows, Cols and Projections are the volume dimensions
	Rows, Cols, Projections int

	// FirstCol and LastCol bound the analysed column window [FirstCol, LastCol)
	FirstCol, LastCol int
}

// NewMuTVolume allocates an all-invalid volume.
func NewMuTVolume(rows, cols, projections int) *MuTVolume {
	n := rows * cols * projections
	return &MuTVolume{
		Data:        make([]float64, n),
		Valid:       make([]bool, n),
		Rows:        rows,
		Cols:        cols,
		Projections: projections,
		FirstCol:    0,
		LastCol:     cols,
	}
}

// Index returns the flat offset of (p, r, c).
func (m *MuTVolume) Index(p, r, c int) int {
	return (p*m.Rows+r)*m.Cols + c
}

// At returns the value and validity at (p, r, c).
func (m *MuTVolume) At(p, r, c int) (float64, bool) {
	i := m.Index(p, r, c)
	return m.Data[i], m.Valid[i]
}

// Spectrum copies the mu*t spectrum and validity of column c in projection p.
func (m *MuTVolume) Spectrum(p, c int) ([]float64, []bool) {
	vals := make([]float64, m.Rows)
	ok := make([]bool, m.Rows)
	for r := 0; r < m.Rows; r++ {
		i := m.Index(p, r, c)
		vals[r] = m.Data[i]
		ok[r] = m.Valid[i]
	}
	return vals, ok
}

// InWindow reports whether column c lies inside the analysed window.
func (m *MuTVolume) InWindow(c int) bool {
	return c >= m.FirstCol && c < m.LastCol
}

// MaterialSpectrum is a mass-attenuation curve aligned to the energy axis.
type MaterialSpectrum struct {
	Name string

	// MuRho has one non-negative value (cm^2/g) per energy row
	MuRho []float64

	// Background marks the ambient medium excluded from the unknowns
	Background bool

	// Measured reports that an empirical standard replaced the tabulated curve
	Measured bool
}

// DensityResult holds areal densities rho*t per (projection, column),
// one value per regression material, plus the fit residual.
// Unresolved positions hold NaN in both RhoT and Residual.
type DensityResult struct {
	// Materials names the regression materials in coefficient order
	Materials []string

	Cols, Projections int

	// RhoT is indexed (p*Cols+c)*len(Materials) + k, in g/cm^2
	RhoT []float64

	// Residual is the L2 norm of the fit gap per (p, c)
	Residual []float64

	// Resolved flags positions with a numeric solution
	Resolved []bool

	// Unresolved counts rank-deficient or masked positions inside the window
	Unresolved int

	// FirstUnresolved describes the lowest (projection, column) left
	// unresolved; nil when every windowed position was solved
	FirstUnresolved *RegressionRankError
}

// NewDensityResult allocates a result filled with the unresolved sentinel.
func NewDensityResult(materials []string, cols, projections int) *DensityResult {
	names := make([]string, len(materials))
	copy(names, materials)
	n := cols * projections
	res := &DensityResult{
		Materials:   names,
		Cols:        cols,
		Projections: projections,
		RhoT:        make([]float64, n*len(names)),
		Residual:    make([]float64, n),
		Resolved:    make([]bool, n),
	}
	for i := range res.RhoT {
		res.RhoT[i] = math.NaN()
	}
	for i := range res.Residual {
		res.Residual[i] = math.NaN()
	}
	return res
}

// At returns the density vector of (p, c). The slice aliases RhoT.
func (d *DensityResult) At(p, c int) []float64 {
	m := len(d.Materials)
	i := (p*d.Cols + c) * m
	return d.RhoT[i : i+m]
}

// ResidualAt returns the fit residual of (p, c).
func (d *DensityResult) ResidualAt(p, c int) float64 {
	return d.Residual[p*d.Cols+c]
}

// IsResolved reports whether (p, c) carries a numeric solution.
func (d *DensityResult) IsResolved(p, c int) bool {
	return d.Resolved[p*d.Cols+c]
}

// MaterialIndex returns the coefficient position of name or -1.
func (d *DensityResult) MaterialIndex(name string) int {
	for i, n := range d.Materials {
		if n == name {
			return i
		}
	}
	return -1
}

// Map extracts the projections x columns density map of one material,
// indexed p*Cols+c. It returns nil for an unknown material.
func (d *DensityResult) Map(name string) []float64 {
	k := d.MaterialIndex(name)
	if k < 0 {
		return nil
	}
	m := len(d.Materials)
	out := make([]float64, d.Cols*d.Projections)
	for i := range out {
		out[i] = d.RhoT[i*m+k]
	}
	return out
}

// ResultBundle aggregates everything one run produced.
type ResultBundle struct {
	Beam    *BeamParameters
	Spectra []MaterialSpectrum
	MuT     *MuTVolume
	Density *DensityResult
}
