// Package spectra builds the spectral library: the mass-attenuation
// spectrum of every candidate material resampled onto the calibrated
// energy axis and broadened to the detector energy resolution.
package spectra

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"

	"nearedge/internal/models"
)

// Options controls how tabulated spectra are turned into library entries.
type Options struct {
	// WidthFactor scales the per-row energy width into the Gaussian sigma
	WidthFactor float64

	// UseMeasuredStandard requests measured reference spectra instead of tabulated ones
	UseMeasuredStandard bool
}

// DefaultOptions returns broadening by exactly one row width.
func DefaultOptions() Options {
	return Options{WidthFactor: 1}
}

// Library is the ordered collection of material spectra aligned to one
// energy axis. Entry order fixes the order of the regression coefficients.
type Library struct {
	Energy  models.EnergyAxis
	Spectra []models.MaterialSpectrum
}

// Build resolves, resamples and broadens every material.
//
// Parameters:
//   - materials: candidate materials in coefficient order
//   - energy: calibrated energy axis
//   - width: per-row energy width (keV), same length as energy
//   - resolver: source of tabulated spectra
//   - opts: broadening and standard selection
//
// Returns:
//   - the library, or a *models.MaterialResolutionError naming the material
func Build(materials []Material, energy models.EnergyAxis, width []float64, resolver Resolver, opts Options) (*Library, error) {
	if len(materials) == 0 {
		return nil, fmt.Errorf("no materials requested")
	}
	if resolver == nil {
		return nil, fmt.Errorf("no material resolver configured")
	}
	if !energy.IsIncreasing() {
		return nil, fmt.Errorf("energy axis must be strictly increasing")
	}
	if len(width) != len(energy) {
		return nil, fmt.Errorf("energy width has %d rows, energy axis %d", len(width), len(energy))
	}

	lib := &Library{Energy: energy, Spectra: make([]models.MaterialSpectrum, 0, len(materials))}
	seen := make(map[string]bool, len(materials))
	unknowns := 0
	for _, m := range materials {
		if m.Name == "" {
			return nil, &models.MaterialResolutionError{Material: m.Name, Source: m.Source.String(), Err: fmt.Errorf("empty material name")}
		}
		if seen[m.Name] {
			return nil, &models.MaterialResolutionError{Material: m.Name, Source: m.Source.String(), Err: fmt.Errorf("duplicate material name")}
		}
		seen[m.Name] = true

		curve, err := resolver.ResolveSpectrum(m.Name, m.Source, opts.UseMeasuredStandard)
		if err != nil {
			return nil, &models.MaterialResolutionError{Material: m.Name, Source: m.Source.String(), Err: err}
		}
		interpolant, err := newInterpolant(curve)
		if err != nil {
			return nil, &models.MaterialResolutionError{Material: m.Name, Source: m.Source.String(), Err: err}
		}

		sigma := make([]float64, len(width))
		for i, w := range width {
			sigma[i] = math.Abs(w) * opts.WidthFactor
		}
		lib.Spectra = append(lib.Spectra, models.MaterialSpectrum{
			Name:       m.Name,
			MuRho:      broaden(interpolant, energy, sigma),
			Background: m.Background,
			Measured:   opts.UseMeasuredStandard,
		})
		if !m.Background {
			unknowns++
		}
	}
	if unknowns == 0 {
		return nil, fmt.Errorf("all %d materials are background; nothing to solve for", len(materials))
	}
	return lib, nil
}

// Regression returns the non-background spectra in library order.
func (l *Library) Regression() []models.MaterialSpectrum {
	out := make([]models.MaterialSpectrum, 0, len(l.Spectra))
	for _, s := range l.Spectra {
		if !s.Background {
			out = append(out, s)
		}
	}
	return out
}

// Names returns the regression material names in coefficient order.
func (l *Library) Names() []string {
	reg := l.Regression()
	names := make([]string, len(reg))
	for i, s := range reg {
		names[i] = s.Name
	}
	return names
}

// Spectrum looks up a library entry by name.
func (l *Library) Spectrum(name string) (models.MaterialSpectrum, bool) {
	for _, s := range l.Spectra {
		if s.Name == name {
			return s, true
		}
	}
	return models.MaterialSpectrum{}, false
}

// Matrix returns the rows x unknowns design matrix whose column k is
// the mu/rho spectrum of regression material k.
func (l *Library) Matrix() *mat.Dense {
	reg := l.Regression()
	m := mat.NewDense(len(l.Energy), len(reg), nil)
	for k, s := range reg {
		m.SetCol(k, s.MuRho)
	}
	return m
}

// interpolant evaluates a tabulated curve at arbitrary energies,
// log-log when every value is positive and linear otherwise. Energies
// outside the table are clamped to its end values.
type interpolant struct {
	pl     interp.PiecewiseLinear
	logLog bool
}

func newInterpolant(c Curve) (*interpolant, error) {
	c = separateEdges(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logLog := true
	for i := range c.MuRho {
		if !(c.MuRho[i] > 0) || !(c.Energy[i] > 0) {
			logLog = false
			break
		}
	}

	xs := make([]float64, len(c.Energy))
	ys := make([]float64, len(c.MuRho))
	for i := range xs {
		if logLog {
			xs[i] = math.Log(c.Energy[i])
			ys[i] = math.Log(c.MuRho[i])
		} else {
			xs[i] = c.Energy[i]
			ys[i] = c.MuRho[i]
		}
	}
	ip := &interpolant{logLog: logLog}
	if err := ip.pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("fitting curve: %w", err)
	}
	return ip, nil
}

// at returns the non-negative curve value at energy e.
func (ip *interpolant) at(e float64) float64 {
	var v float64
	if ip.logLog {
		if e <= 0 {
			return 0
		}
		v = math.Exp(ip.pl.Predict(math.Log(e)))
	} else {
		v = ip.pl.Predict(e)
	}
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

// separateEdges returns a copy where repeated energies (the two sides of
// a tabulated absorption edge) are pulled apart by a relative 1e-9 so the
// jump survives interpolation.
func separateEdges(c Curve) Curve {
	out := Curve{Energy: make([]float64, len(c.Energy)), MuRho: make([]float64, len(c.MuRho))}
	copy(out.Energy, c.Energy)
	copy(out.MuRho, c.MuRho)
	for i := 1; i < len(out.Energy); i++ {
		if out.Energy[i] == out.Energy[i-1] {
			out.Energy[i] = out.Energy[i-1] + math.Max(math.Abs(out.Energy[i-1])*1e-9, 1e-12)
		}
	}
	return out
}

// gaussianNodes are the abscissae (in sigmas) used to integrate the
// detector response around each row energy.
var gaussianNodes = func() []float64 {
	nodes := make([]float64, 0, 25)
	for u := -3.0; u <= 3.0+1e-9; u += 0.25 {
		nodes = append(nodes, u)
	}
	return nodes
}()

// broaden evaluates the curve on the energy axis convolved with a Gaussian
// of per-row sigma. A zero sigma reduces to plain resampling.
func broaden(ip *interpolant, energy models.EnergyAxis, sigma []float64) []float64 {
	out := make([]float64, len(energy))
	for i, e := range energy {
		if !(sigma[i] > 0) {
			out[i] = ip.at(e)
			continue
		}
		sum, wsum := 0.0, 0.0
		for _, u := range gaussianNodes {
			w := math.Exp(-0.5 * u * u)
			sum += w * ip.at(e+u*sigma[i])
			wsum += w
		}
		out[i] = sum / wsum
	}
	return out
}
