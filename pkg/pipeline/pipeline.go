// Package pipeline sequences the decomposition: calibrate the beam,
// compute mu*t, build the spectral library and resolve areal densities.
package pipeline

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"nearedge/internal/models"
	"nearedge/pkg/absorbance"
	"nearedge/pkg/calibration"
	"nearedge/pkg/config"
	"nearedge/pkg/density"
	"nearedge/pkg/spectra"
)

// Params holds the run parameters. They are normally derived from a
// config.Config with ParamsFromConfig.
type Params struct {
	// NumCores specifies how many CPU cores to use for parallel processing
	NumCores int

	// NumProjections limits how many projections are analysed (0 = all)
	NumProjections int

	// Geometry of the dispersive setup
	Geometry calibration.Geometry

	// EnergyRange overrides Geometry.EnergyRange when non-zero
	EnergyRange float64

	// Calibration tunes edge detection and vertical motion
	Calibration calibration.Options

	// RowBand restricts the detector rows to [first, last) when last > first
	RowBand [2]int

	// Absorbance options
	Lowpass            bool
	LowpassSigma       float64
	SideWidth          int
	Clip               bool
	MaxInvalidFraction float64

	// Spectral library options
	WidthFactor         float64
	UseMeasuredStandard bool

	// UseWeights weights the regression by beam intensity
	UseWeights bool

	// EnergyWeights scales each detector row (after the flip) in the
	// regression; the row band selects the matching slice
	EnergyWeights []float64

	// PutDarkBack marks projections already dark corrected
	PutDarkBack bool

	// Logger receives step progress; nil uses slog.Default()
	Logger *slog.Logger
}

// ParamsFromConfig maps the configuration sections onto run parameters.
func ParamsFromConfig(cfg *config.Config) *Params {
	p := cfg.Processing
	return &Params{
		NumCores:       p.NumCores,
		NumProjections: p.NumProjections,
		Geometry:       cfg.Geometry,
		EnergyRange:    p.EnergyRange,
		Calibration: calibration.Options{
			FixVerticalMotion: p.FixVerticalMotion,
			MinIntensity:      cfg.Calibration.MinIntensity,
			EdgeThreshold:     cfg.Calibration.EdgeThreshold,
			SmoothSigma:       cfg.Calibration.SmoothSigma,
			MaxShift:          cfg.Calibration.MaxShift,
			FlatGamma:         cfg.Calibration.FlatGamma,
		},
		RowBand:             p.RowBand,
		Lowpass:             p.Lowpass,
		LowpassSigma:        p.LowpassSigma,
		SideWidth:           p.SideWidth,
		Clip:                p.Clip,
		MaxInvalidFraction:  p.MaxInvalidFraction,
		WidthFactor:         p.WidthFactor,
		UseMeasuredStandard: p.UseMeasuredStandard,
		UseWeights:          p.UseWeights,
		EnergyWeights:       p.EnergyWeights,
		PutDarkBack:         p.PutDarkBack,
	}
}

// Inputs are the acquisition data and material requests of one run.
type Inputs struct {
	Scans       calibration.Scans
	Projections *models.Stack
	Materials   []spectra.Material
	Resolver    spectra.Resolver
}

// Pipeline runs the decomposition steps in order.
type Pipeline struct {
	params *Params
	log    *slog.Logger
}

// New creates a pipeline with the provided parameters.
func New(params *Params) *Pipeline {
	if params == nil {
		params = &Params{}
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{params: params, log: logger}
}

// Run executes every step and returns the assembled results.
// Errors are wrapped with the name of the failing step; the typed
// errors of internal/models remain reachable through errors.As.
func (p *Pipeline) Run(in Inputs) (*models.ResultBundle, error) {
	start := time.Now()
	workers := p.params.NumCores
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	// Step 1: orient and window the raw frames
	p.log.Info("step 1: preparing frames")
	scans, tomo, err := p.prepare(in)
	if err != nil {
		return nil, fmt.Errorf("prepare frames: %w", err)
	}
	p.log.Debug("frames ready",
		"rows", scans.Flat.Rows, "cols", scans.Flat.Cols, "projections", tomo.Len())

	// Step 2: beam calibration
	p.log.Info("step 2: calibrating beam")
	geom := p.params.Geometry
	if p.params.EnergyRange != 0 {
		geom.EnergyRange = p.params.EnergyRange
	}
	if band := p.params.RowBand; band[1] > band[0] {
		// EnergyRange and CenterEnergy describe the whole detector
		geom.DetectorRows = in.Scans.Flat.Rows
		geom.FirstRow = band[0]
	}
	beam, err := calibration.Calibrate(scans, geom, p.params.Calibration)
	if err != nil {
		return nil, fmt.Errorf("calibrate beam: %w", err)
	}
	p.log.Info("beam calibrated",
		"emin", beam.Energy.Min(), "emax", beam.Energy.Max(),
		"edgeRow", beam.EdgeRow, "motionCorrected", beam.MotionCorrected)

	// Step 3: absorbance
	p.log.Info("step 3: computing mu*t")
	muT, err := absorbance.Compute(tomo, beam, absorbance.Options{
		Lowpass:            p.params.Lowpass,
		LowpassSigma:       p.params.LowpassSigma,
		Crop:               absorbance.SideCrop(tomo.Cols(), p.params.SideWidth),
		Clip:               p.params.Clip,
		PutDarkBack:        p.params.PutDarkBack,
		MaxInvalidFraction: p.params.MaxInvalidFraction,
		NumWorkers:         workers,
	})
	if err != nil {
		return nil, fmt.Errorf("compute mu*t: %w", err)
	}

	// Step 4: spectral library
	p.log.Info("step 4: building spectral library", "materials", len(in.Materials))
	lib, err := spectra.Build(in.Materials, beam.Energy, beam.EnergyWidth, in.Resolver, spectra.Options{
		WidthFactor:         p.params.WidthFactor,
		UseMeasuredStandard: p.params.UseMeasuredStandard,
	})
	if err != nil {
		return nil, fmt.Errorf("build spectral library: %w", err)
	}

	// Step 5: density regression
	p.log.Info("step 5: resolving densities", "unknowns", len(lib.Regression()))
	energyWeights, err := p.energyWeights(in.Scans.Flat.Rows)
	if err != nil {
		return nil, fmt.Errorf("resolve densities: %w", err)
	}
	rhoT, err := density.Resolve(muT, lib, beam, density.Options{
		UseWeights:    p.params.UseWeights,
		EnergyWeights: energyWeights,
		NumWorkers:    workers,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve densities: %w", err)
	}
	if rhoT.Unresolved > 0 {
		p.log.Warn("positions left unresolved", "count", rhoT.Unresolved, "first", rhoT.FirstUnresolved.Error())
	}

	p.log.Info("decomposition complete", "elapsed", time.Since(start).Round(time.Millisecond))
	return &models.ResultBundle{
		Beam:    beam,
		Spectra: lib.Spectra,
		MuT:     muT,
		Density: rhoT,
	}, nil
}

// prepare applies the flip, row band and projection limit. The input
// frames are never modified.
func (p *Pipeline) prepare(in Inputs) (calibration.Scans, *models.Stack, error) {
	if in.Scans.Flat == nil || in.Scans.Dark == nil {
		return calibration.Scans{}, nil, &models.CalibrationError{Input: "flat", Reason: "flat and dark scans are required"}
	}
	if in.Projections == nil || in.Projections.Len() == 0 {
		return calibration.Scans{}, nil, fmt.Errorf("no projections to analyse")
	}

	frames := in.Projections.Frames
	if n := p.params.NumProjections; n > 0 && n < len(frames) {
		frames = frames[:n]
	}

	orient := func(f *models.Frame) (*models.Frame, error) {
		if f == nil {
			return nil, nil
		}
		if p.params.Geometry.Flip {
			f = f.FlipRows()
		}
		if band := p.params.RowBand; band[1] > band[0] {
			return f.RowBand(band[0], band[1])
		}
		return f, nil
	}

	var scans calibration.Scans
	var err error
	if scans.Flat, err = orient(in.Scans.Flat); err != nil {
		return scans, nil, err
	}
	if scans.Dark, err = orient(in.Scans.Dark); err != nil {
		return scans, nil, err
	}
	if scans.Edge, err = orient(in.Scans.Edge); err != nil {
		return scans, nil, err
	}

	oriented := make([]*models.Frame, len(frames))
	for i, f := range frames {
		if oriented[i], err = orient(f); err != nil {
			return scans, nil, fmt.Errorf("projection %d: %w", i, err)
		}
	}
	tomo, err := models.NewStack(oriented)
	return scans, tomo, err
}

// energyWeights returns the regression row weights for the analysed rows.
// Weights listed for every detector row are cut to the row band.
func (p *Pipeline) energyWeights(detectorRows int) ([]float64, error) {
	weights := p.params.EnergyWeights
	if len(weights) == 0 {
		return nil, nil
	}
	band := p.params.RowBand
	if band[1] <= band[0] {
		return weights, nil
	}
	switch len(weights) {
	case detectorRows:
		return weights[band[0]:band[1]], nil
	case band[1] - band[0]:
		return weights, nil
	default:
		return nil, fmt.Errorf("%d energy weights match neither %d detector rows nor the %d-row band",
			len(weights), detectorRows, band[1]-band[0])
	}
}
