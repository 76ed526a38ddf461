package visualization

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"nearedge/internal/models"
)

var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 140, G: 86, B: 75, A: 255},
}

// SavePlots writes beam.png, spectra.png and fit.png into outputDir.
func SavePlots(bundle *models.ResultBundle, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := PlotBeam(bundle.Beam, filepath.Join(outputDir, "beam.png")); err != nil {
		return fmt.Errorf("beam plot: %w", err)
	}
	if err := PlotSpectra(bundle.Beam.Energy, bundle.Spectra, filepath.Join(outputDir, "spectra.png")); err != nil {
		return fmt.Errorf("spectra plot: %w", err)
	}
	if err := PlotFit(bundle, filepath.Join(outputDir, "fit.png")); err != nil {
		return fmt.Errorf("fit plot: %w", err)
	}
	return nil
}

// PlotBeam plots the column-averaged beam reference against energy.
func PlotBeam(beam *models.BeamParameters, filename string) error {
	p := plot.New()
	p.Title.Text = "Beam reference (flat - dark)"
	p.X.Label.Text = "Energy (keV)"
	p.Y.Label.Text = "Mean intensity"

	rows, cols := beam.Rows(), beam.Cols()
	pts := make(plotter.XYs, 0, rows)
	for r := 0; r < rows; r++ {
		sum, n := 0.0, 0
		for c := 0; c < cols; c++ {
			if beam.IsValid(r, c) {
				sum += beam.Reference.At(r, c)
				n++
			}
		}
		if n > 0 {
			pts = append(pts, plotter.XY{X: beam.Energy[r], Y: sum / float64(n)})
		}
	}
	if err := addLine(p, "reference", pts, palette[0]); err != nil {
		return err
	}

	if !math.IsNaN(beam.EdgeRow) {
		e := beam.Energy[0] + beam.EdgeRow*beam.Dispersion
		marker, err := plotter.NewLine(plotter.XYs{{X: e, Y: p.Y.Min}, {X: e, Y: p.Y.Max}})
		if err != nil {
			return err
		}
		marker.Color = palette[1]
		marker.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(marker)
		p.Legend.Add("edge", marker)
	}
	return save(p, filename)
}

// PlotSpectra plots every library spectrum on the energy axis.
func PlotSpectra(energy models.EnergyAxis, spectra []models.MaterialSpectrum, filename string) error {
	p := plot.New()
	p.Title.Text = "Material mass attenuation"
	p.X.Label.Text = "Energy (keV)"
	p.Y.Label.Text = "mu/rho (cm2/g)"

	for i, s := range spectra {
		label := s.Name
		if s.Background {
			label += " (background)"
		}
		if err := addLine(p, label, energyXYs(energy, s.MuRho, nil), palette[i%len(palette)]); err != nil {
			return err
		}
	}
	return save(p, filename)
}

// PlotFit compares the mean measured mu*t over resolved positions with
// the spectrum predicted by the mean areal densities.
func PlotFit(bundle *models.ResultBundle, filename string) error {
	mu, d := bundle.MuT, bundle.Density
	rows := mu.Rows

	measured := make([]float64, rows)
	counts := make([]int, rows)
	meanRhoT := make([]float64, len(d.Materials))
	positions := 0
	for p := 0; p < d.Projections; p++ {
		for c := 0; c < d.Cols; c++ {
			if !d.IsResolved(p, c) {
				continue
			}
			positions++
			for k, x := range d.At(p, c) {
				meanRhoT[k] += x
			}
			for r := 0; r < rows; r++ {
				if v, ok := mu.At(p, r, c); ok {
					measured[r] += v
					counts[r]++
				}
			}
		}
	}
	if positions == 0 {
		return fmt.Errorf("no resolved positions to plot")
	}

	valid := make([]bool, rows)
	for r := range measured {
		if counts[r] > 0 {
			measured[r] /= float64(counts[r])
			valid[r] = true
		}
	}
	fitted := make([]float64, rows)
	for k, name := range d.Materials {
		rhoT := meanRhoT[k] / float64(positions)
		for _, s := range bundle.Spectra {
			if s.Name != name {
				continue
			}
			for r := range fitted {
				fitted[r] += rhoT * s.MuRho[r]
			}
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Mean mu*t over %d positions", positions)
	p.X.Label.Text = "Energy (keV)"
	p.Y.Label.Text = "mu*t"

	scatter, err := plotter.NewScatter(energyXYs(bundle.Beam.Energy, measured, valid))
	if err != nil {
		return err
	}
	scatter.Shape = draw.CircleGlyph{}
	scatter.Radius = vg.Points(1.5)
	scatter.Color = palette[0]
	p.Add(scatter)
	p.Legend.Add("measured", scatter)

	if err := addLine(p, "fit", energyXYs(bundle.Beam.Energy, fitted, nil), palette[1]); err != nil {
		return err
	}
	return save(p, filename)
}

func energyXYs(energy models.EnergyAxis, values []float64, valid []bool) plotter.XYs {
	pts := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if valid != nil && !valid[i] {
			continue
		}
		pts = append(pts, plotter.XY{X: energy[i], Y: v})
	}
	return pts
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func save(p *plot.Plot, filename string) error {
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p.Save(10*vg.Inch, 6*vg.Inch, filename)
}
