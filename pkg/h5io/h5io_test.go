package h5io

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/jmbenlloch/go-hdf5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearedge/internal/models"
	"nearedge/pkg/calibration"
)

func rampFrame(rows, cols int, base float64) *models.Frame {
	f := models.NewFrame(rows, cols)
	for i := range f.Data {
		f.Data[i] = base + float64(i)
	}
	return f
}

func TestInputsRoundTrip(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "scan.h5")
	scans := calibration.Scans{
		Flat: rampFrame(4, 3, 1000),
		Dark: rampFrame(4, 3, 10),
		Edge: rampFrame(4, 3, 900),
	}
	tomo, err := models.NewStack([]*models.Frame{rampFrame(4, 3, 500), rampFrame(4, 3, 600)})
	require.NoError(t, err)
	require.NoError(t, WriteInputs(fname, scans, tomo))

	gotScans, gotTomo, err := ReadInputs(fname)
	require.NoError(t, err)
	assert.Equal(t, scans.Flat, gotScans.Flat)
	assert.Equal(t, scans.Dark, gotScans.Dark)
	assert.Equal(t, scans.Edge, gotScans.Edge)
	require.Equal(t, 2, gotTomo.Len())
	assert.Equal(t, tomo.Frames[1], gotTomo.Frames[1])
}

func TestReadInputsWithoutEdge(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "scan.h5")
	scans := calibration.Scans{Flat: rampFrame(2, 2, 100), Dark: rampFrame(2, 2, 0)}
	tomo, err := models.NewStack([]*models.Frame{rampFrame(2, 2, 50)})
	require.NoError(t, err)
	require.NoError(t, WriteInputs(fname, scans, tomo))

	gotScans, _, err := ReadInputs(fname)
	require.NoError(t, err)
	assert.Nil(t, gotScans.Edge)
}

func TestReadInputsMissingFile(t *testing.T) {
	_, _, err := ReadInputs(filepath.Join(t.TempDir(), "absent.h5"))
	assert.Error(t, err)
}

func TestWriteBundle(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "result.h5")
	density := models.NewDensityResult([]string{"Se", "Water"}, 3, 1)
	copy(density.At(0, 1), []float64{0.5, 1.5})
	density.Residual[1] = 0.01
	density.Resolved[1] = true

	bundle := &models.ResultBundle{
		Beam: &models.BeamParameters{
			Energy:      models.EnergyAxis{12.6, 12.7},
			EnergyWidth: []float64{0.1, 0.1},
			Dispersion:  0.1,
			Reference:   rampFrame(2, 3, 100),
			Dark:        rampFrame(2, 3, 0),
			Valid:       []bool{true, true, true, true, false, true},
			RowOffset:   make([]float64, 3),
			EdgeRow:     math.NaN(),
		},
		Spectra: []models.MaterialSpectrum{{Name: "Se", MuRho: []float64{10, 40}}, {Name: "Water", MuRho: []float64{3, 3}}},
		MuT:     models.NewMuTVolume(2, 3, 1),
		Density: density,
	}
	require.NoError(t, WriteBundle(fname, bundle))

	f, err := hdf5.OpenFile(fname, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	energy, dims, err := readDoubles(f, "/beam/energy")
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, dims)
	assert.Equal(t, []float64{12.6, 12.7}, energy)

	se, dims, err := readDoubles(f, "/rho_t/Se")
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 3}, dims)
	assert.True(t, math.IsNaN(se[0]))
	assert.Equal(t, 0.5, se[1])

	water, _, err := readDoubles(f, "/rho_t/Water")
	require.NoError(t, err)
	assert.Equal(t, 1.5, water[1])

	spectrum, _, err := readDoubles(f, "/spectra/Se")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 40}, spectrum)
}
