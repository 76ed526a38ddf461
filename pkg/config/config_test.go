package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearedge/pkg/spectra"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1.0, cfg.Processing.WidthFactor)
	assert.Equal(t, 12.658, cfg.Geometry.EdgeEnergy)
	require.Len(t, cfg.Materials, 4)
	assert.Equal(t, "Water", cfg.Materials[3].Name)
	assert.Equal(t, "SYSTEM", cfg.Materials[3].Source)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Materials, cfg.Materials)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nei.yaml")
	content := `
processing:
  lowpass: true
  sideWidth: 12
  rowBand: [10, 200]
  putDarkBack: true
  energyWeights: [0, 1, 1]
calibration:
  flatGamma: 0.9
geometry:
  energyRange: 0.9
  centerEnergy: 12.7
materials:
  - name: Se-Meth
    source: file
    path: semeth.dat
  - name: Water
    source: SYSTEM
    descriptor: H2O
    background: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Processing.Lowpass)
	assert.Equal(t, 12, cfg.Processing.SideWidth)
	assert.Equal(t, [2]int{10, 200}, cfg.Processing.RowBand)
	assert.True(t, cfg.Processing.PutDarkBack)
	assert.Equal(t, []float64{0, 1, 1}, cfg.Processing.EnergyWeights)
	assert.Equal(t, 0.9, cfg.Calibration.FlatGamma)
	assert.Equal(t, 0.9, cfg.Geometry.EnergyRange)
	assert.Equal(t, 12.658, cfg.Geometry.EdgeEnergy, "unset fields keep defaults")
	assert.Equal(t, 2.0, cfg.Processing.LowpassSigma)

	materials, err := cfg.SpectraMaterials()
	require.NoError(t, err)
	require.Len(t, materials, 2)
	assert.Equal(t, spectra.Material{Name: "Se-Meth", Source: spectra.FileSource("semeth.dat")}, materials[0])
	assert.Equal(t, spectra.Material{Name: "Water", Source: spectra.SystemSource("H2O"), Background: true}, materials[1])
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"duplicate material": "materials:\n  - {name: A, source: FILE}\n  - {name: A, source: FILE}\n",
		"unknown source":     "materials:\n  - {name: A, source: HTTP}\n",
		"bad fraction":       "processing:\n  maxInvalidFraction: 2\n",
		"empty band":         "processing:\n  rowBand: [20, 10]\n",
		"negative gamma":     "calibration:\n  flatGamma: -1\n",
		"negative weight":    "processing:\n  energyWeights: [1, -0.5]\n",
		"malformed yaml":     "processing: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nei.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "nei.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
