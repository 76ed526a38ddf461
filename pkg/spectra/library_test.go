package spectra

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearedge/internal/models"
)

// tableResolver serves fixed curves keyed by material name.
type tableResolver struct {
	curves   map[string]Curve
	measured map[string]Curve
	calls    []bool
}

func (r *tableResolver) ResolveSpectrum(name string, src Source, measured bool) (Curve, error) {
	r.calls = append(r.calls, measured)
	table := r.curves
	if measured {
		table = r.measured
	}
	c, ok := table[name]
	if !ok {
		return Curve{}, errors.New("not found")
	}
	return c, nil
}

func powerLaw(scale, exponent float64) Curve {
	c := Curve{}
	for e := 5.0; e <= 40; e += 0.5 {
		c.Energy = append(c.Energy, e)
		c.MuRho = append(c.MuRho, scale*math.Pow(e, exponent))
	}
	return c
}

func axis(start, step float64, n int) (models.EnergyAxis, []float64) {
	e := make(models.EnergyAxis, n)
	w := make([]float64, n)
	for i := range e {
		e[i] = start + float64(i)*step
		w[i] = step
	}
	return e, w
}

func TestBuildResamplesLogLog(t *testing.T) {
	res := &tableResolver{curves: map[string]Curve{"Water": powerLaw(3000, -2.8)}}
	energy, width := axis(12.3, 0.01, 50)

	opts := DefaultOptions()
	opts.WidthFactor = 0
	lib, err := Build([]Material{{Name: "Water", Source: SystemSource("H2O")}}, energy, width, res, opts)
	require.NoError(t, err)
	require.Len(t, lib.Spectra, 1)

	for i, e := range energy {
		want := 3000 * math.Pow(e, -2.8)
		assert.InDelta(t, want, lib.Spectra[0].MuRho[i], want*1e-9, "row %d", i)
	}
}

// TestZeroWidthIsIdentity checks that broadening by zero width equals plain resampling
func TestZeroWidthIsIdentity(t *testing.T) {
	curve := Curve{
		Energy: []float64{12, 12.5, 12.658, 12.658, 13, 14},
		MuRho:  []float64{10, 9, 8.5, 40, 36, 30},
	}
	energy, width := axis(12.4, 0.02, 40)
	zero := make([]float64, len(width))

	lib, err := Build([]Material{{Name: "Se", Source: FileSource("se.dat")}}, energy, zero,
		&tableResolver{curves: map[string]Curve{"Se": curve}}, DefaultOptions())
	require.NoError(t, err)

	ip, err := newInterpolant(curve)
	require.NoError(t, err)
	for i, e := range energy {
		assert.Equal(t, ip.at(e), lib.Spectra[0].MuRho[i], "row %d", i)
	}
}

func TestBroadeningSmoothsEdge(t *testing.T) {
	curve := Curve{
		Energy: []float64{12, 12.658, 12.658, 14},
		MuRho:  []float64{10, 10, 40, 40},
	}
	energy, width := axis(12.5, 0.01, 32)
	res := &tableResolver{curves: map[string]Curve{"Se": curve}}

	sharp, err := Build([]Material{{Name: "Se"}}, energy, width, res, Options{WidthFactor: 0})
	require.NoError(t, err)
	wide, err := Build([]Material{{Name: "Se"}}, energy, width, res, Options{WidthFactor: 3})
	require.NoError(t, err)

	// Away from the edge both agree, next to it the broadened curve sits between the plateaus
	assert.InDelta(t, 10, wide.Spectra[0].MuRho[0], 1e-9)
	assert.InDelta(t, 40, wide.Spectra[0].MuRho[31], 1e-9)
	edge := 16 // 12.66 keV, just above the edge
	assert.InDelta(t, 40.0, sharp.Spectra[0].MuRho[edge], 1e-9)
	assert.Less(t, wide.Spectra[0].MuRho[edge], 40.0)
	assert.Greater(t, wide.Spectra[0].MuRho[edge], 10.0)
	for _, v := range wide.Spectra[0].MuRho {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestBuildOrderAndBackground(t *testing.T) {
	res := &tableResolver{curves: map[string]Curve{
		"A":     powerLaw(100, -3),
		"B":     powerLaw(200, -2),
		"Water": powerLaw(50, -2.5),
	}}
	energy, width := axis(10, 0.1, 20)

	lib, err := Build([]Material{
		{Name: "B"},
		{Name: "Water", Source: SystemSource(""), Background: true},
		{Name: "A"},
	}, energy, width, res, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "A"}, lib.Names())
	m := lib.Matrix()
	r, c := m.Dims()
	assert.Equal(t, 20, r)
	assert.Equal(t, 2, c)
	b, _ := lib.Spectrum("B")
	assert.Equal(t, b.MuRho[3], m.At(3, 0))

	water, ok := lib.Spectrum("Water")
	require.True(t, ok)
	assert.True(t, water.Background)
}

func TestBuildMeasuredStandard(t *testing.T) {
	res := &tableResolver{
		curves:   map[string]Curve{"A": powerLaw(100, -3)},
		measured: map[string]Curve{"A": powerLaw(120, -3)},
	}
	energy, width := axis(10, 0.1, 5)

	lib, err := Build([]Material{{Name: "A"}}, energy, width, res, Options{WidthFactor: 0, UseMeasuredStandard: true})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, res.calls)
	assert.True(t, lib.Spectra[0].Measured)
	assert.InDelta(t, 120*math.Pow(10, -3), lib.Spectra[0].MuRho[0], 1e-12)
}

func TestBuildErrors(t *testing.T) {
	res := &tableResolver{curves: map[string]Curve{"A": powerLaw(100, -3)}}
	energy, width := axis(10, 0.1, 5)

	_, err := Build([]Material{{Name: "Missing", Source: FileSource("missing.dat")}}, energy, width, res, DefaultOptions())
	var matErr *models.MaterialResolutionError
	require.ErrorAs(t, err, &matErr)
	assert.Equal(t, "Missing", matErr.Material)
	assert.Equal(t, "FILE:missing.dat", matErr.Source)

	_, err = Build([]Material{{Name: "A"}, {Name: "A"}}, energy, width, res, DefaultOptions())
	require.ErrorAs(t, err, &matErr)

	_, err = Build([]Material{{Name: "A", Background: true}}, energy, width, res, DefaultOptions())
	assert.Error(t, err)

	_, err = Build([]Material{{Name: "A"}}, energy, width[:2], res, DefaultOptions())
	assert.Error(t, err)

	bad := &tableResolver{curves: map[string]Curve{"A": {Energy: []float64{2, 1}, MuRho: []float64{1, 1}}}}
	_, err = Build([]Material{{Name: "A"}}, energy, width, bad, DefaultOptions())
	require.ErrorAs(t, err, &matErr)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("file")
	require.NoError(t, err)
	assert.Equal(t, KindFile, k)

	k, err = ParseKind(" SYSTEM ")
	require.NoError(t, err)
	assert.Equal(t, KindSystem, k)

	_, err = ParseKind("URL")
	assert.Error(t, err)
}
