package materials

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearedge/pkg/spectra"
)

func TestParseTable(t *testing.T) {
	input := `# K2SeO4 standard
# units: eV
Energy  MuRho
12600, 9.5
12658  9.1
12658	39.0
12700 ; 38.2
`
	curve, err := ParseTable(strings.NewReader(input))
	require.NoError(t, err)

	want := spectra.Curve{
		Energy: []float64{12.6, 12.658, 12.658, 12.7},
		MuRho:  []float64{9.5, 9.1, 39.0, 38.2},
	}
	if diff := cmp.Diff(want, curve, cmp.Comparer(func(a, b float64) bool { return a-b < 1e-12 && b-a < 1e-12 })); diff != "" {
		t.Errorf("ParseTable mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTableErrors(t *testing.T) {
	_, err := ParseTable(strings.NewReader("# only comments\n"))
	assert.Error(t, err)

	_, err = ParseTable(strings.NewReader("12.6 9.5\n12.7 oops\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ParseTable(strings.NewReader("12.6\n"))
	assert.Error(t, err)
}

func TestFileTables(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Se-Meth.dat"), []byte("12 10\n13 30\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Se-Meth_measured.dat"), []byte("12 11\n13 31\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.txt"), []byte("12 1\n13 2\n"), 0644))

	files := &FileTables{Dir: dir}

	curve, err := files.ResolveSpectrum("Se-Meth", spectra.Source{Kind: spectra.KindFile}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 30}, curve.MuRho)

	curve, err = files.ResolveSpectrum("Se-Meth", spectra.Source{Kind: spectra.KindFile}, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 31}, curve.MuRho)

	curve, err = files.ResolveSpectrum("X", spectra.FileSource("custom.txt"), false)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, curve.MuRho)

	_, err = files.ResolveSpectrum("Missing", spectra.Source{Kind: spectra.KindFile}, false)
	assert.Error(t, err)

	assert.Equal(t, filepath.Join(dir, "a", "b_measured.dat"), files.Path("n", spectra.FileSource("a/b.dat"), true))
}

func TestDatabase(t *testing.T) {
	db, err := OpenDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	water := spectra.Curve{Energy: []float64{13, 12, 14}, MuRho: []float64{2.1, 2.6, 1.7}}
	require.NoError(t, db.Import("H2O", KindTabulated, water))
	require.NoError(t, db.Import("H2O", KindMeasured, spectra.Curve{Energy: []float64{12, 13}, MuRho: []float64{2.5, 2.0}}))

	curve, err := db.Lookup("H2O", KindTabulated)
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 13, 14}, curve.Energy)
	assert.Equal(t, []float64{2.6, 2.1, 1.7}, curve.MuRho)

	// Re-import replaces the previous table
	require.NoError(t, db.Import("H2O", KindTabulated, spectra.Curve{Energy: []float64{12, 14}, MuRho: []float64{2.6, 1.7}}))
	curve, err = db.Lookup("H2O", KindTabulated)
	require.NoError(t, err)
	assert.Len(t, curve.Energy, 2)

	curve, err = db.ResolveSpectrum("Water", spectra.SystemSource("H2O"), true)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 2.0}, curve.MuRho)

	_, err = db.ResolveSpectrum("Water", spectra.SystemSource(""), false)
	assert.ErrorContains(t, err, "Water")

	names, err := db.Materials()
	require.NoError(t, err)
	assert.Equal(t, []string{"H2O"}, names)

	assert.Error(t, db.Import("H2O", "guessed", water))
}

func TestDatabaseKeepsEdgePairs(t *testing.T) {
	db, err := OpenDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()

	se := spectra.Curve{
		Energy: []float64{12.6, 12.658, 12.658, 12.7},
		MuRho:  []float64{9.5, 9.1, 39, 38.2},
	}
	require.NoError(t, db.Import("Se", KindTabulated, se))

	curve, err := db.Lookup("Se", KindTabulated)
	require.NoError(t, err)
	if diff := cmp.Diff(se, curve); diff != "" {
		t.Errorf("edge pair lost on round trip (-want +got):\n%s", diff)
	}
}

func TestDispatcher(t *testing.T) {
	db, err := OpenDatabase(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Import("Water", KindTabulated, spectra.Curve{Energy: []float64{12, 13}, MuRho: []float64{2.6, 2.1}}))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "K2SeO4.dat"), []byte("12 5\n13 25\n"), 0644))

	d := &Dispatcher{Files: &FileTables{Dir: dir}, System: db}

	curve, err := d.ResolveSpectrum("Water", spectra.SystemSource(""), false)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.6, 2.1}, curve.MuRho)

	curve, err = d.ResolveSpectrum("K2SeO4", spectra.Source{Kind: spectra.KindFile}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 25}, curve.MuRho)

	_, err = (&Dispatcher{}).ResolveSpectrum("Water", spectra.SystemSource(""), false)
	assert.ErrorContains(t, err, "SYSTEM")
}
