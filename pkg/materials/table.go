// Package materials resolves mass-attenuation spectra for the spectral
// library: two-column standards files for FILE sources and a SQLite
// material database for SYSTEM sources.
package materials

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nearedge/pkg/spectra"
)

// measuredSuffix is appended to a standards file's base name to find the
// measured reference spectrum of the same material.
const measuredSuffix = "_measured"

// ParseTable reads a two-column spectrum table: energy and mu/rho in
// cm^2/g, separated by whitespace or commas. Lines starting with '#'
// are comments; a "# units: eV|keV|MeV" comment sets the energy unit
// (keV by default). Lines whose first field is not numeric are skipped
// as headers.
func ParseTable(r io.Reader) (spectra.Curve, error) {
	var curve spectra.Curve
	scale := 1.0

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			if s, ok := unitDirective(text); ok {
				scale = s
			}
			continue
		}

		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		})
		if len(fields) < 2 {
			return spectra.Curve{}, fmt.Errorf("line %d: expected energy and mu/rho, got %q", line, text)
		}
		e, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			if len(curve.Energy) == 0 {
				continue
			}
			return spectra.Curve{}, fmt.Errorf("line %d: invalid energy %q", line, fields[0])
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return spectra.Curve{}, fmt.Errorf("line %d: invalid mu/rho %q", line, fields[1])
		}
		curve.Energy = append(curve.Energy, e*scale)
		curve.MuRho = append(curve.MuRho, v)
	}
	if err := scanner.Err(); err != nil {
		return spectra.Curve{}, fmt.Errorf("reading table: %w", err)
	}
	if len(curve.Energy) == 0 {
		return spectra.Curve{}, fmt.Errorf("table contains no data rows")
	}
	return curve, nil
}

// unitDirective parses "# units: <unit>" and returns the factor to keV.
func unitDirective(comment string) (float64, bool) {
	body := strings.TrimSpace(strings.TrimPrefix(comment, "#"))
	key, value, found := strings.Cut(body, ":")
	if !found || !strings.EqualFold(strings.TrimSpace(key), "units") {
		return 0, false
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ev":
		return 1e-3, true
	case "kev":
		return 1, true
	case "mev":
		return 1e3, true
	}
	return 0, false
}

// FileTables resolves FILE sources from a standards directory.
type FileTables struct {
	// Dir is the directory relative paths and bare names resolve against
	Dir string

	// Ext is the extension used for bare material names, ".dat" when empty
	Ext string
}

// Path returns the table file for a material. An empty source path
// falls back to <Dir>/<name><Ext>; measured standards live next to the
// tabulated file with a "_measured" suffix.
func (f *FileTables) Path(name string, src spectra.Source, measured bool) string {
	ext := f.Ext
	if ext == "" {
		ext = ".dat"
	}
	path := src.Path
	if path == "" {
		path = name + ext
	}
	if !filepath.IsAbs(path) && f.Dir != "" {
		path = filepath.Join(f.Dir, path)
	}
	if measured {
		base := strings.TrimSuffix(path, filepath.Ext(path))
		path = base + measuredSuffix + filepath.Ext(path)
	}
	return path
}

// ResolveSpectrum reads and parses the material's table file.
func (f *FileTables) ResolveSpectrum(name string, src spectra.Source, measured bool) (spectra.Curve, error) {
	path := f.Path(name, src, measured)
	file, err := os.Open(path)
	if err != nil {
		return spectra.Curve{}, fmt.Errorf("opening standards file: %w", err)
	}
	defer file.Close()

	curve, err := ParseTable(file)
	if err != nil {
		return spectra.Curve{}, fmt.Errorf("%s: %w", path, err)
	}
	return curve, nil
}
