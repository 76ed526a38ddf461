// Package visualization renders decomposition results: areal density
// maps as grayscale images and diagnostic plots of the beam, the
// spectral library and the fit.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"nearedge/internal/models"
)

// Viewer renders the rho*t map of every material, one image row per
// projection and one image column per sample column.
type Viewer struct {
	// result holds the resolved densities
	result *models.DensityResult
}

// NewViewer creates a viewer over a density result
func NewViewer(result *models.DensityResult) *Viewer {
	return &Viewer{result: result}
}

// ExtractMap returns the rho*t map of one material scaled to the full
// 16-bit range between its smallest and largest resolved value.
// Unresolved positions are black.
func (v *Viewer) ExtractMap(material string) (*image.Gray16, error) {
	values := v.result.Map(material)
	if values == nil {
		return nil, fmt.Errorf("material %q not in result", material)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range values {
		if math.IsNaN(x) {
			continue
		}
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	span := hi - lo

	cols, projections := v.result.Cols, v.result.Projections
	img := image.NewGray16(image.Rect(0, 0, cols, projections))
	for p := 0; p < projections; p++ {
		for c := 0; c < cols; c++ {
			x := values[p*cols+c]
			if math.IsNaN(x) {
				continue
			}
			scaled := 1.0
			if span > 0 {
				scaled = (x - lo) / span
			}
			value := uint16(math.Max(0, math.Min(65535, scaled*65535)))
			img.SetGray16(c, p, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// SaveMap writes an image as PNG, or as JPEG when the name ends in .jpg/.jpeg
func (v *Viewer) SaveMap(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveMaps writes rhot_<material>.png for every material into outputDir
func (v *Viewer) SaveMaps(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for _, name := range v.result.Materials {
		img, err := v.ExtractMap(name)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("rhot_%s.png", fileSafe(name)))
		if err := v.SaveMap(img, filename); err != nil {
			return err
		}
	}

	return nil
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, name)
}
