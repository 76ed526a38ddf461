// Package h5io reads acquisition frames from HDF5 files and writes the
// decomposition results back to HDF5.
//
// Input layout:
//
//	/beam/flat        [rows, cols] float64
//	/beam/dark        [rows, cols] float64
//	/beam/edge        [rows, cols] float64 (optional)
//	/tomo/projections [projections, rows, cols] float64
//
// Output layout:
//
//	/beam/energy, /beam/width, /beam/reference, /beam/valid, /beam/row_offset
//	/spectra/<material>  [rows]
//	/mu_t                [projections, rows, cols]
//	/mu_t_valid          [projections, rows, cols] uint8
//	/rho_t/<material>    [projections, cols]
//	/residual            [projections, cols]
package h5io

import (
	"fmt"

	"github.com/jmbenlloch/go-hdf5"

	"nearedge/internal/models"
	"nearedge/pkg/calibration"
)

// Dataset paths of the input file
const (
	FlatPath        = "/beam/flat"
	DarkPath        = "/beam/dark"
	EdgePath        = "/beam/edge"
	ProjectionsPath = "/tomo/projections"
)

// ReadInputs loads the calibration scans and the projection stack.
// A missing edge dataset leaves Scans.Edge nil.
func ReadInputs(fname string) (calibration.Scans, *models.Stack, error) {
	f, err := hdf5.OpenFile(fname, hdf5.F_ACC_RDONLY)
	if err != nil {
		return calibration.Scans{}, nil, fmt.Errorf("open %s: %w", fname, err)
	}
	defer f.Close()

	var scans calibration.Scans
	if scans.Flat, err = readFrame(f, FlatPath); err != nil {
		return scans, nil, err
	}
	if scans.Dark, err = readFrame(f, DarkPath); err != nil {
		return scans, nil, err
	}
	if f.LinkExists(EdgePath) {
		if scans.Edge, err = readFrame(f, EdgePath); err != nil {
			return scans, nil, err
		}
	}

	data, dims, err := readDoubles(f, ProjectionsPath)
	if err != nil {
		return scans, nil, err
	}
	if len(dims) != 3 {
		return scans, nil, fmt.Errorf("%s: want 3 dimensions, got %d", ProjectionsPath, len(dims))
	}
	n, rows, cols := int(dims[0]), int(dims[1]), int(dims[2])
	frames := make([]*models.Frame, n)
	for p := range frames {
		frames[p], err = models.FrameFromData(data[p*rows*cols:(p+1)*rows*cols], rows, cols)
		if err != nil {
			return scans, nil, fmt.Errorf("%s[%d]: %w", ProjectionsPath, p, err)
		}
	}
	tomo, err := models.NewStack(frames)
	return scans, tomo, err
}

func readFrame(f *hdf5.File, path string) (*models.Frame, error) {
	data, dims, err := readDoubles(f, path)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("%s: want 2 dimensions, got %d", path, len(dims))
	}
	return models.FrameFromData(data, int(dims[0]), int(dims[1]))
}

func readDoubles(f *hdf5.File, path string) ([]float64, []uint, error) {
	dset, err := f.OpenDataset(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer dset.Close()

	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, nil, fmt.Errorf("dataset %s extent: %w", path, err)
	}
	size := 1
	for _, d := range dims {
		size *= int(d)
	}
	data := make([]float64, size)
	if size == 0 {
		return data, dims, nil
	}
	if err := dset.Read(&data); err != nil {
		return nil, nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return data, dims, nil
}

// WriteInputs stores scans and projections in the input layout.
func WriteInputs(fname string, scans calibration.Scans, tomo *models.Stack) error {
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("create %s: %w", fname, err)
	}
	defer f.Close()

	beam, err := f.CreateGroup("beam")
	if err != nil {
		return err
	}
	defer beam.Close()
	for name, frame := range map[string]*models.Frame{"flat": scans.Flat, "dark": scans.Dark, "edge": scans.Edge} {
		if frame == nil {
			continue
		}
		if err := writeArray(beam, name, hdf5.T_NATIVE_DOUBLE, &frame.Data, uint(frame.Rows), uint(frame.Cols)); err != nil {
			return err
		}
	}

	group, err := f.CreateGroup("tomo")
	if err != nil {
		return err
	}
	defer group.Close()
	rows, cols := tomo.Rows(), tomo.Cols()
	data := make([]float64, 0, tomo.Len()*rows*cols)
	for _, frame := range tomo.Frames {
		data = append(data, frame.Data...)
	}
	return writeArray(group, "projections", hdf5.T_NATIVE_DOUBLE, &data, uint(tomo.Len()), uint(rows), uint(cols))
}

// WriteBundle stores the results of one run.
func WriteBundle(fname string, bundle *models.ResultBundle) error {
	f, err := hdf5.CreateFile(fname, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("create %s: %w", fname, err)
	}
	defer f.Close()

	if b := bundle.Beam; b != nil {
		if err := writeBeam(f, b); err != nil {
			return fmt.Errorf("write beam: %w", err)
		}
	}

	spectraGroup, err := f.CreateGroup("spectra")
	if err != nil {
		return err
	}
	defer spectraGroup.Close()
	for i := range bundle.Spectra {
		s := &bundle.Spectra[i]
		if err := writeArray(spectraGroup, s.Name, hdf5.T_NATIVE_DOUBLE, &s.MuRho, uint(len(s.MuRho))); err != nil {
			return fmt.Errorf("write spectrum %s: %w", s.Name, err)
		}
	}

	if mu := bundle.MuT; mu != nil {
		dims := []uint{uint(mu.Projections), uint(mu.Rows), uint(mu.Cols)}
		if err := writeArray(f, "mu_t", hdf5.T_NATIVE_DOUBLE, &mu.Data, dims...); err != nil {
			return fmt.Errorf("write mu_t: %w", err)
		}
		valid := boolBytes(mu.Valid)
		if err := writeArray(f, "mu_t_valid", hdf5.T_NATIVE_UINT8, &valid, dims...); err != nil {
			return fmt.Errorf("write mu_t_valid: %w", err)
		}
	}

	if d := bundle.Density; d != nil {
		rho, err := f.CreateGroup("rho_t")
		if err != nil {
			return err
		}
		defer rho.Close()
		for _, name := range d.Materials {
			plane := d.Map(name)
			if err := writeArray(rho, name, hdf5.T_NATIVE_DOUBLE, &plane, uint(d.Projections), uint(d.Cols)); err != nil {
				return fmt.Errorf("write rho_t %s: %w", name, err)
			}
		}
		if err := writeArray(f, "residual", hdf5.T_NATIVE_DOUBLE, &d.Residual, uint(d.Projections), uint(d.Cols)); err != nil {
			return fmt.Errorf("write residual: %w", err)
		}
	}
	return nil
}

func writeBeam(f *hdf5.File, b *models.BeamParameters) error {
	group, err := f.CreateGroup("beam")
	if err != nil {
		return err
	}
	defer group.Close()

	energy := []float64(b.Energy)
	if err := writeArray(group, "energy", hdf5.T_NATIVE_DOUBLE, &energy, uint(len(energy))); err != nil {
		return err
	}
	if err := writeArray(group, "width", hdf5.T_NATIVE_DOUBLE, &b.EnergyWidth, uint(len(b.EnergyWidth))); err != nil {
		return err
	}
	if err := writeArray(group, "row_offset", hdf5.T_NATIVE_DOUBLE, &b.RowOffset, uint(len(b.RowOffset))); err != nil {
		return err
	}
	if b.Reference != nil {
		rows, cols := uint(b.Reference.Rows), uint(b.Reference.Cols)
		if err := writeArray(group, "reference", hdf5.T_NATIVE_DOUBLE, &b.Reference.Data, rows, cols); err != nil {
			return err
		}
		valid := boolBytes(b.Valid)
		if err := writeArray(group, "valid", hdf5.T_NATIVE_UINT8, &valid, rows, cols); err != nil {
			return err
		}
	}
	scalars := []float64{b.Dispersion, b.EdgeRow}
	return writeArray(group, "dispersion_edge_row", hdf5.T_NATIVE_DOUBLE, &scalars, 2)
}

// datasetCreator is the part of hdf5.CommonFG used to create datasets;
// both *hdf5.File and *hdf5.Group satisfy it.
type datasetCreator interface {
	CreateDataset(name string, dtype *hdf5.Datatype, dspace *hdf5.Dataspace) (*hdf5.Dataset, error)
}

func writeArray[T any](parent datasetCreator, name string, dtype *hdf5.Datatype, data *[]T, dims ...uint) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return fmt.Errorf("dataspace %s: %w", name, err)
	}
	defer space.Close()

	dset, err := parent.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", name, err)
	}
	defer dset.Close()

	if len(*data) == 0 {
		return nil
	}
	if err := dset.Write(data); err != nil {
		return fmt.Errorf("write dataset %s: %w", name, err)
	}
	return nil
}

func boolBytes(v []bool) []uint8 {
	out := make([]uint8, len(v))
	for i, b := range v {
		if b {
			out[i] = 1
		}
	}
	return out
}
