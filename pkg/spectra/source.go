package spectra

import (
	"fmt"
	"strings"
)

// Kind tags where a material's mass-attenuation spectrum comes from.
type Kind int

const (
	// KindFile is a tabulated spectrum stored in a standards file
	KindFile Kind = iota
	// KindSystem is a spectrum looked up in the system material database
	KindSystem
)

// String returns the configuration spelling of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "FILE"
	case KindSystem:
		return "SYSTEM"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts the configuration spellings FILE and SYSTEM.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FILE":
		return KindFile, nil
	case "SYSTEM":
		return KindSystem, nil
	default:
		return 0, fmt.Errorf("unknown material source %q (want FILE or SYSTEM)", s)
	}
}

// Source is the tagged material source. Path is meaningful for
// KindFile and Descriptor for KindSystem; both may be empty, in which
// case resolvers fall back to the material name.
type Source struct {
	Kind       Kind
	Path       string
	Descriptor string
}

// FileSource returns a file-backed source.
func FileSource(path string) Source { return Source{Kind: KindFile, Path: path} }

// SystemSource returns a system database source.
func SystemSource(descriptor string) Source { return Source{Kind: KindSystem, Descriptor: descriptor} }

func (s Source) String() string {
	switch s.Kind {
	case KindFile:
		if s.Path != "" {
			return "FILE:" + s.Path
		}
	case KindSystem:
		if s.Descriptor != "" {
			return "SYSTEM:" + s.Descriptor
		}
	}
	return s.Kind.String()
}

// Material names one candidate component of the sample.
type Material struct {
	Name   string
	Source Source

	// Background marks the ambient medium divided out by the flat field;
	// it is resampled for reference but excluded from the unknowns
	Background bool
}

// Curve is a tabulated mass-attenuation spectrum: MuRho (cm^2/g) at
// strictly increasing Energy (keV).
type Curve struct {
	Energy []float64
	MuRho  []float64
}

// Validate checks the curve is usable for resampling.
func (c Curve) Validate() error {
	if len(c.Energy) != len(c.MuRho) {
		return fmt.Errorf("curve has %d energies but %d values", len(c.Energy), len(c.MuRho))
	}
	if len(c.Energy) < 2 {
		return fmt.Errorf("curve needs at least two samples, has %d", len(c.Energy))
	}
	for i := 1; i < len(c.Energy); i++ {
		if !(c.Energy[i] > c.Energy[i-1]) {
			return fmt.Errorf("curve energies not strictly increasing at sample %d", i)
		}
	}
	return nil
}

// Resolver retrieves tabulated spectra. When measured is set it returns
// the empirically measured reference spectrum of the material instead.
type Resolver interface {
	ResolveSpectrum(name string, src Source, measured bool) (Curve, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string, src Source, measured bool) (Curve, error)

// ResolveSpectrum calls f.
func (f ResolverFunc) ResolveSpectrum(name string, src Source, measured bool) (Curve, error) {
	return f(name, src, measured)
}
