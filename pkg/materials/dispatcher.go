package materials

import (
	"fmt"

	"nearedge/pkg/spectra"
)

// Dispatcher resolves a material through the backend matching its
// source kind. A nil backend makes that kind unresolvable.
type Dispatcher struct {
	Files  spectra.Resolver
	System spectra.Resolver
}

// ResolveSpectrum implements spectra.Resolver.
func (d *Dispatcher) ResolveSpectrum(name string, src spectra.Source, measured bool) (spectra.Curve, error) {
	var backend spectra.Resolver
	switch src.Kind {
	case spectra.KindFile:
		backend = d.Files
	case spectra.KindSystem:
		backend = d.System
	default:
		return spectra.Curve{}, fmt.Errorf("unsupported source kind %s", src.Kind)
	}
	if backend == nil {
		return spectra.Curve{}, fmt.Errorf("no %s backend configured", src.Kind)
	}
	return backend.ResolveSpectrum(name, src, measured)
}
