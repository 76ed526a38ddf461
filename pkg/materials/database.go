package materials

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"nearedge/pkg/spectra"
)

// Spectrum kinds stored in the database.
const (
	KindTabulated = "tabulated"
	KindMeasured  = "measured"
)

const schema = `
CREATE TABLE IF NOT EXISTS murho (
	material TEXT NOT NULL,
	kind     TEXT NOT NULL DEFAULT 'tabulated',
	seq      INTEGER NOT NULL,
	energy   REAL NOT NULL,
	mu_rho   REAL NOT NULL,
	PRIMARY KEY (material, kind, seq)
);`

// Database is the system material database holding mass-attenuation
// tables keyed by material descriptor.
type Database struct {
	db *sqlx.DB
}

type murhoRow struct {
	Energy float64 `db:"energy"`
	MuRho  float64 `db:"mu_rho"`
}

// OpenDatabase opens (creating when needed) the SQLite database at path.
// ":memory:" gives a private in-memory database.
func OpenDatabase(path string) (*Database, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening material database: %w", err)
	}
	// One connection keeps in-memory databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating material schema: %w", err)
	}
	return &Database{db: db}, nil
}

// Close releases the database.
func (d *Database) Close() error {
	return d.db.Close()
}

// Import replaces the stored table of one material and kind.
func (d *Database) Import(material, kind string, curve spectra.Curve) error {
	if material == "" {
		return fmt.Errorf("material name is empty")
	}
	if kind != KindTabulated && kind != KindMeasured {
		return fmt.Errorf("unknown spectrum kind %q", kind)
	}
	if len(curve.Energy) != len(curve.MuRho) || len(curve.Energy) == 0 {
		return fmt.Errorf("curve for %s has %d energies and %d values", material, len(curve.Energy), len(curve.MuRho))
	}

	tx, err := d.db.Beginx()
	if err != nil {
		return fmt.Errorf("starting import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM murho WHERE material = ? AND kind = ?`, material, kind); err != nil {
		return fmt.Errorf("clearing %s: %w", material, err)
	}
	// seq keeps both samples of a tabulated edge (repeated energy) in order
	for i := range curve.Energy {
		if _, err := tx.Exec(`INSERT INTO murho (material, kind, seq, energy, mu_rho) VALUES (?, ?, ?, ?, ?)`,
			material, kind, i, curve.Energy[i], curve.MuRho[i]); err != nil {
			return fmt.Errorf("inserting %s at %g keV: %w", material, curve.Energy[i], err)
		}
	}
	return tx.Commit()
}

// Lookup returns the stored curve of a material, ordered by energy and
// then by import order.
func (d *Database) Lookup(material, kind string) (spectra.Curve, error) {
	var rows []murhoRow
	err := d.db.Select(&rows, `SELECT energy, mu_rho FROM murho WHERE material = ? AND kind = ? ORDER BY energy, seq`, material, kind)
	if err != nil {
		return spectra.Curve{}, fmt.Errorf("querying %s: %w", material, err)
	}
	if len(rows) == 0 {
		return spectra.Curve{}, fmt.Errorf("no %s spectrum for %q in material database", kind, material)
	}
	curve := spectra.Curve{Energy: make([]float64, len(rows)), MuRho: make([]float64, len(rows))}
	for i, r := range rows {
		curve.Energy[i] = r.Energy
		curve.MuRho[i] = r.MuRho
	}
	return curve, nil
}

// Materials lists the distinct material descriptors stored.
func (d *Database) Materials() ([]string, error) {
	var names []string
	if err := d.db.Select(&names, `SELECT DISTINCT material FROM murho ORDER BY material`); err != nil {
		return nil, fmt.Errorf("listing materials: %w", err)
	}
	return names, nil
}

// ResolveSpectrum looks up a SYSTEM source; the descriptor defaults to
// the material name.
func (d *Database) ResolveSpectrum(name string, src spectra.Source, measured bool) (spectra.Curve, error) {
	key := src.Descriptor
	if key == "" {
		key = name
	}
	kind := KindTabulated
	if measured {
		kind = KindMeasured
	}
	return d.Lookup(key, kind)
}
