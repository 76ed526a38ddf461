package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nearedge/pkg/config"
	"nearedge/pkg/h5io"
	"nearedge/pkg/logging"
	"nearedge/pkg/materials"
	"nearedge/pkg/pipeline"
	"nearedge/pkg/visualization"
)

// tableImports collects repeated -import-table name[:measured]=path flags
type tableImports []string

func (t *tableImports) String() string { return strings.Join(*t, ",") }

func (t *tableImports) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("want name=path, got %q", v)
	}
	*t = append(*t, v)
	return nil
}

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "nearedge.yaml", "YAML configuration file")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	input := flag.String("input", "", "HDF5 file with /beam and /tomo datasets (overrides data.input)")
	output := flag.String("output", "", "HDF5 result file (overrides output.file)")
	materialDB := flag.String("materials-db", "", "SQLite material database (overrides data.materialDB)")
	standardsDir := flag.String("standards", "", "Directory of FILE mu/rho tables (overrides data.standardsDir)")
	plotsDir := flag.String("plots", "", "Save density maps and diagnostic plots to this directory")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: processing.numCores)")
	verbose := flag.Bool("v", false, "Verbose logging")
	var imports tableImports
	flag.Var(&imports, "import-table", "Import a mu/rho table into the material database as name[:measured]=path (repeatable)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the configuration file
	if *input != "" {
		cfg.Data.Input = *input
	}
	if *output != "" {
		cfg.Output.File = *output
	}
	if *materialDB != "" {
		cfg.Data.MaterialDB = *materialDB
	}
	if *standardsDir != "" {
		cfg.Data.StandardsDir = *standardsDir
	}
	if *plotsDir != "" {
		cfg.Output.PlotsDir = *plotsDir
		cfg.Output.SavePlots = true
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	logger := logging.New(os.Stdout, cfg.Output.Verbose)

	if len(imports) > 0 {
		if err := importTables(cfg.Data.MaterialDB, imports, logger); err != nil {
			logger.Error("table import failed", "err", err)
			os.Exit(1)
		}
		if cfg.Data.Input == "" {
			return
		}
	}

	if cfg.Data.Input == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	start := time.Now()

	requests, err := cfg.SpectraMaterials()
	if err != nil {
		return err
	}

	resolver := &materials.Dispatcher{Files: &materials.FileTables{Dir: cfg.Data.StandardsDir}}
	if _, err := os.Stat(cfg.Data.MaterialDB); err == nil {
		db, err := materials.OpenDatabase(cfg.Data.MaterialDB)
		if err != nil {
			return err
		}
		defer db.Close()
		resolver.System = db
	} else {
		logger.Warn("material database not found, SYSTEM materials unavailable", "path", cfg.Data.MaterialDB)
	}

	logger.Info("reading input", "file", cfg.Data.Input)
	scans, tomo, err := h5io.ReadInputs(cfg.Data.Input)
	if err != nil {
		return err
	}

	params := pipeline.ParamsFromConfig(cfg)
	params.Logger = logger
	bundle, err := pipeline.New(params).Run(pipeline.Inputs{
		Scans:       scans,
		Projections: tomo,
		Materials:   requests,
		Resolver:    resolver,
	})
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.Output.File); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := h5io.WriteBundle(cfg.Output.File, bundle); err != nil {
		return err
	}
	logger.Info("results written", "file", cfg.Output.File)

	if cfg.Output.SavePlots {
		viewer := visualization.NewViewer(bundle.Density)
		if err := viewer.SaveMaps(cfg.Output.PlotsDir); err != nil {
			logger.Warn("failed to save density maps", "err", err)
		}
		if err := visualization.SavePlots(bundle, cfg.Output.PlotsDir); err != nil {
			logger.Warn("failed to save plots", "err", err)
		}
		logger.Info("plots saved", "dir", cfg.Output.PlotsDir)
	}

	d := bundle.Density
	fmt.Printf("\nDecomposition completed in %.2f seconds\n", time.Since(start).Seconds())
	fmt.Printf("Materials: %s\n", strings.Join(d.Materials, ", "))
	fmt.Printf("Positions: %d projections x %d columns, %d unresolved\n", d.Projections, d.Cols, d.Unresolved)
	return nil
}

// importTables loads each name[:measured]=path table into the database
func importTables(dbPath string, imports tableImports, logger *slog.Logger) error {
	db, err := materials.OpenDatabase(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, entry := range imports {
		name, path, _ := strings.Cut(entry, "=")
		kind := materials.KindTabulated
		if n, k, ok := strings.Cut(name, ":"); ok {
			if k != materials.KindMeasured {
				return fmt.Errorf("import %q: unknown kind %q", entry, k)
			}
			name, kind = n, materials.KindMeasured
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		curve, err := materials.ParseTable(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if err := db.Import(name, kind, curve); err != nil {
			return err
		}
		logger.Info("table imported", "material", name, "kind", kind, "points", len(curve.Energy))
	}
	return nil
}
