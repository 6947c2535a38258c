package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/iwvelando/loan-amortization/internal/advisor"
	"github.com/iwvelando/loan-amortization/internal/config"
	"github.com/iwvelando/loan-amortization/internal/store"
	"github.com/iwvelando/loan-amortization/pkg/codec"
	"github.com/iwvelando/loan-amortization/pkg/constants"
	"github.com/iwvelando/loan-amortization/pkg/loans"
	"github.com/iwvelando/loan-amortization/pkg/logging"
	"github.com/iwvelando/loan-amortization/pkg/output"
	"github.com/iwvelando/loan-amortization/pkg/validation"
	"go.uber.org/zap"
)

func main() {
	// Process command line flags first to get config location
	configLocation := flag.String("config", constants.DefaultConfigFile, "path to configuration file")
	outputFormatFlag := flag.String("output-format", "", "type of output override: pretty, csv")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	importPath := flag.String("import", "", "rebuild the schedule from a previously exported CSV instead of the configured loan")
	exportPath := flag.String("export", "", "also write the schedule as CSV to this path")
	loadKey := flag.String("load", "", "rebuild the schedule from a snapshot in the configured store")
	saveKey := flag.String("save", "", "save the schedule snapshot under this key in the configured store")
	suggest := flag.Bool("suggest", false, "print a payment plan suggestion after the schedule")
	flag.Parse()

	// Load the config file to get logging configuration
	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		os.Exit(1)
	}

	logger, err := logging.New(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	// CLI override takes precedence over config
	outputFormat := conf.Output.Format
	if *outputFormatFlag != "" {
		outputFormat = *outputFormatFlag
	}
	if outputFormat == "" {
		outputFormat = constants.OutputFormatPretty
	}
	if err := validation.ValidateOutputFormat(outputFormat); err != nil {
		logger.Fatal(err.Error(),
			zap.String("op", "main"),
		)
	}
	if *importPath != "" && *loadKey != "" {
		logger.Fatal("-import and -load are mutually exclusive",
			zap.String("op", "main"),
		)
	}

	opts := runOptions{
		outputFormat: outputFormat,
		importPath:   *importPath,
		exportPath:   *exportPath,
		loadKey:      *loadKey,
		saveKey:      *saveKey,
		suggest:      *suggest,
	}
	if err := run(context.Background(), logger, conf, opts, time.Now()); err != nil {
		logger.Fatal("amortization failed",
			zap.String("op", "main"),
			zap.Strings("errors", validation.Errors(err)),
		)
	}
}

type runOptions struct {
	outputFormat string
	importPath   string
	exportPath   string
	loadKey      string
	saveKey      string
	suggest      bool
}

// run returns instead of exiting so deferred store and file closes happen
// before main reports the error.
func run(ctx context.Context, logger *zap.Logger, conf *config.Configuration, opts runOptions, now time.Time) error {
	var (
		snapshot codec.Snapshot
		err      error
	)
	switch {
	case opts.importPath != "":
		snapshot, err = importSnapshot(logger, opts.importPath)
	case opts.loadKey != "":
		snapshot, err = loadSnapshot(ctx, logger, conf.Storage, opts.loadKey)
	default:
		snapshot, err = configuredSnapshot(logger, conf, now)
	}
	if err != nil {
		return err
	}

	if opts.exportPath != "" {
		if err := exportSnapshot(opts.exportPath, snapshot); err != nil {
			return fmt.Errorf("failed to export schedule to %s: %w", opts.exportPath, err)
		}
		logger.Info("schedule exported",
			zap.String("op", "main"),
			zap.String("path", opts.exportPath),
		)
	}

	if opts.saveKey != "" {
		if err := saveSnapshot(ctx, logger, conf.Storage, opts.saveKey, snapshot); err != nil {
			return err
		}
	}

	switch opts.outputFormat {
	case constants.OutputFormatPretty:
		output.PrettyFormat(os.Stdout, snapshot.Config, snapshot.Schedule)
	case constants.OutputFormatCSV:
		if err := output.CsvFormat(os.Stdout, snapshot); err != nil {
			return fmt.Errorf("failed to write CSV output: %w", err)
		}
	}

	if opts.suggest {
		suggestion, err := advisor.New(logger, conf.Advisor).Suggest(ctx, snapshot.Config)
		if err != nil {
			return fmt.Errorf("failed to produce suggestion: %w", err)
		}
		fmt.Printf("\n--- Suggestion (%s) ---\n%s\n", suggestion.Source, suggestion.Text)
	}
	return nil
}

func configuredSnapshot(logger *zap.Logger, conf *config.Configuration, now time.Time) (codec.Snapshot, error) {
	warnings, err := conf.ValidateConfiguration(now)
	for _, warning := range warnings {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}
	if err != nil {
		return codec.Snapshot{}, err
	}

	cfg, err := conf.Loan.ToLoanConfiguration(now)
	if err != nil {
		return codec.Snapshot{}, fmt.Errorf("failed to convert loan configuration: %w", err)
	}

	schedule := loans.NewAmortizationScheduleGenerator(logger).GenerateSchedule(cfg)
	return codec.Snapshot{Config: cfg, Schedule: schedule, SavedAt: now}, nil
}

func importSnapshot(logger *zap.Logger, path string) (codec.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return codec.Snapshot{}, fmt.Errorf("failed to open schedule: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	snapshot, err := codec.DecodeCSV(file)
	if err != nil {
		return codec.Snapshot{}, fmt.Errorf("failed to read schedule %s: %w", path, err)
	}
	return rebuild(logger, snapshot)
}

func loadSnapshot(ctx context.Context, logger *zap.Logger, storage store.Config, key string) (codec.Snapshot, error) {
	snapshots, err := openStore(ctx, logger, storage)
	if err != nil {
		return codec.Snapshot{}, err
	}
	defer closeStore(logger, snapshots)

	snapshot, err := snapshots.Load(ctx, key)
	if err != nil {
		return codec.Snapshot{}, fmt.Errorf("failed to load snapshot %q: %w", key, err)
	}
	return rebuild(logger, snapshot)
}

// rebuild recomputes a stored schedule from its configuration.
func rebuild(logger *zap.Logger, snapshot codec.Snapshot) (codec.Snapshot, error) {
	if err := validation.ValidateLoan(snapshot.Config); err != nil {
		return codec.Snapshot{}, err
	}
	for _, warning := range validation.Warnings(snapshot.Config) {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	rebuilt := codec.Rebuild(snapshot)
	if len(snapshot.Schedule) > 0 && !codec.RowsMatch(snapshot.Schedule, rebuilt.Schedule) {
		logger.Warn("stored schedule rows differ from the recomputed schedule; using the recomputed rows",
			zap.String("op", "main"),
			zap.Int("storedPeriods", len(snapshot.Schedule)),
			zap.Int("rebuiltPeriods", len(rebuilt.Schedule)),
		)
	}
	return rebuilt, nil
}

func exportSnapshot(path string, snapshot codec.Snapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := output.CsvFormat(file, snapshot); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func saveSnapshot(ctx context.Context, logger *zap.Logger, storage store.Config, key string, snapshot codec.Snapshot) error {
	snapshots, err := openStore(ctx, logger, storage)
	if err != nil {
		return err
	}
	defer closeStore(logger, snapshots)

	if err := snapshots.Save(ctx, key, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot %q: %w", key, err)
	}
	logger.Info("snapshot saved",
		zap.String("op", "main"),
		zap.String("key", key),
		zap.String("backend", storage.Backend),
	)
	return nil
}

func openStore(ctx context.Context, logger *zap.Logger, storage store.Config) (store.Store, error) {
	snapshots, err := store.New(ctx, logger, storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s snapshot store: %w", storage.Backend, err)
	}
	return snapshots, nil
}

func closeStore(logger *zap.Logger, snapshots store.Store) {
	if err := snapshots.Close(); err != nil {
		logger.Warn("failed to close snapshot store",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
}
