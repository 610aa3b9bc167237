// Command trawlgrid turns bottom-trawl survey files into a dense, zero-filled
// haul by functional-group CPUE table.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trawlgrid/internal/blob"
	"trawlgrid/internal/config"
	"trawlgrid/internal/export"
	"trawlgrid/internal/infra/persistence"
	"trawlgrid/internal/metrics"
	"trawlgrid/internal/pipeline"
)

const appName = "trawlgrid"

var (
	// Version and BuildTime are overridden with -ldflags at release time.
	Version   = "0.1.0"
	BuildTime = "dev"

	exitFunc = os.Exit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitFunc(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Zero-filled CPUE tables from trawl survey data",
		Long: `trawlgrid reads haul, catch and taxonomy CSV files, aggregates catch per
unit effort by functional group and writes the full haul x group cross
product, zero-filling every pair with no recorded catch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.AddCommand(densifyCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	return cmd
}

type densifyFlags struct {
	configPath string
	hauls      string
	catch      string
	taxonomy   string
	formats    []string
	logLevel   string
}

func densifyCmd() *cobra.Command {
	var f densifyFlags
	cmd := &cobra.Command{
		Use:   "densify",
		Short: "Build, export and persist the dense CPUE table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			rep, err := runDensify(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&f.hauls, "hauls", "", "Haul CSV (haul_id,year,lat,lon,depth,effort[,performance])")
	cmd.Flags().StringVar(&f.catch, "catch", "", "Catch CSV (haul_id,species_code,weight[,count])")
	cmd.Flags().StringVar(&f.taxonomy, "taxonomy", "", "Taxonomy CSV (species_code,group_code,group_name)")
	cmd.Flags().StringSliceVar(&f.formats, "format", nil, "Export formats (csv, json, ndjson)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return cmd
}

// load merges the config file, environment and flags, flags winning.
func (f densifyFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Inputs.Hauls, f.hauls)
	set(&cfg.Inputs.Catch, f.catch)
	set(&cfg.Inputs.Taxonomy, f.taxonomy)
	set(&cfg.Log.Level, f.logLevel)
	if len(f.formats) > 0 {
		cfg.Export.Formats = f.formats
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func runDensify(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pipeline.Report, error) {
	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("open blob store: %w", err)
	}
	sinks, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return pipeline.Report{}, fmt.Errorf("open sinks: %w", err)
	}
	defer func() {
		if err := persistence.CloseAll(sinks); err != nil {
			logger.Warn("close sinks", zap.Error(err))
		}
	}()
	formats, err := export.ParseFormats(cfg.Export.Formats)
	if err != nil {
		return pipeline.Report{}, err
	}
	rec := metrics.NewPromRecorder()
	runner := pipeline.New(store,
		pipeline.WithSinks(sinks...),
		pipeline.WithFormats(formats...),
		pipeline.WithPrefix(cfg.Export.Prefix),
		pipeline.WithMinPerformance(cfg.Filter.MinPerformance),
		pipeline.WithAudit(export.ZapAuditLog{Logger: logger.Named("audit")}),
		pipeline.WithRecorder(rec),
		pipeline.WithLogger(logger))
	rep, runErr := runner.Run(ctx, pipeline.Inputs{
		Hauls:    cfg.Inputs.Hauls,
		Catch:    cfg.Inputs.Catch,
		Taxonomy: cfg.Inputs.Taxonomy,
	})
	if cfg.Metrics.Path != "" {
		if err := rec.WriteTextfile(cfg.Metrics.Path); err != nil {
			logger.Warn("write metrics", zap.String("path", cfg.Metrics.Path), zap.Error(err))
		}
	}
	return rep, runErr
}
