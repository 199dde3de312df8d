package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/omniad/pkg/archive"
	"github.com/hed1ad/omniad/pkg/catalog"
	"github.com/hed1ad/omniad/pkg/config"
	"github.com/hed1ad/omniad/pkg/logging"
)

// app carries state shared by all subcommands of one invocation.
type app struct {
	cfgFile  string
	logLevel string
	output   string

	cfg *config.Config
	log *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "omniad",
		Short: "Anomaly detector CLI",
		Long: `omniad fits unsupervised anomaly detectors on tabular or packet data,
saves them as portable archives and scores new data against them.

Core Commands:
  fit          Fit a detector and save it as an archive
  score        Score data with a saved archive
  inspect      Show the metadata of an archive
  models       List archives recorded in the catalog
  algorithms   List available detector algorithms
  version      Show version information

Configuration is read from --config (YAML) and OMNIAD_* environment
variables, e.g. OMNIAD_DETECTOR_CONTAMINATION=0.05.`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Config file (YAML)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&a.output, "output", "o", "json", "Output format (json, yaml)")

	cmd.AddCommand(
		newFitCmd(a),
		newScoreCmd(a),
		newInspectCmd(a),
		newModelsCmd(a),
		newAlgorithmsCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	switch a.output {
	case "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format %q (want json or yaml)", a.output)
	}

	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	a.log.Debug("configuration loaded",
		zap.String("config", a.cfgFile),
		zap.String("algorithm", cfg.Detector.Algorithm),
	)
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	var err error
	if a.cfg != nil && a.cfg.Metrics.File != "" {
		err = prometheus.WriteToTextfile(a.cfg.Metrics.File, prometheus.DefaultGatherer)
		if err != nil {
			err = fmt.Errorf("write metrics: %w", err)
		}
	}
	if a.log != nil {
		if cerr := a.log.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (a *app) codec() *archive.Codec {
	return archive.NewCodec(
		archive.WithLogger(a.log.Logger),
		archive.WithMaxSegmentSize(int64(a.cfg.Archive.MaxSegmentSizeMB)<<20),
	)
}

// openCatalog returns nil when no catalog is configured.
func (a *app) openCatalog() (*catalog.Catalog, error) {
	if a.cfg.Catalog.Path == "" {
		return nil, nil
	}
	return catalog.Open(a.cfg.Catalog.Path)
}

// print renders v in the selected output format.
func (a *app) print(w io.Writer, v any) error {
	switch a.output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
