package main

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/omniad/pkg/catalog"
	"github.com/hed1ad/omniad/pkg/config"
	"github.com/hed1ad/omniad/pkg/detectors"
	"github.com/hed1ad/omniad/pkg/registry"
)

type fitOptions struct {
	out           string
	algorithm     string
	contamination float64
	standardize   bool
	params        map[string]string
	noHeader      bool
}

func newFitCmd(a *app) *cobra.Command {
	o := &fitOptions{}
	cmd := &cobra.Command{
		Use:   "fit DATA",
		Short: "Fit a detector and save it as an archive",
		Long: `Fit a detector on DATA and save it as an archive.

DATA is a CSV file (header row expected unless --no-header) or a packet
capture (.pcap, .pcapng). The detector comes from the detector section of
the configuration; flags override it.

Examples:
  omniad fit traffic.pcap --out traffic.zip
  omniad fit metrics.csv --algorithm ZScore --param aggregate=max`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc := o.apply(cmd, a.cfg.Detector)
			meta, err := a.fit(cmd.Context(), dc, args[0], o.out, !o.noHeader)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), meta)
		},
	}

	cmd.Flags().StringVar(&o.out, "out", "model.zip", "Archive path")
	cmd.Flags().StringVar(&o.algorithm, "algorithm", "", "Detector algorithm id")
	cmd.Flags().Float64Var(&o.contamination, "contamination", detectors.DefaultContamination, "Expected share of anomalies")
	cmd.Flags().BoolVar(&o.standardize, "standardize", false, "Standardize features before fitting")
	cmd.Flags().StringToStringVar(&o.params, "param", nil, "Algorithm hyperparameter key=value (repeatable)")
	cmd.Flags().BoolVar(&o.noHeader, "no-header", false, "CSV input has no header row")
	return cmd
}

// apply overlays explicitly set flags on the configured detector section.
func (o *fitOptions) apply(cmd *cobra.Command, dc config.DetectorConfig) config.DetectorConfig {
	if cmd.Flags().Changed("algorithm") {
		dc.Algorithm = o.algorithm
	}
	if cmd.Flags().Changed("contamination") {
		dc.Contamination = o.contamination
	}
	if cmd.Flags().Changed("standardize") {
		dc.Standardize = o.standardize
	}
	dc.Params = maps.Clone(dc.Params)
	if dc.Params == nil {
		dc.Params = map[string]any{}
	}
	for k, v := range o.params {
		dc.Params[k] = parseParam(v)
	}
	return dc
}

// parseParam types a flag value: integers, then floats, then booleans,
// otherwise the raw string.
func parseParam(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func (a *app) fit(ctx context.Context, dc config.DetectorConfig, input, out string, header bool) (*archiveSummary, error) {
	ds, err := readDataset(input, header)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", input, err)
	}

	d, err := registry.Default().Resolve(dc.Algorithm, dc.Hyperparameters(), detectors.WithLogger(a.log.Logger))
	if err != nil {
		return nil, err
	}
	if err := d.Fit(ctx, ds.Rows, detectors.WithFeatureNames(ds.FeatureNames...)); err != nil {
		return nil, err
	}

	meta, err := a.codec().Save(ctx, d, out)
	if err != nil {
		return nil, err
	}
	nFeatures, _ := d.Attributes().Int(detectors.AttrNFeatures)

	cat, err := a.openCatalog()
	if err != nil {
		return nil, err
	}
	if cat != nil {
		defer cat.Close()
		abs, err := filepath.Abs(out)
		if err != nil {
			abs = out
		}
		if err := cat.Record(ctx, catalog.EntryFromMetadata(meta, abs, nFeatures)); err != nil {
			return nil, fmt.Errorf("record archive: %w", err)
		}
	}

	a.log.Info("detector fitted",
		zap.String("input", input),
		zap.Int("rows", len(ds.Rows)),
		zap.Int("features", nFeatures),
		zap.Float64("threshold", meta.Threshold),
	)
	return &archiveSummary{Path: out, NFeatures: nFeatures, Metadata: *meta}, nil
}
