package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/omniad/pkg/archive"
	"github.com/hed1ad/omniad/pkg/catalog"
	"github.com/hed1ad/omniad/pkg/detectors"
	dataio "github.com/hed1ad/omniad/pkg/io"
	"github.com/hed1ad/omniad/pkg/io/jsonl"
)

type scoreOptions struct {
	out       string
	threshold float64
	features  bool
	stream    bool
	noHeader  bool
}

func newScoreCmd(a *app) *cobra.Command {
	o := &scoreOptions{}
	cmd := &cobra.Command{
		Use:   "score ARCHIVE DATA",
		Short: "Score data with a saved archive",
		Long: `Restore the detector in ARCHIVE and score every row of DATA.

Results are written as JSON lines, one per row, to stdout or --out.
--threshold overrides the calibrated threshold for labelling.
--stream scores rows as they are read instead of loading DATA first.

Examples:
  omniad score model.zip traffic.pcap
  omniad score model.zip metrics.csv --threshold 0.65 --out scores.jsonl`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var override *float64
			if cmd.Flags().Changed("threshold") {
				override = &o.threshold
			}
			return a.score(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], override, o)
		},
	}

	cmd.Flags().StringVar(&o.out, "out", "", "Write results to this file instead of stdout")
	cmd.Flags().Float64Var(&o.threshold, "threshold", 0, "Label rows with this threshold instead of the calibrated one")
	cmd.Flags().BoolVar(&o.features, "features", false, "Include input features in each result")
	cmd.Flags().BoolVar(&o.stream, "stream", false, "Score rows while reading")
	cmd.Flags().BoolVar(&o.noHeader, "no-header", false, "CSV input has no header row")
	cmd.MarkFlagsMutuallyExclusive("stream", "threshold")
	return cmd
}

func (a *app) score(ctx context.Context, stdout io.Writer, archivePath, input string, threshold *float64, o *scoreOptions) error {
	codec := a.codec()
	meta, err := codec.ReadMetadata(archivePath)
	if err != nil {
		return err
	}
	d, err := codec.Load(ctx, archivePath, detectors.WithLogger(a.log.Logger))
	if err != nil {
		return err
	}

	w := jsonl.NewWriter(stdout)
	if o.out != "" {
		if w, err = jsonl.Create(o.out); err != nil {
			return err
		}
	}

	start := time.Now()
	var flagged int
	if o.stream {
		flagged, err = streamScores(ctx, d, input, !o.noHeader, o.features, w)
	} else {
		flagged, err = batchScores(d, input, !o.noHeader, threshold, o.features, w)
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	a.log.Info("scoring complete",
		zap.String("archive", archivePath),
		zap.String("input", input),
		zap.Int("rows", w.Count()),
		zap.Int("flagged", flagged),
		zap.Duration("elapsed", time.Since(start)),
	)
	return a.recordRun(ctx, meta, d, archivePath, input, w.Count(), flagged)
}

// batchScores scores every row once and labels the scores against the
// fitted threshold or the override.
func batchScores(d *detectors.Detector, input string, header bool, threshold *float64, features bool, w *jsonl.Writer) (int, error) {
	ds, err := readDataset(input, header)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", input, err)
	}
	scores, err := d.PredictScore(ds.Rows)
	if err != nil {
		return 0, err
	}

	cut, ok := d.Threshold()
	if !ok {
		return 0, detectors.ErrNotFitted
	}
	if threshold != nil {
		cut = *threshold
	}
	labels, flagged := labelScores(scores, cut)
	return flagged, w.WriteAll(dataio.Results(ds.Rows, scores, labels, features))
}

// labelScores flags scores at or above threshold.
func labelScores(scores []float64, threshold float64) ([]bool, int) {
	labels := make([]bool, len(scores))
	var flagged int
	for i, s := range scores {
		if s >= threshold {
			labels[i] = true
			flagged++
		}
	}
	return labels, flagged
}

// streamScores pipes reader rows through PredictStream. Rows that fail
// validation are written with their error instead of aborting the run.
func streamScores(ctx context.Context, d *detectors.Detector, input string, header bool, features bool, w *jsonl.Writer) (int, error) {
	r, err := openInput(input, header)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", input, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	rows, err := r.Stream(ctx)
	if err != nil {
		r.Close()
		return 0, err
	}
	// The reader goroutine may still be mid-read after an early failure; it
	// closes rows when it stops, and only then is the source closed.
	defer func() {
		for range rows {
		}
		r.Close()
	}()
	results := make(chan detectors.Score, 100)

	g.Go(func() error {
		defer close(results)
		return d.PredictStream(ctx, rows, results)
	})

	var flagged int
	g.Go(func() error {
		i := 0
		for s := range results {
			res := dataio.Result{Row: i, Score: s.Value, IsAnomaly: s.IsAnomaly}
			if s.Err != nil {
				res.Error = s.Err.Error()
			}
			if features {
				res.Features = s.Features
			}
			if s.IsAnomaly {
				flagged++
			}
			if err := w.Write(res); err != nil {
				return err
			}
			i++
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return flagged, err
	}
	if er, ok := r.(interface{ Err() error }); ok {
		if err := er.Err(); err != nil {
			return flagged, fmt.Errorf("read %s: %w", input, err)
		}
	}
	return flagged, nil
}

func (a *app) recordRun(ctx context.Context, meta *archive.Metadata, d *detectors.Detector, archivePath, input string, rows, flagged int) error {
	cat, err := a.openCatalog()
	if err != nil || cat == nil {
		return err
	}
	defer cat.Close()

	archiveID := meta.ArchiveID
	known := false
	if archiveID != "" {
		_, err := cat.Get(ctx, archiveID)
		switch {
		case err == nil:
			known = true
		case !errors.Is(err, catalog.ErrNotFound):
			return err
		}
	}
	if !known {
		abs, aerr := filepath.Abs(archivePath)
		if aerr != nil {
			abs = archivePath
		}
		nFeatures, _ := d.Attributes().Int(detectors.AttrNFeatures)
		entry := catalog.EntryFromMetadata(meta, abs, nFeatures)
		if err := cat.Record(ctx, entry); err != nil {
			return fmt.Errorf("record archive: %w", err)
		}
		archiveID = entry.ArchiveID
	}

	if err := cat.RecordRun(ctx, &catalog.Run{
		ArchiveID: archiveID,
		Input:     input,
		Rows:      rows,
		Flagged:   flagged,
	}); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}
