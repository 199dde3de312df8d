package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/hed1ad/omniad/pkg/catalog"
	"github.com/hed1ad/omniad/pkg/detectors"
)

type modelView struct {
	ArchiveID       string                    `json:"archive_id" yaml:"archive_id"`
	AlgorithmID     string                    `json:"algorithm_id" yaml:"algorithm_id"`
	ClassName       string                    `json:"class_name" yaml:"class_name"`
	Threshold       float64                   `json:"threshold" yaml:"threshold"`
	Contamination   float64                   `json:"contamination" yaml:"contamination"`
	NFeatures       int                       `json:"n_features" yaml:"n_features"`
	Hyperparameters detectors.Hyperparameters `json:"hyperparameters,omitempty" yaml:"hyperparameters,omitempty"`
	Path            string                    `json:"path" yaml:"path"`
	CreatedAt       time.Time                 `json:"created_at" yaml:"created_at"`
	Runs            []runView                 `json:"runs,omitempty" yaml:"runs,omitempty"`
}

type runView struct {
	Input    string    `json:"input" yaml:"input"`
	Rows     int       `json:"rows" yaml:"rows"`
	Flagged  int       `json:"flagged" yaml:"flagged"`
	ScoredAt time.Time `json:"scored_at" yaml:"scored_at"`
}

func newModelsCmd(a *app) *cobra.Command {
	var (
		q    catalog.Query
		runs bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List archives recorded in the catalog",
		Long: `List archives recorded in the catalog, newest first.

Requires catalog.path in the configuration (or OMNIAD_CATALOG_PATH).

Examples:
  omniad models --algorithm IsolationForest --limit 5
  omniad models --runs -o yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.openCatalog()
			if err != nil {
				return err
			}
			if cat == nil {
				return errors.New("no catalog configured (set catalog.path)")
			}
			defer cat.Close()

			ctx := cmd.Context()
			entries, err := cat.List(ctx, q)
			if err != nil {
				return err
			}

			views := make([]modelView, 0, len(entries))
			for _, e := range entries {
				v := modelView{
					ArchiveID:       e.ArchiveID,
					AlgorithmID:     e.AlgorithmID,
					ClassName:       e.ClassName,
					Threshold:       e.Threshold,
					Contamination:   e.Contamination,
					NFeatures:       e.NFeatures,
					Hyperparameters: e.Hyperparameters,
					Path:            e.Path,
					CreatedAt:       e.CreatedAt,
				}
				if runs {
					rs, err := cat.Runs(ctx, e.ArchiveID)
					if err != nil {
						return err
					}
					for _, r := range rs {
						v.Runs = append(v.Runs, runView{Input: r.Input, Rows: r.Rows, Flagged: r.Flagged, ScoredAt: r.ScoredAt})
					}
				}
				views = append(views, v)
			}
			return a.print(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().StringVar(&q.AlgorithmID, "algorithm", "", "Only archives of this algorithm")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "Maximum number of archives (0 for all)")
	cmd.Flags().BoolVar(&runs, "runs", false, "Include scoring runs")
	return cmd
}
