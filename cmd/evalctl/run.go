package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tutoreval/internal/app"
	"github.com/kiranshivaraju/tutoreval/internal/config"
	"github.com/kiranshivaraju/tutoreval/internal/dataset"
	"github.com/kiranshivaraju/tutoreval/internal/jobs"
	"github.com/kiranshivaraju/tutoreval/internal/store"
	"github.com/kiranshivaraju/tutoreval/pkg/models"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const pollInterval = 25 * time.Millisecond

type runOptions struct {
	datasetPath string
	engine      string
	grades      []string
	subjects    []string
	seed        int64
	timeout     int
	concurrency int
}

type runReport struct {
	Job     *models.Job          `json:"job"`
	Results []*models.CaseResult `json:"results"`
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a dataset file in-process and wait for the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadLocal()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.concurrency > 0 {
				cfg.Worker.Concurrency = opts.concurrency
			}
			cfg.Worker.ClaimWait = 100 * time.Millisecond

			report, err := runDataset(cmd.Context(), cfg, opts, cmd.Flags().Changed("seed"))
			if err != nil {
				return err
			}
			if outputFormat(cmd) == outputJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return renderReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVarP(&opts.datasetPath, "dataset", "d", "", "path to a dataset JSON file (required)")
	cmd.Flags().StringVarP(&opts.engine, "engine", "e", "mock", "engine selector, e.g. mock, ollama:llama3 or a profile name")
	cmd.Flags().StringSliceVar(&opts.grades, "grade", nil, "only evaluate cases at these grade levels")
	cmd.Flags().StringSliceVar(&opts.subjects, "subject", nil, "only evaluate cases in these subjects")
	cmd.Flags().Int64Var(&opts.seed, "seed", models.DefaultSeed, "deterministic seed for the stand-in engine")
	cmd.Flags().IntVar(&opts.timeout, "timeout", 0, "per-case engine timeout in seconds (0 uses the default)")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 0, "number of in-process workers")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

// runDataset executes every selected case on an in-memory stack and returns
// once the job is terminal.
func runDataset(ctx context.Context, cfg *config.Config, opts runOptions, seedSet bool) (*runReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := dataset.Load(opts.datasetPath)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(opts.datasetPath), filepath.Ext(opts.datasetPath))
	ds, err := f.New(store.DefaultTenantID, name)
	if err != nil {
		return nil, err
	}

	a, err := app.InMemory(cfg, nil)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if err := a.Store.CreateDataset(ctx, ds); err != nil {
		return nil, fmt.Errorf("storing dataset: %w", err)
	}

	selector, err := json.Marshal(map[string]string{"primary": opts.engine})
	if err != nil {
		return nil, err
	}
	evalCfg := models.EvaluationConfig{TimeoutSeconds: opts.timeout}
	if seedSet {
		evalCfg.DeterministicSeed = &opts.seed
	}
	filters := map[string]any{}
	if len(opts.grades) > 0 {
		filters["grade_levels"] = opts.grades
	}
	if len(opts.subjects) > 0 {
		filters["subjects"] = opts.subjects
	}

	job, err := a.Manager.CreateJob(ctx, jobs.CreateJobParams{
		TenantID:         store.DefaultTenantID,
		DatasetID:        ds.ID,
		Filters:          filters,
		EngineSelector:   selector,
		EvaluationConfig: evalCfg,
		Mode:             models.ModeSync,
	})
	if err != nil {
		return nil, err
	}

	poolCtx, stopPool := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(poolCtx)
	g.Go(func() error { return a.Pool("evalctl", cfg.Worker.Concurrency).Run(gctx) })

	job, waitErr := waitTerminal(ctx, a.Manager, job.ID)
	stopPool()
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if waitErr != nil {
		return nil, waitErr
	}

	results, err := allCaseResults(ctx, a.Store, job.ID)
	if err != nil {
		return nil, err
	}
	return &runReport{Job: job, Results: results}, nil
}

func waitTerminal(ctx context.Context, m *jobs.Manager, jobID uuid.UUID) (*models.Job, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		job, err := m.GetJob(ctx, jobID, store.DefaultTenantID)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func allCaseResults(ctx context.Context, st store.Store, jobID uuid.UUID) ([]*models.CaseResult, error) {
	var all []*models.CaseResult
	for page := 1; ; page++ {
		batch, total, err := st.ListCaseResults(ctx, store.CaseResultFilter{
			TenantID: store.DefaultTenantID,
			JobID:    jobID,
			Page:     page,
			Limit:    100,
		})
		if err != nil {
			return nil, fmt.Errorf("listing results: %w", err)
		}
		all = append(all, batch...)
		if len(batch) == 0 || len(all) >= total {
			return all, nil
		}
	}
}

func renderReport(w io.Writer, r *runReport) error {
	table := tablewriter.NewWriter(w)
	table.Header("Case", "Engine", "Status", "Score", "Latency")
	for _, cr := range r.Results {
		if err := table.Append(cr.CaseID, cr.EngineID, cr.Status,
			fmt.Sprintf("%.3f", cr.AggregatedScore), fmt.Sprintf("%dms", cr.LatencyMS)); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	j := r.Job
	fmt.Fprintf(w, "job %s %s: %d processed, %d skipped of %d\n", j.ID, j.Status, j.ProcessedCount, j.SkippedCount, j.NumCases)
	if j.Summary != nil {
		fmt.Fprintf(w, "mean score %.3f, %.1f%% failing\n", j.Summary.MeanScore, j.Summary.PercentFailing*100)
	}
	if j.FailureReason != nil {
		fmt.Fprintf(w, "failure: %s\n", *j.FailureReason)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
