package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/exambench/internal/dataset"
	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/pipeline"
	"github.com/pavelanni/exambench/internal/report"
	"github.com/pavelanni/exambench/internal/store"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a profile's pipeline over a question bank",
		RunE:  runRun,
	}
	f := cmd.Flags()
	addProfileFlag(f)
	f.StringP("questions", "q", "questions.json", "Path to the question bank JSON file")
	f.StringP("catalog", "c", "catalog.json", "Path to the topology catalog (JSON or YAML)")
	f.String("db", "exambench.db", "Run database: SQLite path or postgres:// URL (empty disables persistence)")
	f.IntP("limit", "n", 0, "Maximum number of questions (0 = all)")
	f.StringSliceP("tag", "t", nil, "Only questions carrying one of these tags (repeatable)")
	f.StringSlice("question-id", nil, "Only these question ids (repeatable)")
	f.Bool("skip-preflight", false, "Skip the connectivity and JSON-mode checks before the first question")
	f.Int("image-cache-size", pipeline.DefaultImageCacheSize, "Image summaries kept in memory")
	f.StringP("output", "o", "", "Also write the run record as JSON to this file (- for stdout)")
	f.BoolP("verbose", "v", false, "List every attempt in the summary")
	addCommonFlags(f)
	return cmd
}

func runRun(cmd *cobra.Command, _ []string) error {
	v, ctx, err := setup(cmd)
	if err != nil {
		return err
	}

	profile, err := loadProfile(v)
	if err != nil {
		return err
	}
	bank, err := dataset.LoadBank(v.GetString("questions"))
	if err != nil {
		return err
	}
	catalog, err := dataset.LoadCatalog(v.GetString("catalog"))
	if err != nil {
		return err
	}

	filter := dataset.Filter{
		IDs:   v.GetStringSlice("question-id"),
		Tags:  v.GetStringSlice("tag"),
		Limit: v.GetInt("limit"),
	}
	questions := filter.Apply(bank.Questions)
	if len(questions) == 0 {
		return errors.New("no questions match the given filters")
	}

	cache, err := pipeline.NewImageCache(v.GetInt("image-cache-size"))
	if err != nil {
		return fmt.Errorf("create image cache: %w", err)
	}
	p, err := pipeline.FromProfile(profile, catalog,
		pipeline.WithPreflight(!v.GetBool("skip-preflight")),
		pipeline.WithDatasetHash(bank.Hash),
		pipeline.WithImageCache(cache),
	)
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	var db *store.Store
	if dsn := v.GetString("db"); dsn != "" {
		db, err = store.New(dsn)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
	}

	p.OnProgress(func(e pipeline.ProgressEvent) {
		switch e.EventType {
		case pipeline.EventRunStart:
			if db == nil {
				return
			}
			tb, _ := profile.BindingFor(model.CapabilityText)
			header := &model.BenchmarkRun{
				ID:          e.RunID,
				ProfileID:   profile.ID,
				ProfileName: profile.Name,
				Model:       tb.Model,
				DatasetHash: bank.Hash,
				Status:      model.RunRunning,
				StartedAt:   e.StartedAt,
			}
			if err := db.SaveRun(header); err != nil {
				slog.Warn("save run header", "run", e.RunID, "error", err)
			}
		case pipeline.EventQuestionComplete:
			passed := e.Attempt.Passed()
			slog.Info("question complete",
				"index", e.Index, "total", e.Total, "question_id", e.QuestionID,
				"passed", passed, "latency_ms", e.Attempt.LatencyMs, "error", e.Attempt.Error)
			if db == nil {
				return
			}
			if err := db.SaveAttempt(e.RunID, e.Index-1, *e.Attempt); err != nil {
				slog.Warn("save attempt", "run", e.RunID, "question_id", e.QuestionID, "error", err)
			}
		}
	})

	runCtx, stop := signalContext(ctx)
	defer stop()
	run, runErr := p.Run(runCtx, questions)

	if db != nil {
		if err := db.SaveRun(run); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		slog.Info("run saved", "run", run.ID, "db", v.GetString("db"))
	}
	if out := v.GetString("output"); out != "" {
		if err := writeJSON(out, run); err != nil {
			return err
		}
	}
	if err := report.Run(ctx, os.Stdout, run, v.GetBool("verbose")); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("run %s %s: %w", run.ID, run.Status, runErr)
	}
	return nil
}

func writeJSON(path string, v any) error {
	w, err := openOutput(path)
	if err != nil {
		return err
	}
	defer w.Close()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
