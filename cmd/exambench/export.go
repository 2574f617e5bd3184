package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/report"
	"github.com/pavelanni/exambench/internal/store"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored runs as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "exambench.db", "Run database: SQLite path or postgres:// URL")
	f.String("run", "", "Run id to export (default: every run)")
	f.String("profile-id", "", "Only runs of this profile id")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, _, err := setup(cmd)
	if err != nil {
		return err
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if id := v.GetString("run"); id != "" {
		exp, err := db.ExportRun(id)
		if err != nil {
			return fmt.Errorf("export run: %w", err)
		}
		if exp == nil {
			return fmt.Errorf("run %s not found", id)
		}
		return writeJSON(v.GetString("output"), exp)
	}

	exports, err := db.ExportRuns(store.RunFilter{ProfileID: v.GetString("profile-id")})
	if err != nil {
		return fmt.Errorf("export runs: %w", err)
	}
	slog.Info("exported runs", "count", len(exports))
	return writeJSON(v.GetString("output"), exports)
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE:  runRuns,
	}
	f := cmd.Flags()
	f.String("db", "exambench.db", "Run database: SQLite path or postgres:// URL")
	f.String("profile-id", "", "Only runs of this profile id")
	f.String("status", "", "Only runs with this status (running, completed, cancelled, failed)")
	f.IntP("limit", "n", 20, "Maximum number of runs (0 = all)")
	f.String("show", "", "Print the summary of this run id instead of the list")
	f.BoolP("verbose", "v", false, "With --show, list every attempt")
	f.String("delete", "", "Delete this run id and its attempts")
	addCommonFlags(f)
	return cmd
}

func runRuns(cmd *cobra.Command, _ []string) error {
	v, ctx, err := setup(cmd)
	if err != nil {
		return err
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if id := v.GetString("delete"); id != "" {
		if err := db.DeleteRun(id); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		slog.Info("run deleted", "run", id)
		return nil
	}
	if id := v.GetString("show"); id != "" {
		run, err := db.GetRun(id)
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if run == nil {
			return fmt.Errorf("run %s not found", id)
		}
		return report.Run(ctx, os.Stdout, run, v.GetBool("verbose"))
	}

	runs, err := db.ListRuns(store.RunFilter{
		ProfileID: v.GetString("profile-id"),
		Status:    model.RunStatus(v.GetString("status")),
		Limit:     v.GetInt("limit"),
	})
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	return report.Runs(ctx, os.Stdout, runs)
}
