package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pavelanni/exambench/internal/compat"
	"github.com/pavelanni/exambench/internal/llm"
	"github.com/pavelanni/exambench/internal/model"
	"github.com/pavelanni/exambench/internal/report"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the full compatibility check against a profile's server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChecks(cmd, (*compat.Checker).Check)
		},
	}
	addCheckFlags(cmd)
	return cmd
}

func diagnoseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check connectivity and JSON-mode support only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChecks(cmd, (*compat.Checker).Diagnose)
		},
	}
	addCheckFlags(cmd)
	return cmd
}

func addCheckFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	addProfileFlag(f)
	f.Bool("json", false, "Print the report as JSON")
	addCommonFlags(f)
}

func runChecks(cmd *cobra.Command, do func(*compat.Checker, context.Context) model.CheckReport) error {
	v, ctx, err := setup(cmd)
	if err != nil {
		return err
	}
	profile, err := loadProfile(v)
	if err != nil {
		return err
	}
	checker, err := compat.FromProfile(profile)
	if err != nil {
		return err
	}

	runCtx, stop := signalContext(ctx)
	defer stop()
	rep := do(checker, runCtx)

	if v.GetBool("json") {
		if err := writeJSON("-", rep); err != nil {
			return err
		}
	} else if err := report.Check(ctx, os.Stdout, rep); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	if !rep.Compatible {
		return fmt.Errorf("profile %s is not compatible: %s failed", profile.ID, rep.FailedAt)
	}
	return nil
}

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models served behind a profile's bindings",
		RunE:  runModels,
	}
	f := cmd.Flags()
	addProfileFlag(f)
	f.String("binding", "", "Only this binding id (default: every binding)")
	addCommonFlags(f)
	return cmd
}

func runModels(cmd *cobra.Command, _ []string) error {
	v, ctx, err := setup(cmd)
	if err != nil {
		return err
	}
	profile, err := loadProfile(v)
	if err != nil {
		return err
	}

	bindings := profile.Bindings
	if id := v.GetString("binding"); id != "" {
		b, ok := profile.Binding(id)
		if !ok {
			return fmt.Errorf("profile %s has no binding %q", profile.ID, id)
		}
		bindings = []model.Binding{b}
	}

	var errs []error
	for _, b := range bindings {
		models, err := llm.New(b).ListModels(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("binding %s: %w", b.ID, err))
			continue
		}
		slices.Sort(models)
		fmt.Printf("%s (%s, %s)\n", b.ID, b.Capability, llm.NormalizeBaseURL(b.BaseURL))
		for _, m := range models {
			marker := " "
			if m == b.Model {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, m)
		}
	}
	return errors.Join(errs...)
}
