package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/sieve/internal/gmailctl"
	"github.com/joshsymonds/sieve/internal/metrics"
	"github.com/joshsymonds/sieve/internal/report"
	"github.com/joshsymonds/sieve/internal/rules"
	"github.com/joshsymonds/sieve/internal/sieve"
)

type importOptions struct {
	binary    string
	configDir string
	name      string
	query     string
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runApply(cmd *cobra.Command, opts *options, args []string) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	specs, err := a.loadSpecs(opts, args)
	if err != nil {
		return err
	}
	svc, stop, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer stop()
	svc.DryRun = opts.nerf

	run := metrics.NewRun()
	svc.Metrics = run
	runErr := applyAll(ctx, svc, specs)
	if a.cfg.MetricsTextfile != "" {
		if err := run.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
			a.log.Error("write metrics", "path", a.cfg.MetricsTextfile, "error", err)
		}
	}
	return runErr
}

func applyAll(ctx context.Context, svc *sieve.Service, specs []rules.Spec) error {
	for _, spec := range specs {
		rep, err := svc.Run(ctx, spec)
		if err != nil {
			return fmt.Errorf("spec %s: %w", spec.Name, err)
		}
		svc.Log.Info("spec complete",
			"spec", rep.Spec,
			"scanned", rep.Scanned,
			"matched", rep.Matched,
			"up_to_date", rep.UpToDate,
			"batches", rep.Batches,
			"messages", rep.Messages,
			"dry_run", svc.DryRun,
		)
	}
	return nil
}

func runShowFilters(cmd *cobra.Command, opts *options, args []string, format string) error {
	f, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	specs, err := a.loadSpecs(opts, args)
	if err != nil {
		return err
	}
	return report.PrintFilters(cmd.OutOrStdout(), f, specs)
}

func runShowChanges(cmd *cobra.Command, opts *options, args []string, format string) error {
	f, err := report.ParseFormat(format)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	specs, err := a.loadSpecs(opts, args)
	if err != nil {
		return err
	}
	svc, stop, err := a.service(ctx)
	if err != nil {
		return err
	}
	defer stop()

	views := make([]report.SpecChanges, 0, len(specs))
	for _, spec := range specs {
		rep, err := svc.Plan(ctx, spec)
		if err != nil {
			return fmt.Errorf("spec %s: %w", spec.Name, err)
		}
		views = append(views, report.SpecChanges{Spec: rep.Spec, Changes: report.ToOutput(rep.Changes)})
	}
	return report.PrintChanges(cmd.OutOrStdout(), f, views)
}

func runImportGmailctl(cmd *cobra.Command, opts *options, imp importOptions) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	a, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := gmailctl.Runner{Binary: imp.binary, ConfigDir: rules.ExpandHome(imp.configDir)}
	spec, skipped, err := runner.Import(ctx, imp.name, imp.query)
	for _, s := range skipped {
		a.log.Warn("gmailctl filter not imported", "filter", s.Name, "reason", s.Reason)
	}
	if err != nil {
		return err
	}
	if err := rules.EncodeYAML(cmd.OutOrStdout(), []rules.Spec{spec}); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return nil
}
