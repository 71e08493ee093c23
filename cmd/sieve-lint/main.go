package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/sieve/internal/config"
	"github.com/joshsymonds/sieve/internal/rate"
	"github.com/joshsymonds/sieve/internal/report"
	"github.com/joshsymonds/sieve/internal/rules"
	"github.com/joshsymonds/sieve/internal/runtime"
	"github.com/joshsymonds/sieve/internal/sieve"
)

type lintConfig struct {
	configPath string
	verbose    int
	credsJSON  string
	sieveYML   string
	failOn     string
	jsonOut    string
}

func main() {
	if err := newLintCmd().Execute(); err != nil {
		runtime.DefaultLogger().Error("sieve-lint failed", "error", err)
		os.Exit(1)
	}
}

func newLintCmd() *cobra.Command {
	cfg := &lintConfig{}
	cmd := &cobra.Command{
		Use:   "sieve-lint",
		Short: "Report dead rules, conflicting actions and missing labels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, cfg)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.configPath, "config", "", "settings file (default $SIEVE_CONFIG or ~/.config/sieve/sieve.toml)")
	flags.CountVarP(&cfg.verbose, "verbose", "v", "raise log verbosity (repeatable)")
	flags.StringVar(&cfg.credsJSON, "creds-json", "./.creds.json", "OAuth client secret")
	flags.StringVar(&cfg.sieveYML, "sieve-yml", "./sieve.yml", "rule file (.yml or .jsonnet)")
	flags.StringVar(&cfg.failOn, "fail-on", "dead,conflict,missing-label", "comma separated lint failures")
	flags.StringVar(&cfg.jsonOut, "json-out", "", "also write findings as JSON to this relative path")
	return cmd
}

func run(cmd *cobra.Command, lc *lintConfig) error {
	failTokens, err := report.ParseFailOn(lc.failOn)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadEnv(); err != nil {
		return err
	}
	path, required := lc.configPath, lc.configPath != ""
	if path == "" {
		path = config.DefaultPath()
	}
	settings, err := config.Load(path, required)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if cmd.Flags().Changed("creds-json") || settings.CredsJSON == "" {
		settings.CredsJSON = lc.credsJSON
	}
	if cmd.Flags().Changed("sieve-yml") || settings.SieveYML == "" {
		settings.SieveYML = lc.sieveYML
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	level := runtime.VerbosityLevel(lc.verbose)
	if !cmd.Flags().Changed("verbose") {
		configured := settings.LogLevel
		if configured == "" {
			configured = os.Getenv("LOGGING_LEVEL")
		}
		if level, err = runtime.ParseLevel(configured); err != nil {
			return fmt.Errorf("log level: %w", err)
		}
	}
	logger, closer, err := runtime.NewLogger(level, settings.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	logger = logger.With("run_id", uuid.NewString())

	specs, err := rules.Load(settings.SieveYML)
	if err != nil {
		return err
	}

	timeout, err := settings.Breaker.GetTimeout()
	if err != nil {
		return err
	}
	client, err := runtime.NewGmailClient(ctx, runtime.AuthConfig{
		CredsJSON: rules.ExpandHome(settings.CredsJSON),
		TokenJSON: rules.ExpandHome(settings.TokenJSON),
		Prompt:    os.Stderr,
	}, runtime.BreakerSettings{MaxFailures: settings.Breaker.MaxFailures, Timeout: timeout}, logger)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	var limiter rate.Limiter
	if settings.RPS > 0 {
		bucket := rate.NewTokenBucket(settings.RPS, settings.RPS)
		limiter = bucket
		defer bucket.Stop()
	}

	svc := sieve.NewService(client, limiter, logger)
	if err := svc.Configure(settings); err != nil {
		return err
	}

	plans := make([]report.SpecPlan, 0, len(specs))
	for _, spec := range specs {
		rep, err := svc.Plan(ctx, spec)
		if err != nil {
			return fmt.Errorf("plan spec %s: %w", spec.Name, err)
		}
		plans = append(plans, report.SpecPlan{Spec: spec, Scanned: rep.Scanned, Hits: rep.Hits})
	}
	existing, err := svc.UserLabels(ctx)
	if err != nil {
		return err
	}

	rep := report.BuildFindings(plans, existing)
	if _, err := os.Stdout.WriteString(rep.HumanSummary()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if lc.jsonOut != "" {
		if err := report.WriteJSON(rep, lc.jsonOut); err != nil {
			return fmt.Errorf("write findings: %w", err)
		}
	}
	if rep.ShouldFail(failTokens) {
		return fmt.Errorf("lint failures matched: %s", lc.failOn)
	}
	return nil
}
