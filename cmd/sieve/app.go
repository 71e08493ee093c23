package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joshsymonds/sieve/internal/config"
	"github.com/joshsymonds/sieve/internal/labels"
	"github.com/joshsymonds/sieve/internal/rate"
	"github.com/joshsymonds/sieve/internal/rules"
	"github.com/joshsymonds/sieve/internal/runtime"
	"github.com/joshsymonds/sieve/internal/sieve"
)

type app struct {
	cfg    config.Config
	log    *slog.Logger
	closer io.Closer
}

func (a *app) Close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// setup resolves settings (file, then flags), builds the run logger.
func setup(cmd *cobra.Command, opts *options) (*app, error) {
	if err := config.LoadEnv(); err != nil {
		return nil, err
	}
	path := opts.configPath
	required := path != ""
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("creds-json") || cfg.CredsJSON == "" {
		cfg.CredsJSON = opts.credsJSON
	}
	if flags.Changed("sieve-yml") || cfg.SieveYML == "" {
		cfg.SieveYML = opts.sieveYML
	}
	if flags.Changed("workers") {
		cfg.Workers = opts.workers
	}
	if opts.groupBy != "" {
		cfg.GroupBy = opts.groupBy
	}
	if opts.matchMode != "" {
		cfg.MatchMode = opts.matchMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	level, err := logLevel(flags.Changed("verbose"), opts.verbose, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, closer, err := runtime.NewLogger(level, cfg.LogFile)
	if err != nil {
		return nil, err
	}
	logger = logger.With("run_id", uuid.NewString())
	for _, key := range cfg.Undecoded {
		logger.Warn("unknown settings key ignored", "key", key, "file", path)
	}
	return &app{cfg: cfg, log: logger, closer: closer}, nil
}

// logLevel prefers -v, then the settings file, then LOGGING_LEVEL.
func logLevel(verboseSet bool, verbose int, configured string) (slog.Level, error) {
	if verboseSet {
		return runtime.VerbosityLevel(verbose), nil
	}
	if configured == "" {
		configured = os.Getenv("LOGGING_LEVEL")
	}
	level, err := runtime.ParseLevel(configured)
	if err != nil {
		return level, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// loadSpecs reads the rule file and applies the command-line overrides.
func (a *app) loadSpecs(opts *options, args []string) ([]rules.Spec, error) {
	ov := rules.Overrides{Query: opts.query, Actions: opts.actions}
	if len(args) > 0 {
		ov.SpecPattern = args[0]
	}
	if len(args) > 1 {
		ov.FilterPattern = args[1]
	}
	for _, raw := range opts.headers {
		c, err := rules.ParseHeader(raw)
		if err != nil {
			return nil, fmt.Errorf("header override: %w", err)
		}
		ov.Headers = append(ov.Headers, c)
	}
	if err := ov.Validate(labels.IsAlias); err != nil {
		return nil, fmt.Errorf("invalid overrides: %w", err)
	}

	specs, err := rules.Load(a.cfg.SieveYML)
	if err != nil {
		return nil, err
	}
	specs, err = ov.Apply(specs)
	if err != nil {
		return nil, fmt.Errorf("apply overrides: %w", err)
	}
	return specs, nil
}

// service authorizes against Gmail and returns a configured workflow. The
// returned stop function releases the rate limiter.
func (a *app) service(ctx context.Context) (*sieve.Service, func(), error) {
	timeout, err := a.cfg.Breaker.GetTimeout()
	if err != nil {
		return nil, nil, err
	}
	client, err := runtime.NewGmailClient(ctx, runtime.AuthConfig{
		CredsJSON: rules.ExpandHome(a.cfg.CredsJSON),
		TokenJSON: rules.ExpandHome(a.cfg.TokenJSON),
		Prompt:    os.Stderr,
	}, runtime.BreakerSettings{MaxFailures: a.cfg.Breaker.MaxFailures, Timeout: timeout}, a.log)
	if err != nil {
		return nil, nil, fmt.Errorf("create gmail client: %w", err)
	}

	var (
		limiter rate.Limiter
		stop    = func() {}
	)
	if a.cfg.RPS > 0 {
		bucket := rate.NewTokenBucket(a.cfg.RPS, a.cfg.RPS)
		limiter = bucket
		stop = bucket.Stop
	}

	svc := sieve.NewService(client, limiter, a.log)
	if err := svc.Configure(a.cfg); err != nil {
		stop()
		return nil, nil, err
	}
	return svc, stop, nil
}
