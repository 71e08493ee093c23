package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/sieve/internal/runtime"
)

type options struct {
	configPath string
	verbose    int
	nerf       bool
	credsJSON  string
	sieveYML   string
	query      string
	headers    []string
	actions    []string
	workers    int
	groupBy    string
	matchMode  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		runtime.DefaultLogger().Error("sieve failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "sieve [spec-pattern [filter-pattern]]",
		Short: "Apply header-matching label rules to Gmail conversations",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, opts, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "settings file (default $SIEVE_CONFIG or ~/.config/sieve/sieve.toml)")
	flags.CountVarP(&opts.verbose, "verbose", "v", "raise log verbosity (repeatable)")
	flags.BoolVarP(&opts.nerf, "nerf", "n", false, "dry run; log intended changes without applying them")
	flags.StringVar(&opts.credsJSON, "creds-json", "./.creds.json", "OAuth client secret")
	flags.StringVar(&opts.sieveYML, "sieve-yml", "./sieve.yml", "rule file (.yml or .jsonnet)")
	flags.StringVarP(&opts.query, "query", "q", "", "override the spec query")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, "header criterion KEY=VALUE for the selected filter (repeatable)")
	flags.StringSliceVarP(&opts.actions, "actions", "a", nil, "actions for the selected filter")
	flags.IntVar(&opts.workers, "workers", 0, "concurrent Gmail requests")
	flags.StringVar(&opts.groupBy, "group-by", "", "group changes by labels or rules")
	flags.StringVar(&opts.matchMode, "match-mode", "", "accumulate every matching rule or stop at the first")

	root.AddCommand(
		newShowFiltersCmd(opts),
		newShowChangesCmd(opts),
		newImportGmailctlCmd(opts),
	)
	return root
}

func newShowFiltersCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show-filters [spec-pattern [filter-pattern]]",
		Short: "Print the loaded rules",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowFilters(cmd, opts, args, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json, yaml or human")
	return cmd
}

func newShowChangesCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show-changes [spec-pattern [filter-pattern]]",
		Short: "Compute changes without applying them",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShowChanges(cmd, opts, args, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json, yaml or human")
	return cmd
}

func newImportGmailctlCmd(opts *options) *cobra.Command {
	var imp importOptions
	cmd := &cobra.Command{
		Use:   "import-gmailctl",
		Short: "Convert gmailctl filters into a rule document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImportGmailctl(cmd, opts, imp)
		},
	}
	cmd.Flags().StringVar(&imp.binary, "gmailctl-binary", "gmailctl", "gmailctl binary to invoke")
	cmd.Flags().StringVar(&imp.configDir, "gmailctl-config", "", "gmailctl config directory")
	cmd.Flags().StringVar(&imp.name, "name", "gmailctl", "name of the generated spec")
	cmd.Flags().StringVar(&imp.query, "spec-query", "", "query of the generated spec")
	return cmd
}
