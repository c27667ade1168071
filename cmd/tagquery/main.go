package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"tagquery/internal/config"
	"tagquery/internal/logging"
	"tagquery/internal/output"
	"tagquery/internal/runner"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Set by the release build.
var version = "dev"

var (
	// Global flags
	configPath string

	// Query flags, merged over the config file when set.
	outfile        string
	source         string
	sourceCategory string
	node           string
	nodeCategory   string
	verbosity      int
	noComments     bool
	driver         string
	onMalformed    string
	onOutOfRange   string
	timeout        string
	logFormat      string

	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd queries taggings and writes the CSV report.
var rootCmd = &cobra.Command{
	Use:   "tagquery [infile]",
	Short: "Query taggings in a normalised file",
	Long: `Selects taggings from a normalised qualitative-research file, resolves each
fragment into the text it covers and writes a CSV table with the columns
Source, Node, Text and Fragment, sorted by source then position.

Filters are exact matches and combine with AND.

Example:
  tagquery study.norm -o nature.csv --node Nature --source-category Interviews`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = resolveConfig(cmd, args)
		if err != nil {
			return err
		}

		logger, err = logging.New(logging.Options{
			Verbosity: cfg.Verbosity,
			Format:    cfg.Logging.Format,
			Writer:    cmd.ErrOrStderr(),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to initialize logger: %v", config.ErrInvalid, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runQuery,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tagquery version",
	Args:  cobra.NoArgs,
	// The version command needs neither config nor logger.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", runner.Program, version)
	},
}

// configCmd writes the settings a run would start from, before flags, so
// they can be edited and passed back with --config.
var configCmd = &cobra.Command{
	Use:   "config <file>",
	Short: "Write the current defaults, config file and environment settings as YAML",
	Args:  cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		if _, err := output.Backup(args[0]); err != nil {
			return err
		}
		if err := c.Save(args[0]); err != nil {
			return fmt.Errorf("%w: %w", output.ErrSink, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")

	f := rootCmd.Flags()
	f.StringVarP(&outfile, "outfile", "o", "", "Output CSV file (default: standard output)")
	f.StringVarP(&source, "source", "s", "", "Only taggings of the source with this name")
	f.StringVar(&sourceCategory, "source-category", "", "Only taggings of sources in this category")
	f.StringVarP(&node, "node", "n", "", "Only taggings of the node with this name")
	f.StringVar(&nodeCategory, "node-category", "", "Only taggings of nodes in this category")
	f.IntVarP(&verbosity, "verbosity", "v", 1, "Log verbosity: 0 quiet, 1 normal, 2 debug")
	f.BoolVar(&noComments, "no-comments", false, "Do not emit the provenance comment block or .log file")
	f.StringVar(&driver, "driver", "sqlite", "SQLite driver: sqlite (pure Go) or sqlite3 (cgo)")
	f.StringVar(&onMalformed, "on-malformed", "abort", "Malformed fragment policy: abort or skip")
	f.StringVar(&onOutOfRange, "on-out-of-range", "error", "Out-of-range fragment policy: error or clamp")
	f.StringVar(&timeout, "timeout", "", "Abort the run after this duration, e.g. 2m (default: no limit)")
	f.StringVar(&logFormat, "log-format", "console", "Log format: console or json")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// resolveConfig layers flags over the config file and environment. Only
// flags the user actually set override earlier layers.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	if len(args) == 1 {
		c.Input = args[0]
	}

	flags := cmd.Flags()
	str := func(name string, dst *string, val string) {
		if flags.Changed(name) {
			*dst = val
		}
	}
	str("outfile", &c.Output, outfile)
	str("source", &c.Filters.Source, source)
	str("source-category", &c.Filters.SourceCategory, sourceCategory)
	str("node", &c.Filters.Node, node)
	str("node-category", &c.Filters.NodeCategory, nodeCategory)
	str("driver", &c.Driver, driver)
	str("on-malformed", &c.OnMalformed, onMalformed)
	str("on-out-of-range", &c.OnOutOfRange, onOutOfRange)
	str("timeout", &c.Timeout, timeout)
	str("log-format", &c.Logging.Format, logFormat)
	if flags.Changed("verbosity") {
		c.Verbosity = verbosity
	}
	if flags.Changed("no-comments") {
		c.NoComments = noComments
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// runQuery executes one report run.
func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d := cfg.GetTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	logger.Debug("starting run",
		zap.String("input", cfg.Input),
		zap.String("output", cfg.Output),
		zap.Any("filters", cfg.Filters))

	sum, err := runner.Run(ctx, cfg, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}

	if cfg.Verbosity > 0 {
		printSummary(cmd.ErrOrStderr(), sum)
	}
	return nil
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and maps failures to exit codes.
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", runner.Program, err)
		return runner.ExitCode(err)
	}
	return runner.ExitOK
}
