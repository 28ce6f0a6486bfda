// Command twscreener runs the daily Taiwan equity screen: the market
// reads, one of the two strategy chains, and the optional cross-run
// scanners.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/chiehw/twscreener/internal/config"
	"github.com/chiehw/twscreener/internal/orchestrator"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// A local .env carries the FinMind token and webhook URL in dev.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, orchestrator.ErrOutsideWindow):
		fmt.Fprintf(os.Stderr, "skipped: %v (use --force to override)\n", err)
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "interrupted")
		return 130
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
}

// rootFlags are shared across the root command and its subcommands.
type rootFlags struct {
	verbose    bool
	configPath string
}

// setup loads configuration, installs the logger and builds the
// orchestrator.
func (f *rootFlags) setup() (*orchestrator.Orchestrator, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFromFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	log := newLogger(cfg.Logging.Level, f.verbose)
	slog.SetDefault(log)
	return orchestrator.New(cfg, log), nil
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		opts  orchestrator.Options
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "twscreener",
		Short: "Daily Taiwan stock screener",
		Long: "twscreener snapshots the TWSE/TPEx universe after the close,\n" +
			"runs one of two screening chains (accumulation or momentum) and\n" +
			"writes the results to the terminal, CSV files and a webhook.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Mode != "left" && opts.Mode != "right" {
				return fmt.Errorf("invalid --mode %q (want left or right)", opts.Mode)
			}
			if all {
				opts.Pool = true
				opts.Inst = true
			}
			o, err := flags.setup()
			if err != nil {
				return err
			}
			return o.Run(cmd.Context(), opts)
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "explicit config file path")

	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", "left", "strategy chain: left (accumulation) or right (momentum)")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "run outside the screening window")
	cmd.Flags().BoolVar(&opts.Pool, "pool", false, "update the bullish pool after screening")
	cmd.Flags().BoolVar(&opts.PoolOnly, "pool-only", false, "refresh the bullish pool and exit")
	cmd.Flags().BoolVar(&opts.Inst, "inst", false, "run the accumulation scan after screening")
	cmd.Flags().BoolVar(&opts.InstOnly, "inst-only", false, "refresh the accumulation watch and exit")
	cmd.Flags().BoolVar(&all, "all", false, "shorthand for --pool --inst")

	cmd.AddCommand(
		newPoolCmd(&flags),
		newInstCmd(&flags),
		newSentimentCmd(&flags),
		newStatusCmd(&flags),
		newVersionCmd(),
	)
	return cmd
}

func newPoolCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Refresh the bullish pool without screening",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.setup()
			if err != nil {
				return err
			}
			return o.Run(cmd.Context(), orchestrator.Options{Force: true, PoolOnly: true})
		},
	}
}

func newInstCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inst",
		Short: "Refresh the institutional accumulation watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.setup()
			if err != nil {
				return err
			}
			return o.Run(cmd.Context(), orchestrator.Options{Force: true, InstOnly: true})
		},
	}
}

func newSentimentCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sentiment",
		Short: "Print today's foreign-flow sentiment read",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.setup()
			if err != nil {
				return err
			}
			return o.Sentiment(cmd.Context())
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the index moving-average posture",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := flags.setup()
			if err != nil {
				return err
			}
			return o.Status(cmd.Context())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("twscreener", version)
		},
	}
}

func newLogger(level string, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
