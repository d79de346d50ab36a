// calendar-server serves upstream iCalendar feeds as per-month JSON event
// lists, caching each month in memory.
//
// Usage:
//
//	calendar-server [--config calendar-server.yaml] [--listen :2000]
//	calendar-server check --config calendar-server.yaml
//	calendar-server version
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/calendar-server/pkg/config"
	"github.com/Sternrassler/calendar-server/pkg/logging"
)

// Version information - set by build
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// options holds command-line flags.
type options struct {
	configFile string
	envFile    string
	listen     string
	logLevel   string
	pretty     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "calendar-server",
		Short: "Serves iCalendar feeds as cached per-month JSON",
		Long: `Serves iCalendar feeds as cached per-month JSON.

GET /YYYY-MM fetches the upstream feed for that month, normalizes its events
and answers with a JSON array. Results are cached in memory; concurrent
requests for the same month share one download.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Log)

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx)
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", getEnv("CALENDAR_CONFIG", "calendar-server.yaml"), "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file with CALENDAR_* variables")
	root.Flags().StringVar(&opts.listen, "listen", "", "Listen address, overrides the configuration (e.g. :2000)")
	root.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	root.Flags().BoolVar(&opts.pretty, "pretty", false, "Human-readable console logs")

	root.AddCommand(newCheckCmd(opts), newVersionCmd())
	return root
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "calendar-server version %s\n", version)
			fmt.Fprintf(out, "  Commit: %s\n", commit)
			fmt.Fprintf(out, "  Built:  %s\n", buildDate)
		},
	}
}

// loadConfig layers .env, the YAML file, CALENDAR_* variables and flags, then
// validates the result.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.configFile, version)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = opts.listen
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logging.LogLevel(opts.logLevel)
	}
	if flags.Changed("pretty") {
		cfg.Log.Pretty = opts.pretty
	}
	cfg.Log.Service = "calendar-server"

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
