package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/forge/internal/config"
	"github.com/tonimelisma/forge/internal/driver"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd.
var (
	flagConfigPath string
	flagCoursePath string
)

// exitCode is read by main after cobra's Execute returns, so a RunE handler
// can report a specific driver exit code (0/1/2) without os.Exit-ing from
// deep inside a command and skipping deferred cleanup.
var exitCode int

// cliContextKey is the context key the resolved config+logger are stored
// under for every command's RunE to read back.
type cliContextKey struct{}

// cliContext bundles the resolved config and logger, built once in
// PersistentPreRunE.
type cliContext struct {
	Config *config.Config
	Logger *slog.Logger
}

func cliContextFrom(ctx context.Context) (*cliContext, error) {
	cc, ok := ctx.Value(cliContextKey{}).(*cliContext)
	if !ok {
		return nil, errMissingCLIContext
	}

	return cc, nil
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "forge",
		Short:   "Content-processing build system",
		Long:    "forge runs a content course's converters through a durable, cached job queue.",
		Version: version,
		// Silence cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger()

			cfg, err := config.LoadOrDefault(flagConfigPath, logger)
			if err != nil {
				return err
			}

			cc := &cliContext{Config: cfg, Logger: logger}
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "forge.toml", "path to the TOML config file")
	cmd.PersistentFlags().StringVar(&flagCoursePath, "course", ".", "root directory of the course to build")

	cmd.AddCommand(newBuildCmd(), newStatusCmd(), newCancelCmd(), newCleanupCmd())

	return cmd
}

// buildLogger constructs the slog.Logger used before config is loaded (the
// PersistentPreRunE chicken-and-egg: config loading itself wants to log).
// newDriverLogger below re-levels it once cfg.Logging is known.
func buildLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// newDriverLogger builds the real logger honoring cfg.Logging once config
// has been loaded.
func newDriverLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newDriver constructs an internal/driver.Driver from the resolved config,
// for every subcommand that touches the store.
func newDriver(ctx context.Context, cc *cliContext) (*driver.Driver, error) {
	logger := newDriverLogger(cc.Config)

	return driver.New(ctx, cc.Config, logger)
}

// exitCodeFor maps a RunE error that never went through a Driver call
// (config load failure, flag parsing, missing CLI context) to a fatal
// exit code. A driver-classified error reported through its own exit
// code path never reaches here with exitCode still at zero.
func exitCodeFor(err error) int {
	if err == nil {
		return driver.ExitSuccess
	}

	return driver.ExitFatal
}

var errMissingCLIContext = errors.New("forge: internal error: CLI context not populated")
