// Package cli implements the tidesync command-line interface.
//
// This package uses global variables to manage CLI state, which is the
// standard pattern for Cobra-based CLI applications. The globals are
// initialized in PersistentPreRunE and cleaned up in PersistentPostRun.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kwestra/tidesync/internal/config"
	"github.com/kwestra/tidesync/internal/logging"
	syncerr "github.com/kwestra/tidesync/pkg/errors"
)

var (
	// Global flags
	homeDir  string
	logLevel string

	// Global state initialized in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tidesync",
	Short: "A multi-chain wallet synchronization engine",
	Long: `Tidesync keeps local wallet state in sync with chain backends: balances,
transaction history, prices and pending transaction status, fed by batched
API calls and websocket push events.

Example:
  tidesync run
  tidesync config show
  tidesync version`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initGlobals()
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		cleanup()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return syncerr.ExitCodeFor(err)
}

func initGlobals() error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return syncerr.Wrap(err, "resolving home directory")
		}
		home = filepath.Join(userHome, ".tidesync")
	}

	loaded, err := config.Load(config.Path(home))
	if err != nil {
		// A missing file falls back to defaults; anything else is real.
		if !errors.Is(err, syncerr.ErrConfigNotFound) {
			return err
		}
		loaded = config.Defaults()
	}
	loaded.Home = home
	config.ApplyEnvironment(loaded)
	cfg = loaded

	level := logLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err = logging.New(level, cfg.Logging.File)
	if err != nil {
		return err
	}
	return nil
}

func cleanup() {
	if logger != nil {
		_ = logger.Sync()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "data directory (default ~/.tidesync)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}
