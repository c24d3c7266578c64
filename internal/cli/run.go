package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runInMemory bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synchronization engine",
	Long: `Run starts the engine in the foreground: it opens the record store,
queues a full sync of every tracked account, connects the push sockets and
keeps syncing until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if runInMemory {
			cfg.Store.InMemory = true
		}
		if !cfg.Store.InMemory {
			cfg.Store.Path = resolveStorePath(cfg.Store.Path, cfg.Home)
		}

		engine, err := NewEngine(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := engine.Start(ctx); err != nil {
			_ = engine.Stop()
			return err
		}

		// SIGHUP forces a full resync without restarting.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for range hup {
				if n, err := engine.TriggerResync(); err == nil {
					logger.Info("manual resync requested", zap.Int("queued", n))
				}
			}
		}()

		<-ctx.Done()
		logger.Info("shutting down")
		if err := engine.Stop(); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
			return err
		}
		return nil
	},
}

// resolveStorePath anchors relative or tilde paths under the data directory.
func resolveStorePath(path, home string) string {
	switch {
	case path == "":
		return filepath.Join(home, "store")
	case strings.HasPrefix(path, "~/"):
		rest := strings.TrimPrefix(path, "~/")
		rest = strings.TrimPrefix(rest, ".tidesync/")
		return filepath.Join(home, rest)
	case !filepath.IsAbs(path):
		return filepath.Join(home, path)
	default:
		return path
	}
}

func init() {
	runCmd.Flags().BoolVar(&runInMemory, "in-memory", false, "keep the record store in memory (no persistence)")
	rootCmd.AddCommand(runCmd)
}
