package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ebbsync/internal/daemon"
	"ebbsync/internal/logger"
	"ebbsync/internal/model"
	"ebbsync/internal/repository"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start the daemon using all the stored sync roots",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	rootRepo := repository.NewRootRepository()
	roots, err := rootRepo.GetAll()
	if err != nil {
		return err
	}

	manager := daemon.NewRootManager(cfg)

	started := 0
	for _, root := range roots {
		if root.Status == model.RootStatusStopped {
			continue
		}

		if err := manager.StartRoot(root); err != nil {
			logger.Log.Warn("failed to start sync root",
				zap.Uint("id", root.ID),
				zap.Error(err))
			continue
		}
		started++
	}

	if len(roots) == 0 {
		logger.Log.Info("no sync roots configured, use 'ebbsync root add <local> <remote>' to add one")
	}

	srv := daemon.NewServer(manager, cfg.DaemonPort)
	srv.Start()

	logger.Log.Info("ebbsync daemon started",
		zap.Int("roots", started),
		zap.Int("port", cfg.DaemonPort))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Log.Info("shutting down",
			zap.String("signal", sig.String()))
	case <-srv.StopCh():
		logger.Log.Info("stop requested via API")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
