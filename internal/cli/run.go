package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/karan-zipline/murmur/internal/config"
	"github.com/karan-zipline/murmur/internal/daemon"
	"github.com/karan-zipline/murmur/internal/paths"
)

var logLevel string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the murmur daemon in the foreground",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	p, err := paths.Resolve(socketOverride)
	if err != nil {
		return fmt.Errorf("resolving paths: %w", err)
	}
	if err := p.EnsureDirs(); err != nil {
		return fmt.Errorf("creating data dirs: %w", err)
	}

	logFile, err := os.OpenFile(p.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	setupLogging(parseLevel(logLevel), logFile)

	cf, err := config.Load(p.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	watcher, err := config.WatchConfigFile(p.ConfigFile)
	if err != nil {
		slog.Warn("starting config file watcher", "err", err)
	} else {
		defer watcher.Close()
	}

	s := daemon.New(p, cf)
	if err := s.Rehydrate(); err != nil {
		slog.Warn("rehydration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		s.RequestShutdown()
	}()

	slog.Info("murmurd starting", "pid", os.Getpid(), "socket", p.SocketPath, "data_dir", p.DataDir)
	return s.Run(ctx)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
