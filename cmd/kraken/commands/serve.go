package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/citizenweb/kraken/am"
	"github.com/citizenweb/kraken/errors"
	"github.com/citizenweb/kraken/jobs"
	"github.com/citizenweb/kraken/logger"
	"github.com/citizenweb/kraken/messages"
	"github.com/citizenweb/kraken/records"
	"github.com/citizenweb/kraken/server"
	"github.com/citizenweb/kraken/storage"
	"github.com/citizenweb/kraken/version"
)

// ServeCmd starts the Kraken server
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the Kraken server",
	Long: `Start the Kraken HTTP/websocket server.

Connects to the backing Redis store, starts the job runner and serves the
REST API, the realtime websocket and the metrics endpoint until interrupted.`,
	RunE: runServe,
}

var serveConfigPath string

func init() {
	ServeCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file (overrides search paths)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Debug); err != nil {
		return errors.Wrap(err, "initializing logger")
	}
	defer logger.Sync()

	log := logger.Logger
	log.Infow("Kraken starting", "version", version.Get().Short())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := storage.NewRedis(cfg.Redis, logger.ComponentLogger("storage"))
	if err := store.Connect(ctx); err != nil {
		return errors.Wrap(err, "connecting to storage")
	}
	defer store.Disconnect(context.Background())

	// Mirror warnings and errors into the notification channel so clients
	// see operational problems without scraping logs.
	logger.Tee(messages.NewBridgeCore(store, zapcore.WarnLevel))
	log = logger.Logger

	runner := jobs.NewRunner(store, cfg.Jobs, log)
	runner.Start(ctx)
	defer runner.Stop()

	pusher := records.NewPusher(store, log)

	srv := server.New(cfg.Server, store, runner, pusher, log)
	if err := srv.Start(ctx); err != nil {
		return errors.Wrap(err, "starting server")
	}

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig() (*am.Config, error) {
	if serveConfigPath != "" {
		return am.LoadFromFile(serveConfigPath)
	}
	return am.Load()
}
