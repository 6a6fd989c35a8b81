package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"inara/internal/api"
	"inara/internal/config"
	"inara/internal/logging"
	"inara/internal/metrics"
	"inara/internal/service/ai"
	"inara/internal/service/chat"
	"inara/internal/storage"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "inara",
	Short: "Chat relay backend for the Inara clinical assistant.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()
		return nil
	},
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config.json")
	rootCmd.PersistentFlags().String("store", "", "session store backend (sqlite3, mysql, mongo, firestore, memory)")
	rootCmd.PersistentFlags().String("provider", "", "provider entry from the config to use")
	rootCmd.PersistentFlags().String("addr", "", "listen address, overrides basic_config.server_address")

	for _, key := range []string{"config", "store", "provider", "addr"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("inara")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWith(viper.GetString("config"), config.Overrides{
		Store:    viper.GetString("store"),
		Provider: viper.GetString("provider"),
		Addr:     viper.GetString("addr"),
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	rec := metrics.New()
	store, err := storage.New(ctx, cfg, logger, rec)
	if err != nil {
		logger.Error("open session store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
		return err
	}
	defer store.Close()

	model, err := ai.New(ctx, cfg.ActiveProvider(), cfg.SystemPrompt, logger, rec)
	if err != nil {
		logger.Error("init model provider", zap.String("provider", cfg.Provider), zap.Error(err))
		return err
	}

	service := chat.NewService(store, model, logger, rec)
	handler := api.NewHandler(service, rec, logger, cfg.BasicConfig.MaxUploadMB)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           handler.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Backend),
			zap.String("provider", cfg.Provider),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
