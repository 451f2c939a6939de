package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/bitfantasy/nimo-mes/internal/bootstrap"
	"github.com/bitfantasy/nimo-mes/internal/config"
	"github.com/bitfantasy/nimo-mes/internal/mes/service"
	"github.com/bitfantasy/nimo-mes/internal/mes/sse"
	"github.com/gin-gonic/gin"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "run database migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("Starting nimo-mes service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	inj := newContainer()
	defer func() {
		if err := inj.Shutdown(); err != nil {
			logger.Warn("container shutdown", zap.Error(err))
		}
	}()

	if autoMigrate {
		if err := bootstrap.Migrate(inj); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	engine, err := do.Invoke[*gin.Engine](inj)
	if err != nil {
		return err
	}
	svcs := do.MustInvoke[*service.Services](inj)

	// 转换表热更新
	if err := config.Watch(cfgFile, func(c *config.Config) {
		table, err := c.Routing.Table()
		if err != nil {
			return
		}
		svcs.Operation.SetTransitions(table)
		logger.Info("transition table reloaded", zap.Int("states", len(table)))
	}, func(err error) {
		logger.Warn("config reload rejected", zap.Error(err))
	}); err != nil {
		logger.Warn("config watch disabled", zap.Error(err))
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     engine,
		ReadTimeout: cfg.Server.ReadTimeout,
		// SSE 长连接不设写超时
		WriteTimeout: 0,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	if bridge := do.MustInvoke[*sse.RedisBridge](inj); bridge != nil {
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}
