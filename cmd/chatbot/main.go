package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aitextbook/backend-go/internal/bootstrap"
	"github.com/aitextbook/backend-go/internal/logger"
	"github.com/aitextbook/backend-go/internal/metrics"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	app, err := bootstrap.Init(ctx, bootstrap.Options{})
	cancel()
	if err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	defer app.Shutdown()

	// 可选的Prometheus指标端点
	var metricsSrv *http.Server
	if app.Config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: app.Config.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics listener starting", zap.String("addr", app.Config.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	logger.Info("chatbot service ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown failed", zap.Error(err))
		}
		cancel()
	}
}
