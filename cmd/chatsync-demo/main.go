package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/demo"
	"github.com/matheus3301/chatsync/internal/httpapi"
	"github.com/matheus3301/chatsync/internal/logging"
)

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:8080", "listen address")
	selfFlag := flag.String("self", "me", "id of the local user")
	maxUploadFlag := flag.Int64("max-upload", httpapi.DefaultMaxUploadBytes, "largest accepted upload in bytes")
	levelFlag := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.NewConsole(*levelFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	backend := demo.New(logger.Named("demo"), demo.Options{Self: *selfFlag, Latency: true})
	srv := &http.Server{
		Addr:              *addrFlag,
		Handler:           httpapi.NewRouter(httpapi.NewHandler(backend, logger.Named("http"), *maxUploadFlag)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("demo backend listening", zap.String("addr", *addrFlag))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("demo backend failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("demo backend stopped")
}
