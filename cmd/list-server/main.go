package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"otakushelf/internal/server"
	"otakushelf/pkg/config"
	"otakushelf/pkg/database"
	"otakushelf/pkg/logging"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logging.Must("error", logging.FormatConsole).Fatal("load config", zap.Error(err))
	}

	logger := logging.Must(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	if cfg.DevSecret() {
		logger.Warn("jwt_secret is the development default; set OTAKUSHELF_JWT_SECRET")
	}

	db, err := database.Open(database.Config{Path: cfg.DBPath})
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	}

	srv := server.New(ctx, cfg, db, logger)
	if err := srv.Run(ctx, lis); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped", zap.String("db", cfg.DBPath))
}
