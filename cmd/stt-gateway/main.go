// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	sttRouters "github.com/rapidaai/stt-gateway/api/stt-api/router"
	"github.com/rapidaai/stt-gateway/config"
	"github.com/rapidaai/stt-gateway/internal/session"
	"github.com/rapidaai/stt-gateway/internal/storage"
	"github.com/rapidaai/stt-gateway/internal/store"
	"github.com/rapidaai/stt-gateway/internal/transcriber"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

const shutdownTimeout = 10 * time.Second

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("Failed to load application config: %v", err)
	}

	logger, err := commons.NewApplicationLogger(cfg.Name, cfg.LogLevel, cfg.LogsDir)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	transcripts, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Errorf("Failed to open transcript store: %v", err)
		os.Exit(1)
	}

	var objects storage.ObjectStore
	if cfg.UploadRecordings && cfg.AWSS3Bucket != "" {
		objects, err = storage.NewS3Store(context.Background(), logger, cfg.AWSRegion, cfg.AWSS3Bucket)
		if err != nil {
			logger.Errorf("Failed to initialize object store: %v", err)
			os.Exit(1)
		}
	}

	registry := session.NewRegistry(logger, cfg, transcripts, objects,
		func() transcriber.StreamingRecognizer {
			return transcriber.NewGoogleRecognizer(logger)
		})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL, "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	sttRouters.HealthCheckRoutes(cfg, engine, logger, registry)
	sttRouters.STTRoutes(cfg, engine, logger, registry)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	go func() {
		logger.Infow("STT gateway listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down STT gateway")

	if err := registry.StopAll("server_shutdown"); err != nil {
		logger.Warnf("Session shutdown reported errors: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	logger.Info("STT gateway stopped")
}
