package stt_routers

import (
	"github.com/gin-gonic/gin"

	healthCheckApi "github.com/rapidaai/stt-gateway/api/health-check-api"
	sttApi "github.com/rapidaai/stt-gateway/api/stt-api"
	"github.com/rapidaai/stt-gateway/config"
	"github.com/rapidaai/stt-gateway/internal/session"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

func STTRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, registry *session.Registry) {
	logger.Info("STTRoutes added to engine.")
	api := sttApi.New(cfg, logger, registry)
	apiv1 := engine.Group("/v1")
	{
		apiv1.GET("/stt/ws", api.Connect)
	}

	// Captured WAVs are served from local disk when no object store is wired.
	engine.Static("/recordings", cfg.StorageDir)
}

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, registry *session.Registry) {
	logger.Info("HealthCheckRoutes added to engine.")
	hcApi := healthCheckApi.New(cfg, logger, registry)
	apiv1 := engine.Group("")
	{
		apiv1.GET("/health", hcApi.Healthz)
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}
