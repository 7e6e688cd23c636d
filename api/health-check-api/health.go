// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package healthCheckApi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/stt-gateway/config"
	"github.com/rapidaai/stt-gateway/internal/session"
	"github.com/rapidaai/stt-gateway/pkg/commons"
)

type HealthCheckApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	registry *session.Registry
}

func New(cfg *config.AppConfig, logger commons.Logger, registry *session.Registry) *HealthCheckApi {
	return &HealthCheckApi{cfg: cfg, logger: logger, registry: registry}
}

// Healthz reports process liveness.
func (hc *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": hc.cfg.Name,
	})
}

// Readiness reports whether the gateway accepts new sessions.
func (hc *HealthCheckApi) Readiness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"active_sessions": hc.registry.Count(),
	})
}
