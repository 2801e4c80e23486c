package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tjamescouch/agentauth/internal/config"
	"github.com/tjamescouch/agentauth/internal/model"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the built-in health endpoint.
type HealthHandler struct {
	cfg      *config.Config
	backends *model.BackendTable
	version  Version
}

type healthResponse struct {
	Status   string   `json:"status"`
	Backends []string `json:"backends"`
	Port     int      `json:"port"`
	Version  string   `json:"version"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, backends *model.BackendTable, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, backends: backends, version: v}
}

// Health reports that the proxy is up and which backends it serves.
// It never touches an upstream and is not audited.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Backends: h.backends.Names(),
		Port:     h.cfg.Server.Port,
		Version:  string(h.version),
	})
}
