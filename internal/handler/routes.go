package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjamescouch/agentauth/internal/config"
	"github.com/tjamescouch/agentauth/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Static routes under /agentauth/ take precedence over the catch-all proxy route.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET(config.HealthPath, health.Health)

	e.Any("/*", proxy.Handle)
	// Any only covers the methods Echo knows; extension methods such as
	// QUERY or MKCALENDAR land here instead of a 405.
	e.RouteNotFound("/*", proxy.Handle)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
