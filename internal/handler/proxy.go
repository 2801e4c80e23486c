package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tjamescouch/agentauth/internal/audit"
	"github.com/tjamescouch/agentauth/internal/metrics"
	"github.com/tjamescouch/agentauth/internal/model"
	"github.com/tjamescouch/agentauth/internal/service"
)

// upstreamUnavailable is the only text a client ever sees about an upstream
// failure. The real cause goes to the audit entry.
const upstreamUnavailable = "upstream unavailable"

// errorResponse is the JSON body of every error the proxy itself produces.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ProxyHandler dispatches agent requests to their backends.
//
// Each request ends in exactly one of four terminal outcomes (denied,
// forwarded, upstream error, body too large), and each outcome writes
// exactly one audit entry before the handler returns.
type ProxyHandler struct {
	service *service.ProxyService
	audit   audit.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler.
// The metrics parameter is optional; pass nil to disable outcome counters.
func NewProxyHandler(svc *service.ProxyService, sink audit.Sink, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		audit:   sink,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle routes /{backend}/{path} to the backend's origin with credentials
// injected and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	start := time.Now()

	route, backend, err := h.service.Resolve(requestTarget(req))
	entry := model.AuditEntry{
		Timestamp: start.UTC(),
		Backend:   auditBackend(route.Backend),
		Method:    req.Method,
		Path:      route.Path,
	}
	if err != nil {
		return h.deny(c, entry, err)
	}
	c.Set(metrics.BackendKey, backend.Name)

	if req.ContentLength > backend.MaxBodyBytes {
		err := fmt.Errorf("%w: declared %d bytes, limit for %q is %d",
			service.ErrBodyTooLarge, req.ContentLength, backend.Name, backend.MaxBodyBytes)
		return h.bodyTooLarge(c, entry, start, err)
	}

	resp, err := h.service.Forward(&model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Route:         route,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}, backend)
	if err != nil {
		if errors.Is(err, service.ErrBodyTooLarge) {
			return h.bodyTooLarge(c, entry, start, err)
		}
		return h.upstreamError(c, entry, start, backend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}

	relayErr := h.relay(c, resp, status)

	entry.Allowed = true
	if relayErr != nil {
		entry.Reason = redact(relayErr.Error(), backend)
		h.logger.Warn("response relay interrupted",
			"backend", backend.Name,
			"path", route.Path,
			"err", entry.Reason,
		)
	}
	h.record(entry.WithOutcome(status, time.Since(start)))

	// Headers are already sent. Abort the client connection so a truncated
	// upstream body is not mistaken for a complete one.
	var readErr *upstreamReadError
	if errors.As(relayErr, &readErr) {
		panic(http.ErrAbortHandler)
	}
	return nil
}

// deny handles the routing failures: invalid path, traversal, unknown backend
// and allowlist misses. None of them reaches an upstream.
func (h *ProxyHandler) deny(c echo.Context, entry model.AuditEntry, err error) error {
	code := service.ErrorCode(err)
	entry.Reason = err.Error()
	h.record(entry)

	h.logger.Info("request denied",
		"backend", entry.Backend,
		"method", entry.Method,
		"path", entry.Path,
		"code", code,
	)
	if h.metrics != nil {
		h.metrics.Denials.WithLabelValues(code).Inc()
	}
	return h.writeError(c, http.StatusForbidden, code, err.Error())
}

func (h *ProxyHandler) bodyTooLarge(c echo.Context, entry model.AuditEntry, start time.Time, err error) error {
	entry.Reason = err.Error()
	h.record(entry.WithOutcome(http.StatusRequestEntityTooLarge, time.Since(start)))

	h.logger.Info("request body too large",
		"backend", entry.Backend,
		"path", entry.Path,
	)
	if h.metrics != nil {
		h.metrics.Denials.WithLabelValues(service.CodeBodyTooLarge).Inc()
	}
	return h.writeError(c, http.StatusRequestEntityTooLarge, service.CodeBodyTooLarge, "request body too large")
}

// upstreamError reports a failed upstream call. The client gets a fixed
// message; hostnames, ports and transport errors stay in the audit log.
func (h *ProxyHandler) upstreamError(c echo.Context, entry model.AuditEntry, start time.Time, backend *model.Backend, err error) error {
	reason := redact(err.Error(), backend)
	entry.Allowed = true
	entry.Reason = reason
	h.record(entry.WithOutcome(http.StatusBadGateway, time.Since(start)))

	h.logger.Error("upstream error",
		"backend", backend.Name,
		"path", entry.Path,
		"err", reason,
	)
	return h.writeError(c, http.StatusBadGateway, service.CodeUpstreamError, upstreamUnavailable)
}

// writeError sends a JSON error unless a response is already on the wire.
func (h *ProxyHandler) writeError(c echo.Context, status int, code, message string) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(status, errorResponse{Error: code, Message: message})
}

// record hands entry to the audit sink. A failing sink is logged and counted
// but never changes the response.
func (h *ProxyHandler) record(entry model.AuditEntry) {
	if err := h.audit.Write(entry); err != nil {
		h.logger.Error("audit write failed", "err", err)
		if h.metrics != nil {
			h.metrics.AuditWriteFailures.Inc()
		}
	}
}

// requestTarget returns the request-target exactly as received on the wire.
func requestTarget(req *http.Request) string {
	if req.RequestURI != "" {
		return req.RequestURI
	}
	return req.URL.RequestURI()
}

func auditBackend(name string) string {
	if name == "" {
		return model.NoBackend
	}
	return name
}

// redact removes injected credential values from s, since upstream errors can
// quote request details.
func redact(s string, backend *model.Backend) string {
	for _, secret := range backend.Headers {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
	}
	return s
}
