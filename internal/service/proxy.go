// Package service implements routing, credential injection and forwarding.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tjamescouch/agentauth/internal/client"
	"github.com/tjamescouch/agentauth/internal/metrics"
	"github.com/tjamescouch/agentauth/internal/model"
)

// ProxyService resolves inbound request-targets against the backend table
// and forwards validated requests with credentials injected.
type ProxyService struct {
	client   *client.UpstreamClient
	backends *model.BackendTable
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable injection counting.
func NewProxyService(c *client.UpstreamClient, backends *model.BackendTable, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:   c,
		backends: backends,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Resolve turns a raw request-target into a route and its backend.
//
// The route is always returned, even on error, so the caller can audit what
// was asked for. Errors wrap ErrInvalidPath, ErrPathTraversal,
// ErrUnknownBackend or ErrPathDenied.
func (s *ProxyService) Resolve(target string) (*model.Route, *model.Backend, error) {
	route, err := ResolvePath(target)
	if err != nil {
		return route, nil, err
	}

	backend, ok := s.backends.Get(route.Backend)
	if !ok {
		return route, nil, fmt.Errorf("%w: %q is not configured", ErrUnknownBackend, route.Backend)
	}

	if !PathAllowed(route.Path, backend.AllowedPaths) {
		return route, backend, fmt.Errorf("%w: %s is not in the allowlist of %q", ErrPathDenied, route.Path, backend.Name)
	}

	return route, backend, nil
}

// Forward sends pr to the backend and returns the upstream response with
// its headers already filtered. The caller must close the response body;
// closing it also releases the upstream request.
//
// When the request body grows past the backend's limit the upstream request
// is aborted and the returned error wraps ErrBodyTooLarge.
func (s *ProxyService) Forward(pr *model.ProxyRequest, backend *model.Backend) (*model.ProxyResponse, error) {
	ctx, cancel := context.WithCancel(pr.Ctx)

	var body io.Reader = http.NoBody
	var limited *limitedBody
	if pr.Body != nil && pr.Body != http.NoBody && pr.ContentLength != 0 {
		limited = newLimitedBody(pr.Body, backend.MaxBodyBytes, cancel)
		body = limited
	}

	upstreamURL := buildUpstreamURL(backend.Target, pr.Route)
	header := BuildUpstreamHeaders(pr.Header, backend.Headers)

	s.logger.Debug("forwarding request",
		"backend", backend.Name,
		"method", pr.Method,
		"path", pr.Route.Path,
	)

	resp, err := s.client.DoStream(ctx, backend.Name, pr.Method, upstreamURL, header, body, pr.ContentLength)
	if limited != nil && limited.Exceeded() {
		if resp != nil {
			_ = resp.Body.Close()
		}
		cancel()
		return nil, fmt.Errorf("%w: limit for %q is %d bytes", ErrBodyTooLarge, backend.Name, backend.MaxBodyBytes)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	if s.metrics != nil && len(backend.Headers) > 0 {
		s.metrics.CredentialInjections.WithLabelValues(backend.Name).Add(float64(len(backend.Headers)))
	}

	resp.Header = FilterResponseHeaders(resp.Header)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// buildUpstreamURL joins the backend origin with the route's forward path.
func buildUpstreamURL(target *url.URL, route *model.Route) string {
	return target.Scheme + "://" + target.Host + route.ForwardPath()
}

// cancelOnClose releases the upstream request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
