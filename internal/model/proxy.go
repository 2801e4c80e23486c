// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// Route is the result of resolving an inbound request-target.
//
// Path is fully percent-decoded and never contains a ".." segment once
// resolution has succeeded. RawQuery is kept exactly as received.
type Route struct {
	Backend  string
	Path     string
	RawQuery string
}

// ForwardPath returns the request-target sent upstream: the decoded path,
// escaped again for the wire, followed by the original query string.
func (r *Route) ForwardPath() string {
	p := (&url.URL{Path: r.Path}).EscapedPath()
	if r.RawQuery == "" {
		return p
	}
	return p + "?" + r.RawQuery
}

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Route         *Route
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
