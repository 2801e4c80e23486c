package service

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are connection-scoped and never forwarded to another origin.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Host":                true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// forwardableResponseHeaders are the only response headers relayed to the client.
// Everything else, including upstream identity, rate-limit and tracing headers,
// is dropped.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":      true,
	"Content-Length":    true,
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
	"Cache-Control":     true,
	"Date":              true,
	"Etag":              true,
	"Vary":              true,
}

// BuildUpstreamHeaders returns a fresh header set for the upstream request.
//
// Client headers are copied first, minus hop-by-hop headers and any header
// named in the client's Connection tokens. Injected credentials are applied
// afterwards with Set, so a client header of the same name is always replaced.
func BuildUpstreamHeaders(src http.Header, inject map[string]string) http.Header {
	scoped := connectionScopedHeaders(src)

	dst := make(http.Header, len(src)+len(inject))
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if hopByHopHeaders[canonical] || scoped[canonical] {
			continue
		}
		dst[canonical] = append(dst[canonical], vals...)
	}

	for key, val := range inject {
		dst.Set(key, val)
	}
	return dst
}

// FilterResponseHeaders keeps only allowlisted upstream response headers.
func FilterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		canonical := http.CanonicalHeaderKey(key)
		if forwardableResponseHeaders[canonical] {
			dst[canonical] = append(dst[canonical], vals...)
		}
	}
	return dst
}

func connectionScopedHeaders(src http.Header) map[string]bool {
	scoped := make(map[string]bool)
	for _, raw := range src.Values("Connection") {
		for _, token := range strings.Split(raw, ",") {
			if name := strings.TrimSpace(token); name != "" {
				scoped[http.CanonicalHeaderKey(name)] = true
			}
		}
	}
	return scoped
}
