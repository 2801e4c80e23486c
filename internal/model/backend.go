package model

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// DefaultMaxBodyBytes is the request body limit applied when a backend sets none.
const DefaultMaxBodyBytes int64 = 10 * 1024 * 1024

// Backend is one upstream API the proxy forwards to on behalf of agents.
type Backend struct {
	Name string
	// Target is the upstream origin: scheme and host (with optional port), no path.
	Target *url.URL
	// Headers maps canonical header names to resolved credential values.
	Headers map[string]string
	// AllowedPaths holds exact paths or prefixes ending in "*". Empty allows every path.
	AllowedPaths []string
	MaxBodyBytes int64
}

// BackendTable maps backend names to their definitions. It is built once and
// never mutated, so concurrent lookups need no locking.
type BackendTable struct {
	backends map[string]*Backend
	names    []string
}

// NewBackendTable validates the given backends and returns an immutable table.
func NewBackendTable(backends ...Backend) (*BackendTable, error) {
	t := &BackendTable{backends: make(map[string]*Backend, len(backends))}
	for _, b := range backends {
		if err := b.validate(); err != nil {
			return nil, err
		}
		if _, dup := t.backends[b.Name]; dup {
			return nil, fmt.Errorf("backend %q defined twice", b.Name)
		}

		headers := make(map[string]string, len(b.Headers))
		for k, v := range b.Headers {
			headers[http.CanonicalHeaderKey(k)] = v
		}
		entry := &Backend{
			Name:         b.Name,
			Target:       &url.URL{Scheme: b.Target.Scheme, Host: b.Target.Host},
			Headers:      headers,
			AllowedPaths: slices.Clone(b.AllowedPaths),
			MaxBodyBytes: b.MaxBodyBytes,
		}
		if entry.MaxBodyBytes == 0 {
			entry.MaxBodyBytes = DefaultMaxBodyBytes
		}
		t.backends[b.Name] = entry
		t.names = append(t.names, b.Name)
	}
	slices.Sort(t.names)
	return t, nil
}

func (b *Backend) validate() error {
	if b.Name == "" {
		return fmt.Errorf("backend name is required")
	}
	if strings.Contains(b.Name, "/") {
		return fmt.Errorf("backend %q: name must not contain '/'", b.Name)
	}
	if b.Target == nil || b.Target.Host == "" {
		return fmt.Errorf("backend %q: target origin is required", b.Name)
	}
	if b.Target.Scheme != "http" && b.Target.Scheme != "https" {
		return fmt.Errorf("backend %q: target scheme must be http or https; got %q", b.Name, b.Target.Scheme)
	}
	if p := b.Target.Path; p != "" && p != "/" {
		return fmt.Errorf("backend %q: target must be an origin without a path; got %q", b.Name, b.Target.String())
	}
	if b.Target.RawQuery != "" {
		return fmt.Errorf("backend %q: target must not carry a query string", b.Name)
	}
	if b.MaxBodyBytes < 0 {
		return fmt.Errorf("backend %q: max body bytes must be positive; got %d", b.Name, b.MaxBodyBytes)
	}
	return nil
}

// Get returns the backend registered under name.
func (t *BackendTable) Get(name string) (*Backend, bool) {
	b, ok := t.backends[name]
	return b, ok
}

// Names returns the configured backend names in sorted order.
func (t *BackendTable) Names() []string {
	return slices.Clone(t.names)
}

// Len returns the number of configured backends.
func (t *BackendTable) Len() int {
	return len(t.names)
}
