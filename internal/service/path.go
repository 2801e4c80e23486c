package service

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tjamescouch/agentauth/internal/model"
)

// maxExtraDecodeRounds bounds how many additional decodings the traversal
// check looks through, to catch "%252e%252e" and deeper nestings.
const maxExtraDecodeRounds = 3

// ResolvePath parses a raw request-target such as "/anthropic/v1/messages?x=1"
// into a backend name, a decoded path and the untouched query string.
//
// The returned Route is never nil. On failure it carries whatever could be
// parsed (backend name, best-effort path) so the denial can be audited.
// Backend is empty when no name could be parsed.
func ResolvePath(target string) (*model.Route, error) {
	route := &model.Route{}

	rawPath, rawQuery, _ := strings.Cut(target, "?")
	route.Path = rawPath

	if !strings.HasPrefix(target, "/") {
		return route, fmt.Errorf("%w: request target must start with '/'", ErrInvalidPath)
	}

	idx := strings.IndexByte(rawPath[1:], '/')
	if idx < 0 {
		return route, fmt.Errorf("%w: missing backend path in %q", ErrInvalidPath, rawPath)
	}
	idx++ // position in rawPath

	route.Backend = rawPath[1:idx]
	remainder := rawPath[idx:]
	route.Path = remainder

	decoded, err := url.PathUnescape(remainder)
	if err != nil {
		return route, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if strings.IndexByte(decoded, 0) >= 0 {
		return route, fmt.Errorf("%w: NUL byte in path", ErrInvalidPath)
	}
	route.Path = decoded

	if hasTraversal(decoded) {
		return route, fmt.Errorf("%w: %q resolves outside the backend root", ErrPathTraversal, decoded)
	}

	route.RawQuery = rawQuery
	return route, nil
}

// hasTraversal reports whether p, or any further percent-decoding of p,
// contains a ".." path segment.
func hasTraversal(p string) bool {
	for range maxExtraDecodeRounds + 1 {
		if hasDotDotSegment(p) {
			return true
		}
		next, err := url.PathUnescape(p)
		if err != nil || next == p {
			return false
		}
		p = next
	}
	return hasDotDotSegment(p)
}

func hasDotDotSegment(p string) bool {
	segments := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	for _, s := range segments {
		if s == ".." {
			return true
		}
	}
	return false
}
