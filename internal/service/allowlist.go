package service

import "strings"

// wildcard marks a prefix pattern when it is the last character.
const wildcard = "*"

// PathAllowed reports whether the decoded path matches one of the backend's
// allow-patterns. An empty pattern list allows every path.
//
// A pattern ending in "*" matches any path starting with the rest of the
// pattern; any other pattern must equal the path exactly. A "*" anywhere else
// is matched literally.
func PathAllowed(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, wildcard); ok {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}
