// Package pathutil normalizes request paths before they touch a filesystem.
package pathutil

import (
	"path"
	"strings"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanURLPath returns p rooted at "/" and cleaned, keeping a trailing slash.
// Paths with NUL bytes, backslashes, ".." anywhere, or dot segments are
// rejected instead of being normalized away.
func CleanURLPath(p string) (string, bool) {
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || strings.Contains(p, "..") || HasDotSegments(p) {
		return "", false
	}
	trailing := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	if trailing && clean != "/" {
		clean += "/"
	}
	return clean, true
}
