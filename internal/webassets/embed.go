// Package webassets embeds the pages served when the invitation site is
// missing or a path does not exist.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

const (
	MaintenanceFile = "maintenance.html"
	NotFoundFile    = "404.html"
)

//go:embed fallback
var embedded embed.FS

// FallbackFS is rooted at fallback/ and holds MaintenanceFile and
// NotFoundFile.
func FallbackFS() fs.FS {
	sub, err := fs.Sub(embedded, "fallback")
	if err != nil {
		panic(fmt.Errorf("webassets: fallback subfs: %w", err))
	}
	return sub
}
