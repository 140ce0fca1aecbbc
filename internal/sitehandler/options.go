package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/invitation-dn/guestgate/internal/log"
	"github.com/invitation-dn/guestgate/internal/webassets"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// Site yields the filesystem of the built invitation. ok is false while
// there is nothing to serve.
type Site interface {
	Get() (fs.FS, bool)
}

type Options struct {
	Logger log.Logger
	Site   Site
	// FallbackFS holds MaintenanceFile and NotFoundFile. Defaults to the
	// embedded pages.
	FallbackFS fs.FS

	IndexFile       string // default: "index.html"
	MaintenanceFile string // default: webassets.MaintenanceFile
	NotFoundFile    string // default: webassets.NotFoundFile

	// StaticPrefix marks content-hashed build output that may be cached
	// forever.
	StaticPrefix string // default: "static/"

	HTMLCacheControl      string // default: "no-cache"
	ImmutableCacheControl string // default: "public, max-age=31536000, immutable"
	AssetCacheControl     string // default: "public, max-age=86400"
	OtherCacheControl     string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.FallbackFS == nil {
		o.FallbackFS = webassets.FallbackFS()
	}
	if o.IndexFile == "" {
		o.IndexFile = "index.html"
	}
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = webassets.MaintenanceFile
	}
	if o.NotFoundFile == "" {
		o.NotFoundFile = webassets.NotFoundFile
	}
	if o.StaticPrefix == "" {
		o.StaticPrefix = "static/"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.ImmutableCacheControl == "" {
		o.ImmutableCacheControl = "public, max-age=31536000, immutable"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=86400"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Site == nil {
		return fmt.Errorf("%w: Site is nil", ErrInvalidOptions)
	}
	// fail on boot if the binary was packaged without its fallback pages
	if _, err := fs.Stat(o.FallbackFS, o.MaintenanceFile); err != nil {
		return fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, o.MaintenanceFile, err)
	}
	return nil
}
