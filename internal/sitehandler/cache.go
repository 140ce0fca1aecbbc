package sitehandler

import (
	"path"
	"strings"
)

func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))

	switch ext {
	case ".html", "":
		return o.HTMLCacheControl
	case ".webmanifest", ".json", ".txt", ".xml":
		// manifest.json, robots.txt and friends keep stable names across builds
		return o.HTMLCacheControl
	case ".css", ".js", ".mjs", ".map",
		".png", ".jpg", ".jpeg", ".webp", ".avif", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".otf",
		".mp3", ".ogg", ".m4a", ".mp4", ".webm":
		if strings.HasPrefix(name, o.StaticPrefix) {
			return o.ImmutableCacheControl
		}
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
