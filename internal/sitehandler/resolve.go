package sitehandler

import (
	"io/fs"
	"path"
	"strings"

	"github.com/invitation-dn/guestgate/internal/pathutil"
)

// resolvePath maps a URL path to a file within fsys.
//
//   - file: path inside fsys, no leading slash
//   - redirectTo: canonical URL the caller should redirect to instead
//   - ok: false when nothing should be served
//
// Extension-less paths that match neither a file nor a directory index fall
// back to index so the SPA router can handle them. Paths with an extension
// never fall back; a missing asset is a real 404.
func resolvePath(urlPath string, fsys fs.FS, index string) (file string, redirectTo string, ok bool) {
	clean, valid := pathutil.CleanURLPath(urlPath)
	if !valid {
		return "", "", false
	}

	if clean == "/" {
		return index, "", existsFile(fsys, index)
	}

	name := strings.TrimPrefix(clean, "/")

	if strings.HasSuffix(clean, "/") {
		if dirIndex := name + index; existsFile(fsys, dirIndex) {
			return dirIndex, "", true
		}
		return spaFallback(fsys, index)
	}

	if path.Ext(clean) != "" {
		if existsFile(fsys, name) {
			return name, "", true
		}
		return "", "", false
	}

	if existsFile(fsys, name) {
		return name, "", true
	}
	if existsFile(fsys, name+"/"+index) {
		return "", clean + "/", true
	}
	return spaFallback(fsys, index)
}

func spaFallback(fsys fs.FS, index string) (string, string, bool) {
	if existsFile(fsys, index) {
		return index, "", true
	}
	return "", "", false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
