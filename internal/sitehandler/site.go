package sitehandler

import (
	"io/fs"
	"os"
	"strings"
)

// DirSite serves a directory on disk. The index is checked on every Get so a
// deploy that replaces the directory takes effect without a restart.
type DirSite struct {
	dir   string
	fsys  fs.FS
	index string
}

// NewDirSite returns a Site rooted at dir. An empty dir never has content.
func NewDirSite(dir string) *DirSite {
	d := &DirSite{dir: strings.TrimSpace(dir), index: "index.html"}
	if d.dir != "" {
		d.fsys = os.DirFS(d.dir)
	}
	return d
}

func (d *DirSite) Dir() string { return d.dir }

func (d *DirSite) Get() (fs.FS, bool) {
	if d.fsys == nil || !existsFile(d.fsys, d.index) {
		return nil, false
	}
	return d.fsys, true
}

// Ready reports whether the site currently has an index to serve.
func (d *DirSite) Ready() bool {
	_, ok := d.Get()
	return ok
}

// FSSite wraps a fixed filesystem, mostly for tests and embedded builds.
type FSSite struct{ FS fs.FS }

func (s FSSite) Get() (fs.FS, bool) {
	if s.FS == nil || !existsFile(s.FS, "index.html") {
		return nil, false
	}
	return s.FS, true
}
