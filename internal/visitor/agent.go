package visitor

import (
	"net/url"

	"github.com/mssola/useragent"
)

// Agent is the parsed, report-friendly view of a User-Agent header.
type Agent struct {
	Browser string
	OS      string
	Device  string
	Bot     bool
}

// ParseUserAgent extracts browser, OS and device class. Unknown parts are
// reported as "-".
func ParseUserAgent(ua string) Agent {
	p := useragent.New(ua)
	a := Agent{Browser: "-", OS: "-", Device: "Desktop", Bot: p.Bot()}
	if name, _ := p.Browser(); name != "" {
		a.Browser = name
	}
	if os := p.OS(); os != "" {
		a.OS = os
	}
	if p.Mobile() {
		a.Device = "Mobile"
	}
	return a
}

// SectionFromReferer returns the fragment of the referring page, "home"
// for a page without one, and "-" when there is no usable referer.
func SectionFromReferer(ref string) string {
	if ref == "" || ref == "-" {
		return "-"
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "-"
	}
	if u.Fragment == "" {
		return "home"
	}
	return u.Fragment
}
