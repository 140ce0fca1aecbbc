// Package geo resolves client IPs to country and network ownership using
// ipinfo.io. Results are cached in memory and concurrent lookups for the
// same address share one upstream call.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"strings"

	"github.com/invitation-dn/guestgate/internal/xerrors"
)

const unknown = "Unknown"

// UnknownCountryCode is reported when the country could not be resolved.
const UnknownCountryCode = "XX"

// ErrLookupSkipped is returned when an address is not worth resolving:
// no token, loopback, private ranges, or an unparseable client IP.
var ErrLookupSkipped = errors.New("geo lookup skipped")

// Info is what the gate knows about a client network.
type Info struct {
	IP          string `json:"ip"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	City        string `json:"city"`
	Region      string `json:"region"`
	// ASN is the bare number, without the "AS" prefix.
	ASN string `json:"asn"`
	Org string `json:"org"`
	// ISP is the raw org string, e.g. "AS15169 Google LLC".
	ISP string `json:"isp"`
	Loc string `json:"loc,omitempty"`
}

// Unknown returns the placeholder used when no lookup result is available.
func Unknown(ip string) Info {
	return Info{
		IP:          ip,
		Country:     unknown,
		CountryCode: UnknownCountryCode,
		City:        unknown,
		Region:      unknown,
		ASN:         unknown,
		Org:         unknown,
		ISP:         unknown,
	}
}

// Known reports whether the country was resolved.
func (i Info) Known() bool {
	return i.CountryCode != "" && i.CountryCode != UnknownCountryCode
}

// Resolver looks up a single IP.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (Info, error)
}

// Skippable reports whether ip should never be sent upstream.
func Skippable(ip string) bool {
	ip = strings.TrimSpace(ip)
	switch ip {
	case "", "unknown", "localhost":
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified()
}

// splitOrg breaks "AS15169 Google LLC" into ("15169", "Google LLC").
func splitOrg(org string) (asn, name string) {
	org = strings.TrimSpace(org)
	if org == "" {
		return unknown, unknown
	}
	first, rest, _ := strings.Cut(org, " ")
	asn = strings.TrimPrefix(first, "AS")
	if asn == "" {
		asn = unknown
	}
	if rest == "" {
		rest = unknown
	}
	return asn, rest
}

// override mirrors the X-Geo-Mock header. Every field is optional.
type override struct {
	Country     *string `json:"country"`
	CountryCode *string `json:"countryCode"`
	City        *string `json:"city"`
	Region      *string `json:"region"`
	ASN         *string `json:"asn"`
	Org         *string `json:"org"`
	ISP         *string `json:"isp"`
	Loc         *string `json:"loc"`
}

// ParseOverride merges a JSON override header over base. Fields absent from
// the header keep the base value. An empty header returns base unchanged.
func ParseOverride(header string, base Info) (Info, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return base, nil
	}
	var o override
	if err := json.Unmarshal([]byte(header), &o); err != nil {
		return base, xerrors.Wrap(err, "parse geo override")
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	out := base
	set(&out.Country, o.Country)
	set(&out.CountryCode, o.CountryCode)
	set(&out.City, o.City)
	set(&out.Region, o.Region)
	set(&out.ASN, o.ASN)
	set(&out.Org, o.Org)
	set(&out.ISP, o.ISP)
	set(&out.Loc, o.Loc)
	out.ASN = strings.TrimPrefix(out.ASN, "AS")
	return out, nil
}
