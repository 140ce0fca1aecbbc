package screen

import (
	"slices"
	"strings"

	"github.com/invitation-dn/guestgate/internal/geo"
)

// ReasonCode identifies why a visit was flagged. Codes double as metric
// label values.
type ReasonCode string

const (
	ReasonCountry    ReasonCode = "country"
	ReasonASN        ReasonCode = "asn"
	ReasonUserAgent  ReasonCode = "user_agent"
	ReasonGuestParam ReasonCode = "guest_param"
)

type Reason struct {
	Code   ReasonCode
	Detail string
}

// Verdict is the outcome of classifying one visit. Block implies
// Suspicious.
type Verdict struct {
	Suspicious bool
	Block      bool
	Reasons    []Reason
}

// Details renders the reason details joined for a report line.
func (v Verdict) Details() string {
	parts := make([]string, 0, len(v.Reasons))
	for _, r := range v.Reasons {
		parts = append(parts, r.Detail)
	}
	return strings.Join(parts, " | ")
}

// DefaultSuspiciousASNs are hosting and VPN networks rarely used by real
// wedding guests.
var DefaultSuspiciousASNs = []string{
	"14061", // DigitalOcean
	"16509", // Amazon
	"14618", // Amazon
	"15169", // Google Cloud
	"8075",  // Microsoft Azure
	"13335", // Cloudflare
	"174",   // Cogent
	"9009",  // M247
	"3223",  // Voxility
	"53667", // PONYNET
}

var DefaultAllowedCountries = []string{"ID", "SG", "MY"}

// Policy decides which networks may view the invitation.
type Policy struct {
	AllowedCountries []string
	SuspiciousASNs   []string
	// GeoFailOpen skips the country and ASN rules when the lookup gave no
	// country. By default an unknown country is treated as not allowed.
	GeoFailOpen bool
}

func (p Policy) countryAllowed(code string) bool {
	return slices.ContainsFunc(p.AllowedCountries, func(c string) bool {
		return strings.EqualFold(c, code)
	})
}

// Classify applies the country and ASN rules to info, then adds the
// alert-only user agent and guest parameter flags. An unresolved country
// counts as XX, which no allow list contains, unless GeoFailOpen is set.
func (p Policy) Classify(info geo.Info, uaSuspicious bool, guestParam string) Verdict {
	var v Verdict
	if info.Known() || !p.GeoFailOpen {
		code := info.CountryCode
		if !info.Known() {
			code = geo.UnknownCountryCode
		}
		if !p.countryAllowed(code) {
			v.Block = true
			v.Reasons = append(v.Reasons, Reason{
				Code:   ReasonCountry,
				Detail: "Negara tidak diizinkan: " + code,
			})
		}
		if slices.Contains(p.SuspiciousASNs, info.ASN) {
			v.Block = true
			v.Reasons = append(v.Reasons, Reason{
				Code:   ReasonASN,
				Detail: "VPN/Proxy terdeteksi: " + info.Org + " (AS" + info.ASN + ")",
			})
		}
	}
	if uaSuspicious {
		v.Reasons = append(v.Reasons, Reason{Code: ReasonUserAgent, Detail: "User-Agent mencurigakan"})
	}
	if GuestParamSuspicious(guestParam) {
		v.Reasons = append(v.Reasons, Reason{
			Code:   ReasonGuestParam,
			Detail: "Query string/parameter mencurigakan: " + guestParam,
		})
	}
	v.Suspicious = len(v.Reasons) > 0
	return v
}
