package gatehttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/invitation-dn/guestgate/internal/geo"
	"github.com/invitation-dn/guestgate/internal/notify"
)

const gatePath = "/api/guest-count"

func TestGuestCount_Allowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, gatePath+"?to=Budi", `{"section":"home"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Message != "Welcome to the invitation!" {
		t.Fatalf("resp = %+v", resp)
	}

	calls := f.notifier.Calls()
	if len(calls) != 1 || calls[0].ch != notify.ChannelAnalytics || calls[0].targets != notify.TelegramOnly {
		t.Fatalf("notifications = %+v", calls)
	}
	if !strings.Contains(calls[0].msg.Text, "◻ *Pengunjung Baru*") || !strings.Contains(calls[0].msg.Text, "◯ *Tamu:* `Budi`") {
		t.Fatalf("report = %s", calls[0].msg.Text)
	}
	if f.tracker.Len() != 1 {
		t.Fatalf("tracker len = %d", f.tracker.Len())
	}
	if f.lastDecision() != "guest_count:allowed" {
		t.Fatalf("decision = %s", f.lastDecision())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != siteOrigin {
		t.Fatalf("ACAO = %q", got)
	}
}

func TestGuestCount_NetlifyAlias(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/.netlify/functions/guest-count", `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGuestCount_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		opts    []reqOpt
		status  int
		wantMsg string
		outcome string
	}{
		{
			name: "foreign origin", method: http.MethodPost, target: gatePath, body: `{}`,
			opts:   []reqOpt{withHeader("Origin", "https://evil.example")},
			status: http.StatusForbidden, wantMsg: "Invalid origin", outcome: "invalid_origin",
		},
		{
			name: "foreign referer", method: http.MethodPost, target: gatePath, body: `{}`,
			opts:   []reqOpt{withHeader("Referer", "https://evil.example/page")},
			status: http.StatusForbidden, wantMsg: "Invalid referer", outcome: "invalid_referer",
		},
		{
			name: "get", method: http.MethodGet, target: gatePath,
			status: http.StatusMethodNotAllowed, wantMsg: "Method Not Allowed", outcome: "method_not_allowed",
		},
		{
			name: "short user agent", method: http.MethodPost, target: gatePath, body: `{}`,
			opts:   []reqOpt{withHeader("User-Agent", "x")},
			status: http.StatusBadRequest, wantMsg: "Invalid User-Agent", outcome: "invalid_user_agent",
		},
		{
			name: "missing user agent", method: http.MethodPost, target: gatePath, body: `{}`,
			opts:   []reqOpt{withoutHeader("User-Agent")},
			status: http.StatusBadRequest, wantMsg: "Invalid User-Agent", outcome: "invalid_user_agent",
		},
		{
			name: "invalid json", method: http.MethodPost, target: gatePath, body: `{nope`,
			status: http.StatusBadRequest, wantMsg: "Invalid JSON", outcome: "invalid_json",
		},
		{
			name: "empty body", method: http.MethodPost, target: gatePath,
			status: http.StatusBadRequest, wantMsg: "Invalid JSON", outcome: "invalid_json",
		},
		{
			name: "honeypot", method: http.MethodPost, target: gatePath, body: `{"website":"http://x"}`,
			status: http.StatusBadRequest, wantMsg: "Bot detected.", outcome: "honeypot",
		},
		{
			name: "form timing", method: http.MethodPost, target: gatePath, body: `{"formStart":1000,"formSubmit":1500}`,
			status: http.StatusBadRequest, wantMsg: "Suspicious form timing.", outcome: "form_timing",
		},
		{
			name: "guest param in query", method: http.MethodPost, target: gatePath + "?to=%3Cscript%3E", body: `{}`,
			status: http.StatusForbidden, wantMsg: "Access denied: Suspicious query string or guest parameter.", outcome: "guest_param",
		},
		{
			name: "guest param in referer", method: http.MethodPost, target: gatePath, body: `{}`,
			opts:   []reqOpt{withHeader("Referer", siteOrigin+"/?to=1%20union%20select")},
			status: http.StatusForbidden, wantMsg: "Access denied: Suspicious query string or guest parameter.", outcome: "guest_param",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, tt.method, tt.target, tt.body, tt.opts...)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.status, rec.Body.String())
			}
			if rec.Body.String() != tt.wantMsg {
				t.Fatalf("body = %q, want %q", rec.Body.String(), tt.wantMsg)
			}
			if f.lastDecision() != "guest_count:"+tt.outcome {
				t.Fatalf("decision = %s", f.lastDecision())
			}
			if len(f.notifier.Calls()) != 0 {
				t.Fatal("rejected requests must not be reported")
			}
		})
	}
}

func TestGuestCount_BlockedCountry(t *testing.T) {
	f := newFixture(t)
	f.geo.info.CountryCode, f.geo.info.Country = "US", "US"

	rec := f.do(t, http.MethodPost, gatePath, `{}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), "Access denied: Country not allowed") {
		t.Fatalf("body = %q", rec.Body.String())
	}
	calls := f.notifier.Calls()
	if len(calls) != 1 || calls[0].ch != notify.ChannelSuspect {
		t.Fatalf("notifications = %+v", calls)
	}
	if !strings.Contains(calls[0].msg.Text, "SUSPICIOUS ACCESS DETECTED") {
		t.Fatalf("report = %s", calls[0].msg.Text)
	}
	if len(f.suspects) != 1 || f.suspects[0] != "country" {
		t.Fatalf("suspects = %v", f.suspects)
	}
}

func TestGuestCount_SuspiciousASNBlocked(t *testing.T) {
	f := newFixture(t)
	f.geo.info.ASN, f.geo.info.Org = "14061", "DigitalOcean"

	rec := f.do(t, http.MethodPost, gatePath, `{}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if f.suspects[0] != "asn" {
		t.Fatalf("suspects = %v", f.suspects)
	}
}

func TestGuestCount_SuspiciousUserAgentAlertsOnly(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, gatePath, `{}`, withHeader("User-Agent", "python-requests/2.31"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	calls := f.notifier.Calls()
	if len(calls) != 1 || calls[0].ch != notify.ChannelSuspect {
		t.Fatalf("notifications = %+v", calls)
	}
	if !strings.Contains(calls[0].msg.Text, "# *User-Agent:* `python-requests/2.31`") {
		t.Fatalf("report = %s", calls[0].msg.Text)
	}
}

func TestGuestCount_UnknownGeoBlocks(t *testing.T) {
	for _, err := range []error{errors.New("ipinfo down"), geo.ErrLookupSkipped} {
		t.Run(err.Error(), func(t *testing.T) {
			f := newFixture(t)
			f.geo.err = err
			rec := f.do(t, http.MethodPost, gatePath, `{}`)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
			}
			calls := f.notifier.Calls()
			if len(calls) != 1 || calls[0].ch != notify.ChannelSuspect {
				t.Fatalf("notifications = %+v", calls)
			}
			if !strings.Contains(calls[0].msg.Text, "Negara tidak diizinkan: XX") {
				t.Fatalf("report = %s", calls[0].msg.Text)
			}
		})
	}
}

func TestGuestCount_GeoFailOpen(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Policy.GeoFailOpen = true })
	f.geo.err = errors.New("ipinfo down")
	rec := f.do(t, http.MethodPost, gatePath, `{}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if calls := f.notifier.Calls(); len(calls) != 1 || calls[0].ch != notify.ChannelAnalytics {
		t.Fatalf("notifications = %+v", calls)
	}
}

func TestGuestCount_GeoOverride(t *testing.T) {
	mock := withHeader("X-Geo-Mock", `{"countryCode":"US","country":"US"}`)

	f := newFixture(t)
	if rec := f.do(t, http.MethodPost, gatePath, `{}`, mock); rec.Code != http.StatusOK {
		t.Fatalf("override must be ignored unless enabled, status = %d", rec.Code)
	}

	f = newFixture(t, func(o *Options) { o.AllowGeoOverride = true })
	if rec := f.do(t, http.MethodPost, gatePath, `{}`, mock); rec.Code != http.StatusForbidden {
		t.Fatalf("enabled override should block, status = %d", rec.Code)
	}
}

func TestGuestCount_RateLimit(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		if rec := f.do(t, http.MethodPost, gatePath, `{}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}
	rec := f.do(t, http.MethodPost, gatePath, `{}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
	var resp errorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Success || resp.Error != "Terlalu banyak request dari IP ini." {
		t.Fatalf("resp = %+v", resp)
	}

	// Other IPs are independent.
	if rec := f.do(t, http.MethodPost, gatePath, `{}`, withIP("36.72.9.9")); rec.Code != http.StatusOK {
		t.Fatalf("other ip status = %d", rec.Code)
	}
	// The pentest key bypasses the limiter.
	if rec := f.do(t, http.MethodPost, gatePath, `{}`, withHeader("X-API-Key", "pentest-key")); rec.Code != http.StatusOK {
		t.Fatalf("pentest status = %d", rec.Code)
	}
}

func TestGuestCount_ReturningVisitor(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, gatePath, `{}`)
	f.do(t, http.MethodPost, gatePath, `{}`)

	calls := f.notifier.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d", len(calls))
	}
	if !strings.Contains(calls[1].msg.Text, "⭠ *Pengunjung Kembali*") {
		t.Fatalf("second report = %s", calls[1].msg.Text)
	}
}

func TestGuestCount_Reset(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		status int
		msg    string
		reset  bool
	}{
		{"guest key", "guest-admin-key", http.StatusOK, "Visitor history reset successfully", true},
		{"pentest key", "pentest-key", http.StatusOK, "Visitor history reset successfully", true},
		{"wrong key", "nope", http.StatusForbidden, "API key required for admin action", false},
		{"no key", "", http.StatusForbidden, "API key required for admin action", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.do(t, http.MethodPost, gatePath, `{}`)
			if f.tracker.Len() != 1 {
				t.Fatal("setup visit not tracked")
			}

			var opts []reqOpt
			if tt.key != "" {
				opts = append(opts, withHeader("X-API-Key", tt.key))
			}
			rec := f.do(t, http.MethodPost, gatePath, `{"action":"reset_history"}`, opts...)
			if rec.Code != tt.status {
				t.Fatalf("status = %d", rec.Code)
			}
			var resp messageResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &resp)
			if resp.Message != tt.msg || resp.Success != tt.reset {
				t.Fatalf("resp = %+v", resp)
			}
			if (f.tracker.Len() == 0) != tt.reset {
				t.Fatalf("tracker len = %d", f.tracker.Len())
			}
		})
	}
}

func TestGuestCount_DevMode(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, gatePath, `{}`, withHeader("Referer", siteOrigin+"/?devMode=letmein"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Developer mode aktif") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if f.tracker.Len() != 0 || len(f.notifier.Calls()) != 0 {
		t.Fatal("dev mode must skip tracking and reporting")
	}

	rec = f.do(t, http.MethodPost, gatePath, `{}`, withHeader("Referer", siteOrigin+"/?devMode=wrong"))
	if rec.Code != http.StatusOK || f.tracker.Len() != 1 {
		t.Fatalf("wrong secret should be tracked normally, status=%d len=%d", rec.Code, f.tracker.Len())
	}
}

func TestGuestCount_DevModeDisabledWithoutSecret(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DevModeSecret = "" })
	f.do(t, http.MethodPost, gatePath, `{}`, withHeader("Referer", siteOrigin+"/?devMode="))
	if f.tracker.Len() != 1 {
		t.Fatal("empty secret must never enable dev mode")
	}
}

func TestGuestCount_SectionFromBodyOverridesReferer(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, gatePath, `{"section":"gallery"}`, withHeader("Referer", siteOrigin+"/#rsvp"))
	f.do(t, http.MethodPost, gatePath, `{}`, withHeader("Referer", siteOrigin+"/#rsvp"))

	calls := f.notifier.Calls()
	if len(calls) != 2 {
		t.Fatalf("notifications = %+v", calls)
	}
	if !strings.Contains(calls[0].msg.Text, "• *Bagian:* `gallery`") || !strings.Contains(calls[1].msg.Text, "• *Bagian:* `rsvp`") {
		t.Fatalf("reports = %s\n%s", calls[0].msg.Text, calls[1].msg.Text)
	}
	if !strings.Contains(calls[1].msg.Text, "• *Kunjungan ke:* `2`") {
		t.Fatalf("second visit not counted: %s", calls[1].msg.Text)
	}
}

func TestGuestCount_TooLarge(t *testing.T) {
	f := newFixture(t)
	big := `{"section":"` + strings.Repeat("a", 5000) + `"}`
	rec := f.do(t, http.MethodPost, gatePath, big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodOptions, gatePath, "",
		withHeader("Access-Control-Request-Method", "POST"),
		withHeader("Access-Control-Request-Headers", "Content-Type, X-API-Key"),
	)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != siteOrigin {
		t.Fatalf("ACAO = %q", got)
	}
	if len(f.decisions) != 0 {
		t.Fatal("preflight must not reach the handler")
	}

	rec = f.do(t, http.MethodOptions, gatePath, "",
		withHeader("Origin", "https://evil.example"),
		withHeader("Access-Control-Request-Method", "POST"),
	)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin must not be allowed")
	}
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{siteOrigin, "http://localhost:3000", ""}
	tests := []struct {
		v    string
		want bool
	}{
		{siteOrigin, true},
		{siteOrigin + "/?to=Budi", true},
		{"http://localhost:3000/", true},
		{"https://evil.example", false},
		{"", false},
		{"http://localhost:3001", false},
	}
	for _, tt := range tests {
		if got := originAllowed(allowed, tt.v); got != tt.want {
			t.Errorf("originAllowed(%q) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
