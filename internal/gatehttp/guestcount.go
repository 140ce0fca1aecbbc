package gatehttp

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/invitation-dn/guestgate/internal/geo"
	"github.com/invitation-dn/guestgate/internal/httpmw"
	"github.com/invitation-dn/guestgate/internal/log"
	"github.com/invitation-dn/guestgate/internal/notify"
	"github.com/invitation-dn/guestgate/internal/screen"
	"github.com/invitation-dn/guestgate/internal/visitor"
)

const (
	msgInvalidOrigin   = "Invalid origin"
	msgInvalidReferer  = "Invalid referer"
	msgMethodNotAllow  = "Method Not Allowed"
	msgInvalidUA       = "Invalid User-Agent"
	msgGateRateLimited = "Terlalu banyak request dari IP ini."
	msgInvalidJSON     = "Invalid JSON"
	msgBotDetected     = "Bot detected."
	msgFormTiming      = "Suspicious form timing."
	msgGuestParam      = "Access denied: Suspicious query string or guest parameter."
	msgBlocked         = "Access denied: Country not allowed or please turn off your VPN or proxy to access this invitation."
	msgWelcome         = "Welcome to the invitation!"
	msgResetOK         = "Visitor history reset successfully"
	msgResetDenied     = "API key required for admin action"
	msgDevMode         = "Developer mode aktif, tracking dilewati"
	msgTooLarge        = "Request body too large"

	geoOverrideHeader = "X-Geo-Mock"
	apiKeyHeader      = "X-API-Key"
)

// refererQuery returns the query parameters of the referring page.
func refererQuery(ref string) url.Values {
	if ref == "" {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil
	}
	return u.Query()
}

// guestParam reads ?to= from the request, then from the referer, else "-".
func guestParam(r *http.Request, refQuery url.Values) string {
	if to := r.URL.Query().Get("to"); to != "" {
		return to
	}
	if to := refQuery.Get("to"); to != "" {
		return to
	}
	return "-"
}

// HandleGuestCount screens a visitor, reports the visit and tells the
// front-end whether to show the invitation.
func (api *API) HandleGuestCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContextOr(ctx, api.logger)
	decide := func(outcome string) { api.decide(EndpointGate, outcome) }

	origin := r.Header.Get("Origin")
	referer := r.Header.Get("Referer")
	if origin != "" && !api.originAllowed(origin) {
		decide("invalid_origin")
		writeText(w, http.StatusForbidden, msgInvalidOrigin)
		return
	}
	if referer != "" && !api.originAllowed(referer) {
		decide("invalid_referer")
		writeText(w, http.StatusForbidden, msgInvalidReferer)
		return
	}

	raw, err := readBody(r)
	if errors.Is(err, errTooLarge) {
		decide("too_large")
		writeError(ctx, w, http.StatusRequestEntityTooLarge, msgTooLarge)
		return
	}
	if err != nil {
		L.Warn(ctx, "read guest-count body failed", "error", err)
	}
	body, bodyErr := decodeObject(raw)

	apiKey := r.Header.Get(apiKeyHeader)
	pentest := keyMatches(apiKey, api.opts.PentestRateKey)

	if r.Method == http.MethodPost && bodyErr == nil && field(body, "action") == "reset_history" {
		if !pentest && !keyMatches(apiKey, api.opts.GuestAPIKey) {
			decide("reset_denied")
			L.Warn(ctx, "visitor history reset refused")
			writeJSON(ctx, w, http.StatusForbidden, messageResponse{Success: false, Message: msgResetDenied})
			return
		}
		api.opts.Tracker.Reset()
		decide("reset")
		L.Info(ctx, "visitor history reset", "pentest_key", pentest)
		writeJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: msgResetOK})
		return
	}

	refQuery := refererQuery(referer)
	if secret := api.opts.DevModeSecret; secret != "" && keyMatches(refQuery.Get("devMode"), secret) {
		decide("dev_mode")
		L.Debug(ctx, "developer mode, tracking skipped")
		writeJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: msgDevMode})
		return
	}

	if r.Method != http.MethodPost {
		decide("method_not_allowed")
		writeText(w, http.StatusMethodNotAllowed, msgMethodNotAllow)
		return
	}

	ua := r.UserAgent()
	if !screen.ValidUserAgent(ua) {
		decide("invalid_user_agent")
		writeText(w, http.StatusBadRequest, msgInvalidUA)
		return
	}
	uaSuspicious := screen.SuspiciousUserAgent(ua)

	ip := httpmw.ClientIPFromContext(ctx)
	if !pentest {
		if d := api.opts.GateLimiter.Take(ip); !d.Allowed {
			decide("rate_limited")
			L.Info(ctx, "guest-count rate limited", "count", d.Count)
			setRetryAfter(w, d.RetryAfter)
			writeError(ctx, w, http.StatusTooManyRequests, msgGateRateLimited)
			return
		}
	}

	section := visitor.SectionFromReferer(referer)
	if s := field(body, "section"); s != "" {
		section = s
	}
	history := api.opts.Tracker.Track(visitor.Fingerprint(ip, ua), ua, section)
	if history.Returning {
		L.Debug(ctx, "returning visitor", "visit_count", history.VisitCount, "kind", string(history.Kind))
	}

	info, err := api.opts.Geo.Lookup(ctx, ip)
	if err != nil && !errors.Is(err, geo.ErrLookupSkipped) {
		L.Warn(ctx, "geo lookup failed", "error", err)
	}
	if api.opts.AllowGeoOverride {
		if h := r.Header.Get(geoOverrideHeader); h != "" {
			if info, err = geo.ParseOverride(h, info); err != nil {
				L.Warn(ctx, "ignoring malformed geo override", "error", err)
			}
		}
	}

	if bodyErr != nil {
		decide("invalid_json")
		writeText(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if screen.Honeypot(field(body, "website"), field(body, "contact_number")) {
		decide("honeypot")
		writeText(w, http.StatusBadRequest, msgBotDetected)
		return
	}
	if screen.FormTiming(field(body, "formStart"), field(body, "formSubmit")) != nil {
		decide("form_timing")
		writeText(w, http.StatusBadRequest, msgFormTiming)
		return
	}

	guest := guestParam(r, refQuery)
	if screen.GuestParamSuspicious(guest) {
		decide("guest_param")
		api.suspicious(string(screen.ReasonGuestParam))
		L.Warn(ctx, "suspicious guest parameter", "guest", guest)
		writeText(w, http.StatusForbidden, msgGuestParam)
		return
	}

	verdict := api.opts.Policy.Classify(info, uaSuspicious, guest)
	for _, reason := range verdict.Reasons {
		api.suspicious(string(reason.Code))
	}

	report := notify.Visit{
		IP:           ip,
		Time:         api.now(),
		UserAgent:    ua,
		Agent:        visitor.ParseUserAgent(ua),
		Referer:      referer,
		GuestParam:   guest,
		History:      history,
		Geo:          info,
		Verdict:      verdict,
		Body:         body,
		RequestCount: api.opts.GateLimiter.Count(ip),
	}
	ch := notify.ChannelAnalytics
	if verdict.Suspicious {
		ch = notify.ChannelSuspect
		L.Info(ctx, "suspicious visit",
			"reasons", verdict.Details(),
			"country", info.CountryCode,
			"asn", info.ASN,
			"block", verdict.Block,
		)
	}
	api.opts.Notifier.Notify(ctx, ch, notify.Message{Text: notify.VisitReport(report)}, notify.TelegramOnly)

	if verdict.Block {
		decide("blocked")
		writeText(w, http.StatusForbidden, msgBlocked)
		return
	}

	decide("allowed")
	writeJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Message: msgWelcome})
}
