package gatehttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/invitation-dn/guestgate/internal/geo"
	"github.com/invitation-dn/guestgate/internal/httpmw"
	"github.com/invitation-dn/guestgate/internal/notify"
	"github.com/invitation-dn/guestgate/internal/ratelimit"
	"github.com/invitation-dn/guestgate/internal/screen"
	"github.com/invitation-dn/guestgate/internal/visitor"
)

const (
	siteOrigin = "https://invitation-dn.netlify.app"
	browserUA  = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"
	guestIP    = "36.72.1.1"
)

type fakeGeo struct {
	info geo.Info
	err  error
}

func (f *fakeGeo) Lookup(_ context.Context, ip string) (geo.Info, error) {
	if f.err != nil {
		return geo.Unknown(ip), f.err
	}
	i := f.info
	i.IP = ip
	return i, nil
}

func indonesia() geo.Info {
	g := geo.Unknown("")
	g.Country, g.CountryCode, g.City, g.Region = "ID", "ID", "Jakarta", "Jakarta"
	g.ASN, g.Org, g.ISP = "7713", "Telkom", "AS7713 Telkom"
	return g
}

type sent struct {
	ch      notify.Channel
	msg     notify.Message
	targets notify.Targets
}

type fakeNotifier struct {
	mu     sync.Mutex
	calls  []sent
	result notify.Result
}

func (f *fakeNotifier) Notify(_ context.Context, ch notify.Channel, msg notify.Message, targets notify.Targets) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sent{ch: ch, msg: msg, targets: targets})
	return f.result
}

func (f *fakeNotifier) Calls() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.calls...)
}

type fixture struct {
	api       *API
	router    http.Handler
	geo       *fakeGeo
	notifier  *fakeNotifier
	tracker   *visitor.Tracker
	decisions []string
	suspects  []string
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{
		geo:      &fakeGeo{info: indonesia()},
		notifier: &fakeNotifier{result: notify.Result{Telegram: notify.Delivery{Attempted: true, Sent: true}}},
		tracker:  visitor.NewTracker(),
	}
	opts := Options{
		AllowedOrigins: []string{siteOrigin, "http://localhost:3000"},
		Policy: screen.Policy{
			AllowedCountries: screen.DefaultAllowedCountries,
			SuspiciousASNs:   screen.DefaultSuspiciousASNs,
		},
		GuestAPIKey:    "guest-admin-key",
		PentestRateKey: "pentest-key",
		DevModeSecret:  "letmein",
		GateLimiter:    ratelimit.NewWindow(ctx, 10, 10*time.Minute),
		NotifyLimiter:  ratelimit.NewWindow(ctx, 5, 10*time.Minute),
		Tracker:        f.tracker,
		Geo:            f.geo,
		Notifier:       f.notifier,
		OnDecision:     func(endpoint, outcome string) { f.decisions = append(f.decisions, endpoint+":"+outcome) },
		OnSuspicious:   func(reason string) { f.suspects = append(f.suspects, reason) },
		Now:            func() time.Time { return time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC) },
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.api = NewAPI(opts)

	r := chi.NewRouter()
	r.Use(httpmw.MaxBody(4 << 10))
	f.api.RegisterRoutes(r)
	f.router = r
	return f
}

type reqOpt func(*http.Request)

func withHeader(k, v string) reqOpt { return func(r *http.Request) { r.Header.Set(k, v) } }
func withIP(ip string) reqOpt {
	return func(r *http.Request) { *r = *r.WithContext(httpmw.WithClientIP(r.Context(), ip)) }
}
func withoutHeader(k string) reqOpt { return func(r *http.Request) { r.Header.Del(k) } }

func (f *fixture) do(t *testing.T, method, target, body string, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Origin", siteOrigin)
	req.Header.Set("Referer", siteOrigin+"/")
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(httpmw.WithClientIP(req.Context(), guestIP))
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) lastDecision() string {
	if len(f.decisions) == 0 {
		return ""
	}
	return f.decisions[len(f.decisions)-1]
}
