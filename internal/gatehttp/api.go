// Package gatehttp serves the two invitation APIs: the guest-count gate
// that screens and reports every visitor, and the notification relay that
// forwards RSVP and guestbook posts.
package gatehttp

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/invitation-dn/guestgate/internal/geo"
	"github.com/invitation-dn/guestgate/internal/httpmw"
	"github.com/invitation-dn/guestgate/internal/log"
	"github.com/invitation-dn/guestgate/internal/notify"
	"github.com/invitation-dn/guestgate/internal/ratelimit"
	"github.com/invitation-dn/guestgate/internal/screen"
	"github.com/invitation-dn/guestgate/internal/visitor"
)

// Endpoint labels used for decision metrics.
const (
	EndpointGate   = "guest_count"
	EndpointNotify = "notification"
)

// Route paths. The Netlify paths keep already deployed front-ends working.
var (
	GuestCountPaths = []string{
		"/api/guest-count",
		"/.netlify/functions/guest-count",
	}
	NotificationPaths = []string{
		"/api/send-notification",
		"/api/verify-recaptcha",
		"/.netlify/functions/send-notification",
		"/.netlify/functions/verify-recaptcha",
	}
)

// Limiter is a per-key window limiter.
type Limiter interface {
	Take(key string) ratelimit.Decision
	Count(key string) int
}

// Tracker records visits.
type Tracker interface {
	Track(fingerprint, ua, section string) visitor.Snapshot
	Reset()
}

// Notifier delivers messages to a channel.
type Notifier interface {
	Notify(ctx context.Context, ch notify.Channel, msg notify.Message, targets notify.Targets) notify.Result
}

type Options struct {
	// AllowedOrigins are prefixes matched against Origin and Referer.
	AllowedOrigins []string
	Policy         screen.Policy

	GuestAPIKey    string
	PentestRateKey string
	DevModeSecret  string

	// AllowGeoOverride honours the X-Geo-Mock header.
	AllowGeoOverride bool

	GateLimiter   Limiter
	NotifyLimiter Limiter
	Tracker       Tracker
	Geo           geo.Resolver
	Notifier      Notifier
	Logger        log.Logger

	OnDecision   func(endpoint, outcome string)
	OnSuspicious func(reason string)

	Now func() time.Time
}

// API implements the gate and relay endpoints.
type API struct {
	opts   Options
	logger log.Logger
	now    func() time.Time
}

func NewAPI(opts Options) *API {
	L := opts.Logger
	if L == nil {
		L = log.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &API{opts: opts, logger: L, now: now}
}

// RegisterRoutes mounts both endpoints behind the CORS layer. Method checks
// happen inside the handlers so the JSON bodies match what the front-end
// expects.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(CORS(api.opts.AllowedOrigins))

		r.Group(func(r chi.Router) {
			r.Use(httpmw.Scope(EndpointGate))
			for _, p := range GuestCountPaths {
				r.HandleFunc(p, api.HandleGuestCount)
			}
		})
		r.Group(func(r chi.Router) {
			r.Use(httpmw.Scope(EndpointNotify))
			for _, p := range NotificationPaths {
				r.HandleFunc(p, api.HandleNotification)
			}
		})
	})
}

func (api *API) decide(endpoint, outcome string) {
	if api.opts.OnDecision != nil {
		api.opts.OnDecision(endpoint, outcome)
	}
}

func (api *API) suspicious(reason string) {
	if api.opts.OnSuspicious != nil {
		api.opts.OnSuspicious(reason)
	}
}

func (api *API) originAllowed(v string) bool {
	return originAllowed(api.opts.AllowedOrigins, v)
}
