package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/invitation-dn/guestgate/internal/health"
	"github.com/invitation-dn/guestgate/internal/httpmw"
	"github.com/invitation-dn/guestgate/internal/log"
)

// DefaultMaxBodyBytes caps request bodies on the public listener. Guest
// submissions are a few hundred bytes.
const DefaultMaxBodyBytes = 4 << 10

// RouteRegistrar adds routes to the public router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	// CSP overrides httpmw.DefaultCSP.
	CSP          string
	ClientIPOpts httpmw.ClientIPOptions
	RateLimitMW  func(http.Handler) http.Handler
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Checker
	Readiness    health.Checker
	MaxBodyBytes int64
	// Routes are registered in order after the health endpoints.
	Routes []RouteRegistrar
	// Fallback is registered last and receives every unmatched request.
	Fallback RouteRegistrar
}
