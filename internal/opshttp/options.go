package opshttp

import (
	"net/http"

	"github.com/invitation-dn/guestgate/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Checker
	Readiness   health.Checker
	// AllowPublic disables the private-network guard. Only for tests and
	// containers where the listener is already firewalled.
	AllowPublic bool
	// OnPanic is called after a handler panic is recovered.
	OnPanic func()
}
