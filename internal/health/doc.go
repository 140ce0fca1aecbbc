// Package health holds the liveness and readiness checks served on the ops
// listener.
//
// A Checker returns nil when healthy. Checkers compose with All and Any, and the
// ShutdownGate fails readiness as soon as the process starts draining so the
// load balancer stops routing guests here before in-flight relays finish.
package health
