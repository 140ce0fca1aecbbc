// Package ratelimit holds the two in-memory limiters of the service.
//
// IPLimiter is a token bucket per client IP that guards every request
// against a single address flooding the process. WindowLimiter counts
// requests per key over a fixed or sliding window and backs the gate and
// notification endpoints.
//
// State lives in one process and is lost on restart. Nothing here is shared
// between instances, so distributed floods need an upstream WAF or CDN rule.
package ratelimit
