// Package httpmw holds the middleware of the public listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, the global flood guard, OTel,
// trace headers, metrics, request logger, then the chi router with
// compression, route annotation, access log and a body size cap.
//
// Guest-supplied values (query, user-agent, form fields) stay out of the
// access log. The gate logs them only at its own decision points.
package httpmw
