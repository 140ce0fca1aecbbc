package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceresponseHeader is the W3C trace-context response header.
const TraceresponseHeader = "Traceresponse"

// CorrelateTrace ties a request's three identities together. The span gets
// the request ID and client IP that visit reports carry, and the response
// gets a traceresponse header so the SPA can quote it back.
//
// Must run inside RequestID, ClientIPWithOptions and the otel handler.
func CorrelateTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		sc := span.SpanContext()
		if !sc.IsValid() {
			next.ServeHTTP(w, r)
			return
		}
		if span.IsRecording() {
			var attrs []attribute.KeyValue
			if id := RequestIDFromContext(r.Context()); id != "" {
				attrs = append(attrs, attribute.String("guestgate.request_id", id))
			}
			if ip := ClientIPFromContext(r.Context()); ip != "" {
				attrs = append(attrs, attribute.String("client.address", ip))
			}
			span.SetAttributes(attrs...)
		}
		w.Header().Set(TraceresponseHeader, "00-"+sc.TraceID().String()+"-"+sc.SpanID().String()+"-"+sc.TraceFlags().String())
		next.ServeHTTP(w, r)
	})
}
