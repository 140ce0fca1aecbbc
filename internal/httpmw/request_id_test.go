package httpmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		inbound  string
		wantSame bool
	}{
		{"generates when missing", "", false},
		{"propagates well formed", "abc-123.DEF_4", true},
		{"replaces header injection", "x\r\nSet-Cookie: a=b", false},
		{"replaces oversized", strings.Repeat("a", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header["X-Request-Id"] = []string{tt.inbound}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Header().Get("X-Request-Id") != ctxID {
				t.Fatalf("response id %q != context id %q", rec.Header().Get("X-Request-Id"), ctxID)
			}
			if tt.wantSame {
				if ctxID != tt.inbound {
					t.Fatalf("id = %q, want %q", ctxID, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(ctxID); err != nil {
				t.Fatalf("generated id %q is not a uuid: %v", ctxID, err)
			}
		})
	}
}

func TestRequestID_CustomHeader(t *testing.T) {
	h := RequestID("X-Correlation-Id")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Correlation-Id") != "corr-1" {
		t.Fatalf("header = %q", rec.Header().Get("X-Correlation-Id"))
	}
}
