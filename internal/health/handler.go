package health

import "net/http"

// Handler serves 200 with okBody while p passes and 503 with the failure
// reason otherwise. A nil check always passes.
func Handler(p Checker, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}

func HealthzHandler(p Checker) http.HandlerFunc { return Handler(p, "ok") }

func ReadyzHandler(p Checker) http.HandlerFunc { return Handler(p, "ready") }
