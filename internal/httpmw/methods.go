package httpmw

import (
	"net/http"
	"strings"
)

// AllowedMethods rejects any HTTP method outside the given set with a 405
// envelope before the request reaches routing or admission control.
func AllowedMethods(methods ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(methods))
	for _, m := range methods {
		allowed[strings.ToUpper(m)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allowed[strings.ToUpper(r.Method)] {
				writeEnvelope(w, http.StatusMethodNotAllowed, "method "+r.Method+" is not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
