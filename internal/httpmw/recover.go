package httpmw

import (
	"net/http"

	"github.com/quickapi/quickapi/internal/log"
	"github.com/quickapi/quickapi/internal/xerrors"
)

// Recover converts handler panics into a 500 response and a single error log
// entry. onPanic, if set, is called after logging (e.g. to bump a counter).
// http.ErrAbortHandler is re-raised so the server can abort the connection.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				switch v := rec.(type) {
				case error:
					err = xerrors.EnsureTrace(v)
				default:
					err = xerrors.Newf("panic: %v", v)
				}

				if L != nil {
					L.Error(r.Context(), err, "httpserver panic recovered",
						"http.request.method", r.Method,
						"url.path", r.URL.Path,
					)
				}
				if onPanic != nil {
					onPanic()
				}

				// headers may already be out; best effort
				w.WriteHeader(http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
