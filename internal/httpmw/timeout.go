package httpmw

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"
)

// Timeout bounds total handler time. When the deadline passes before the
// handler finishes, the client gets a 408 envelope and the handler's late
// writes are discarded. The handler also sees a cancelled context so
// downstream calls (DB, outbound requests) stop early.
//
// The response is buffered until the handler returns, so this sits inside
// the router where bodies are small JSON documents.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			tw := &timeoutWriter{header: make(http.Header)}
			done := make(chan struct{})
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()

			select {
			case <-done:
				tw.flushTo(w)
			case <-ctx.Done():
				tw.markTimedOut()
				writeEnvelope(w, http.StatusRequestTimeout, "request timeout exceeded")
			}
		})
	}
}

// timeoutWriter buffers the handler's response so nothing reaches the wire
// after a timeout response has been sent.
type timeoutWriter struct {
	mu       sync.Mutex
	header   http.Header
	body     bytes.Buffer
	code     int
	timedOut bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.header }

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.code == 0 {
		tw.code = code
	}
}

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	return tw.body.Write(p)
}

func (tw *timeoutWriter) markTimedOut() {
	tw.mu.Lock()
	tw.timedOut = true
	tw.mu.Unlock()
}

func (tw *timeoutWriter) flushTo(w http.ResponseWriter) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	for k, vv := range tw.header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	code := tw.code
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	_, _ = w.Write(tw.body.Bytes())
}
