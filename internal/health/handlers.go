package health

import (
	"encoding/json"
	"math"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/quickapi/quickapi/internal/version"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// uptimeSeconds rounds to millisecond precision for the JSON bodies.
func uptimeSeconds(start time.Time) float64 {
	return math.Round(time.Since(start).Seconds()*1000) / 1000
}

type liveness struct {
	Alive     bool    `json:"alive"`
	Uptime    float64 `json:"uptime"`
	Timestamp string  `json:"timestamp"`
	Reason    string  `json:"reason,omitempty"`
}

// HealthzHandler serves liveness: 200 with {alive, uptime, timestamp} while
// the probe passes, 503 with alive=false otherwise. start anchors the uptime.
func HealthzHandler(p Probe, start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := liveness{
			Alive:     true,
			Uptime:    uptimeSeconds(start),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				body.Alive = false
				body.Reason = err.Error()
				writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

type readiness struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ReadyzHandler serves readiness: 200 while the probe passes, 503 otherwise.
func ReadyzHandler(p Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC().Format(time.RFC3339)
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, readiness{Status: "not ready", Reason: err.Error(), Timestamp: now})
				return
			}
		}
		writeJSON(w, http.StatusOK, readiness{Status: "ready", Timestamp: now})
	}
}

type info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Hostname  string `json:"hostname"`
	PID       int    `json:"pid"`
}

// InfoHandler serves application and runtime metadata.
func InfoHandler(vi version.Info) http.HandlerFunc {
	host, _ := os.Hostname()
	body := info{
		Name:      vi.AppName,
		Version:   vi.Version,
		Commit:    vi.Commit,
		GoVersion: vi.GoVersion,
		Hostname:  host,
		PID:       os.Getpid(),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}

type system struct {
	Uptime     float64 `json:"uptime"`
	Timestamp  int64   `json:"timestamp"`
	Goroutines int     `json:"goroutines"`
	DB         string  `json:"db"`
}

// SystemHandler serves process diagnostics: uptime, epoch-millis timestamp,
// goroutine count, and database connectivity from the given probe.
func SystemHandler(start time.Time, db Probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbStatus := "connected"
		if db != nil {
			if err := db.Check(r.Context()); err != nil {
				dbStatus = "disconnected"
			}
		}
		writeJSON(w, http.StatusOK, system{
			Uptime:     uptimeSeconds(start),
			Timestamp:  time.Now().UnixMilli(),
			Goroutines: runtime.NumGoroutine(),
			DB:         dbStatus,
		})
	}
}
