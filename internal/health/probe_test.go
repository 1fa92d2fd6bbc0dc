package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/quickapi/quickapi/internal/version"
	"github.com/quickapi/quickapi/internal/xerrors"
)

func TestFixed(t *testing.T) {
	if err := Fixed(true, "").Check(context.Background()); err != nil {
		t.Fatalf("Fixed(true): %v", err)
	}

	err := Fixed(false, "db down").Check(context.Background())
	if err == nil {
		t.Fatal("Fixed(false) should fail")
	}
	if err.Error() != "db down" {
		t.Fatalf("reason = %q, want %q", err.Error(), "db down")
	}

	if err := Fixed(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("Fixed(false, empty) = %v, want generic reason", err)
	}
}

func TestAll(t *testing.T) {
	ok := Fixed(true, "")
	bad := Fixed(false, "broken")

	if err := All(ok, ok, nil).Check(context.Background()); err != nil {
		t.Fatalf("all passing: %v", err)
	}
	if err := All(ok, bad).Check(context.Background()); err == nil {
		t.Fatal("one failing probe should fail All")
	}
	if err := All().Check(context.Background()); err != nil {
		t.Fatalf("empty All should pass: %v", err)
	}
}

func TestAny(t *testing.T) {
	ok := Fixed(true, "")
	bad := Fixed(false, "broken")

	if err := Any(bad, ok).Check(context.Background()); err != nil {
		t.Fatalf("one passing probe should pass Any: %v", err)
	}
	if err := Any(bad, bad).Check(context.Background()); err == nil {
		t.Fatal("all failing probes should fail Any")
	}
	if err := Any().Check(context.Background()); err == nil {
		t.Fatal("empty Any should fail")
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("fresh gate should pass: %v", err)
	}

	g.Set("draining")
	err := p.Check(context.Background())
	if err == nil {
		t.Fatal("set gate should fail")
	}
	if err.Error() != "draining" {
		t.Fatalf("reason = %q, want draining", err.Error())
	}

	g.Clear()
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("cleared gate should pass: %v", err)
	}
}

func TestCheckFunc_PropagatesError(t *testing.T) {
	want := xerrors.New("boom")
	p := CheckFunc(func(context.Context) error { return want })
	if got := p.Check(context.Background()); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestHealthzHandler(t *testing.T) {
	start := time.Now().Add(-90 * time.Second)

	rec := httptest.NewRecorder()
	HealthzHandler(Fixed(true, ""), start)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Alive     bool    `json:"alive"`
		Uptime    float64 `json:"uptime"`
		Timestamp string  `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if !body.Alive || body.Timestamp == "" {
		t.Fatalf("body = %+v", body)
	}
	if body.Uptime < 90 || body.Uptime > 120 {
		t.Fatalf("uptime = %v, want ~90s", body.Uptime)
	}

	rec = httptest.NewRecorder()
	HealthzHandler(Fixed(false, "down"), start)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var degraded struct {
		Alive  bool   `json:"alive"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &degraded); err != nil {
		t.Fatalf("degraded body not JSON: %v", err)
	}
	if degraded.Alive || degraded.Reason != "down" {
		t.Fatalf("degraded body = %+v", degraded)
	}
}

func TestInfoHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	InfoHandler(version.Get())(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Name      string `json:"name"`
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
		Hostname  string `json:"hostname"`
		PID       int    `json:"pid"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body.Name != version.AppName || body.Version == "" || body.GoVersion == "" {
		t.Fatalf("body = %+v", body)
	}
	if body.PID != os.Getpid() {
		t.Fatalf("pid = %d, want %d", body.PID, os.Getpid())
	}
	if host, _ := os.Hostname(); body.Hostname != host {
		t.Fatalf("hostname = %q, want %q", body.Hostname, host)
	}
}

func TestSystemHandler(t *testing.T) {
	start := time.Now().Add(-time.Minute)

	rec := httptest.NewRecorder()
	SystemHandler(start, Fixed(true, ""))(rec, httptest.NewRequest(http.MethodGet, "/system", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Uptime     float64 `json:"uptime"`
		Timestamp  int64   `json:"timestamp"`
		Goroutines int     `json:"goroutines"`
		DB         string  `json:"db"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body.DB != "connected" {
		t.Fatalf("db = %q, want connected", body.DB)
	}
	if body.Uptime < 60 {
		t.Fatalf("uptime = %v, want >= 60s", body.Uptime)
	}
	if body.Goroutines < 1 {
		t.Fatalf("goroutines = %d", body.Goroutines)
	}
	// epoch millis, not seconds
	if body.Timestamp < time.Now().Add(-time.Minute).UnixMilli() {
		t.Fatalf("timestamp = %d, want recent epoch millis", body.Timestamp)
	}

	rec = httptest.NewRecorder()
	SystemHandler(start, Fixed(false, "dial refused"))(rec, httptest.NewRequest(http.MethodGet, "/system", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded status = %d, want 200", rec.Code)
	}
	var degraded struct {
		DB string `json:"db"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &degraded); err != nil {
		t.Fatalf("degraded body not JSON: %v", err)
	}
	if degraded.DB != "disconnected" {
		t.Fatalf("db = %q, want disconnected", degraded.DB)
	}
}

func TestReadyzHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadyzHandler(Fixed(true, ""))(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var g ShutdownGate
	g.Set("draining")
	rec = httptest.NewRecorder()
	ReadyzHandler(g.Probe())(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("draining status = %d, want 503", rec.Code)
	}

	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if body.Reason != "draining" {
		t.Fatalf("reason = %q, want draining", body.Reason)
	}
}
