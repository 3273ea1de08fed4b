package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payledger/internal/platform/config"
)

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Environment = "test"
	cfg.LogLevel = "error"
	cfg.DBDriver = config.DriverSQLite
	cfg.JWTSecret = "server-test-secret"
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

func TestNewServesProbes(t *testing.T) {
	app, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer app.Close()

	for path, status := range map[string]int{
		"/healthz":         http.StatusOK,
		"/readyz":          http.StatusOK,
		"/metrics":         http.StatusOK,
		"/api/v1/payrolls": http.StatusUnauthorized,
	} {
		rec := httptest.NewRecorder()
		app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != status {
			t.Fatalf("%s: expected %d, got %d", path, status, rec.Code)
		}
	}
}

func TestNewWithoutMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	app, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer app.Close()

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with metrics off, got %d", rec.Code)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown driver":       func(c *config.Config) { c.DBDriver = "oracle" },
		"unguarded authz off":  func(c *config.Config) { c.AuthzMode = "disabled" },
		"half policy override": func(c *config.Config) { c.AuthzModelPath = "model.conf" },
		"bad log level":        func(c *config.Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			app, err := New(context.Background(), cfg)
			if err == nil {
				app.Close()
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, testConfig()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
