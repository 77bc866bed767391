package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/logger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReadyPingsEveryDependency(t *testing.T) {
	var calls atomic.Int32
	ok := pingFunc(func(context.Context) error { calls.Add(1); return nil })
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, logger.Nop(), map[string]Pinger{"database": ok, "redis": ok, "unused": nil}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK || calls.Load() != 2 {
		t.Fatalf("expected 200 after two pings, got %d with %d pings", rec.Code, calls.Load())
	}
	var body struct {
		Data struct {
			Checks []string `json:"checks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(body.Data.Checks, ",") != "database,redis" {
		t.Fatalf("unexpected checks %v", body.Data.Checks)
	}
	if rec.Header().Get(envHeader) != "test" {
		t.Fatalf("missing env header")
	}
}

func TestHealthReadyHidesFailingDependency(t *testing.T) {
	var logs bytes.Buffer
	logg := logger.New(logger.Options{Output: &logs})
	deps := map[string]Pinger{
		"database": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("dial tcp 10.0.0.7:6379: refused") }),
	}

	rec := httptest.NewRecorder()
	HealthReady(&config.Config{}, logg, deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "10.0.0.7") {
		t.Fatalf("response leaked dependency address: %s", rec.Body.String())
	}
	if !strings.Contains(logs.String(), "redis: dial tcp") {
		t.Fatalf("expected failing dependency in logs, got %s", logs.String())
	}
}
