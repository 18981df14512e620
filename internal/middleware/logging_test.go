package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestWriteAuditLog(t *testing.T) {
	buf := captureLogs(t)

	WriteAuditLog(context.Background(), AuditEntry{
		Operation:     "MIGRATE_UP",
		RunID:         "run-1",
		SuccessCount:  1,
		FailCount:     1,
		FailedVersion: "V002",
		Result:        "FAILED",
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["operation"] != "MIGRATE_UP" {
		t.Errorf("expected operation MIGRATE_UP, got %v", entry["operation"])
	}
	if entry["failed_version"] != "V002" {
		t.Errorf("expected failed_version V002, got %v", entry["failed_version"])
	}
	if entry["result"] != "FAILED" {
		t.Errorf("expected result FAILED, got %v", entry["result"])
	}
}

func TestRequestLogger(t *testing.T) {
	buf := captureLogs(t)

	h := RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/migrations", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("expected status 418, got %v", entry["status"])
	}
	if entry["path"] != "/v1/migrations" {
		t.Errorf("expected path /v1/migrations, got %v", entry["path"])
	}
}
