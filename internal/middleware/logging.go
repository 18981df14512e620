// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// AuditEntry は監査ログの内容。
type AuditEntry struct {
	Operation     string
	RunID         string
	DryRun        bool
	SuccessCount  int
	FailCount     int
	FailedVersion string
	Result        string
}

// WriteAuditLog はマイグレーション操作の監査ログを出力する。
func WriteAuditLog(ctx context.Context, entry AuditEntry) {
	slog.InfoContext(ctx, "migration operation completed",
		"audit", true,
		"operation", entry.Operation,
		"run_id", entry.RunID,
		"dry_run", entry.DryRun,
		"succeeded", entry.SuccessCount,
		"failed", entry.FailCount,
		"failed_version", entry.FailedVersion,
		"result", entry.Result,
		"request_id", chimiddleware.GetReqID(ctx),
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	)
}

// RequestLogger はリクエストごとにslogでアクセスログを出力する。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		slog.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
