package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"schema-migration-service/internal/middleware"
)

// NewRouter はルーターを生成する。
func NewRouter(h *MigrationHandler, serviceName string) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	// ルート定義
	r.Route("/v1/migrations", func(r chi.Router) {
		r.Get("/", h.ListMigrations)
		r.Get("/status", h.GetStatus)
		r.Get("/verify", h.Verify)
		r.Get("/plan", h.GetPlan)
		r.Post("/up", h.MigrateUp)
		r.Post("/down", h.MigrateDown)
	})

	return otelhttp.NewHandler(r, serviceName)
}
