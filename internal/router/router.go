package router

import (
	"net/http"

	"clinical-coding/internal/app"
	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/deadletter"
	"clinical-coding/internal/domain/episodes"
	"clinical-coding/internal/domain/queries"
	"clinical-coding/internal/domain/reconcile"
	"clinical-coding/internal/domain/reverts"
	"clinical-coding/internal/middleware"
	"clinical-coding/internal/platform/metrics"

	_ "clinical-coding/docs"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	// App trae los servicios ya conectados (ver app.New).
	App *app.App
}

func NewRouter(opts Options) http.Handler {
	a := opts.App

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(a.Log))
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// El webhook se autentica con firma HMAC, no con bearer token.
	reconcile.RegisterWebhook(r, a.Reconciler, a.Config.WebhookFlowSecret, a.DeadLetters)

	r.Group(func(api chi.Router) {
		api.Use(middleware.AuthContext(a.Verifier))

		// Rutas por módulo
		episodes.RegisterRoutes(api, a.Episodes)
		reverts.RegisterRoutes(api, a.Reverts)
		queries.RegisterRoutes(api, a.Queries)
		audit.RegisterRoutes(api, a.Audit)
		deadletter.RegisterRoutes(api, a.DeadLetters)
	})

	return r
}
