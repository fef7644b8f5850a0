package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/pomo-api/internal/api"
	apiMiddleware "github.com/phrazzld/pomo-api/internal/api/middleware"
	"github.com/phrazzld/pomo-api/internal/api/shared"
	"github.com/phrazzld/pomo-api/internal/push"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	authMiddleware := apiMiddleware.NewAuthMiddleware(app.jwtService)
	sessionHandler := api.NewSessionHandler(app.engine, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(authMiddleware.Authenticate)
		sessionHandler.Mount(r)
	})

	// The socket also accepts the token as a query parameter.
	r.With(authMiddleware.AuthenticateSocket).Handle("/ws", app.gateway.Handler(
		shared.UserIDFromContext,
		push.WithErrorCoder(api.PushErrorCoder),
	))

	if app.config.Metrics.Enabled {
		r.Handle(app.config.Metrics.Path, promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
