// Package api exposes the workflow services over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/raphaelgruber/shadowops/internal/config"
	"github.com/raphaelgruber/shadowops/internal/metrics"
	"github.com/raphaelgruber/shadowops/internal/server"
	"github.com/raphaelgruber/shadowops/internal/service"
)

// Deps are the services the router dispatches to.
type Deps struct {
	Capture   *service.CaptureService
	Workflows *service.WorkflowService
	Agents    *service.AgentService
	Collector *metrics.Collector
	// Limiter guards the endpoints that call a model or start a run. Nil disables it.
	Limiter *server.RateLimiter
	Config  config.Config
	Version string
	Logger  *slog.Logger
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(server.CORS(d.Config.CORSOrigins))
	r.Use(server.RequestID)
	r.Use(server.Logging(d.Logger))
	r.Use(server.Recovery(d.Logger))

	metaH := NewMetaHandler(d.Config, d.Collector, d.Version)
	captureH := NewCaptureHandler(d.Capture, d.Logger)
	workflowH := NewWorkflowHandler(d.Workflows, d.Logger)
	agentH := NewAgentHandler(d.Agents, d.Logger)
	limited := d.Limiter.Middleware

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", metaH.Root)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", metaH.Health)
		r.Get("/schemas", metaH.Schemas)
		r.Get("/stats", metaH.Stats)

		r.Route("/capture", func(r chi.Router) {
			r.Post("/sessions", captureH.StoreSession)
			r.Get("/sessions/{id}", captureH.GetSession)
			r.Get("/receipt", captureH.ReceiptHint)
			r.With(limited).Post("/receipt", captureH.UploadReceipt)
		})

		r.With(limited).Post("/infer/{id}", workflowH.Infer)

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", workflowH.List)
			r.Get("/{id}", workflowH.Get)
			r.Post("/{id}/approve", workflowH.Approve)
		})

		r.Route("/agents/{id}", func(r chi.Router) {
			r.Post("/generate", agentH.Generate)
			r.With(limited).Post("/run", agentH.Run)
			r.Get("/run/{run_id}", agentH.RunStatus)
		})
	})

	return r
}
