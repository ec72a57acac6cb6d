// Package coordinator contains the coordinator-specific logic for the
// HTTP API.
package coordinator

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/adimian/kabuto/internal/coordinator/handlers"
	"github.com/adimian/kabuto/internal/coordinator/middleware"
	"github.com/adimian/kabuto/internal/registry"
)

// Server is the HTTP server for the coordinator API.
type Server struct {
	httpServer *http.Server
}

// New creates a new coordinator server.
func New(addr string, store handlers.StoreFactory, lc handlers.Lifecycle, builder registry.Builder, log *slog.Logger) *Server {
	h := handlers.New(store, lc, builder, log)
	authMW := middleware.Auth(store)
	rateMW := middleware.RateLimit()
	authed := func(hf http.HandlerFunc) http.Handler {
		return authMW(rateMW(hf))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	// Key issuance bootstraps an account; everything else requires one.
	mux.HandleFunc("POST /users", h.CreateUser)

	// Owner-facing authenticated apis
	mux.Handle("POST /image", authed(h.CreateImage))
	mux.Handle("GET /images", authed(h.ListImages))
	mux.Handle("GET /image/{id}", authed(h.GetImage))
	mux.Handle("PUT /image/{id}", authed(h.UpdateImage))
	mux.Handle("DELETE /image/{id}", authed(h.DeleteImage))

	mux.Handle("POST /pipeline", authed(h.CreatePipeline))
	mux.Handle("GET /pipelines", authed(h.ListPipelines))
	mux.Handle("GET /pipeline/{pid}", authed(h.GetPipeline))
	mux.Handle("DELETE /pipeline/{pid}", authed(h.DeletePipeline))

	mux.Handle("GET /jobs", authed(h.ListJobs))
	mux.Handle("POST /pipeline/{pid}/job", authed(h.CreateJob))
	mux.Handle("GET /pipeline/{pid}/job/{jid}", authed(h.GetJob))
	mux.Handle("PUT /pipeline/{pid}/job/{jid}", authed(h.UpdateJob))
	mux.Handle("DELETE /pipeline/{pid}/job/{jid}", authed(h.DeleteJob))
	mux.Handle("PUT /pipeline/{pid}/jobs", authed(h.RearrangeJobs))
	mux.Handle("POST /pipeline/{pid}/submit", authed(h.SubmitPipeline))

	mux.Handle("GET /execution/{jid}/logs", authed(h.GetLogs))
	mux.Handle("GET /execution/{jid}/logs/{lastID}", authed(h.GetLogs))
	mux.Handle("GET /execution/{jid}/results", authed(h.DownloadResults))
	mux.Handle("POST /execution/{jid}/kill", authed(h.KillJob))

	// Worker endpoints
	// These are authorized per job by bearer token, not by API key: the
	// worker holds nothing but the two tokens from its dispatch message.
	mux.HandleFunc("GET /execution/{jid}/attachments/{token}", h.GetAttachments)
	mux.HandleFunc("POST /execution/{jid}/results/{token}", h.PostResults)
	mux.HandleFunc("POST /execution/{jid}/log/{token}", h.DepositLogs)
	mux.HandleFunc("PUT /execution/{jid}/container/{token}", h.UpdateContainer)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
