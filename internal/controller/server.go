// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"net/http"
	"time"

	"crewflow/internal/controller/handlers"
	"crewflow/internal/controller/middleware"
	"crewflow/internal/store"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// New creates a new controller server. metricsHandler, when non-nil, is
// mounted on /metrics.
func New(addr string, service handlers.ActionService, users handlers.UserStore, userLookup store.UserStore, metricsHandler http.Handler) *Server {
	h := handlers.New(service, users)
	authMW := middleware.AuthMiddleware(userLookup)
	rateMW := middleware.RateLimitMiddleware()

	authed := func(handler http.HandlerFunc) http.Handler {
		return authMW(rateMW(handler))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /users", h.CreateUser)

	// Public authenticated apis
	mux.Handle("POST /actions", authed(h.ProposeAction))
	mux.Handle("GET /actions", authed(h.ListPending))
	mux.Handle("GET /actions/history", authed(h.ListHistory))
	mux.Handle("GET /actions/{id}", authed(h.GetAction))
	mux.Handle("POST /actions/{id}/cancel", authed(h.CancelAction))
	mux.Handle("POST /actions/{id}/trigger", authed(h.TriggerAction))
	mux.Handle("GET /actions/{id}/audit", authed(h.GetActionAudit))
	mux.Handle("POST /alerts", authed(h.SubmitAlert))
	mux.Handle("GET /approvals", authed(h.ListApprovals))
	mux.Handle("GET /approvals/stats", authed(h.ApprovalStats))
	mux.Handle("POST /approvals/{id}/respond", authed(h.RespondApproval))

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
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
