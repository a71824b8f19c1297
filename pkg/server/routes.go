package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openleash/openleash/pkg/api"
	"github.com/openleash/openleash/pkg/auth"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(auth.RequestIDMiddleware)
	r.Use(s.telemetry.HTTPMiddleware)
	r.Use(api.RequestLogger(s.logger))
	r.Use(api.Recoverer(s.logger))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteCoded(w, r, http.StatusNotFound, "NOT_FOUND", "No route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.WriteMethodNotAllowed(w, r)
	})

	if h := s.telemetry.MetricsHandler(); h != nil {
		r.Method(http.MethodGet, "/metrics", h)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/public-keys", s.handlePublicKeys)
		r.Post("/verify-proof", s.handleVerifyProof)
		r.Post("/playground/run", s.handlePlayground)

		r.Post("/agents/registration-challenge", s.handleRegistrationChallenge)
		r.Post("/agents/register", s.handleRegister)

		r.With(auth.NewAgentMiddleware(s.authn)).Post("/authorize", s.handleAuthorize)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.NewAdminMiddleware(auth.AdminPolicy{
				Mode:             s.cfg.Admin.Mode,
				Token:            s.cfg.Admin.Token,
				AllowRemoteAdmin: s.cfg.Admin.AllowRemoteAdmin,
			}))

			r.Get("/owners", s.handleListOwners)
			r.Post("/owners", s.handleCreateOwner)

			r.Get("/agents", s.handleListAgents)
			r.Post("/agents/{agentPrincipalID}/revoke", s.handleRevokeAgent)

			r.Route("/policies", func(r chi.Router) {
				r.Get("/", s.handleListPolicies)
				r.Post("/", s.handleCreatePolicy)
				r.Get("/{policyID}", s.handleGetPolicy)
				r.Put("/{policyID}", s.handleUpdatePolicy)
				r.Delete("/{policyID}", s.handleDeletePolicy)
				r.Post("/{policyID}/unbind", s.handleUnbindPolicy)
			})

			r.Get("/keys", s.handleListKeys)
			r.Post("/keys/rotate", s.handleRotateKey)
			r.Post("/keys/{kid}/revoke", s.handleRevokeKey)

			r.Get("/audit", s.handleAudit)
			r.Get("/audit/export", s.handleAuditExport)
			r.Get("/config", s.handleConfig)
			r.Get("/state", s.handleState)
		})
	})

	return r
}
