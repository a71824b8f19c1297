package server

import (
	"net/http"

	"github.com/openleash/openleash/pkg/api"
	"github.com/openleash/openleash/pkg/audit"
	"github.com/openleash/openleash/pkg/auth"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/registration"
	"github.com/openleash/openleash/pkg/versioning"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, contracts.HealthResponse{
		Status:  "ok",
		Time:    crypto.FormatTimestamp(s.now()),
		Version: versioning.Current,
	})
}

// handlePublicKeys publishes every server key, revoked ones included, so
// counterparties can tell a revoked kid from an unknown one.
func (s *Server) handlePublicKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListServerKeys(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := contracts.PublicKeysResponse{Keys: make([]contracts.PublicKeyInfo, 0, len(keys))}
	for _, k := range keys {
		info, err := crypto.PublicKeyInfo(k)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out.Keys = append(out.Keys, info)
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	var req contracts.VerifyProofRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	res, err := s.authz.VerifyProof(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handlePlayground(w http.ResponseWriter, r *http.Request) {
	var req contracts.PlaygroundRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.PolicyYAML == "" || req.Action == nil {
		writeInvalidRequest(w, r, "policy_yaml and action are required")
		return
	}
	res, err := s.authz.Playground(r.Context(), req.PolicyYAML, req.Action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleRegistrationChallenge(w http.ResponseWriter, r *http.Request) {
	var req contracts.RegistrationChallengeRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	c, err := s.protocol.IssueChallenge(r.Context(), registration.IssueRequest{
		AgentID:          req.AgentID,
		PublicKeyB64:     req.AgentPublicKeyB64,
		OwnerPrincipalID: req.OwnerPrincipalID,
		Attributes:       req.Attributes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	_ = s.recorder.Record(r.Context(), contracts.AuditAgentChallengeIssued, map[string]any{
		"challenge_id": c.ChallengeID,
		"agent_id":     c.AgentID,
	}, audit.Refs{})

	api.WriteJSON(w, http.StatusOK, contracts.RegistrationChallengeResponse{
		ChallengeID:  c.ChallengeID,
		ChallengeB64: c.ChallengeB64(),
		ExpiresAt:    crypto.FormatTimestamp(c.ExpiresAt),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req contracts.RegisterAgentRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	agent, err := s.protocol.Register(r.Context(), registration.RegisterRequest{
		ChallengeID:      req.ChallengeID,
		AgentID:          req.AgentID,
		PublicKeyB64:     req.AgentPublicKeyB64,
		SignatureB64:     req.SignatureB64,
		OwnerPrincipalID: req.OwnerPrincipalID,
		Attributes:       req.Attributes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	_ = s.recorder.Record(r.Context(), contracts.AuditAgentRegistered, map[string]any{
		"agent_principal_id": agent.AgentPrincipalID,
		"agent_id":           agent.AgentID,
		"owner_principal_id": agent.OwnerPrincipalID,
	}, audit.Refs{PrincipalID: agent.AgentPrincipalID})

	api.WriteJSON(w, http.StatusOK, contracts.RegisterAgentResponse{
		AgentPrincipalID: agent.AgentPrincipalID,
		AgentID:          agent.AgentID,
		OwnerPrincipalID: agent.OwnerPrincipalID,
		Status:           agent.Status,
		CreatedAt:        crypto.FormatTimestamp(agent.CreatedAt),
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var action contracts.ActionRequest
	if !api.DecodeJSON(w, r, &action) {
		return
	}
	resp, _, err := s.authz.Authorize(r.Context(), auth.MustGetAgent(r.Context()), &action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
