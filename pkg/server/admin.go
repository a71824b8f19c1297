package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openleash/openleash/pkg/api"
	"github.com/openleash/openleash/pkg/audit"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/policyloader"
	"github.com/openleash/openleash/pkg/store"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

type createOwnerRequest struct {
	PrincipalType contracts.PrincipalType `json:"principal_type"`
	DisplayName   string                  `json:"display_name"`
	Attributes    map[string]any          `json:"attributes_json,omitempty"`
}

type createPolicyRequest struct {
	OwnerPrincipalID          string  `json:"owner_principal_id"`
	AppliesToAgentPrincipalID *string `json:"applies_to_agent_principal_id,omitempty"`
	PolicyYAML                string  `json:"policy_yaml"`
}

type updatePolicyRequest struct {
	PolicyYAML string `json:"policy_yaml"`
}

type unbindPolicyRequest struct {
	OwnerPrincipalID string `json:"owner_principal_id,omitempty"`
}

func (s *Server) handleListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := s.store.ListOwners(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"owners": owners})
}

func (s *Server) handleCreateOwner(w http.ResponseWriter, r *http.Request) {
	var req createOwnerRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	var errs []contracts.FieldError
	if req.PrincipalType != contracts.PrincipalHuman && req.PrincipalType != contracts.PrincipalOrg {
		errs = append(errs, contracts.FieldError{Field: "principal_type", Message: "must be HUMAN or ORG"})
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		errs = append(errs, contracts.FieldError{Field: "display_name", Message: "is required"})
	}
	if len(errs) > 0 {
		api.WriteValidation(w, r, "Invalid owner", errs)
		return
	}

	owner, err := s.store.CreateOwner(r.Context(), store.NewOwner{
		PrincipalType: req.PrincipalType,
		DisplayName:   req.DisplayName,
		Attributes:    req.Attributes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.recorder.Record(r.Context(), contracts.AuditOwnerCreated, map[string]any{
		"owner_principal_id": owner.OwnerPrincipalID,
		"display_name":       owner.DisplayName,
	}, audit.Refs{PrincipalID: owner.OwnerPrincipalID})

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"owner_principal_id": owner.OwnerPrincipalID,
		"principal_type":     owner.PrincipalType,
		"display_name":       owner.DisplayName,
		"status":             owner.Status,
		"created_at":         crypto.FormatTimestamp(owner.CreatedAt),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleRevokeAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agentPrincipalID")
	if err := s.store.RevokeAgent(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.recorder.Record(r.Context(), contracts.AuditAgentRevoked, map[string]any{
		"agent_principal_id": id,
	}, audit.Refs{PrincipalID: id})
	api.WriteJSON(w, http.StatusOK, map[string]any{"agent_principal_id": id, "status": contracts.AgentRevoked})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	bindings, err := s.store.ListBindings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"policies": policies, "bindings": bindings})
}

// checkPolicy reports a policy that would not load as an INVALID_POLICY
// validation error.
func checkPolicy(policyYAML string) error {
	if errs := policyloader.ValidateYAML([]byte(policyYAML)); len(errs) > 0 {
		return &contracts.ValidationError{Subject: "policy", Errors: errs}
	}
	return nil
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.OwnerPrincipalID == "" || req.PolicyYAML == "" {
		writeInvalidRequest(w, r, "owner_principal_id and policy_yaml are required")
		return
	}
	if err := checkPolicy(req.PolicyYAML); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.store.GetOwner(r.Context(), req.OwnerPrincipalID); err != nil {
		writeError(w, r, fmt.Errorf("owner %s: %w", req.OwnerPrincipalID, err))
		return
	}
	if req.AppliesToAgentPrincipalID != nil && *req.AppliesToAgentPrincipalID == "" {
		req.AppliesToAgentPrincipalID = nil
	}

	p, err := s.store.CreatePolicy(r.Context(), store.NewPolicy{
		OwnerPrincipalID:          req.OwnerPrincipalID,
		AppliesToAgentPrincipalID: req.AppliesToAgentPrincipalID,
		PolicyYAML:                req.PolicyYAML,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.recorder.Record(r.Context(), contracts.AuditPolicyUpserted, map[string]any{
		"policy_id":          p.PolicyID,
		"owner_principal_id": p.OwnerPrincipalID,
	}, audit.Refs{PrincipalID: p.OwnerPrincipalID})

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"policy_id":                     p.PolicyID,
		"owner_principal_id":            p.OwnerPrincipalID,
		"applies_to_agent_principal_id": p.AppliesToAgentPrincipalID,
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPolicy(r.Context(), chi.URLParam(r, "policyID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "policyID")
	var req updatePolicyRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if req.PolicyYAML == "" {
		writeInvalidRequest(w, r, "policy_yaml is required")
		return
	}
	if err := checkPolicy(req.PolicyYAML); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.store.UpdatePolicy(r.Context(), id, req.PolicyYAML); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.recorder.Record(r.Context(), contracts.AuditPolicyUpdated, map[string]any{"policy_id": id}, audit.Refs{})
	api.WriteJSON(w, http.StatusOK, map[string]any{"policy_id": id, "status": "updated"})
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "policyID")
	if err := s.store.DeletePolicy(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.recorder.Record(r.Context(), contracts.AuditPolicyDeleted, map[string]any{"policy_id": id}, audit.Refs{})
	api.WriteJSON(w, http.StatusOK, map[string]any{"policy_id": id, "status": "deleted"})
}

func (s *Server) handleUnbindPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "policyID")
	var req unbindPolicyRequest
	// The body is optional; an empty one unbinds every owner.
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, api.MaxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.WriteCoded(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON request body")
		return
	}
	n, err := s.store.UnbindPolicy(r.Context(), id, req.OwnerPrincipalID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	_ = s.recorder.Record(r.Context(), contracts.AuditPolicyUnbound, map[string]any{
		"policy_id":          id,
		"owner_principal_id": req.OwnerPrincipalID,
		"bindings_removed":   n,
	}, audit.Refs{})
	api.WriteJSON(w, http.StatusOK, map[string]any{"policy_id": id, "bindings_removed": n})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListServerKeys(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	active, err := s.store.ActiveKID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	infos := make([]contracts.PublicKeyInfo, 0, len(keys))
	for _, k := range keys {
		info, err := crypto.PublicKeyInfo(k)
		if err != nil {
			writeError(w, r, err)
			return
		}
		infos = append(infos, info)
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"keys": infos, "active_kid": active})
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	rot, err := RotateKey(r.Context(), s.store, s.recorder)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, rot)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	kid := chi.URLParam(r, "kid")
	if err := RevokeKey(r.Context(), s.store, s.recorder, kid); err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"kid": kid, "status": "revoked"})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		api.WriteCoded(w, r, http.StatusNotImplemented, "AUDIT_UNAVAILABLE", "The audit log is not readable")
		return
	}
	limit, err := queryInt(r, "limit", defaultAuditLimit)
	if err != nil {
		writeInvalidRequest(w, r, err.Error())
		return
	}
	cursor, err := queryInt(r, "cursor", 0)
	if err != nil {
		writeInvalidRequest(w, r, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)

	page, err := s.auditLog.Read(r.Context(), cursor, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, page)
}

// handleAuditExport streams a zip evidence pack of the audit events in
// [start_time, end_time], optionally filtered by a comma-separated
// event_types list.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req audit.ExportRequest
	for _, f := range []struct {
		name string
		dst  *time.Time
	}{{"start_time", &req.StartTime}, {"end_time", &req.EndTime}} {
		if v := q.Get(f.name); v != "" {
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				writeInvalidRequest(w, r, f.name+" must be an RFC 3339 timestamp")
				return
			}
			*f.dst = t
		}
	}
	if v := q.Get("event_types"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.EventTypes = append(req.EventTypes, contracts.AuditEventType(t))
			}
		}
	}

	pack, sum, err := audit.NewExporter(s.auditLog).GeneratePack(r.Context(), req)
	if err != nil {
		if errors.Is(err, audit.ErrReaderNotConfigured) {
			api.WriteCoded(w, r, http.StatusNotImplemented, "AUDIT_UNAVAILABLE", "The audit log is not readable")
			return
		}
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="openleash-audit-%s.zip"`, s.now().UTC().Format("20060102T150405Z")))
	w.Header().Set("X-Checksum-SHA256", sum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pack)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.cfg.Sanitized())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	summary, err := s.store.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, summary)
}
