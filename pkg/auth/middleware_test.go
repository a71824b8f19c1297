package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openleash/openleash/pkg/api"
	"github.com/openleash/openleash/pkg/auth"
	"github.com/openleash/openleash/pkg/contracts"
	"github.com/openleash/openleash/pkg/crypto"
	"github.com/openleash/openleash/pkg/nonce"
)

type oneAgent struct{ agent *contracts.Agent }

func (o oneAgent) LookupAgentByExternalID(_ context.Context, id string) (*contracts.Agent, error) {
	if o.agent != nil && o.agent.AgentID == id {
		return o.agent, nil
	}
	return nil, nil
}

func TestAgentMiddleware(t *testing.T) {
	pub, priv, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	pubB64, err := crypto.EncodePublicKey(pub)
	require.NoError(t, err)
	agent := &contracts.Agent{AgentPrincipalID: "ap-1", AgentID: "agent-1", OwnerPrincipalID: "o-1", PublicKeyB64: pubB64, Status: contracts.AgentActive}

	authn := auth.NewAgentAuthenticator(oneAgent{agent}, nonce.NewMemoryStore(0), 0)

	var gotBody []byte
	var gotAgent *auth.AgentIdentity
	h := auth.NewAgentMiddleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAgent = auth.MustGetAgent(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	body := []byte(`{"action_type":"purchase"}`)
	send := func(n string) *httptest.ResponseRecorder {
		hdr, err := crypto.SignRequest("POST", "/v1/authorize", crypto.FormatTimestamp(time.Now()), n, body, priv)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/authorize?x=1", bytes.NewReader(body))
		req.Header.Set(crypto.HeaderAgentID, "agent-1")
		req.Header.Set(crypto.HeaderTimestamp, hdr.Timestamp)
		req.Header.Set(crypto.HeaderNonce, hdr.Nonce)
		req.Header.Set(crypto.HeaderBodySHA256, hdr.BodySHA256)
		req.Header.Set(crypto.HeaderSignature, hdr.Signature)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := send("n-1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, body, gotBody, "body is replayable for the handler")
	assert.Equal(t, "ap-1", gotAgent.AgentPrincipalID)

	w = send("n-1")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, string(auth.CodeNonceReplay), p.Code)
}

func TestAgentMiddleware_MissingHeaders(t *testing.T) {
	var rejected []auth.Code
	authn := auth.NewAgentAuthenticator(oneAgent{}, nonce.NewMemoryStore(0), 0).
		OnReject(func(_ context.Context, code auth.Code) { rejected = append(rejected, code) })
	h := auth.NewAgentMiddleware(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader([]byte("{}"))))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, []auth.Code{auth.CodeMissingHeaders}, rejected)
}

func TestAdminMiddleware(t *testing.T) {
	h := auth.NewAdminMiddleware(auth.AdminPolicy{Mode: auth.AdminModeLocalhost})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	local := httptest.NewRequest(http.MethodGet, "/v1/admin/owners", nil)
	local.RemoteAddr = "127.0.0.1:40000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, local)
	assert.Equal(t, http.StatusNoContent, w.Code)

	remote := httptest.NewRequest(http.MethodGet, "/v1/admin/owners", nil)
	remote.RemoteAddr = "192.168.1.9:40000"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, remote)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set(auth.HeaderRequestID, "two words")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.NotEqual(t, "two words", seen)
	assert.Equal(t, seen, w.Header().Get(auth.HeaderRequestID))
}
