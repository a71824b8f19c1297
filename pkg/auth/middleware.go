package auth

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/openleash/openleash/pkg/api"
	"github.com/openleash/openleash/pkg/crypto"
)

// NewAgentMiddleware authenticates signed agent requests. The body is
// buffered for hashing and replaced so handlers can read it again.
// Rejections are 401 Problem Details carrying the failure code.
func NewAgentMiddleware(authn *AgentAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.MaxBodyBytes))
			if err != nil {
				api.WriteCoded(w, r, http.StatusBadRequest, "INVALID_BODY", "Request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			md := RequestMetadata{
				Method:     r.Method,
				Path:       r.URL.Path,
				AgentID:    r.Header.Get(crypto.HeaderAgentID),
				Timestamp:  r.Header.Get(crypto.HeaderTimestamp),
				Nonce:      r.Header.Get(crypto.HeaderNonce),
				BodySHA256: r.Header.Get(crypto.HeaderBodySHA256),
				Signature:  r.Header.Get(crypto.HeaderSignature),
			}

			identity, err := authn.Authenticate(r.Context(), md, body)
			if err != nil {
				var authErr *Error
				if errors.As(err, &authErr) {
					authn.rejected(r.Context(), authErr)
					api.WriteCoded(w, r, http.StatusUnauthorized, string(authErr.Code), authErr.Message)
					return
				}
				api.WriteInternal(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), identity)))
		})
	}
}

// NewAdminMiddleware enforces the admin access policy.
func NewAdminMiddleware(policy AdminPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rej := policy.Check(api.ClientIP(r), r.Header.Get("Authorization")); rej != nil {
				api.WriteCoded(w, r, adminStatus(rej), string(rej.Code), rej.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
