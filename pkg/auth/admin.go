package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Admin access modes.
const (
	AdminModeLocalhost        = "localhost"
	AdminModeToken            = "token"
	AdminModeLocalhostOrToken = "localhost_or_token"
)

// AdminPolicy decides who may call the admin API.
type AdminPolicy struct {
	Mode             string
	Token            string
	AllowRemoteAdmin bool
}

// Check returns nil when the request may proceed. ip is the client address
// without port.
func (p AdminPolicy) Check(ip, authorization string) *Error {
	local := IsLoopback(ip)

	switch p.Mode {
	case AdminModeLocalhost:
		if !local && !p.AllowRemoteAdmin {
			return reject(CodeAdminForbidden, "admin access requires localhost connection")
		}
		return nil
	case AdminModeToken:
		if !p.tokenMatches(authorization) {
			return reject(CodeAdminUnauthorized, "invalid or missing admin token")
		}
		return nil
	default:
		if local || p.tokenMatches(authorization) {
			return nil
		}
		return reject(CodeAdminUnauthorized, "admin access requires localhost or valid token")
	}
}

func (p AdminPolicy) tokenMatches(header string) bool {
	if p.Token == "" {
		return false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(p.Token)) == 1
}

// IsLoopback reports whether ip is a loopback address.
func IsLoopback(ip string) bool {
	switch ip {
	case "127.0.0.1", "::1", "::ffff:127.0.0.1":
		return true
	}
	return false
}

// adminStatus maps an admin rejection to its HTTP status.
func adminStatus(e *Error) int {
	if e.Code == CodeAdminForbidden {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}
