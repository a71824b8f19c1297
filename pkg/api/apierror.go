// Package api holds the HTTP plumbing shared by every openleash endpoint:
// RFC 7807 Problem Detail responses, JSON helpers and middleware.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/openleash/openleash/pkg/contracts"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Code is the machine-readable error code, e.g. NONCE_REPLAY.
	Code string `json:"code,omitempty"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links to the request id of this occurrence.
	TraceID string `json:"trace_id,omitempty"`
	// Errors lists per-field validation failures.
	Errors []contracts.FieldError `json:"errors,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	if p.Code != "" {
		return fmt.Sprintf("%s (%s): %s", p.Title, p.Code, p.Detail)
	}
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int, code string) string {
	if code != "" {
		return "https://openleash.dev/errors/" + strings.ToLower(strings.ReplaceAll(code, "_", "-"))
	}
	return fmt.Sprintf("https://openleash.dev/errors/%d", status)
}

// WriteProblem writes p, filling Type and Title when they are empty.
func WriteProblem(w http.ResponseWriter, p *ProblemDetail) {
	if p.Title == "" {
		p.Title = http.StatusText(p.Status)
	}
	if p.Type == "" {
		p.Type = problemType(p.Status, p.Code)
	}
	if p.TraceID == "" {
		p.TraceID = w.Header().Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteCoded writes a problem carrying a machine-readable code.
func WriteCoded(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	p := &ProblemDetail{Status: status, Code: code, Detail: detail}
	if r != nil {
		p.Instance = r.URL.Path
	}
	WriteProblem(w, p)
}

// WriteValidation writes a 400 listing every field error.
func WriteValidation(w http.ResponseWriter, r *http.Request, detail string, errs []contracts.FieldError) {
	WriteProblem(w, &ProblemDetail{
		Status:   http.StatusBadRequest,
		Code:     "VALIDATION_FAILED",
		Detail:   detail,
		Instance: r.URL.Path,
		Errors:   errs,
	})
}

// validationCodes maps a ValidationError subject to its problem code.
var validationCodes = map[string]string{
	"action": "INVALID_ACTION_REQUEST",
	"policy": "INVALID_POLICY",
}

// WriteValidationError writes a 400 for err, coded by what was invalid.
func WriteValidationError(w http.ResponseWriter, r *http.Request, err *contracts.ValidationError) {
	code, ok := validationCodes[err.Subject]
	if !ok {
		code = "VALIDATION_FAILED"
	}
	WriteProblem(w, &ProblemDetail{
		Status:   http.StatusBadRequest,
		Code:     code,
		Detail:   "Invalid " + err.Subject,
		Instance: r.URL.Path,
		Errors:   err.Errors,
	})
}

// WriteMethodNotAllowed writes a 405.
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteCoded(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteCoded(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded, retry after the indicated interval")
}

// WriteInternal writes a 500. err is logged and never exposed to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("internal server error", "error", err, "request_id", w.Header().Get("X-Request-ID"))
	WriteCoded(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
}

// WriteJSON writes v as a JSON body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// MaxBodyBytes bounds every request body read by the API.
const MaxBodyBytes = 1 << 20

// DecodeJSON reads a bounded JSON body into v. On failure it writes a 400
// and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteCoded(w, r, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON request body")
		return false
	}
	return true
}
