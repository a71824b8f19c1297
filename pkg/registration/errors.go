package registration

import "fmt"

// Code identifies a registration failure.
type Code string

const (
	CodeInvalidRequest    Code = "INVALID_REQUEST"
	CodeChallengeNotFound Code = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired  Code = "CHALLENGE_EXPIRED"
	CodeInvalidPublicKey  Code = "INVALID_PUBLIC_KEY"
	CodeAgentMismatch     Code = "AGENT_MISMATCH"
	CodeInvalidSignature  Code = "INVALID_SIGNATURE"
)

// Error is a terminal registration failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("registration: %s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
