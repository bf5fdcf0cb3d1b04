package scenario

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuth        = errors.New("authentication required")
	ErrTransport   = errors.New("transport error")
	ErrRemoteLogic = errors.New("remote api error")
	ErrValidation  = errors.New("validation error")

	ErrNoData               = errors.New("remote api returned no data")
	ErrNotSupported         = errors.New("operation not supported by remote api")
	ErrResourceNotFound     = errors.New("resource not found")
	ErrNoWriter             = errors.New("no remote writer configured")
	ErrUnsupportedOperation = errors.New("operation not supported on scenario resources")
	ErrStoryCardNotFound    = errors.New("story card not found")
	ErrStateRequestTimeout  = errors.New("timed out waiting for panel state")
)

// AuthErrorKind distinguishes why no valid token is available
type AuthErrorKind string

const (
	AuthMissing AuthErrorKind = "AUTH_MISSING"
	AuthExpired AuthErrorKind = "AUTH_EXPIRED"
)

// AuthError means no valid bearer token could be obtained. Callers treat both
// kinds the same: show a sign-in affordance.
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case AuthExpired:
		return "authentication expired: sign in again"
	default:
		return "not signed in: no access token available"
	}
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

// TransportError is a non-2xx HTTP response from the remote API
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("remote api returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("remote api returned HTTP %d: %s", e.Status, body)
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// RemoteLogicError aggregates the error messages of a GraphQL response
type RemoteLogicError struct {
	Messages []string
}

func (e *RemoteLogicError) Error() string {
	if len(e.Messages) == 0 {
		return "remote api error"
	}
	return "remote api error: " + strings.Join(e.Messages, "; ")
}

func (e *RemoteLogicError) Is(target error) bool {
	return target == ErrRemoteLogic
}

// ValidationError rejects malformed local input, such as an unparsable JSON document
type ValidationError struct {
	Resource string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid content for %s: %v", e.Resource, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsAuthError reports whether err means the user must sign in
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}
