package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// HTTPError is a remote call that completed with a non-success status.
// Status 0 means the server could not be reached at all.
type HTTPError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote status %d", e.Status)
}

// FailureKind tags the shape of a remote-call failure.
type FailureKind int

const (
	// FailureOpaque carries nothing usable; it classifies to the fallback message.
	FailureOpaque FailureKind = iota
	// FailureText is a ready-made message shown verbatim.
	FailureText
	// FailureStatus carries a transport status and an optional message.
	FailureStatus
)

// Failure is the tagged variant every remote-call failure is reduced to
// before classification.
type Failure struct {
	Kind    FailureKind
	Status  int
	Message string
}

// FailureOf reduces err to a Failure.
func FailureOf(err error) Failure {
	if err == nil {
		return Failure{Kind: FailureOpaque}
	}

	var eErr *EfactError
	if stderrors.As(err, &eErr) {
		return Failure{Kind: FailureText, Message: eErr.Message}
	}

	var hErr *HTTPError
	if stderrors.As(err, &hErr) {
		return Failure{Kind: FailureStatus, Status: hErr.Status, Message: hErr.Message}
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Failure{Kind: FailureStatus, Status: 0}
	}
	if stderrors.Is(err, context.Canceled) {
		return Failure{Kind: FailureOpaque}
	}

	var uErr *url.Error
	if stderrors.As(err, &uErr) {
		return Failure{Kind: FailureStatus, Status: 0}
	}
	var nErr net.Error
	if stderrors.As(err, &nErr) {
		return Failure{Kind: FailureStatus, Status: 0}
	}

	return Failure{Kind: FailureOpaque}
}

// Scope selects the wording used by Classify.
type Scope struct {
	login bool
	kind  string
}

// LoginScope is the scope for token exchanges.
func LoginScope() Scope {
	return Scope{login: true}
}

// DocumentScope is the scope for fetching a document of the given kind.
func DocumentScope(kind string) Scope {
	return Scope{kind: kind}
}

const msgConnectivity = "cannot reach the server; check your network connection"

// Classify maps a failure to a user-facing error. It is pure: the same scope
// and failure always yield the same code and message.
func Classify(scope Scope, f Failure) *EfactError {
	switch f.Kind {
	case FailureText:
		if f.Message != "" {
			return classified(ErrUnknown, 502, f.Message, nil)
		}
		return fallback(scope)
	case FailureStatus:
		if e := classifyStatus(scope, f.Status); e != nil {
			return e
		}
		if f.Message != "" {
			return classified(ErrUnknown, 502, f.Message, &f.Status)
		}
		e := fallback(scope)
		e.Details = map[string]any{"remote_status": f.Status}
		return e
	default:
		return fallback(scope)
	}
}

// ClassifyError is Classify(scope, FailureOf(err)). Errors that already
// carry a code pass through unchanged so local rejections keep their meaning.
func ClassifyError(scope Scope, err error) *EfactError {
	var eErr *EfactError
	if stderrors.As(err, &eErr) {
		return eErr
	}
	return Classify(scope, FailureOf(err))
}

func classifyStatus(scope Scope, status int) *EfactError {
	s := &status
	switch status {
	case 0:
		return classified(ErrConnectivity, 502, msgConnectivity, s)
	case 400:
		if scope.login {
			return classified(ErrBadRequest, 400, "username or password is malformed; check the format", s)
		}
		return classified(ErrBadRequest, 400, "the ticket is not valid; check its format", s)
	case 401:
		if scope.login {
			return classified(ErrInvalidCredentials, 401, "invalid username or password; check your credentials", s)
		}
		return classified(ErrSessionExpired, 401, "your session has expired; please log in again", s)
	case 403:
		if scope.login {
			return classified(ErrForbidden, 403, "access denied; contact the administrator", s)
		}
		return classified(ErrForbidden, 403, fmt.Sprintf("you do not have permission to access this %s document", scope.kind), s)
	case 404:
		if scope.login {
			return classified(ErrNotFound, 503, "authentication service unavailable; try again later", s)
		}
		return classified(ErrNotFound, 404, fmt.Sprintf("%s document not found; check that the ticket is correct", scope.kind), s)
	case 429:
		if scope.login {
			return classified(ErrRateLimited, 429, "too many login attempts; wait a few minutes", s)
		}
		return classified(ErrRateLimited, 429, "too many requests; wait a few minutes", s)
	case 500, 503:
		if scope.login {
			return classified(ErrServer, 502, "server error; please try again later", s)
		}
		return classified(ErrServer, 502, "server error; the service is unavailable right now", s)
	}
	return nil
}

func fallback(scope Scope) *EfactError {
	if scope.login {
		return classified(ErrUnknown, 502, "login failed; please try again", nil)
	}
	return classified(ErrUnknown, 502, fmt.Sprintf("could not load the %s document; please try again", scope.kind), nil)
}

func classified(code ErrorCode, status int, msg string, remote *int) *EfactError {
	e := &EfactError{Code: code, Status: status, Message: msg}
	if remote != nil {
		e.Details = map[string]any{"remote_status": *remote}
	}
	return e
}

// MessageFromBody extracts a human message from a JSON error body.
// It looks at "message", then "error_description", then "error".
func MessageFromBody(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error_description", "error"} {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
