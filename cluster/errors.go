package cluster

import (
	"context"
	"net/http"
	"strconv"

	"github.com/couchrepl/couchrepl/errors"
)

// AuthError indicates the cluster rejected the request credentials.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return "authentication rejected (" + statusText(e.Status) + "): " + e.Body
}

// NotFoundError indicates the database does not exist on the cluster.
type NotFoundError struct {
	Database string
	Body     string
}

func (e *NotFoundError) Error() string {
	return "database " + e.Database + " not found: " + e.Body
}

// ConflictError indicates a conflicting replication already exists.
type ConflictError struct {
	Database string
	Body     string
}

func (e *ConflictError) Error() string {
	return "replication conflict for " + e.Database + ": " + e.Body
}

// TransientError indicates a network or gateway failure that may succeed on retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RemoteError carries any other non-2xx response from the cluster.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return "remote error (" + statusText(e.Status) + "): " + e.Body
}

// DiscoveryError indicates the database listing call failed. It aborts the run.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return "discovery: " + e.Err.Error()
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err may succeed if the call is retried.
func IsTransient(err error) bool {
	var te *TransientError

	return errors.As(err, &te)
}

// classifyTransportError maps transport-level failures to the error taxonomy.
// Context cancellation is passed through so callers can detect shutdown.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	// Connection refused, DNS failures, timeouts: all worth a retry.
	return &TransientError{Err: err}
}

// classifyStatus maps a non-2xx response to the error taxonomy.
func classifyStatus(status int, database, body string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Status: status, Body: body}
	case http.StatusNotFound:
		return &NotFoundError{Database: database, Body: body}
	case http.StatusConflict:
		return &ConflictError{Database: database, Body: body}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{Err: &RemoteError{Status: status, Body: body}}
	default:
		return &RemoteError{Status: status, Body: body}
	}
}

func statusText(status int) string {
	return strconv.Itoa(status) + " " + http.StatusText(status)
}
