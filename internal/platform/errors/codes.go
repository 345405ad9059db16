// Package errors provides structured error handling for the party hub.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Action errors
	CodeActionNotFound  Code = "ACTION_NOT_FOUND"
	CodeActionEmptyText Code = "ACTION_EMPTY_TEXT"
	CodeActionTooLong   Code = "ACTION_TOO_LONG"

	// Token errors
	CodeTokenInvalid             Code = "TOKEN_INVALID"
	CodeTokenParticipantRequired Code = "TOKEN_PARTICIPANT_REQUIRED"

	// Hub lifecycle errors
	CodeHubAlreadyRunning Code = "HUB_ALREADY_RUNNING"
	CodeHubNotRunning     Code = "HUB_NOT_RUNNING"
	CodeHubWorkerExited   Code = "HUB_WORKER_EXITED"

	// Turn and permission errors
	CodeTurnGateBlocked  Code = "TURN_GATE_BLOCKED"
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Storage errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeJournalAppendFailed Code = "JOURNAL_APPEND_FAILED"
	CodeJournalCorrupt      Code = "JOURNAL_CORRUPT"
)

// HTTPStatus maps the error code onto the HTTP surface.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeActionEmptyText, CodeActionTooLong:
		return http.StatusBadRequest
	case CodeTokenInvalid, CodeTokenParticipantRequired:
		return http.StatusUnauthorized
	case CodeTurnGateBlocked, CodePermissionDenied:
		return http.StatusForbidden
	case CodeActionNotFound, CodeNotFound:
		return http.StatusNotFound
	case CodeHubAlreadyRunning, CodeHubNotRunning:
		return http.StatusConflict
	case CodeHubWorkerExited, CodeJournalAppendFailed, CodeJournalCorrupt:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
