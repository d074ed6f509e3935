package dispute

import (
	"errors"
	"fmt"
)

// RejectionCode narrows an ineligible-action failure to the guard that
// tripped, so callers can hide or relabel the action instead of surfacing a
// generic error.
type RejectionCode string

const (
	RejectNotEligible  RejectionCode = "not_eligible"
	RejectWindowClosed RejectionCode = "window_closed"
	RejectAlreadyActed RejectionCode = "already_acted"
	RejectWrongRole    RejectionCode = "wrong_role"
)

// RejectionError is returned when a locally-initiated action fails its guards
// before any ledger round-trip. It is always recoverable: conditions may
// change and the caller can retry.
type RejectionError struct {
	Code      RejectionCode
	Op        string
	DisputeID uint64
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("dispute %d: %s rejected: %s", e.DisputeID, e.Op, e.Code)
}

func reject(code RejectionCode, op string, id uint64) error {
	return &RejectionError{Code: code, Op: op, DisputeID: id}
}

// RejectionCodeOf extracts the rejection code from err, if any.
func RejectionCodeOf(err error) (RejectionCode, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Code, true
	}
	return "", false
}

// ErrStaleView indicates a projection was computed from data older than the
// latest ledger state known to the caller. Recoverable by re-fetching.
var ErrStaleView = errors.New("dispute: view computed from stale snapshot")

// LedgerRejectedError wraps a rejection reported by the ledger for a submitted
// intent. It is surfaced verbatim and never retried automatically.
type LedgerRejectedError struct {
	IntentID string
	Reason   string
}

func (e *LedgerRejectedError) Error() string {
	return fmt.Sprintf("dispute: ledger rejected intent %s: %s", e.IntentID, e.Reason)
}

// InvariantViolationError marks a confirmed ledger event that implies a
// transition the local guards say is impossible. The local model has drifted
// from ground truth: mutation of the record halts until a full resync.
type InvariantViolationError struct {
	DisputeID uint64
	Event     string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("dispute %d: invariant violation applying %s: %s", e.DisputeID, e.Event, e.Detail)
}

// IsInvariantViolation reports whether err carries an invariant violation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}
