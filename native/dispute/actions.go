package dispute

import (
	"fmt"

	nativecommon "tribunal/native/common"
)

// ActionKind names the locally-initiated intents a caller can request.
type ActionKind string

const (
	ActionSubmitCounterEvidence ActionKind = "submit_counter_evidence"
	ActionCastVote              ActionKind = "cast_vote"
	ActionExecuteRuling         ActionKind = "execute_ruling"
	ActionFileAppeal            ActionKind = "file_appeal"
	ActionFinalizeRuling        ActionKind = "finalize_ruling"
)

// Valid reports whether the kind is a supported action.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionSubmitCounterEvidence, ActionCastVote, ActionExecuteRuling, ActionFileAppeal, ActionFinalizeRuling:
		return true
	default:
		return false
	}
}

// ValidateAction checks a locally-initiated action against the current
// snapshot before any ledger round-trip, so obviously-ineligible requests
// fail fast without spending gas. Failures carry a typed rejection code, not
// a transport error. A passing check is necessary but not sufficient: the
// ledger still confirms or rejects the submitted intent.
func (e *Engine) ValidateAction(id uint64, viewer [20]byte, kind ActionKind) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.Quarantined(id) {
		// The snapshot is known to trail the ledger; answering eligibility
		// from it would be a guess. Re-fetch after the resync lands.
		return fmt.Errorf("%w: dispute %d", ErrStaleView, id)
	}
	d, err := e.load(id)
	if err != nil {
		return err
	}
	now := e.now()
	op := string(kind)
	switch kind {
	case ActionSubmitCounterEvidence:
		if viewer != d.Seller {
			return reject(RejectWrongRole, op, id)
		}
		if d.SellerEvidenceURI != "" {
			return reject(RejectAlreadyActed, op, id)
		}
		if d.Status != StatusEvidence {
			return reject(RejectNotEligible, op, id)
		}
		if now >= d.CounterEvidenceDeadline {
			return reject(RejectWindowClosed, op, id)
		}
	case ActionCastVote:
		idx := d.PanelIndex(viewer)
		if idx < 0 {
			return reject(RejectWrongRole, op, id)
		}
		if d.Status != StatusVoting {
			return reject(RejectNotEligible, op, id)
		}
		if d.Ballots[idx] != BallotUnset {
			return reject(RejectAlreadyActed, op, id)
		}
	case ActionExecuteRuling:
		// Permissionless once a majority exists.
		if !TallyBallots(d.Ballots).CanExecuteRuling(d.Status) {
			return reject(RejectNotEligible, op, id)
		}
	case ActionFileAppeal:
		if d.Status != StatusResolved || d.IsAppealDispute {
			return reject(RejectNotEligible, op, id)
		}
		if d.AppealDisputeID != 0 {
			return reject(RejectAlreadyActed, op, id)
		}
		if !isLosingParty(d, viewer) {
			return reject(RejectWrongRole, op, id)
		}
		if appealWindowElapsed(d, now) {
			return reject(RejectWindowClosed, op, id)
		}
		if !appealWindowOpen(d, now) {
			// Resolution timestamp not yet observed: the window has not
			// started and the deadline must not be guessed from CreatedAt.
			return reject(RejectNotEligible, op, id)
		}
	case ActionFinalizeRuling:
		if d.Status != StatusResolved {
			return reject(RejectNotEligible, op, id)
		}
		if d.IsAppealDispute {
			return nil
		}
		if d.AppealDisputeID != 0 {
			return reject(RejectNotEligible, op, id)
		}
		if !appealWindowElapsed(d, now) {
			return reject(RejectWindowClosed, op, id)
		}
	default:
		return reject(RejectNotEligible, op, id)
	}
	return nil
}
