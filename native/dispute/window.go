package dispute

// Timing constants enforced by the ledger contract. The core mirrors them so
// client-side gating agrees byte-for-byte with on-chain enforcement.
const (
	// EvidenceWindowSecs bounds the seller's counter-evidence phase.
	EvidenceWindowSecs int64 = 24 * 60 * 60
	// AppealWindowSecs bounds the losing party's appeal right after resolution.
	AppealWindowSecs int64 = 48 * 60 * 60
)

// Phase names the timing window a dispute currently sits in.
type Phase uint8

const (
	// PhaseEvidence: seller may submit counter-evidence until the deadline.
	PhaseEvidence Phase = iota
	// PhaseVoting: panel ballots are open; not time-bounded.
	PhaseVoting
	// PhaseAppeal: the losing party may appeal until the window elapses.
	// Open is false while the resolution timestamp is still unknown.
	PhaseAppeal
	// PhaseGrace: the appeal window has passed (or never applies); the
	// permissionless finalize call is available.
	PhaseGrace
	// PhaseClosed: the record is terminal or superseded by an appeal.
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseEvidence:
		return "evidence"
	case PhaseVoting:
		return "voting"
	case PhaseAppeal:
		return "appeal"
	case PhaseGrace:
		return "grace"
	default:
		return "closed"
	}
}

// Window reports the active phase and, for time-bounded phases, the seconds
// remaining floored at zero. Open is false when the phase exists but cannot be
// acted on yet: most importantly a resolved dispute whose ledger resolution
// timestamp has not been observed, where the appeal window must be treated as
// not started rather than open.
type Window struct {
	Phase     Phase
	Open      bool
	Remaining int64
}

// remainingUntil clamps deadline-now at zero so clock skew can only close a
// window, never reopen it.
func remainingUntil(now, deadline int64) int64 {
	if deadline <= now {
		return 0
	}
	return deadline - now
}

// EvaluateWindow computes the currently open timing window for a dispute
// snapshot. It is a pure function of the snapshot and now: side-effect free,
// idempotent, and monotonically non-increasing in Remaining as now advances.
func EvaluateWindow(d *Dispute, now int64) Window {
	if d == nil {
		return Window{Phase: PhaseClosed}
	}
	switch d.Status {
	case StatusOpen, StatusEvidence:
		remaining := remainingUntil(now, d.CounterEvidenceDeadline)
		return Window{Phase: PhaseEvidence, Open: remaining > 0, Remaining: remaining}
	case StatusVoting:
		return Window{Phase: PhaseVoting, Open: true}
	case StatusResolved:
		if d.IsAppealDispute || d.AppealDisputeID != 0 {
			// Appeal disputes finalize without a further appeal window, and a
			// record that already forked an appeal has nothing left to appeal.
			return Window{Phase: PhaseGrace, Open: true}
		}
		if d.ResolvedAt == 0 {
			// No ledger-confirmed resolution timestamp: the appeal window has
			// not started. Never derive an appeal deadline from CreatedAt.
			return Window{Phase: PhaseAppeal, Open: false}
		}
		remaining := remainingUntil(now, d.ResolvedAt+AppealWindowSecs)
		if remaining > 0 {
			return Window{Phase: PhaseAppeal, Open: true, Remaining: remaining}
		}
		return Window{Phase: PhaseGrace, Open: true}
	default:
		return Window{Phase: PhaseClosed}
	}
}

// appealWindowOpen reports whether the losing party may still file an appeal.
// A missing resolution timestamp means the window has not started.
func appealWindowOpen(d *Dispute, now int64) bool {
	if d == nil || d.ResolvedAt == 0 {
		return false
	}
	return now < d.ResolvedAt+AppealWindowSecs
}

// appealWindowElapsed reports whether the appeal window has closed. Distinct
// from !appealWindowOpen: an unstarted window has neither opened nor elapsed.
func appealWindowElapsed(d *Dispute, now int64) bool {
	if d == nil || d.ResolvedAt == 0 {
		return false
	}
	return now >= d.ResolvedAt+AppealWindowSecs
}
