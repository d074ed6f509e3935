package dispute

// Eligibility is the per-viewer action gate computed from a snapshot and the
// current time. Gateways hide actions whose flag is false rather than offering
// them and relaying a rejection.
type Eligibility struct {
	CanSubmitCounterEvidence bool
	CanVote                  bool
	CanAppeal                bool
	CanFinalize              bool
	IsLosingParty            bool
}

// EvaluateEligibility determines which actions the viewer may currently take.
// Pure: safe to call from any number of concurrent readers.
func EvaluateEligibility(d *Dispute, viewer [20]byte, now int64) Eligibility {
	if d == nil {
		return Eligibility{}
	}
	var e Eligibility

	e.IsLosingParty = isLosingParty(d, viewer)

	if viewer == d.Seller && d.Status == StatusEvidence && d.SellerEvidenceURI == "" {
		e.CanSubmitCounterEvidence = now < d.CounterEvidenceDeadline
	}

	if d.Status == StatusVoting {
		if idx := d.PanelIndex(viewer); idx >= 0 {
			e.CanVote = d.Ballots[idx] == BallotUnset
		}
	}

	e.CanAppeal = d.Status == StatusResolved &&
		e.IsLosingParty &&
		!d.IsAppealDispute &&
		d.AppealDisputeID == 0 &&
		appealWindowOpen(d, now)

	// Finalization is permissionless; the flag does not depend on the viewer.
	if d.Status == StatusResolved {
		if d.IsAppealDispute {
			e.CanFinalize = true
		} else {
			e.CanFinalize = d.AppealDisputeID == 0 && appealWindowElapsed(d, now)
		}
	}

	return e
}

func isLosingParty(d *Dispute, viewer [20]byte) bool {
	if d == nil {
		return false
	}
	switch d.Ruling {
	case RulingSellerWins:
		return viewer == d.Buyer
	case RulingBuyerWins:
		return viewer == d.Seller
	default:
		return false
	}
}

// RiskLevel is the advisory collusion-risk classification for an arbitrator.
type RiskLevel uint8

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (r RiskLevel) String() string {
	switch r {
	case RiskHigh:
		return "high"
	case RiskMedium:
		return "medium"
	default:
		return "low"
	}
}

// Collusion-risk thresholds, in basis points of majority-aligned votes.
const (
	riskHighRateBps      uint32 = 10_000
	riskHighMinHandled   uint64 = 10
	riskMediumRateBps    uint32 = 9_500
	riskMediumMinHandled uint64 = 5
)

// ClassifyCollusionRisk flags arbitrators whose lifetime record aligns with
// the majority suspiciously often. This is an explicit heuristic, not proof of
// misbehaviour: it is surfaced as advisory information only and never gates an
// action.
func ClassifyCollusionRisk(stats ArbiterStats) RiskLevel {
	switch {
	case stats.MajorityRateBps >= riskHighRateBps && stats.DisputesHandled > riskHighMinHandled:
		return RiskHigh
	case stats.MajorityRateBps >= riskMediumRateBps && stats.DisputesHandled > riskMediumMinHandled:
		return RiskMedium
	default:
		return RiskLow
	}
}
