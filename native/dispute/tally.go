package dispute

import (
	"fmt"
	"strings"
)

// Outcome is the aggregate result derived from panel ballots.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeBuyerWins
	OutcomeSellerWins
	OutcomeDraw
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeBuyerWins:
		return "buyer_wins"
	case OutcomeSellerWins:
		return "seller_wins"
	case OutcomeDraw:
		return "draw"
	default:
		return "pending"
	}
}

// ParseOutcome resolves the canonical lowercase outcome name used on the wire.
func ParseOutcome(raw string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return OutcomePending, nil
	case "buyer_wins":
		return OutcomeBuyerWins, nil
	case "seller_wins":
		return OutcomeSellerWins, nil
	case "draw":
		return OutcomeDraw, nil
	default:
		return OutcomePending, fmt.Errorf("dispute: invalid outcome %q", raw)
	}
}

// Ruling maps a decided outcome onto the ruling enumeration. Draw keeps the
// ruling at Pending; downstream the draw is settled as a 50/50 split.
func (o Outcome) Ruling() Ruling {
	switch o {
	case OutcomeBuyerWins:
		return RulingBuyerWins
	case OutcomeSellerWins:
		return RulingSellerWins
	default:
		return RulingPending
	}
}

// Tally aggregates the up-to-3 panel ballots. A side wins only on a strict
// majority (>=2 of the fixed panel). Unset ballots count for neither side.
type Tally struct {
	VotesForBuyer  uint8
	VotesForSeller uint8
	TotalVotes     uint8
	Outcome        Outcome
}

// TallyBallots scores the ballot array. Draw is only reported when every slot
// carries a ballot yet neither side reached a majority; with binary ballots
// that cannot happen, but an abstaining slot counted for neither side makes it
// reachable and the policy must settle it as an even split.
func TallyBallots(ballots [PanelSize]Ballot) Tally {
	var t Tally
	settled := 0
	for _, b := range ballots {
		switch b {
		case BallotBuyer:
			t.VotesForBuyer++
			settled++
		case BallotSeller:
			t.VotesForSeller++
			settled++
		}
	}
	t.TotalVotes = t.VotesForBuyer + t.VotesForSeller
	switch {
	case t.VotesForBuyer >= 2:
		t.Outcome = OutcomeBuyerWins
	case t.VotesForSeller >= 2:
		t.Outcome = OutcomeSellerWins
	case settled == PanelSize:
		t.Outcome = OutcomeDraw
	default:
		t.Outcome = OutcomePending
	}
	return t
}

// Concluded resolves the outcome once the ledger reports voting closed: a
// pending tally with no majority at conclusion settles as a draw.
func (t Tally) Concluded() Outcome {
	if t.Outcome == OutcomePending {
		return OutcomeDraw
	}
	return t.Outcome
}

// CanExecuteRuling reports whether the ruling may be executed: a majority
// exists and ballots are still open. Execution does not wait for the third
// vote once two agree.
func (t Tally) CanExecuteRuling(status Status) bool {
	if status != StatusVoting {
		return false
	}
	return t.Outcome == OutcomeBuyerWins || t.Outcome == OutcomeSellerWins
}
