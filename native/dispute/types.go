package dispute

import (
	"fmt"
	"math/big"
	"strings"
)

// PanelSize is the fixed number of arbitrators assigned to every dispute.
const PanelSize = 3

// Status represents the lifecycle states of a dispute record. The numeric
// values mirror the ledger contract's enumeration and must not be reordered.
type Status uint8

const (
	StatusOpen Status = iota
	StatusEvidence
	StatusVoting
	StatusResolved
	StatusAppealed
	StatusFinalized
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusFinalized
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusEvidence:
		return "evidence"
	case StatusVoting:
		return "voting"
	case StatusResolved:
		return "resolved"
	case StatusAppealed:
		return "appealed"
	case StatusFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus resolves the canonical lowercase status name used on the wire.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open":
		return StatusOpen, nil
	case "evidence":
		return StatusEvidence, nil
	case "voting":
		return StatusVoting, nil
	case "resolved":
		return StatusResolved, nil
	case "appealed":
		return StatusAppealed, nil
	case "finalized":
		return StatusFinalized, nil
	default:
		return StatusOpen, fmt.Errorf("dispute: invalid status %q", raw)
	}
}

// after reports whether s is strictly later than other in the lifecycle
// ordering. Transitions are monotonic; a backward move is never valid.
func (s Status) after(other Status) bool { return s > other }

// Ruling captures the panel's decision once a dispute resolves. A Draw keeps
// the ruling at Pending; the split is carried by the tally outcome instead.
type Ruling uint8

const (
	RulingPending Ruling = iota
	RulingBuyerWins
	RulingSellerWins
)

// Valid reports whether the ruling value is within the supported range.
func (r Ruling) Valid() bool { return r <= RulingSellerWins }

func (r Ruling) String() string {
	switch r {
	case RulingPending:
		return "pending"
	case RulingBuyerWins:
		return "buyer_wins"
	case RulingSellerWins:
		return "seller_wins"
	default:
		return fmt.Sprintf("ruling(%d)", uint8(r))
	}
}

// ParseRuling resolves the canonical lowercase ruling name used on the wire.
func ParseRuling(raw string) (Ruling, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return RulingPending, nil
	case "buyer_wins":
		return RulingBuyerWins, nil
	case "seller_wins":
		return RulingSellerWins, nil
	default:
		return RulingPending, fmt.Errorf("dispute: invalid ruling %q", raw)
	}
}

// Ballot is a single arbitrator's vote slot. Unset counts for neither side.
type Ballot uint8

const (
	BallotUnset Ballot = iota
	BallotBuyer
	BallotSeller
)

// Valid reports whether the ballot value is within the supported range.
func (b Ballot) Valid() bool { return b <= BallotSeller }

func (b Ballot) String() string {
	switch b {
	case BallotUnset:
		return "unset"
	case BallotBuyer:
		return "buyer"
	case BallotSeller:
		return "seller"
	default:
		return fmt.Sprintf("ballot(%d)", uint8(b))
	}
}

// ParseBallot resolves the canonical lowercase ballot name used on the wire.
func ParseBallot(raw string) (Ballot, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buyer":
		return BallotBuyer, nil
	case "seller":
		return BallotSeller, nil
	default:
		return BallotUnset, fmt.Errorf("dispute: invalid ballot %q", raw)
	}
}

// Dispute is the last ledger-confirmed snapshot of a dispute record. The
// identifier is assigned by the ledger and is monotonic. Parties, panel and
// buyer evidence are immutable once created; seller evidence is write-once
// during the evidence phase.
type Dispute struct {
	ID     uint64
	Buyer  [20]byte
	Seller [20]byte

	Token  string
	Amount *big.Int

	BuyerEvidenceURI  string
	SellerEvidenceURI string

	Panel   [PanelSize][20]byte
	Ballots [PanelSize]Ballot

	Status Status
	Ruling Ruling

	CreatedAt               int64
	CounterEvidenceDeadline int64
	// ResolvedAt is the ledger-confirmed resolution timestamp. Zero means the
	// dispute has not resolved and the appeal window has not started; it must
	// never be approximated from CreatedAt.
	ResolvedAt int64

	AppealDisputeID uint64
	IsAppealDispute bool
}

// Clone returns a deep copy so callers can mutate the copy without touching
// the stored snapshot.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Amount != nil {
		clone.Amount = new(big.Int).Set(d.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// PanelIndex returns the slot of addr within the panel, or -1 when addr is not
// an assigned arbitrator.
func (d *Dispute) PanelIndex(addr [20]byte) int {
	if d == nil {
		return -1
	}
	for i, member := range d.Panel {
		if member == addr {
			return i
		}
	}
	return -1
}

// PanelOverlaps reports whether any member of panel also sits on this
// dispute's panel. Appeal panels must be drawn to exclude all original
// arbitrators.
func (d *Dispute) PanelOverlaps(panel [PanelSize][20]byte) bool {
	if d == nil {
		return false
	}
	for _, member := range panel {
		if d.PanelIndex(member) >= 0 {
			return true
		}
	}
	return false
}

// Sanitize validates and normalises a dispute snapshot, returning a cloned
// instance with canonical token casing and a non-nil amount. The original
// value is not mutated.
func Sanitize(d *Dispute) (*Dispute, error) {
	if d == nil {
		return nil, fmt.Errorf("dispute: nil record")
	}
	clone := d.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("dispute: id must be non-zero")
	}
	if clone.Buyer == ([20]byte{}) || clone.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("dispute: buyer and seller required")
	}
	if clone.Buyer == clone.Seller {
		return nil, fmt.Errorf("dispute: buyer and seller must differ")
	}
	clone.Token = strings.ToUpper(strings.TrimSpace(clone.Token))
	if clone.Token == "" {
		return nil, fmt.Errorf("dispute: settlement token required")
	}
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("dispute: amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("dispute: invalid status %d", clone.Status)
	}
	if !clone.Ruling.Valid() {
		return nil, fmt.Errorf("dispute: invalid ruling %d", clone.Ruling)
	}
	seen := make(map[[20]byte]struct{}, PanelSize)
	for _, member := range clone.Panel {
		if member == ([20]byte{}) {
			return nil, fmt.Errorf("dispute: panel slot unset")
		}
		if member == clone.Buyer || member == clone.Seller {
			return nil, fmt.Errorf("dispute: party cannot arbitrate its own dispute")
		}
		if _, dup := seen[member]; dup {
			return nil, fmt.Errorf("dispute: duplicate panel member")
		}
		seen[member] = struct{}{}
	}
	for _, ballot := range clone.Ballots {
		if !ballot.Valid() {
			return nil, fmt.Errorf("dispute: invalid ballot %d", ballot)
		}
	}
	return clone, nil
}

// ArbiterStats is an arbitrator's lifetime voting record as reported by the
// ledger's indexer. MajorityRateBps is the share of votes cast with the final
// majority, in basis points.
type ArbiterStats struct {
	Address         [20]byte
	DisputesHandled uint64
	MajorityRateBps uint32
}
