package dispute

import (
	"encoding/hex"
	"strconv"

	"tribunal/core/events"
)

const (
	EventTypeDisputeFiled     = "dispute.filed"
	EventTypeEvidence         = "dispute.evidence"
	EventTypeVoteCast         = "dispute.vote"
	EventTypeVotingOpened     = "dispute.voting"
	EventTypeDisputeResolved  = "dispute.resolved"
	EventTypeAppealFiled      = "dispute.appealed"
	EventTypeDisputeFinalized = "dispute.finalized"
	EventTypeQuarantined      = "dispute.quarantined"
)

type disputeEvent struct {
	rec *events.Record
}

func (e disputeEvent) EventType() string {
	if e.rec == nil {
		return ""
	}
	return e.rec.Type
}

func (e disputeEvent) Record() *events.Record { return e.rec }

// NewFiledEvent returns the canonical payload for a newly filed dispute.
func NewFiledEvent(d *Dispute) *events.Record { return newDisputeEvent(EventTypeDisputeFiled, d) }

// NewEvidenceEvent returns the payload emitted when the seller's
// counter-evidence is recorded.
func NewEvidenceEvent(d *Dispute) *events.Record { return newDisputeEvent(EventTypeEvidence, d) }

// NewVotingOpenedEvent returns the payload emitted when the evidence deadline
// elapses with no seller submission and ballots open.
func NewVotingOpenedEvent(d *Dispute) *events.Record {
	return newDisputeEvent(EventTypeVotingOpened, d)
}

// NewVoteEvent returns the payload emitted for a confirmed panel ballot.
func NewVoteEvent(d *Dispute, arbiter [20]byte, ballot Ballot) *events.Record {
	rec := newDisputeEvent(EventTypeVoteCast, d)
	rec.Attributes["arbiter"] = hex.EncodeToString(arbiter[:])
	rec.Attributes["ballot"] = ballot.String()
	tally := TallyBallots(d.Ballots)
	rec.Attributes["votesForBuyer"] = strconv.FormatUint(uint64(tally.VotesForBuyer), 10)
	rec.Attributes["votesForSeller"] = strconv.FormatUint(uint64(tally.VotesForSeller), 10)
	return rec
}

// NewResolvedEvent returns the payload emitted when a ruling executes.
func NewResolvedEvent(d *Dispute, outcome Outcome) *events.Record {
	rec := newDisputeEvent(EventTypeDisputeResolved, d)
	rec.Attributes["outcome"] = outcome.String()
	return rec
}

// NewAppealEvent returns the payload emitted when an appeal forks a fresh
// dispute off a resolved one.
func NewAppealEvent(original, appeal *Dispute) *events.Record {
	rec := newDisputeEvent(EventTypeAppealFiled, original)
	if appeal != nil {
		rec.Attributes["appealDisputeId"] = strconv.FormatUint(appeal.ID, 10)
	}
	return rec
}

// NewFinalizedEvent returns the payload emitted when a ruling's consequences
// are executed and the record becomes terminal.
func NewFinalizedEvent(d *Dispute) *events.Record {
	return newDisputeEvent(EventTypeDisputeFinalized, d)
}

// NewQuarantinedEvent flags a record whose local model drifted from the
// ledger and is frozen pending resync.
func NewQuarantinedEvent(id uint64, detail string) *events.Record {
	return &events.Record{Type: EventTypeQuarantined, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"detail": detail,
	}}
}

func newDisputeEvent(eventType string, d *Dispute) *events.Record {
	attrs := make(map[string]string)
	if d == nil {
		return &events.Record{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(d.ID, 10)
	attrs["buyer"] = hex.EncodeToString(d.Buyer[:])
	attrs["seller"] = hex.EncodeToString(d.Seller[:])
	attrs["token"] = d.Token
	if d.Amount != nil {
		attrs["amount"] = d.Amount.String()
	}
	attrs["status"] = d.Status.String()
	attrs["ruling"] = d.Ruling.String()
	attrs["createdAt"] = strconv.FormatInt(d.CreatedAt, 10)
	if d.ResolvedAt > 0 {
		attrs["resolvedAt"] = strconv.FormatInt(d.ResolvedAt, 10)
	}
	if d.IsAppealDispute {
		attrs["isAppeal"] = "true"
	}
	return &events.Record{Type: eventType, Attributes: attrs}
}
