package dispute

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tribunal/core/events"
	nativecommon "tribunal/native/common"
)

const moduleName = "dispute"

var (
	errNilState = errors.New("dispute engine: state not configured")

	// ErrNotFound is returned when no snapshot exists for the dispute id.
	ErrNotFound = errors.New("dispute engine: dispute not found")

	// ErrQuarantined is returned while a record is frozen after an invariant
	// violation. Only a full resync from the ledger lifts it.
	ErrQuarantined = errors.New("dispute engine: record quarantined pending resync")
)

type engineState interface {
	DisputePut(*Dispute) error
	DisputeGet(id uint64) (*Dispute, bool)
	ArbiterStatsGet(addr [20]byte) (ArbiterStats, bool)
}

// Engine owns the canonical in-memory mirror of dispute records and
// validates and applies transitions. The ledger remains the authority: every
// transition here is driven either by a ledger-confirmed event (Apply*) or by
// a fail-fast local validation ahead of an intent submission (ValidateAction).
// Transitions for one dispute id are strictly serialized; distinct ids run in
// parallel.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	pauses  nativecommon.PauseView

	mu          sync.Mutex
	locks       map[uint64]*sync.Mutex
	quarantined map[uint64]struct{}
}

// NewEngine creates a dispute engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
		locks:       make(map[uint64]*sync.Mutex),
		quarantined: make(map[uint64]struct{}),
	}
}

// SetState configures the snapshot store used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses wires the administrative pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

func (e *Engine) emit(rec *events.Record) {
	if e == nil || e.emitter == nil || rec == nil {
		return
	}
	e.emitter.Emit(disputeEvent{rec: rec})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockFor returns the per-dispute mutex, creating it on first use.
func (e *Engine) lockFor(id uint64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Quarantined reports whether the record is frozen pending resync.
func (e *Engine) Quarantined(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.quarantined[id]
	return ok
}

// QuarantinedCount reports how many records are currently frozen.
func (e *Engine) QuarantinedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.quarantined)
}

func (e *Engine) checkQuarantine(id uint64) error {
	if e.Quarantined(id) {
		return fmt.Errorf("%w: dispute %d", ErrQuarantined, id)
	}
	return nil
}

// quarantine freezes the record and surfaces the violation as a hard error.
// It is never swallowed: the caller must trigger a resync.
func (e *Engine) quarantine(id uint64, event, detail string) error {
	e.mu.Lock()
	e.quarantined[id] = struct{}{}
	e.mu.Unlock()
	e.emit(NewQuarantinedEvent(id, detail))
	return &InvariantViolationError{DisputeID: id, Event: event, Detail: detail}
}

func (e *Engine) load(id uint64) (*Dispute, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	d, ok := e.state.DisputeGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return d, nil
}

func (e *Engine) store(d *Dispute) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.DisputePut(d)
}

// Get returns a copy of the last confirmed snapshot for the dispute.
func (e *Engine) Get(id uint64) (*Dispute, error) {
	d, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// ApplyFiled records a newly filed dispute confirmed by the ledger. Filing
// immediately advances Open to Evidence; a record observed as Open is
// normalised on ingest. The operation is idempotent for identical records.
func (e *Engine) ApplyFiled(rec *Dispute) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	sanitized, err := Sanitize(rec)
	if err != nil {
		return err
	}
	lock := e.lockFor(sanitized.ID)
	lock.Lock()
	defer lock.Unlock()
	if err := e.checkQuarantine(sanitized.ID); err != nil {
		return err
	}
	if existing, ok := e.state.DisputeGet(sanitized.ID); ok {
		if existing.Buyer != sanitized.Buyer || existing.Seller != sanitized.Seller ||
			existing.CreatedAt != sanitized.CreatedAt || existing.Panel != sanitized.Panel {
			return e.quarantine(sanitized.ID, EventTypeDisputeFiled, "filed event conflicts with known record")
		}
		return nil
	}
	if sanitized.Status == StatusOpen {
		sanitized.Status = StatusEvidence
	}
	if sanitized.Status != StatusEvidence {
		return e.quarantine(sanitized.ID, EventTypeDisputeFiled, fmt.Sprintf("filed record in status %s", sanitized.Status))
	}
	if sanitized.BuyerEvidenceURI == "" {
		return fmt.Errorf("dispute: filing requires buyer evidence")
	}
	if sanitized.CounterEvidenceDeadline == 0 {
		sanitized.CounterEvidenceDeadline = sanitized.CreatedAt + EvidenceWindowSecs
	}
	if err := e.store(sanitized); err != nil {
		return err
	}
	e.emit(NewFiledEvent(sanitized))
	return nil
}

// ApplyCounterEvidence records the seller's confirmed counter-evidence and
// opens voting. A duplicate confirmation is ignored; a conflicting URI on a
// write-once field quarantines the record.
func (e *Engine) ApplyCounterEvidence(id uint64, uri string) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := e.checkQuarantine(id); err != nil {
		return err
	}
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if uri == "" {
		return fmt.Errorf("dispute: counter-evidence uri required")
	}
	if d.Status.after(StatusEvidence) {
		switch d.SellerEvidenceURI {
		case uri:
			return nil
		case "":
			// The deadline tick advanced the record before the confirmation
			// arrived; the ledger accepted the evidence, so record it.
			d.SellerEvidenceURI = uri
			return e.store(d)
		default:
			return e.quarantine(id, EventTypeEvidence, "counter-evidence conflicts with write-once field")
		}
	}
	if d.Status != StatusEvidence {
		return e.quarantine(id, EventTypeEvidence, fmt.Sprintf("counter-evidence in status %s", d.Status))
	}
	d.SellerEvidenceURI = uri
	d.Status = StatusVoting
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewEvidenceEvent(d))
	return nil
}

// AdvanceExpiredEvidence transitions Evidence to Voting once the
// counter-evidence deadline elapses with no seller submission. It is a pure
// function of wall-clock time, safe to call on every tick: a call before the
// deadline or after the transition is a no-op.
func (e *Engine) AdvanceExpiredEvidence(id uint64, now int64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := e.checkQuarantine(id); err != nil {
		return err
	}
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if d.Status != StatusEvidence || now < d.CounterEvidenceDeadline {
		return nil
	}
	d.Status = StatusVoting
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewVotingOpenedEvent(d))
	return nil
}

// ApplyVote records a confirmed panel ballot. Late confirmations against an
// already resolved dispute are ignored idempotently; a vote from a
// non-panelist or a second differing ballot from the same arbitrator
// quarantines the record.
func (e *Engine) ApplyVote(id uint64, arbiter [20]byte, ballot Ballot) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := e.checkQuarantine(id); err != nil {
		return err
	}
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if ballot != BallotBuyer && ballot != BallotSeller {
		return fmt.Errorf("dispute: confirmed ballot must pick a side")
	}
	idx := d.PanelIndex(arbiter)
	if idx < 0 {
		return e.quarantine(id, EventTypeVoteCast, "ballot from address outside the panel")
	}
	if d.Status.after(StatusVoting) {
		// Confirmation arrived after resolution; the ledger already counted
		// it. Record it only if the slot agrees or is empty.
		if d.Ballots[idx] == ballot || d.Ballots[idx] == BallotUnset {
			return nil
		}
		return e.quarantine(id, EventTypeVoteCast, "late ballot conflicts with recorded vote")
	}
	if d.Status != StatusVoting {
		return e.quarantine(id, EventTypeVoteCast, fmt.Sprintf("ballot in status %s", d.Status))
	}
	if d.Ballots[idx] != BallotUnset {
		if d.Ballots[idx] == ballot {
			return nil
		}
		return e.quarantine(id, EventTypeVoteCast, "arbitrator voted twice")
	}
	d.Ballots[idx] = ballot
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewVoteEvent(d, arbiter, ballot))
	return nil
}

// ApplyResolved executes a ledger-confirmed ruling. The resolution timestamp
// comes from the confirmed event, never from the local clock, because it
// anchors the appeal window. The local tally must agree with the reported
// outcome; disagreement quarantines the record.
func (e *Engine) ApplyResolved(id uint64, outcome Outcome, resolvedAt int64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := e.checkQuarantine(id); err != nil {
		return err
	}
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if outcome == OutcomePending {
		return fmt.Errorf("dispute: resolution outcome must be decided")
	}
	if resolvedAt <= 0 {
		return fmt.Errorf("dispute: resolution requires a ledger-confirmed timestamp")
	}
	if d.Status.after(StatusVoting) {
		if d.Ruling == outcome.Ruling() {
			return nil
		}
		return e.quarantine(id, EventTypeDisputeResolved, "duplicate resolution with conflicting ruling")
	}
	if d.Status != StatusVoting {
		return e.quarantine(id, EventTypeDisputeResolved, fmt.Sprintf("resolution in status %s", d.Status))
	}
	tally := TallyBallots(d.Ballots)
	if tally.TotalVotes < 2 {
		return e.quarantine(id, EventTypeDisputeResolved, "resolution without a vote majority")
	}
	if tally.Concluded() != outcome {
		return e.quarantine(id, EventTypeDisputeResolved,
			fmt.Sprintf("ledger outcome %s disagrees with local tally %s", outcome, tally.Concluded()))
	}
	d.Status = StatusResolved
	d.Ruling = outcome.Ruling()
	d.ResolvedAt = resolvedAt
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewResolvedEvent(d, outcome))
	return nil
}

// ApplyAppealFiled links a confirmed appeal to its original dispute and
// materialises the fresh appeal record. The appeal panel must exclude every
// original arbitrator. filedAt is the ledger-confirmed filing time used to
// re-check the appeal window.
func (e *Engine) ApplyAppealFiled(id uint64, filer [20]byte, appeal *Dispute, filedAt int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	sanitized, err := Sanitize(appeal)
	if err != nil {
		return err
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := e.checkQuarantine(id); err != nil {
		return err
	}
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if d.Status == StatusAppealed {
		if d.AppealDisputeID == sanitized.ID {
			return nil
		}
		return e.quarantine(id, EventTypeAppealFiled, "second appeal against an appealed dispute")
	}
	if d.Status != StatusResolved {
		return e.quarantine(id, EventTypeAppealFiled, fmt.Sprintf("appeal in status %s", d.Status))
	}
	if d.IsAppealDispute {
		return e.quarantine(id, EventTypeAppealFiled, "appeal dispute cannot be appealed again")
	}
	if d.AppealDisputeID != 0 {
		return e.quarantine(id, EventTypeAppealFiled, "appeal already linked")
	}
	if !isLosingParty(d, filer) {
		return e.quarantine(id, EventTypeAppealFiled, "appeal filed by a non-losing party")
	}
	if !appealWindowOpen(d, filedAt) {
		return e.quarantine(id, EventTypeAppealFiled, "appeal confirmed outside the appeal window")
	}
	if !sanitized.IsAppealDispute {
		return e.quarantine(id, EventTypeAppealFiled, "forked record not marked as appeal dispute")
	}
	if d.PanelOverlaps(sanitized.Panel) {
		return e.quarantine(id, EventTypeAppealFiled, "appeal panel overlaps original panel")
	}
	if sanitized.Buyer != d.Buyer || sanitized.Seller != d.Seller {
		return e.quarantine(id, EventTypeAppealFiled, "appeal parties differ from original")
	}
	if err := e.ingestAppealRecord(sanitized); err != nil {
		return err
	}
	d.Status = StatusAppealed
	d.AppealDisputeID = sanitized.ID
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewAppealEvent(d, sanitized))
	return nil
}

// ingestAppealRecord stores the freshly forked dispute. Ledger ids are
// monotonic so the appeal id is always above the original, keeping the lock
// order consistent.
func (e *Engine) ingestAppealRecord(appeal *Dispute) error {
	lock := e.lockFor(appeal.ID)
	lock.Lock()
	defer lock.Unlock()
	if existing, ok := e.state.DisputeGet(appeal.ID); ok {
		if existing.CreatedAt != appeal.CreatedAt || existing.Panel != appeal.Panel {
			return e.quarantine(appeal.ID, EventTypeAppealFiled, "appeal record conflicts with known record")
		}
		return nil
	}
	if appeal.Status == StatusOpen {
		appeal.Status = StatusEvidence
	}
	if appeal.CounterEvidenceDeadline == 0 {
		appeal.CounterEvidenceDeadline = appeal.CreatedAt + EvidenceWindowSecs
	}
	if err := e.store(appeal); err != nil {
		return err
	}
	e.emit(NewFiledEvent(appeal))
	return nil
}

// ApplyFinalized records the ledger-confirmed execution of a ruling's fund
// movements. Valid only once the appeal window elapsed with no appeal, or
// immediately for resolved appeal disputes.
func (e *Engine) ApplyFinalized(id uint64, finalizedAt int64) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := e.checkQuarantine(id); err != nil {
		return err
	}
	d, err := e.load(id)
	if err != nil {
		return err
	}
	if d.Status == StatusFinalized {
		return nil
	}
	if d.Status != StatusResolved {
		return e.quarantine(id, EventTypeDisputeFinalized, fmt.Sprintf("finalize in status %s", d.Status))
	}
	if !d.IsAppealDispute {
		if d.AppealDisputeID != 0 {
			return e.quarantine(id, EventTypeDisputeFinalized, "finalize on an appealed dispute")
		}
		if !appealWindowElapsed(d, finalizedAt) {
			return e.quarantine(id, EventTypeDisputeFinalized, "finalize before the appeal window elapsed")
		}
	}
	d.Status = StatusFinalized
	if err := e.store(d); err != nil {
		return err
	}
	e.emit(NewFinalizedEvent(d))
	return nil
}

// Resync replaces the local snapshot with an authoritative read from the
// ledger and lifts any quarantine on the record.
func (e *Engine) Resync(rec *Dispute) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	sanitized, err := Sanitize(rec)
	if err != nil {
		return err
	}
	lock := e.lockFor(sanitized.ID)
	lock.Lock()
	defer lock.Unlock()
	if err := e.store(sanitized); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.quarantined, sanitized.ID)
	e.mu.Unlock()
	return nil
}
