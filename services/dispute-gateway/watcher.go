package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tribunal/ledger"
	"tribunal/native/dispute"
	"tribunal/observability/metrics"
)

// EventWatcher pulls confirmed events from the ledger node, journals them,
// applies them to the lifecycle engine and settles pending intent futures.
// It also drives the evidence-deadline tick on every poll.
type EventWatcher struct {
	client       ledger.Client
	engine       *dispute.Engine
	snapshots    *dispute.MemoryStore
	store        *SQLiteStore
	logger       *slog.Logger
	metrics      *metrics.DisputeMetrics
	pollInterval time.Duration
	batchSize    int
	nowFn        func() time.Time

	mu      sync.Mutex
	pending map[string]*ledger.Confirmation
}

func NewEventWatcher(client ledger.Client, engine *dispute.Engine, snapshots *dispute.MemoryStore, store *SQLiteStore, logger *slog.Logger) *EventWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWatcher{
		client:       client,
		engine:       engine,
		snapshots:    snapshots,
		store:        store,
		logger:       logger,
		metrics:      metrics.Dispute(),
		pollInterval: 5 * time.Second,
		batchSize:    100,
		nowFn:        time.Now,
		pending:      make(map[string]*ledger.Confirmation),
	}
}

// Register returns a future settled when the event stream delivers the
// confirmation for the intent reference.
func (w *EventWatcher) Register(ref string) *ledger.Confirmation {
	conf := ledger.NewConfirmation()
	w.mu.Lock()
	w.pending[ref] = conf
	w.mu.Unlock()
	return conf
}

// Drop forgets a pending registration, typically after a wait timed out.
func (w *EventWatcher) Drop(ref string) {
	w.mu.Lock()
	delete(w.pending, ref)
	w.mu.Unlock()
}

// settle resolves the pending future for the reference, if any, and records
// the confirmation in the intent journal. The journal write does not depend on
// a registered future: an intent whose handler wait timed out must still flip
// to confirmed so polling the reference converges.
func (w *EventWatcher) settle(ctx context.Context, ref string, evt *ledger.Event) {
	if strings.TrimSpace(ref) == "" {
		return
	}
	w.mu.Lock()
	conf, ok := w.pending[ref]
	if ok {
		delete(w.pending, ref)
	}
	w.mu.Unlock()
	if ok {
		conf.Resolve(evt)
	}
	if w.store != nil {
		if err := w.store.MarkIntentConfirmed(ctx, ref, w.nowFn()); err != nil {
			w.logger.Error("mark intent confirmed failed", "ref", ref, "err", err)
		}
	}
}

// Run starts the polling loop until the context is cancelled.
func (w *EventWatcher) Run(ctx context.Context) {
	if w.client == nil || w.engine == nil || w.store == nil {
		return
	}
	interval := w.pollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	after, _ := w.store.LastEventSequence(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			after = w.poll(ctx, after)
			w.tickDeadlines()
		}
	}
}

func (w *EventWatcher) poll(ctx context.Context, after int64) int64 {
	batch := w.batchSize
	if batch <= 0 {
		batch = 100
	}
	events, err := w.client.FetchEvents(ctx, after, batch)
	if err != nil {
		w.logger.Warn("fetch events failed", "after", after, "err", err)
		return after
	}
	lastSeq := after
	for i := range events {
		evt := events[i]
		if evt.Sequence <= lastSeq {
			continue
		}
		w.journal(ctx, evt)
		w.apply(ctx, evt)
		w.settle(ctx, evt.Attributes["ref"], &events[i])
		lastSeq = evt.Sequence
	}
	if lastSeq != after {
		if err := w.store.UpdateEventSequence(ctx, lastSeq); err != nil {
			w.logger.Error("persist event cursor failed", "sequence", lastSeq, "err", err)
		}
	}
	if len(events) > 0 {
		newest := events[len(events)-1]
		if newest.Timestamp > 0 {
			w.metrics.SetEventLag(w.nowFn().Sub(time.Unix(newest.Timestamp, 0)).Seconds())
		}
	}
	return lastSeq
}

func (w *EventWatcher) journal(ctx context.Context, evt ledger.Event) {
	createdAt := time.Unix(evt.Timestamp, 0)
	if evt.Timestamp == 0 {
		createdAt = w.nowFn().UTC()
	}
	payload := make(map[string]string, len(evt.Attributes))
	for k, v := range evt.Attributes {
		payload[k] = v
	}
	stored := StoredEvent{
		Sequence:  evt.Sequence,
		Type:      evt.Type,
		Height:    evt.Height,
		TxHash:    evt.TxHash,
		Payload:   payload,
		CreatedAt: createdAt,
	}
	if err := w.store.InsertEvent(ctx, stored); err != nil {
		w.logger.Error("journal event failed", "sequence", evt.Sequence, "err", err)
	}
}

// apply dispatches a confirmed event into the engine. An invariant violation
// freezes the record; the watcher immediately requests an authoritative
// snapshot and resyncs.
func (w *EventWatcher) apply(ctx context.Context, evt ledger.Event) {
	id, err := eventDisputeID(evt)
	if err != nil {
		w.logger.Warn("skip event without dispute id", "sequence", evt.Sequence, "type", evt.Type)
		return
	}
	if err := w.dispatch(ctx, id, evt); err != nil {
		if dispute.IsInvariantViolation(err) {
			w.metrics.ObserveInvariantViolation()
			w.metrics.SetQuarantined(w.engine.QuarantinedCount())
			w.logger.Error("local model drifted from ledger", "dispute", id, "event", evt.Type, "err", err)
			w.resync(ctx, id)
			w.metrics.SetQuarantined(w.engine.QuarantinedCount())
			return
		}
		w.logger.Warn("apply event failed", "dispute", id, "event", evt.Type, "err", err)
		return
	}
	w.metrics.ObserveTransition(evt.Type)
}

func (w *EventWatcher) dispatch(ctx context.Context, id uint64, evt ledger.Event) error {
	switch evt.Type {
	case dispute.EventTypeDisputeFiled:
		rec, err := w.client.DisputeGet(ctx, id)
		if err != nil {
			return err
		}
		return w.engine.ApplyFiled(rec)
	case dispute.EventTypeEvidence:
		return w.engine.ApplyCounterEvidence(id, evt.Attributes["uri"])
	case dispute.EventTypeVotingOpened:
		return w.engine.AdvanceExpiredEvidence(id, evt.Timestamp)
	case dispute.EventTypeVoteCast:
		arbiter, err := attrAddress(evt, "arbiter")
		if err != nil {
			return err
		}
		ballot, err := dispute.ParseBallot(evt.Attributes["ballot"])
		if err != nil {
			return err
		}
		return w.engine.ApplyVote(id, arbiter, ballot)
	case dispute.EventTypeDisputeResolved:
		outcome, err := dispute.ParseOutcome(evt.Attributes["outcome"])
		if err != nil {
			return err
		}
		resolvedAt := evt.Timestamp
		if raw := strings.TrimSpace(evt.Attributes["resolvedAt"]); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
				resolvedAt = parsed
			}
		}
		return w.engine.ApplyResolved(id, outcome, resolvedAt)
	case dispute.EventTypeAppealFiled:
		filer, err := attrAddress(evt, "filer")
		if err != nil {
			return err
		}
		appealID, err := strconv.ParseUint(strings.TrimSpace(evt.Attributes["appealDisputeId"]), 10, 64)
		if err != nil {
			return fmt.Errorf("appeal event missing fork id: %w", err)
		}
		appeal, err := w.client.DisputeGet(ctx, appealID)
		if err != nil {
			return err
		}
		return w.engine.ApplyAppealFiled(id, filer, appeal, evt.Timestamp)
	case dispute.EventTypeDisputeFinalized:
		return w.engine.ApplyFinalized(id, evt.Timestamp)
	default:
		// Unknown event types are journaled but not applied.
		return nil
	}
}

// resync replaces the local snapshot with an authoritative ledger read and
// lifts the quarantine.
func (w *EventWatcher) resync(ctx context.Context, id uint64) {
	rec, err := w.client.DisputeGet(ctx, id)
	if err != nil {
		w.logger.Error("resync fetch failed", "dispute", id, "err", err)
		return
	}
	if err := w.engine.Resync(rec); err != nil {
		w.logger.Error("resync apply failed", "dispute", id, "err", err)
		return
	}
	w.logger.Info("record resynced", "dispute", id)
}

// tickDeadlines advances any evidence-phase dispute whose counter-evidence
// window elapsed. Safe to run on every poll.
func (w *EventWatcher) tickDeadlines() {
	if w.snapshots == nil {
		return
	}
	now := w.nowFn().Unix()
	for _, id := range w.snapshots.DisputeIDs() {
		if err := w.engine.AdvanceExpiredEvidence(id, now); err != nil {
			w.logger.Warn("deadline tick failed", "dispute", id, "err", err)
		}
	}
}

func eventDisputeID(evt ledger.Event) (uint64, error) {
	raw := strings.TrimSpace(evt.Attributes["id"])
	if raw == "" {
		return 0, fmt.Errorf("event %d carries no dispute id", evt.Sequence)
	}
	return strconv.ParseUint(raw, 10, 64)
}

func attrAddress(evt ledger.Event, key string) ([20]byte, error) {
	raw := strings.TrimSpace(evt.Attributes[key])
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	if !common.IsHexAddress(raw) {
		return [20]byte{}, fmt.Errorf("event %d attribute %s is not an address", evt.Sequence, key)
	}
	return common.HexToAddress(raw), nil
}
