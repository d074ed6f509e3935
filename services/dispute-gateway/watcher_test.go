package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"tribunal/ledger"
	"tribunal/native/dispute"
)

func newTestWatcher(t *testing.T) (*EventWatcher, *dispute.Engine, *mockLedgerClient, *SQLiteStore) {
	t.Helper()
	client := &mockLedgerClient{disputes: make(map[uint64]*dispute.Dispute)}
	snapshots := dispute.NewMemoryStore()
	engine := dispute.NewEngine()
	engine.SetState(snapshots)
	engine.SetNowFunc(func() int64 { return testNowUnix })

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "watcher.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	watcher := NewEventWatcher(client, engine, snapshots, store, slog.Default())
	watcher.nowFn = func() time.Time { return time.Unix(testNowUnix, 0) }
	return watcher, engine, client, store
}

func TestWatcherAppliesEventStream(t *testing.T) {
	watcher, engine, client, store := newTestWatcher(t)
	client.disputes[1] = seedDispute(1, dispute.StatusEvidence)
	client.events = []ledger.Event{
		{Sequence: 1, Type: dispute.EventTypeDisputeFiled, Attributes: map[string]string{"id": "1"}, Timestamp: testNowUnix},
		{Sequence: 2, Type: dispute.EventTypeEvidence, Attributes: map[string]string{"id": "1", "uri": "ipfs://reply"}, Timestamp: testNowUnix + 10},
		{Sequence: 3, Type: dispute.EventTypeVoteCast, Attributes: map[string]string{"id": "1", "arbiter": "0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a", "ballot": "buyer"}, Timestamp: testNowUnix + 20},
		{Sequence: 4, Type: dispute.EventTypeVoteCast, Attributes: map[string]string{"id": "1", "arbiter": "0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b", "ballot": "buyer"}, Timestamp: testNowUnix + 30},
		{Sequence: 5, Type: dispute.EventTypeDisputeResolved, Attributes: map[string]string{"id": "1", "outcome": "buyer_wins", "resolvedAt": "1700000100"}, Timestamp: testNowUnix + 100},
	}

	last := watcher.poll(context.Background(), 0)
	if last != 5 {
		t.Fatalf("cursor = %d, want 5", last)
	}

	d, err := engine.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != dispute.StatusResolved || d.Ruling != dispute.RulingBuyerWins {
		t.Fatalf("record = %s/%s", d.Status, d.Ruling)
	}
	if d.ResolvedAt != 1_700_000_100 {
		t.Fatalf("resolvedAt = %d", d.ResolvedAt)
	}

	persisted, err := store.LastEventSequence(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if persisted != 5 {
		t.Fatalf("persisted cursor = %d", persisted)
	}
}

func TestWatcherSettlesPendingIntent(t *testing.T) {
	watcher, engine, client, _ := newTestWatcher(t)
	if err := engine.ApplyFiled(seedDispute(1, dispute.StatusOpen)); err != nil {
		t.Fatal(err)
	}

	conf := watcher.Register("ref-1")
	client.events = []ledger.Event{
		{Sequence: 1, Type: dispute.EventTypeEvidence, Attributes: map[string]string{"id": "1", "uri": "ipfs://reply", "ref": "ref-1"}, Timestamp: testNowUnix + 10},
	}
	watcher.poll(context.Background(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	evt, err := conf.Wait(ctx)
	if err != nil {
		t.Fatalf("confirmation: %v", err)
	}
	if evt.Sequence != 1 {
		t.Fatalf("sequence = %d", evt.Sequence)
	}
}

func TestWatcherConfirmsIntentWithoutPendingFuture(t *testing.T) {
	watcher, engine, client, store := newTestWatcher(t)
	if err := engine.ApplyFiled(seedDispute(1, dispute.StatusOpen)); err != nil {
		t.Fatal(err)
	}

	// The handler's bounded wait expired and the registration was dropped;
	// the confirmation lands on a later poll. The journal must still flip to
	// confirmed so polling the reference converges.
	ctx := context.Background()
	if err := store.RecordIntentSubmitted(ctx, "ref-9", "submit_counter_evidence", 1, "0x0202020202020202020202020202020202020202", "0xtx", time.Unix(testNowUnix, 0)); err != nil {
		t.Fatal(err)
	}
	client.events = []ledger.Event{
		{Sequence: 1, Type: dispute.EventTypeEvidence, Attributes: map[string]string{"id": "1", "uri": "ipfs://reply", "ref": "ref-9"}, Timestamp: testNowUnix + 10},
	}
	watcher.poll(ctx, 0)

	intent, err := store.IntentByReference(ctx, "ref-9")
	if err != nil {
		t.Fatal(err)
	}
	if intent.Status != intentStatusConfirmed {
		t.Fatalf("status = %q, want %q", intent.Status, intentStatusConfirmed)
	}
	if intent.SettledAt.IsZero() {
		t.Fatal("confirmation must record a settlement time")
	}
}

func TestWatcherResyncsOnDrift(t *testing.T) {
	watcher, engine, client, _ := newTestWatcher(t)
	if err := engine.ApplyFiled(seedDispute(1, dispute.StatusOpen)); err != nil {
		t.Fatal(err)
	}

	// The ledger confirms a ballot from an address outside the known panel:
	// local drift. The watcher must re-fetch the authoritative record and
	// lift the quarantine.
	authoritative := seedDispute(1, dispute.StatusVoting)
	authoritative.SellerEvidenceURI = "ipfs://reply"
	authoritative.Panel = [dispute.PanelSize][20]byte{addr20(0x55), addr20(0x0B), addr20(0x0C)}
	client.disputes[1] = authoritative

	client.events = []ledger.Event{
		{Sequence: 1, Type: dispute.EventTypeEvidence, Attributes: map[string]string{"id": "1", "uri": "ipfs://reply"}, Timestamp: testNowUnix + 10},
		{Sequence: 2, Type: dispute.EventTypeVoteCast, Attributes: map[string]string{"id": "1", "arbiter": "0x5555555555555555555555555555555555555555", "ballot": "buyer"}, Timestamp: testNowUnix + 20},
	}
	watcher.poll(context.Background(), 0)

	if engine.Quarantined(1) {
		t.Fatal("watcher should have resynced the quarantined record")
	}
	d, err := engine.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Panel[0] != addr20(0x55) {
		t.Fatal("resync must install the authoritative panel")
	}
}

func TestWatcherTicksEvidenceDeadlines(t *testing.T) {
	watcher, engine, _, _ := newTestWatcher(t)
	if err := engine.ApplyFiled(seedDispute(1, dispute.StatusOpen)); err != nil {
		t.Fatal(err)
	}

	watcher.nowFn = func() time.Time { return time.Unix(testNowUnix+dispute.EvidenceWindowSecs+1, 0) }
	watcher.tickDeadlines()

	d, err := engine.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != dispute.StatusVoting {
		t.Fatalf("status = %s, want voting after deadline tick", d.Status)
	}
}

func TestWatcherIgnoresUnknownEventTypes(t *testing.T) {
	watcher, _, client, _ := newTestWatcher(t)
	client.events = []ledger.Event{
		{Sequence: 1, Type: "escrow.trade.settled", Attributes: map[string]string{"id": "1"}, Timestamp: testNowUnix},
	}
	if last := watcher.poll(context.Background(), 0); last != 1 {
		t.Fatalf("cursor = %d, want 1", last)
	}
}
