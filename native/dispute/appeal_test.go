package dispute

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

type stubSubmitter struct {
	bondErr   error
	submitErr error

	bondCalls   int
	submitCalls int
	bondAmount  *big.Int

	appeal  *Dispute
	filedAt int64
}

func (s *stubSubmitter) PostAppealBond(_ context.Context, _ uint64, _ [20]byte, amount *big.Int) error {
	s.bondCalls++
	s.bondAmount = amount
	return s.bondErr
}

func (s *stubSubmitter) SubmitAppeal(context.Context, uint64, [20]byte) (*Dispute, int64, error) {
	s.submitCalls++
	if s.submitErr != nil {
		return nil, 0, s.submitErr
	}
	return s.appeal, s.filedAt, nil
}

func newTestCoordinator(t *testing.T) (*AppealCoordinator, *Engine, *stubSubmitter, int64) {
	t.Helper()
	engine, _, _ := newTestEngine(t)
	resolvedAt := resolvedOnEngine(t, engine, RulingSellerWins)
	engine.SetNowFunc(func() int64 { return resolvedAt + 3600 })

	submitter := &stubSubmitter{filedAt: resolvedAt + 3600}
	appeal := appealRecord(2)
	appeal.CreatedAt = submitter.filedAt
	appeal.CounterEvidenceDeadline = submitter.filedAt + EvidenceWindowSecs
	submitter.appeal = appeal

	coordinator := NewAppealCoordinator(engine, submitter, big.NewInt(250))
	coordinator.SetNowFunc(func() int64 { return resolvedAt + 3600 })
	return coordinator, engine, submitter, resolvedAt
}

func TestFileAppealHappyPath(t *testing.T) {
	coordinator, engine, submitter, _ := newTestCoordinator(t)

	forked, err := coordinator.FileAppeal(context.Background(), 1, addr(0x01))
	if err != nil {
		t.Fatalf("file appeal: %v", err)
	}
	if forked.ID != 2 || !forked.IsAppealDispute || forked.Status != StatusEvidence {
		t.Fatalf("forked = %+v", forked)
	}
	if submitter.bondCalls != 1 || submitter.submitCalls != 1 {
		t.Fatalf("calls = %d/%d", submitter.bondCalls, submitter.submitCalls)
	}
	if submitter.bondAmount.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("bond = %s", submitter.bondAmount)
	}

	original, err := engine.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if original.Status != StatusAppealed || original.AppealDisputeID != 2 {
		t.Fatalf("original = %s appeal=%d", original.Status, original.AppealDisputeID)
	}
}

func TestFileAppealBondFailureLeavesOriginalUntouched(t *testing.T) {
	coordinator, engine, submitter, _ := newTestCoordinator(t)
	submitter.bondErr = errors.New("insufficient balance")

	if _, err := coordinator.FileAppeal(context.Background(), 1, addr(0x01)); err == nil {
		t.Fatal("bond failure must abort the flow")
	}
	if submitter.submitCalls != 0 {
		t.Fatal("appeal intent must not be submitted without a confirmed bond")
	}
	original, err := engine.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if original.Status != StatusResolved || original.AppealDisputeID != 0 {
		t.Fatalf("original mutated: %s appeal=%d", original.Status, original.AppealDisputeID)
	}
}

func TestFileAppealSubmissionFailure(t *testing.T) {
	coordinator, engine, submitter, _ := newTestCoordinator(t)
	submitter.submitErr = errors.New("ledger rejected intent")

	if _, err := coordinator.FileAppeal(context.Background(), 1, addr(0x01)); err == nil {
		t.Fatal("submission failure must surface")
	}
	original, err := engine.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if original.Status != StatusResolved {
		t.Fatalf("original mutated: %s", original.Status)
	}
}

func TestFileAppealRejectsIneligibleFiler(t *testing.T) {
	coordinator, _, submitter, _ := newTestCoordinator(t)

	// The winning party fails the local check before any ledger round-trip.
	_, err := coordinator.FileAppeal(context.Background(), 1, addr(0x02))
	code, ok := RejectionCodeOf(err)
	if !ok || code != RejectWrongRole {
		t.Fatalf("err = %v", err)
	}
	if submitter.bondCalls != 0 {
		t.Fatal("ineligible filer must not trigger a bond capture")
	}
}

func TestFileAppealAfterWindowClosed(t *testing.T) {
	coordinator, engine, submitter, resolvedAt := newTestCoordinator(t)
	late := resolvedAt + AppealWindowSecs + 1
	engine.SetNowFunc(func() int64 { return late })
	coordinator.SetNowFunc(func() int64 { return late })

	_, err := coordinator.FileAppeal(context.Background(), 1, addr(0x01))
	code, ok := RejectionCodeOf(err)
	if !ok || code != RejectWindowClosed {
		t.Fatalf("err = %v", err)
	}
	if submitter.bondCalls != 0 {
		t.Fatal("closed window must not trigger a bond capture")
	}
}

func TestFileAppealRequiresBond(t *testing.T) {
	coordinator, _, _, _ := newTestCoordinator(t)
	zero := NewAppealCoordinator(coordinator.engine, coordinator.submitter, nil)
	zero.SetNowFunc(coordinator.nowFn)
	if _, err := zero.FileAppeal(context.Background(), 1, addr(0x01)); err == nil {
		t.Fatal("unconfigured bond must abort the flow")
	}
}
