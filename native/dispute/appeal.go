package dispute

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	nativecommon "tribunal/native/common"
)

var (
	errNilSubmitter = errors.New("appeal coordinator: ledger submitter not configured")
	errNilEngine    = errors.New("appeal coordinator: engine not configured")
)

// AppealSubmitter is the slice of the ledger adapter the coordinator needs.
// Both calls block until the ledger confirms or rejects the intent.
type AppealSubmitter interface {
	// PostAppealBond escrows the fixed appeal bond from the filer. No appeal
	// intent may be submitted before the bond capture is confirmed.
	PostAppealBond(ctx context.Context, disputeID uint64, filer [20]byte, amount *big.Int) error
	// SubmitAppeal files the appeal and returns the confirmed fork: the fresh
	// dispute record with its ledger-assigned panel, plus the confirmed
	// filing time.
	SubmitAppeal(ctx context.Context, disputeID uint64, filer [20]byte) (*Dispute, int64, error)
}

// AppealCoordinator owns the one-shot appeal sub-flow: eligibility check,
// bond capture, panel fork and bidirectional linkage. The bond is the single
// serialization point: a failure before its confirmation leaves the original
// dispute record untouched.
type AppealCoordinator struct {
	engine    *Engine
	submitter AppealSubmitter
	bond      *big.Int
	nowFn     func() int64
	pauses    nativecommon.PauseView
}

// NewAppealCoordinator binds the coordinator to the lifecycle engine.
func NewAppealCoordinator(engine *Engine, submitter AppealSubmitter, bond *big.Int) *AppealCoordinator {
	c := &AppealCoordinator{
		engine:    engine,
		submitter: submitter,
		bond:      big.NewInt(0),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
	if bond != nil {
		c.bond = new(big.Int).Set(bond)
	}
	return c
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (c *AppealCoordinator) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

// SetPauses wires the administrative pause switchboard.
func (c *AppealCoordinator) SetPauses(p nativecommon.PauseView) { c.pauses = p }

// Bond returns the fixed bond amount required to file an appeal.
func (c *AppealCoordinator) Bond() *big.Int {
	if c == nil || c.bond == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(c.bond)
}

// FileAppeal runs the full appeal flow for the losing party. On success the
// engine holds both linked records and the forked dispute is returned. The
// flow is strictly ordered: local eligibility, confirmed bond capture, appeal
// intent, linkage. Abandonment via ctx before the bond confirms has no side
// effects.
func (c *AppealCoordinator) FileAppeal(ctx context.Context, disputeID uint64, filer [20]byte) (*Dispute, error) {
	if c == nil || c.engine == nil {
		return nil, errNilEngine
	}
	if c.submitter == nil {
		return nil, errNilSubmitter
	}
	if err := nativecommon.Guard(c.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := c.engine.ValidateAction(disputeID, filer, ActionFileAppeal); err != nil {
		return nil, err
	}
	if c.bond.Sign() <= 0 {
		return nil, fmt.Errorf("appeal coordinator: bond amount not configured")
	}
	if err := c.submitter.PostAppealBond(ctx, disputeID, filer, c.Bond()); err != nil {
		return nil, fmt.Errorf("appeal coordinator: bond capture failed: %w", err)
	}
	appeal, filedAt, err := c.submitter.SubmitAppeal(ctx, disputeID, filer)
	if err != nil {
		// Bond captured but the appeal was refused; the ledger settles the
		// bond per its own rules. The original record stays untouched.
		return nil, fmt.Errorf("appeal coordinator: appeal submission failed: %w", err)
	}
	if err := c.engine.ApplyAppealFiled(disputeID, filer, appeal, filedAt); err != nil {
		return nil, err
	}
	return c.engine.Get(appeal.ID)
}
