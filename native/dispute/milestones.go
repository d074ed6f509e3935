package dispute

import (
	"fmt"
	"math/big"
)

// MilestoneSlots is the fixed length of the ledger's per-job release vector.
const MilestoneSlots = 5

const bpsDenominator = 10_000

// MilestoneSchedule mirrors the ledger's vesting schedule for an escrowed job:
// each slot unlocks a fixed share of the escrowed value, in basis points. The
// shares must sum to exactly 10000 so a fully released job pays out the whole
// amount.
type MilestoneSchedule struct {
	SlotBps [MilestoneSlots]uint32
}

// DefaultMilestoneSchedule is the even five-way split the ledger applies when
// a job does not carry a custom schedule.
func DefaultMilestoneSchedule() MilestoneSchedule {
	return MilestoneSchedule{SlotBps: [MilestoneSlots]uint32{2000, 2000, 2000, 2000, 2000}}
}

// Validate checks the schedule shares sum to the full amount.
func (s MilestoneSchedule) Validate() error {
	var total uint64
	for i, bps := range s.SlotBps {
		if bps > bpsDenominator {
			return fmt.Errorf("dispute: milestone slot %d share out of range", i)
		}
		total += uint64(bps)
	}
	if total != bpsDenominator {
		return fmt.Errorf("dispute: milestone shares sum to %d bps, want %d", total, bpsDenominator)
	}
	return nil
}

// Unlocked computes the amount released by the given slot vector. Each slot is
// floored independently, matching the ledger's integer division, so the sum of
// partial unlocks never exceeds the escrowed amount.
func (s MilestoneSchedule) Unlocked(amount *big.Int, released [MilestoneSlots]bool) *big.Int {
	total := big.NewInt(0)
	if amount == nil || amount.Sign() <= 0 {
		return total
	}
	denom := big.NewInt(bpsDenominator)
	for i, done := range released {
		if !done {
			continue
		}
		share := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(s.SlotBps[i])))
		share.Div(share, denom)
		total.Add(total, share)
	}
	return total
}

// Pending returns the escrowed remainder not yet unlocked by the vector.
func (s MilestoneSchedule) Pending(amount *big.Int, released [MilestoneSlots]bool) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Sub(amount, s.Unlocked(amount, released))
}
