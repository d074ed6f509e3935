package ledger

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"tribunal/native/dispute"
)

func TestDisputeRecordToDispute(t *testing.T) {
	rec := &DisputeRecord{
		ID:               7,
		Buyer:            "0x0101010101010101010101010101010101010101",
		Seller:           "0x0202020202020202020202020202020202020202",
		Token:            "USDC",
		Amount:           "2500",
		BuyerEvidenceURI: "ipfs://claim",
		Panel: []string{
			"0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a",
			"0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
			"0x0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c",
		},
		Ballots:    []string{"buyer", "", "seller"},
		Status:     "voting",
		CreatedAt:  1000,
		ResolvedAt: 0,
	}
	d, err := rec.ToDispute()
	require.NoError(t, err)
	require.Equal(t, uint64(7), d.ID)
	require.Equal(t, dispute.StatusVoting, d.Status)
	require.Equal(t, dispute.RulingPending, d.Ruling)
	require.Equal(t, "2500", d.Amount.String())
	require.Equal(t, byte(0x0b), d.Panel[1][0])
	require.Equal(t, dispute.BallotBuyer, d.Ballots[0])
	require.Equal(t, dispute.BallotUnset, d.Ballots[1])
	require.Equal(t, dispute.BallotSeller, d.Ballots[2])
}

func TestDisputeRecordRejectsMalformed(t *testing.T) {
	base := func() *DisputeRecord {
		return &DisputeRecord{
			ID:     1,
			Buyer:  "0x0101010101010101010101010101010101010101",
			Seller: "0x0202020202020202020202020202020202020202",
			Panel: []string{
				"0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a",
				"0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
				"0x0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c",
			},
			Status: "evidence",
		}
	}

	bad := base()
	bad.Buyer = "not-an-address"
	_, err := bad.ToDispute()
	require.Error(t, err)

	bad = base()
	bad.Panel = bad.Panel[:2]
	_, err = bad.ToDispute()
	require.Error(t, err)

	bad = base()
	bad.Amount = "12.5"
	_, err = bad.ToDispute()
	require.Error(t, err)

	bad = base()
	bad.Status = "limbo"
	_, err = bad.ToDispute()
	require.Error(t, err)
}

func TestArbiterInfoDecodesBothShapes(t *testing.T) {
	var fromObject ArbiterInfo
	require.NoError(t, json.Unmarshal([]byte(
		`{"address":"0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a","disputesHandled":12,"majorityRateBps":9600}`,
	), &fromObject))

	var fromTuple ArbiterInfo
	require.NoError(t, json.Unmarshal([]byte(
		`["0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a",12,9600]`,
	), &fromTuple))

	require.Equal(t, fromObject, fromTuple)

	stats, err := fromTuple.ToStats()
	require.NoError(t, err)
	require.Equal(t, uint64(12), stats.DisputesHandled)
	require.Equal(t, uint32(9600), stats.MajorityRateBps)
	require.Equal(t, byte(0x0a), stats.Address[0])
}

func TestArbiterInfoRejectsBadTuple(t *testing.T) {
	var info ArbiterInfo
	require.Error(t, json.Unmarshal([]byte(`["0x0a",12]`), &info))

	overflow := ArbiterInfo{Address: "0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a", MajorityRateBps: 10_500}
	_, err := overflow.ToStats()
	require.Error(t, err)
}
