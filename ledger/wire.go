package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tribunal/native/dispute"
)

// DisputeRecord mirrors the JSON returned by the ledger node for
// dispute_get. Addresses travel as 0x-hex strings and amounts as decimal
// strings; ToDispute converts to the engine's canonical form.
type DisputeRecord struct {
	ID                      uint64   `json:"id"`
	Buyer                   string   `json:"buyer"`
	Seller                  string   `json:"seller"`
	Token                   string   `json:"token"`
	Amount                  string   `json:"amount"`
	BuyerEvidenceURI        string   `json:"buyerEvidenceUri"`
	SellerEvidenceURI       string   `json:"sellerEvidenceUri,omitempty"`
	Panel                   []string `json:"panel"`
	Ballots                 []string `json:"ballots,omitempty"`
	Status                  string   `json:"status"`
	Ruling                  string   `json:"ruling,omitempty"`
	CreatedAt               int64    `json:"createdAt"`
	CounterEvidenceDeadline int64    `json:"counterEvidenceDeadline,omitempty"`
	ResolvedAt              int64    `json:"resolvedAt,omitempty"`
	AppealDisputeID         uint64   `json:"appealDisputeId,omitempty"`
	IsAppealDispute         bool     `json:"isAppeal,omitempty"`
}

func parseAddress(raw, field string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("ledger: invalid %s address %q", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ToDispute converts the wire record into the engine's canonical form.
func (r *DisputeRecord) ToDispute() (*dispute.Dispute, error) {
	if r == nil {
		return nil, fmt.Errorf("ledger: nil dispute record")
	}
	buyer, err := parseAddress(r.Buyer, "buyer")
	if err != nil {
		return nil, err
	}
	seller, err := parseAddress(r.Seller, "seller")
	if err != nil {
		return nil, err
	}
	if len(r.Panel) != dispute.PanelSize {
		return nil, fmt.Errorf("ledger: dispute %d panel has %d members", r.ID, len(r.Panel))
	}
	amount := new(big.Int)
	if strings.TrimSpace(r.Amount) != "" {
		if _, ok := amount.SetString(strings.TrimSpace(r.Amount), 10); !ok {
			return nil, fmt.Errorf("ledger: dispute %d amount %q is not a decimal", r.ID, r.Amount)
		}
	}
	status, err := dispute.ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("ledger: dispute %d: %w", r.ID, err)
	}
	ruling := dispute.RulingPending
	if strings.TrimSpace(r.Ruling) != "" {
		if ruling, err = dispute.ParseRuling(r.Ruling); err != nil {
			return nil, fmt.Errorf("ledger: dispute %d: %w", r.ID, err)
		}
	}
	d := &dispute.Dispute{
		ID:                      r.ID,
		Buyer:                   buyer,
		Seller:                  seller,
		Token:                   r.Token,
		Amount:                  amount,
		BuyerEvidenceURI:        r.BuyerEvidenceURI,
		SellerEvidenceURI:       r.SellerEvidenceURI,
		Status:                  status,
		Ruling:                  ruling,
		CreatedAt:               r.CreatedAt,
		CounterEvidenceDeadline: r.CounterEvidenceDeadline,
		ResolvedAt:              r.ResolvedAt,
		AppealDisputeID:         r.AppealDisputeID,
		IsAppealDispute:         r.IsAppealDispute,
	}
	for i, member := range r.Panel {
		addr, err := parseAddress(member, fmt.Sprintf("panel[%d]", i))
		if err != nil {
			return nil, err
		}
		d.Panel[i] = addr
	}
	for i, raw := range r.Ballots {
		if i >= dispute.PanelSize {
			return nil, fmt.Errorf("ledger: dispute %d carries %d ballots", r.ID, len(r.Ballots))
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ballot, err := dispute.ParseBallot(raw)
		if err != nil {
			return nil, fmt.Errorf("ledger: dispute %d: %w", r.ID, err)
		}
		d.Ballots[i] = ballot
	}
	return d, nil
}

// ArbiterInfo mirrors the node's arbiter metadata. Older nodes return the
// record as a positional array [address, handled, majorityRateBps]; newer
// ones as an object. UnmarshalJSON accepts both.
type ArbiterInfo struct {
	Address         string `json:"address"`
	DisputesHandled uint64 `json:"disputesHandled"`
	MajorityRateBps uint32 `json:"majorityRateBps"`
}

func (a *ArbiterInfo) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var tuple []json.RawMessage
		if err := json.Unmarshal(data, &tuple); err != nil {
			return err
		}
		if len(tuple) != 3 {
			return fmt.Errorf("ledger: arbiter tuple has %d elements", len(tuple))
		}
		if err := json.Unmarshal(tuple[0], &a.Address); err != nil {
			return fmt.Errorf("ledger: arbiter tuple address: %w", err)
		}
		if err := json.Unmarshal(tuple[1], &a.DisputesHandled); err != nil {
			return fmt.Errorf("ledger: arbiter tuple handled: %w", err)
		}
		if err := json.Unmarshal(tuple[2], &a.MajorityRateBps); err != nil {
			return fmt.Errorf("ledger: arbiter tuple rate: %w", err)
		}
		return nil
	}
	type plain ArbiterInfo
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*a = ArbiterInfo(obj)
	return nil
}

// ToStats converts the wire record into the engine's canonical form.
func (a *ArbiterInfo) ToStats() (dispute.ArbiterStats, error) {
	addr, err := parseAddress(a.Address, "arbiter")
	if err != nil {
		return dispute.ArbiterStats{}, err
	}
	if a.MajorityRateBps > 10_000 {
		return dispute.ArbiterStats{}, fmt.Errorf("ledger: arbiter %s majority rate %d exceeds denominator", a.Address, a.MajorityRateBps)
	}
	return dispute.ArbiterStats{
		Address:         addr,
		DisputesHandled: a.DisputesHandled,
		MajorityRateBps: a.MajorityRateBps,
	}, nil
}

// Event is a confirmed ledger event returned by dispute_eventsSince. The
// sequence is the resume cursor persisted by consumers.
type Event struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Height     uint64            `json:"height"`
	TxHash     string            `json:"txHash"`
	Timestamp  int64             `json:"timestamp"`
}
