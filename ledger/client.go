package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"tribunal/native/dispute"
)

// Client is the thin JSON-RPC surface the dispute core needs from the
// ledger node. Mutating calls block until the node confirms or rejects the
// intent; the returned state is the confirmed one.
type Client interface {
	DisputeGet(ctx context.Context, id uint64) (*dispute.Dispute, error)
	ArbiterStatsGet(ctx context.Context, addr [20]byte) (*dispute.ArbiterStats, error)
	PendingMilestones(ctx context.Context, disputeID uint64) ([dispute.MilestoneSlots]bool, error)
	SubmitIntent(ctx context.Context, intent *Intent) (*Receipt, error)
	PostAppealBond(ctx context.Context, disputeID uint64, filer [20]byte, amount *big.Int) error
	SubmitAppeal(ctx context.Context, disputeID uint64, filer [20]byte) (*dispute.Dispute, int64, error)
	FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]Event, error)
}

// RPCClient implements Client against the ledger node's JSON-RPC server.
type RPCClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	nextID    atomic.Int64
}

func NewRPCClient(baseURL, authToken string) *RPCClient {
	return &RPCClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

var _ Client = (*RPCClient)(nil)
var _ dispute.AppealSubmitter = (*RPCClient)(nil)

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      int64            `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   *jsonRPCErrorObj `json:"error"`
}

type jsonRPCErrorObj struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// rejectionCode is the JSON-RPC error code the node uses for intents it
// refused on business grounds, as opposed to transport or server faults.
const rejectionCode = -32050

func (c *RPCClient) DisputeGet(ctx context.Context, id uint64) (*dispute.Dispute, error) {
	var result DisputeRecord
	params := map[string]interface{}{"id": id}
	if err := c.call(ctx, "dispute_get", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return result.ToDispute()
}

func (c *RPCClient) ArbiterStatsGet(ctx context.Context, addr [20]byte) (*dispute.ArbiterStats, error) {
	var result ArbiterInfo
	params := map[string]string{"address": common.Address(addr).Hex()}
	if err := c.call(ctx, "dispute_getArbiter", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	stats, err := result.ToStats()
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *RPCClient) PendingMilestones(ctx context.Context, disputeID uint64) ([dispute.MilestoneSlots]bool, error) {
	var released [dispute.MilestoneSlots]bool
	var result struct {
		Released []bool `json:"released"`
	}
	params := map[string]interface{}{"id": disputeID}
	if err := c.call(ctx, "dispute_getMilestones", []interface{}{params}, &result); err != nil {
		return released, err
	}
	if len(result.Released) != dispute.MilestoneSlots {
		return released, fmt.Errorf("ledger: dispute %d reported %d milestone slots", disputeID, len(result.Released))
	}
	copy(released[:], result.Released)
	return released, nil
}

// SubmitIntent forwards a signed intent and blocks until the node confirms
// it. Business rejections surface as LedgerRejectedError so callers can tell
// them apart from transport faults.
func (c *RPCClient) SubmitIntent(ctx context.Context, intent *Intent) (*Receipt, error) {
	if intent == nil {
		return nil, errors.New("ledger: nil intent")
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	var result Receipt
	if err := c.call(ctx, "dispute_submitIntent", []interface{}{intent.wirePayload()}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RPCClient) PostAppealBond(ctx context.Context, disputeID uint64, filer [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("ledger: appeal bond amount required")
	}
	params := map[string]interface{}{
		"id":     disputeID,
		"filer":  common.Address(filer).Hex(),
		"amount": amount.String(),
	}
	return c.call(ctx, "dispute_postAppealBond", []interface{}{params}, nil)
}

func (c *RPCClient) SubmitAppeal(ctx context.Context, disputeID uint64, filer [20]byte) (*dispute.Dispute, int64, error) {
	var result struct {
		Appeal  DisputeRecord `json:"appeal"`
		FiledAt int64         `json:"filedAt"`
	}
	params := map[string]interface{}{
		"id":    disputeID,
		"filer": common.Address(filer).Hex(),
	}
	if err := c.call(ctx, "dispute_fileAppeal", []interface{}{params}, &result); err != nil {
		return nil, 0, err
	}
	appeal, err := result.Appeal.ToDispute()
	if err != nil {
		return nil, 0, err
	}
	return appeal, result.FiledAt, nil
}

func (c *RPCClient) FetchEvents(ctx context.Context, afterSeq int64, limit int) ([]Event, error) {
	params := map[string]interface{}{
		"after": afterSeq,
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var result []Event
	if err := c.call(ctx, "dispute_eventsSince", []interface{}{params}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	bodyStruct := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}
	buf, err := json.Marshal(bodyStruct)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == rejectionCode {
			return &dispute.LedgerRejectedError{Reason: rpcResp.Error.Message}
		}
		return fmt.Errorf("ledger rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("ledger rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}
