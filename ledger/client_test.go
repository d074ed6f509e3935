package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"tribunal/native/dispute"
)

type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     int64             `json:"id"`
}

// newRPCServer serves canned JSON-RPC results keyed by method name and
// records every call it sees.
func newRPCServer(t *testing.T, results map[string]interface{}) (*httptest.Server, *[]rpcCall) {
	t.Helper()
	calls := &[]rpcCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		*calls = append(*calls, call)

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": call.ID}
		if result, ok := results[call.Method]; ok {
			if errObj, isErr := result.(*jsonRPCErrorObj); isErr {
				resp["error"] = errObj
			} else {
				resp["result"] = result
			}
		} else {
			resp["error"] = &jsonRPCErrorObj{Code: -32601, Message: "method not found"}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server, calls
}

func TestDisputeGetDecodesRecord(t *testing.T) {
	server, calls := newRPCServer(t, map[string]interface{}{
		"dispute_get": DisputeRecord{
			ID:               4,
			Buyer:            "0x0101010101010101010101010101010101010101",
			Seller:           "0x0202020202020202020202020202020202020202",
			Token:            "USDC",
			Amount:           "900",
			BuyerEvidenceURI: "ipfs://claim",
			Panel: []string{
				"0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a",
				"0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
				"0x0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c",
			},
			Status:    "evidence",
			CreatedAt: 1000,
		},
	})

	client := NewRPCClient(server.URL, "token")
	d, err := client.DisputeGet(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, uint64(4), d.ID)
	require.Equal(t, dispute.StatusEvidence, d.Status)
	require.Len(t, *calls, 1)
	require.Equal(t, "dispute_get", (*calls)[0].Method)
}

func TestSubmitIntentReturnsReceipt(t *testing.T) {
	server, calls := newRPCServer(t, map[string]interface{}{
		"dispute_submitIntent": Receipt{TxHash: "0xabc", Sequence: 42},
	})

	client := NewRPCClient(server.URL, "")
	intent := NewIntent(IntentCastVote, 4, [20]byte{0x0a})
	intent.Payload["ballot"] = "buyer"

	receipt, err := client.SubmitIntent(context.Background(), intent)
	require.NoError(t, err)
	require.Equal(t, "0xabc", receipt.TxHash)
	require.Equal(t, int64(42), receipt.Sequence)

	require.Len(t, *calls, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal((*calls)[0].Params[0], &payload))
	require.Equal(t, intent.Reference, payload["ref"])
	require.Equal(t, "cast_vote", payload["kind"])
	require.Equal(t, "buyer", payload["ballot"])
}

func TestSubmitIntentKeepsIdentityFields(t *testing.T) {
	server, calls := newRPCServer(t, map[string]interface{}{
		"dispute_submitIntent": Receipt{TxHash: "0xabc"},
	})

	client := NewRPCClient(server.URL, "")
	intent := NewIntent(IntentCastVote, 4, [20]byte{0x0a})
	intent.Payload["ballot"] = "buyer"
	// A caller-controlled payload must not be able to re-key the intent or
	// impersonate another actor on the wire.
	intent.Payload["ref"] = "hijacked-ref"
	intent.Payload["kind"] = "execute_ruling"
	intent.Payload["actor"] = "0x0202020202020202020202020202020202020202"
	intent.Payload["id"] = "99"

	_, err := client.SubmitIntent(context.Background(), intent)
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal((*calls)[0].Params[0], &payload))
	require.Equal(t, intent.Reference, payload["ref"])
	require.Equal(t, "cast_vote", payload["kind"])
	require.Equal(t, common.Address(intent.Actor).Hex(), payload["actor"])
	require.Equal(t, float64(4), payload["id"])
	require.Equal(t, "buyer", payload["ballot"])
}

func TestSubmitIntentValidates(t *testing.T) {
	client := NewRPCClient("http://unused", "")

	_, err := client.SubmitIntent(context.Background(), nil)
	require.Error(t, err)

	bad := NewIntent(IntentCastVote, 0, [20]byte{0x0a})
	_, err = client.SubmitIntent(context.Background(), bad)
	require.Error(t, err, "non-filing intents require a dispute id")

	bad = NewIntent(IntentKind("teleport"), 4, [20]byte{0x0a})
	_, err = client.SubmitIntent(context.Background(), bad)
	require.Error(t, err)
}

func TestBusinessRejectionIsTyped(t *testing.T) {
	server, _ := newRPCServer(t, map[string]interface{}{
		"dispute_postAppealBond": &jsonRPCErrorObj{Code: rejectionCode, Message: "insufficient balance"},
	})

	client := NewRPCClient(server.URL, "")
	err := client.PostAppealBond(context.Background(), 4, [20]byte{0x01}, big.NewInt(250))
	var rejected *dispute.LedgerRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "insufficient balance", rejected.Reason)
}

func TestTransportErrorIsNotARejection(t *testing.T) {
	server, _ := newRPCServer(t, map[string]interface{}{
		"dispute_postAppealBond": &jsonRPCErrorObj{Code: -32603, Message: "internal error"},
	})

	client := NewRPCClient(server.URL, "")
	err := client.PostAppealBond(context.Background(), 4, [20]byte{0x01}, big.NewInt(250))
	require.Error(t, err)
	var rejected *dispute.LedgerRejectedError
	require.False(t, errors.As(err, &rejected))
}

func TestSubmitAppealReturnsFork(t *testing.T) {
	server, _ := newRPCServer(t, map[string]interface{}{
		"dispute_fileAppeal": map[string]interface{}{
			"appeal": DisputeRecord{
				ID:               9,
				Buyer:            "0x0101010101010101010101010101010101010101",
				Seller:           "0x0202020202020202020202020202020202020202",
				Token:            "USDC",
				Amount:           "900",
				BuyerEvidenceURI: "ipfs://claim",
				Panel: []string{
					"0x0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d0d",
					"0x0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e0e",
					"0x0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f0f",
				},
				Status:          "evidence",
				CreatedAt:       2000,
				IsAppealDispute: true,
			},
			"filedAt": 2000,
		},
	})

	client := NewRPCClient(server.URL, "")
	appeal, filedAt, err := client.SubmitAppeal(context.Background(), 4, [20]byte{0x01})
	require.NoError(t, err)
	require.Equal(t, uint64(9), appeal.ID)
	require.True(t, appeal.IsAppealDispute)
	require.Equal(t, int64(2000), filedAt)
}

func TestFetchEventsPassesCursor(t *testing.T) {
	server, calls := newRPCServer(t, map[string]interface{}{
		"dispute_eventsSince": []Event{
			{Sequence: 11, Type: "dispute.vote", Attributes: map[string]string{"id": "4"}},
			{Sequence: 12, Type: "dispute.resolved", Attributes: map[string]string{"id": "4"}},
		},
	})

	client := NewRPCClient(server.URL, "")
	events, err := client.FetchEvents(context.Background(), 10, 50)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(11), events[0].Sequence)

	var params map[string]interface{}
	require.NoError(t, json.Unmarshal((*calls)[0].Params[0], &params))
	require.Equal(t, float64(10), params["after"])
	require.Equal(t, float64(50), params["limit"])
}

func TestPendingMilestonesLength(t *testing.T) {
	server, _ := newRPCServer(t, map[string]interface{}{
		"dispute_getMilestones": map[string]interface{}{"released": []bool{true, true, false, false, false}},
	})
	client := NewRPCClient(server.URL, "")
	released, err := client.PendingMilestones(context.Background(), 4)
	require.NoError(t, err)
	require.True(t, released[0])
	require.False(t, released[4])
}

func TestConfirmationResolvesOnce(t *testing.T) {
	conf := NewConfirmation()
	conf.Resolve(&Event{Sequence: 5})
	conf.Reject(errors.New("late"))

	evt, err := conf.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(5), evt.Sequence)
}

func TestConfirmationWaitHonorsContext(t *testing.T) {
	conf := NewConfirmation()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := conf.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
