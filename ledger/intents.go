package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// IntentKind names the dispute intents the node accepts.
type IntentKind string

const (
	IntentFileDispute           IntentKind = "file_dispute"
	IntentSubmitCounterEvidence IntentKind = "submit_counter_evidence"
	IntentCastVote              IntentKind = "cast_vote"
	IntentExecuteRuling         IntentKind = "execute_ruling"
	IntentFileAppeal            IntentKind = "file_appeal"
	IntentFinalizeRuling        IntentKind = "finalize_ruling"
	IntentPostAppealBond        IntentKind = "post_appeal_bond"
)

// Valid reports whether the kind is a supported intent.
func (k IntentKind) Valid() bool {
	switch k {
	case IntentFileDispute, IntentSubmitCounterEvidence, IntentCastVote,
		IntentExecuteRuling, IntentFileAppeal, IntentFinalizeRuling, IntentPostAppealBond:
		return true
	default:
		return false
	}
}

// Intent is a request for a ledger-side transition. The reference id is a
// client-generated idempotency key: resubmitting an intent with the same
// reference never double-applies.
type Intent struct {
	Reference string
	Kind      IntentKind
	DisputeID uint64
	Actor     [20]byte
	// Payload carries kind-specific fields such as the evidence URI or the
	// ballot side.
	Payload map[string]string
}

// NewIntent allocates an intent with a fresh reference id.
func NewIntent(kind IntentKind, disputeID uint64, actor [20]byte) *Intent {
	return &Intent{
		Reference: uuid.NewString(),
		Kind:      kind,
		DisputeID: disputeID,
		Actor:     actor,
		Payload:   make(map[string]string),
	}
}

// Validate checks the intent is well-formed before submission.
func (i *Intent) Validate() error {
	if i == nil {
		return fmt.Errorf("ledger: nil intent")
	}
	if strings.TrimSpace(i.Reference) == "" {
		return fmt.Errorf("ledger: intent reference required")
	}
	if _, err := uuid.Parse(i.Reference); err != nil {
		return fmt.Errorf("ledger: intent reference must be a uuid: %w", err)
	}
	if !i.Kind.Valid() {
		return fmt.Errorf("ledger: unsupported intent kind %q", i.Kind)
	}
	if i.DisputeID == 0 && i.Kind != IntentFileDispute {
		return fmt.Errorf("ledger: intent %s requires a dispute id", i.Kind)
	}
	if i.Actor == ([20]byte{}) {
		return fmt.Errorf("ledger: intent actor required")
	}
	return nil
}

func (i *Intent) wirePayload() map[string]interface{} {
	payload := map[string]interface{}{
		"ref":   i.Reference,
		"kind":  string(i.Kind),
		"actor": common.Address(i.Actor).Hex(),
	}
	if i.DisputeID != 0 {
		payload["id"] = i.DisputeID
	}
	for k, v := range i.Payload {
		if reservedWireKeys[k] {
			// The identity fields come from the validated intent, never from
			// caller-supplied payload entries.
			continue
		}
		payload[k] = v
	}
	return payload
}

var reservedWireKeys = map[string]bool{
	"ref":   true,
	"kind":  true,
	"actor": true,
	"id":    true,
}

// Receipt acknowledges an accepted intent. Acceptance is not confirmation:
// the transition lands later as an event carrying the same reference.
type Receipt struct {
	Reference string `json:"ref"`
	TxHash    string `json:"txHash"`
	Sequence  int64  `json:"sequence,omitempty"`
}

// Confirmation is a single-use future resolved when the event stream
// delivers the confirmed transition for a submitted intent, or rejected when
// the node reports a failure.
type Confirmation struct {
	once sync.Once
	done chan struct{}
	evt  *Event
	err  error
}

func NewConfirmation() *Confirmation {
	return &Confirmation{done: make(chan struct{})}
}

// Resolve completes the future with the confirmed event. Later calls to
// Resolve or Reject are no-ops.
func (c *Confirmation) Resolve(evt *Event) {
	c.once.Do(func() {
		c.evt = evt
		close(c.done)
	})
}

// Reject completes the future with a failure.
func (c *Confirmation) Reject(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Wait blocks until the future completes or ctx is done.
func (c *Confirmation) Wait(ctx context.Context) (*Event, error) {
	select {
	case <-c.done:
		return c.evt, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
