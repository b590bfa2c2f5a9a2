// Package canon defines the canonical cross-chain event shape consumed by
// the swap coordinator, regardless of which observer produced it.
package canon

import "time"

// Chain identifies which side of a swap an event or contract id belongs to.
type Chain string

const (
	ChainEVM  Chain = "evm"
	ChainMove Chain = "move"
)

// EventType is the canonical HTLC event kind.
type EventType string

const (
	HTLCCreated   EventType = "HTLC_CREATED"
	HTLCWithdrawn EventType = "HTLC_WITHDRAWN"
	HTLCRefunded  EventType = "HTLC_REFUNDED"
)

// Event is the tagged-variant canonical event. Fields not relevant to Type
// are left zero; observers populate only the fields their source chain can
// produce, per the natural-key contract in §4.1/§4.6.
type Event struct {
	Chain              Chain     `json:"chain"`
	Type               EventType `json:"type"`
	ContractID         string    `json:"contract_id"`
	TxHash             string    `json:"tx_hash"`
	LogIndex           uint32    `json:"log_index"`
	BlockOrCheckpoint  uint64    `json:"block_or_checkpoint"`
	ObservedAt         time.Time `json:"observed_at"`

	// HTLC_CREATED fields.
	Sender              string `json:"sender,omitempty"`
	Receiver            string `json:"receiver,omitempty"`
	Token               string `json:"token,omitempty"`
	Amount              string `json:"amount,omitempty"`
	Hashlock            string `json:"hashlock,omitempty"`
	Timelock            int64  `json:"timelock,omitempty"`
	CounterpartyChainID string `json:"counterparty_chain_id,omitempty"`

	// HTLC_WITHDRAWN fields.
	Preimage string `json:"preimage,omitempty"`
}

// IdempotencyKey is the natural key the Event Store dedups on:
// (chain, contract_id, event_type, tx_hash, log_index).
func (e *Event) IdempotencyKey() (chain, contractID string, eventType EventType, txHash string, logIndex uint32) {
	return string(e.Chain), e.ContractID, e.Type, e.TxHash, e.LogIndex
}

// Source names the cursor this event advances: "evm" or "move".
func (e *Event) Source() string {
	return string(e.Chain)
}
