// Package wire defines the tagged messages nodes and the relay exchange,
// and the length-prefixed framing used to send them over a socket (§6
// "External interfaces").
package wire

import (
	"encoding/json"

	"github.com/GZK1108/posnet/pkg/chaintypes"
)

// Type identifies a message's payload shape.
type Type string

// The wire message catalogue (§6).
const (
	Hello        Type = "HELLO"
	Bye          Type = "BYE"
	Transaction  Type = "TRANSACTION"
	Block        Type = "BLOCK"
	SyncRequest  Type = "SYNC_REQUEST"
	SyncResponse Type = "SYNC_RESPONSE"
	Step         Type = "STEP"
	BlockVote    Type = "BLOCK_VOTE"
)

// Message is the envelope every wire frame carries. Payload holds one of
// the typed structs below, chosen by Type.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HelloPayload announces a node's id to the relay on connect.
type HelloPayload struct {
	SenderID string `json:"sender_id"`
}

// ByePayload announces a node's clean disconnect.
type ByePayload struct {
	SenderID string `json:"sender_id"`
}

// TransactionPayload carries a single pending transaction.
type TransactionPayload struct {
	Tx *chaintypes.Transaction `json:"tx"`
}

// BlockPayload carries a single block, forged or forwarded.
type BlockPayload struct {
	Block *chaintypes.Block `json:"block"`
}

// SyncRequestPayload is empty — a request for the whole chain.
type SyncRequestPayload struct{}

// SyncResponsePayload carries a responder's complete chain, genesis to head,
// in ascending index order.
type SyncResponsePayload struct {
	SenderID string              `json:"sender_id"`
	Blocks   []*chaintypes.Block `json:"blocks"`
}

// StepPayload is empty — the relay-driven forging tick (§4.6, §5).
type StepPayload struct{}

// BlockVotePayload is one validator's vote for a pending block (§4.8).
type BlockVotePayload struct {
	VoterID   string          `json:"voter_id"`
	BlockHash chaintypes.Hash `json:"block_hash"`
}
