package session

import (
	"encoding/json"

	"github.com/justinrush/gridlock-mpc-engine/keytypes"
)

// JoinMessage is what a participant sends to a session's Join subject
// to enter the barrier (spec.md §4.2).
type JoinMessage struct {
	SessionID  string `json:"session_id"`
	NodeID     string `json:"node_id"`
	PartyIndex int    `json:"party_index"`
}

// JoinResponse is the barrier's broadcast reply once every expected
// participant has joined: the final party count and the sorted set of
// every party index that joined (spec.md §4.2).
type JoinResponse struct {
	PartyCount      int   `json:"party_count"`
	AllPartyIndices []int `json:"all_party_indices"`
}

// TaggedCommand is the inbound envelope on a node's Message.new subject
// (spec.md §6): a string discriminant plus an untagged key type.
type TaggedCommand struct {
	Cmd     string          `json:"cmd"`
	KeyType keytypes.KeyType `json:"key_type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// Command discriminants carried by TaggedCommand.Cmd (spec.md §6).
const (
	CmdOrchestrateKeyGen   = "OrchestrateKeyGen"
	CmdOrchestrateSigning  = "OrchestrateSigning"
	CmdOrchestrateRecovery = "OrchestrateRecovery"
)

// NewKeyGenSession is broadcast by the initiator to invite participants
// into a keygen session (spec.md §4.3).
type NewKeyGenSession struct {
	KeyID       string   `json:"key_id"`
	ExtraShares []string `json:"extra_shares"`
}

// KeyGenParams is the Join barrier's reply for keygen: how many parties
// joined and which party_num this responder was assigned, by join
// order (spec.md §4.3: "joiners respond and are assigned party_num by
// join order").
type KeyGenParams struct {
	NumParties int `json:"num_parties"`
	PartyNum   int `json:"party_num"`
}

// KeyGenResult is published on the Result subject once keygen
// completes (spec.md §4.3).
type KeyGenResult struct {
	YSum keytypes.HexBytes `json:"y_sum"`
}
