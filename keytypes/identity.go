// Package keytypes defines the federation's data model: node identities,
// the tagged-union Keyshare record, and the per-key KeyInfo metadata
// every node holds (spec §3).
package keytypes

import "github.com/google/uuid"

// NodeIdentity is assigned at node provisioning and is read-only
// thereafter (spec §3).
type NodeIdentity struct {
	// Index is the node's small integer position, 1..=N, in the
	// federation.
	Index int `json:"index"`
	// NodeID identifies the physical node.
	NodeID uuid.UUID `json:"node_id"`
	// PublicKey is the node's long-term encryption/signature key.
	PublicKey []byte `json:"public_key"`
}
