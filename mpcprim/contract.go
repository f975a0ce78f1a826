// Package mpcprim describes the externalized collaborator named in
// spec.md §1: "the concrete curve and MPC primitives... assumed
// available as a library offering Feldman VSS, Paillier, ECDSA-GG18-
// style round messages, and Ed25519 aggregation." Feldman VSS lives in
// the vss package since the recovery engine depends on it directly;
// this package carries the remaining externalized contracts
// (KeygenRounds, SignRounds, building protocol.Round sequences) plus
// the one piece of Paillier handling this module must itself perform:
// generating a fresh keypair during ECDSA recovery (spec.md §4.4, see
// the paillier subpackage).
package mpcprim

import "github.com/justinrush/gridlock-mpc-engine/protocol"

// KeygenOutput is the terminal result of a KeygenRounds sequence: this
// party's additive share, the VSS commitment vector it published, and
// the reconstructed public key (spec.md §4.3, §4.5). ECDSA rounds
// additionally carry the freshly generated Paillier keypair.
type KeygenOutput struct {
	Xi        []byte `json:"x_i"`
	VSS       []byte `json:"vss_scheme"`
	YSum      []byte `json:"y_sum"`
	PaillierN []byte `json:"paillier_n,omitempty"`
	PaillierP []byte `json:"paillier_p,omitempty"`
	PaillierQ []byte `json:"paillier_q,omitempty"`
}

// SignOutput is the terminal result of a SignRounds sequence: either
// ECDSA's {r,s,recid} or EdDSA/Sr25519's {R,sigma} (spec.md §4.3).
type SignOutput struct {
	R     []byte `json:"r"`
	S     []byte `json:"s,omitempty"`
	Sigma []byte `json:"sigma,omitempty"`
	RecID byte   `json:"recid,omitempty"`
}

// KeygenRounds constructs the externalized round sequence for a curve
// family's distributed key generation. A concrete implementation (the
// actual ECDSA-GG18/CGGMP or Ed25519-DKG round math) is assumed
// available as a library per spec.md §1; this module depends only on
// the interface so a real implementation can be substituted without
// changing orchestration logic.
type KeygenRounds interface {
	NewKeygen(partyIndex int, parties []int, threshold int) (protocol.Round, error)
}

// SignRounds constructs the externalized round sequence for a curve
// family's threshold signing.
type SignRounds interface {
	NewSign(partyIndex int, parties []int, digest []byte) (protocol.Round, error)
}
