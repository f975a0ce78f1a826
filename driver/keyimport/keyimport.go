// Package keyimport splits an externally-supplied secret into Feldman
// VSS shares across share_count parties, the keygen path for a secret
// that never went through a distributed round protocol (spec.md §3's
// supplemented import feature, from
// original_source/backend/node/src/keygen/key_import.rs). Only the 2FA
// code type is implemented, matching the original's own scope: EdDSA,
// Sr25519, and ECDSA import are explicitly unimplemented there
// ("sr25519 import not yet implemented", etc.) and are preserved here
// as ErrNotImplemented rather than guessed at.
package keyimport

import (
	"fmt"
	"math/big"

	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/keytypes"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

// ErrNotImplemented reports an import request for a key type the
// original leaves unimplemented (sr25519, eddsa, ecdsa import).
var ErrNotImplemented = fmt.Errorf("keyimport: not yet implemented for this key type")

// Share is one party's resulting keyshare from a 2FA import, ready to
// be delivered to that party and persisted via store.SaveKeyshare.
// Index 0 additionally carries the raw code, matching the original's
// "key: if i == 0 { Some(twofa_code) } else { None }".
type Share struct {
	PartyIndex int
	Keyshare   keytypes.Keyshare
}

// ImportTwoFactorCode splits twoFACode into share_count Feldman VSS
// shares at indices 0..share_count (original_source's
// create_share_import_cmds_for_2fa: "we generate shares from 0 index
// for 2fa... the keyshare at 0 index holds the entire secret. This is
// what we want for 2fa but NOT a secret key securing real funds"). The
// code is converted to a scalar by interpreting its raw bytes as a
// big-endian integer mod the Edwards25519 group order, exactly as the
// original does (BigInt::from_bytes, no hashing) — reversible so the
// code can later be read back off the index-0 share.
func ImportTwoFactorCode(code string, threshold, shareCount int) ([]Share, error) {
	if shareCount <= 0 {
		return nil, fmt.Errorf("keyimport: share_count must be positive, got %d", shareCount)
	}
	curve, err := curvegroup.Edwards25519.Curve()
	if err != nil {
		return nil, err
	}

	secret := curvegroup.NewScalar(curve, new(big.Int).SetBytes([]byte(code)))
	indices := make([]int, shareCount)
	for i := range indices {
		indices[i] = i
	}

	scheme, shareMap, err := vss.Share(curve, threshold, secret, indices)
	if err != nil {
		return nil, fmt.Errorf("keyimport: split 2fa code: %w", err)
	}
	wire := vss.ToWire(scheme)

	out := make([]Share, 0, shareCount)
	for _, idx := range indices {
		ks := keytypes.Keyshare{
			Type:       keytypes.KeyTypeTwoFactorAuth,
			PartyIndex: idx,
			Xi:         shareMap[idx].Bytes(),
			VSS:        wire,
			YSum:       scheme.Commitments[0].Bytes(),
		}
		if idx == 0 {
			ks.RawCode = code
		}
		out = append(out, Share{PartyIndex: idx, Keyshare: ks})
	}
	return out, nil
}

// TwoFactorCodeFromShare recovers the original code string from the
// index-0 share's embedded RawCode (original_source's
// TwoFACodeRetrievalCommand).
func TwoFactorCodeFromShare(ks keytypes.Keyshare) (string, error) {
	if ks.Type != keytypes.KeyTypeTwoFactorAuth {
		return "", fmt.Errorf("keyimport: keyshare is not a 2fa share")
	}
	if ks.PartyIndex != 0 {
		return "", fmt.Errorf("keyimport: 2fa code is only retrievable from the index-0 share")
	}
	if ks.RawCode == "" {
		return "", fmt.Errorf("keyimport: key file exists, however it was not possible to retrieve the 2fa code")
	}
	return ks.RawCode, nil
}

// ImportSr25519 and ImportEdDSA and ImportECDSA are not implemented,
// matching the original's own unimplemented branches.
func ImportSr25519(key string, threshold, shareCount int) ([]Share, error) {
	return nil, ErrNotImplemented
}

func ImportEdDSA(key string, threshold, shareCount int) ([]Share, error) {
	return nil, ErrNotImplemented
}

func ImportECDSA(key string, threshold, shareCount int) ([]Share, error) {
	return nil, ErrNotImplemented
}
