// Package eject reconstructs and exports the full private key behind a
// keyshare for audited account closure/migration: the one path in this
// module that ever lets a full secret exist in memory at once. This is
// a feature original_source/backend/node/src/eject.rs carries that
// spec.md's distillation drops; it is re-added as a supplemented
// feature since it is not named in spec.md's Non-goals.
package eject

import (
	"crypto/elliptic"
	"fmt"
	"math/big"

	log "github.com/ipfs/go-log"

	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/keytypes"
	"github.com/justinrush/gridlock-mpc-engine/store"
)

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
)

var logger = log.Logger("driver/eject")

// MinShares is the minimum number of distinct party shares required to
// reconstruct a key, mirroring the original's fixed THRESHOLD constant
// (original_source/backend/node/src/eject.rs: "const THRESHOLD: usize =
// 3"). This module does not derive it from the key's own threshold: the
// original keeps eject's quorum fixed independent of the key's t, and
// this carries that choice forward unchanged.
const MinShares = 3

// ShareInfo is one device's own contribution toward reconstructing a
// key, gathered out-of-band from every participating device (the
// original's EjectInfo/EjectShareInfo).
type ShareInfo struct {
	KeyID      string
	Group      curvegroup.Group
	PartyIndex int
	Share      curvegroup.Scalar
}

// ErrNotEnoughShares reports a combine attempt with fewer than
// MinShares distinct party shares.
var ErrNotEnoughShares = fmt.Errorf("eject: not enough keyshares found to reconstruct private key")

// ErrMixedGroups reports a combine attempt mixing shares from more than
// one curve group (the original's "not enough keyshares of same key
// type found" branch, which can only be reached via a caller bug since
// this module keeps shares curve-typed, but is checked here too).
var ErrMixedGroups = fmt.Errorf("eject: supplied shares come from more than one curve group")

// OwnShareInfo extracts this node's own contribution toward keyID from
// its local store, for ECDSA or any EdDSA-family (EDDSA/Sr25519/
// TwoFactorAuth) keyshare. Every device participating in an eject
// combine calls this locally and passes the result out-of-band to the
// device performing ReconstructSecret (eject never transmits shares
// over the bus).
func OwnShareInfo(st *store.Store, keyID string) (ShareInfo, error) {
	ks, err := st.LoadKeyshare(keyID, 0)
	if err != nil {
		return ShareInfo{}, fmt.Errorf("eject: load keyshare %s: %w", keyID, err)
	}
	group, err := groupFor(ks.Type)
	if err != nil {
		return ShareInfo{}, err
	}
	curve, err := group.Curve()
	if err != nil {
		return ShareInfo{}, err
	}
	return ShareInfo{
		KeyID:      keyID,
		Group:      group,
		PartyIndex: ks.PartyIndex,
		Share:      curvegroup.ScalarFromBytes(curve, ks.Xi),
	}, nil
}

func groupFor(t keytypes.KeyType) (curvegroup.Group, error) {
	switch t {
	case keytypes.KeyTypeECDSA:
		return curvegroup.Secp256k1, nil
	case keytypes.KeyTypeEDDSA, keytypes.KeyTypeSr25519, keytypes.KeyTypeTwoFactorAuth:
		return curvegroup.Edwards25519, nil
	default:
		return "", fmt.Errorf("eject: unknown key type %q", t)
	}
}

// KeyReconstructionResult is the full private key recovered for keyID,
// hex-encoded (the original's KeyReconstructionResult, whose `key`
// field is the serialized scalar).
type KeyReconstructionResult struct {
	KeyID string
	Key   keytypes.HexBytes
}

// ReconstructSecret combines shares (gathered from at least MinShares
// distinct devices via OwnShareInfo, all for the same key id and curve
// group) via Lagrange interpolation at x=0 to recover the full private
// key (original_source/backend/node/src/eject.rs:
// reconstruct_key_from_collected_eject_info). The result is warn-level
// logged since it is the one path in this module that ever
// materializes a full secret.
func ReconstructSecret(shares []ShareInfo) (KeyReconstructionResult, error) {
	if len(shares) < MinShares {
		return KeyReconstructionResult{}, ErrNotEnoughShares
	}
	keyID := shares[0].KeyID
	group := shares[0].Group
	for _, s := range shares {
		if s.KeyID != keyID {
			return KeyReconstructionResult{}, fmt.Errorf("eject: shares belong to different key ids (%s, %s)", keyID, s.KeyID)
		}
		if s.Group != group {
			return KeyReconstructionResult{}, ErrMixedGroups
		}
	}
	curve, err := group.Curve()
	if err != nil {
		return KeyReconstructionResult{}, err
	}

	indices := make([]int, len(shares))
	points := make([]curvegroup.Scalar, len(shares))
	for i, s := range shares {
		indices[i] = s.PartyIndex
		points[i] = s.Share
	}
	secret := lagrangeInterpolateAtZero(curve, indices, points)

	logger.Warnf("reconstructed full private key for key id %s from %d shares", keyID, len(shares))
	return KeyReconstructionResult{KeyID: keyID, Key: keytypes.HexBytes(secret.Bytes())}, nil
}

// CombineKeyshares reconstructs every key represented across shares in
// one pass (original_source/backend/node/src/eject.rs: combine_keyshares,
// which iterates a caller-supplied key id list and, for each, gathers
// that key's shares out of every device's submitted eject info).
// Shares are grouped by KeyID and each group is independently run
// through ReconstructSecret: a key whose group falls short of MinShares
// is logged and omitted from the result rather than failing the whole
// batch (spec.md §8 scenario 3, "missing keyshares do not cause
// complete sets to fail" — the original's combine_keyshares uses
// filter_map for exactly this reason, logging "Unable to reconstruct
// key with id {key_id}: {err}" and moving on). The returned slice omits
// entries for skipped keys; no error is returned, and if no key can be
// reconstructed the slice is empty.
func CombineKeyshares(shares []ShareInfo) []KeyReconstructionResult {
	var order []string
	grouped := make(map[string][]ShareInfo)
	for _, s := range shares {
		if _, ok := grouped[s.KeyID]; !ok {
			order = append(order, s.KeyID)
		}
		grouped[s.KeyID] = append(grouped[s.KeyID], s)
	}

	results := make([]KeyReconstructionResult, 0, len(order))
	for _, keyID := range order {
		result, err := ReconstructSecret(grouped[keyID])
		if err != nil {
			logger.Warnf("eject: unable to reconstruct key %s: %v", keyID, err)
			continue
		}
		results = append(results, result)
	}
	return results
}

// lagrangeInterpolateAtZero evaluates the secret-sharing polynomial at
// x=0 given len(indices) == len(shares) points (index[i], shares[i]),
// using x_k = k+1 throughout (spec.md §4.4's convention, consistently
// applied across this module so the zero party_index case is never a
// degenerate x-coordinate).
func lagrangeInterpolateAtZero(curve elliptic.Curve, indices []int, shares []curvegroup.Scalar) curvegroup.Scalar {
	total := curvegroup.NewScalar(curve, bigZero)
	for i, idx := range indices {
		xi := curvegroup.ScalarFromIndex(curve, idx)
		num := curvegroup.NewScalar(curve, bigOne)
		den := curvegroup.NewScalar(curve, bigOne)
		for j, jdx := range indices {
			if i == j {
				continue
			}
			xj := curvegroup.ScalarFromIndex(curve, jdx)
			num = num.Mul(xj)
			den = den.Mul(xj.Sub(xi))
		}
		li := num.Mul(den.Invert())
		total = total.Add(shares[i].Mul(li))
	}
	return total
}
