// Package ecdsa is the ECDSA protocol driver: keygen, signing, and
// recovery, composed from session.Orchestrator (barrier + round
// fan-out/collect), mpcprim (the externalized round math and Paillier
// keygen), curvegroup/vss/recovery (curve arithmetic, commitments, and
// the Lagrange recovery engine), and store (persistence). The
// corresponding EdDSA/Sr25519/TwoFactorAuth logic lives in
// driver/eddsa (spec.md §4.3).
package ecdsa

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	log "github.com/ipfs/go-log"
	"github.com/pkg/errors"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/keytypes"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim/paillier"
	"github.com/justinrush/gridlock-mpc-engine/recovery"
	"github.com/justinrush/gridlock-mpc-engine/session"
	"github.com/justinrush/gridlock-mpc-engine/store"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

var logger = log.Logger("driver/ecdsa")

const protoKeyGen = "keyGen"
const protoKeySign = "keySign"

// Driver runs ECDSA keygen/sign/recovery over an orchestrated session.
type Driver struct {
	Orchestrator *session.Orchestrator
	Store        *store.Store
	Keygen       mpcprim.KeygenRounds
	Sign         mpcprim.SignRounds
}

// New constructs a Driver.
func New(orch *session.Orchestrator, st *store.Store, keygen mpcprim.KeygenRounds, sign mpcprim.SignRounds) *Driver {
	return &Driver{Orchestrator: orch, Store: st, Keygen: keygen, Sign: sign}
}

// RunKeygen executes ECDSA distributed key generation for keyID,
// assuming the Join barrier has already assigned party numbers
// upstream (session.Orchestrator.RunJoinBarrier/Join). On success it
// persists the Keyshare then the KeyInfo (in that order, per spec.md §5)
// and returns the KeyInfo (spec.md §4.3). If a keyshare already exists
// for keyID at the default share index, persistence fails with
// store.ErrAlreadyExists and nothing on disk is mutated (spec.md §4.1,
// §8).
func (d *Driver) RunKeygen(ctx context.Context, keyID string, selfPartyIndex int, parties []int, threshold int) (keytypes.KeyInfo, error) {
	curve, err := curvegroup.Secp256k1.Curve()
	if err != nil {
		return keytypes.KeyInfo{}, err
	}

	round, err := d.Keygen.NewKeygen(selfPartyIndex, parties, threshold)
	if err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: construct keygen rounds: %w", err)
	}

	payload, err := d.Orchestrator.DriveRounds(ctx, func(n int) string {
		return bus.KeyGenRound(protoKeyGen, keyID, n)
	}, round)
	if err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: drive keygen rounds: %w", err)
	}

	var out mpcprim.KeygenOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: decode keygen output: %w", err)
	}

	agreed, err := d.Orchestrator.AgreeOnValue(ctx, bus.KeyGenAgree(protoKeyGen, keyID), out.YSum, len(parties))
	if err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: y_sum agreement: %w", err)
	}
	if !agreed {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: participants disagree on y_sum, aborting without writing")
	}

	var wire keytypes.VSSScheme
	if err := json.Unmarshal(out.VSS, &wire); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: decode vss scheme: %w", err)
	}
	if _, err := vss.FromWire(curve, wire); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: invalid vss scheme: %w", err)
	}

	ks := keytypes.Keyshare{
		Type:       keytypes.KeyTypeECDSA,
		PartyIndex: selfPartyIndex,
		Xi:         out.Xi,
		VSS:        wire,
		YSum:       out.YSum,
		PaillierEK: &keytypes.PaillierPublic{N: out.PaillierN},
		PaillierDK: &keytypes.PaillierPrivate{P: out.PaillierP, Q: out.PaillierQ},
	}
	if err := ks.Validate(); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: keyshare failed validation: %w", err)
	}

	if err := d.Store.SaveNewKeyshare(keyID, 0, ks); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: persist keyshare: %w", err)
	}

	info := keytypes.KeyInfo{KeyType: keytypes.KeyTypeECDSA, PublicKey: out.YSum}
	sortedParties := append([]int(nil), parties...)
	sort.Ints(sortedParties)
	for _, p := range sortedParties {
		info.NodeToShareIndices = append(info.NodeToShareIndices, keytypes.NodeShareIndex{NodeIndex: p, ShareIndex: p})
	}
	if err := d.Store.SaveKeyInfo(keyID, info); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("ecdsa: persist key info: %w", err)
	}

	if err := d.Orchestrator.Conn.Publish(ctx, bus.KeyGenResult(keyID), out.YSum); err != nil {
		logger.Warnf("keygen %s: publish result: %v", keyID, err)
	}

	return info, nil
}

// SignatureResult is ECDSA's published sign result (spec.md §4.3).
type SignatureResult struct {
	R     keytypes.HexBytes `json:"r"`
	S     keytypes.HexBytes `json:"s"`
	RecID byte              `json:"recid"`
}

// RunSign executes ECDSA threshold signing over digest for sessionID,
// publishing the result on the session's result subject.
func (d *Driver) RunSign(ctx context.Context, sessionID string, selfPartyIndex int, parties []int, digest []byte) (SignatureResult, error) {
	round, err := d.Sign.NewSign(selfPartyIndex, parties, digest)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("ecdsa: construct sign rounds: %w", err)
	}

	payload, err := d.Orchestrator.DriveRounds(ctx, func(n int) string {
		return bus.KeyGenRound(protoKeySign, sessionID, n)
	}, round)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("ecdsa: drive sign rounds: %w", err)
	}

	var out mpcprim.SignOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return SignatureResult{}, fmt.Errorf("ecdsa: decode sign output: %w", err)
	}
	result := SignatureResult{R: out.R, S: out.S, RecID: out.RecID}

	resultPayload, err := json.Marshal(result)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("ecdsa: marshal signature result: %w", err)
	}
	if err := d.Orchestrator.Conn.Publish(ctx, bus.KeySignSubject(sessionID, "result"), resultPayload); err != nil {
		logger.Warnf("sign %s: publish result: %v", sessionID, err)
	}
	return result, nil
}

// RunRecovery reconstructs the share at recoveryIndex for keyID from
// helperShares (already collected via the ring sub-share exchange, see
// the recovery package), validates it against the published VSS
// schemes, generates a fresh Paillier keypair, and persists the
// recovered Keyshare (spec.md §4.4). This method only produces the new
// key material: it does not send the new Paillier modulus to the other
// holders, and no package in this module builds an
// UpdatePaillierKeysCommand.
func (d *Driver) RunRecovery(ctx context.Context, keyID string, recoveryIndex int, helperShares []curvegroup.Scalar, schemes []vss.Scheme) (keytypes.Keyshare, error) {
	curve, err := curvegroup.Secp256k1.Curve()
	if err != nil {
		return keytypes.Keyshare{}, err
	}

	reconstructed := recovery.Reconstruct(curve, helperShares)
	if err := recovery.Validate(curve, reconstructed, schemes, recoveryIndex); err != nil {
		return keytypes.Keyshare{}, errors.Wrapf(err, "ecdsa: recovery of %s index %d", keyID, recoveryIndex)
	}

	ySum, err := vss.YSum(curve, schemes)
	if err != nil {
		return keytypes.Keyshare{}, fmt.Errorf("ecdsa: recompute y_sum: %w", err)
	}

	pub, priv, err := paillier.GenerateKeyPair()
	if err != nil {
		return keytypes.Keyshare{}, fmt.Errorf("ecdsa: generate paillier keypair: %w", err)
	}

	ks := keytypes.Keyshare{
		Type:       keytypes.KeyTypeECDSA,
		PartyIndex: recoveryIndex,
		Xi:         reconstructed.Bytes(),
		YSum:       ySum.Bytes(),
		PaillierEK: &keytypes.PaillierPublic{N: pub.N.Bytes()},
		PaillierDK: &keytypes.PaillierPrivate{P: priv.P.Bytes(), Q: priv.Q.Bytes()},
	}
	if err := ks.Validate(); err != nil {
		return keytypes.Keyshare{}, fmt.Errorf("ecdsa: recovered keyshare failed validation: %w", err)
	}

	// The old share file, if any, is overwritten only now that
	// validation has succeeded (spec.md §4.4 edge case).
	if err := d.Store.SaveKeyshare(keyID, 0, ks); err != nil {
		return keytypes.Keyshare{}, fmt.Errorf("ecdsa: persist recovered keyshare: %w", err)
	}

	logger.Infof("recovered ECDSA share for key %s at index %d with fresh paillier modulus", keyID, recoveryIndex)
	return ks, nil
}
