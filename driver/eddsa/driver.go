// Package eddsa is the EdDSA/Sr25519/TwoFactorAuth protocol driver:
// keygen, signing, and the Sr25519 owner single-signer fallback,
// composed the same way driver/ecdsa is but over the Edwards25519
// group and without Paillier key material (spec.md §4.3). The "only
// persist once every party agrees" discipline follows the teacher's
// eddsa/resharing round_5_new_step_3.go, which saves only on the
// branch that has actually finished (round.save is written once,
// guarded by committee membership, never speculatively).
package eddsa

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	log "github.com/ipfs/go-log"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/keytypes"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim"
	"github.com/justinrush/gridlock-mpc-engine/session"
	"github.com/justinrush/gridlock-mpc-engine/store"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

var logger = log.Logger("driver/eddsa")

const protoKeyGen = "KeyGenEdDSA"
const protoKeySign = "keySignEdDSA"

// SigningContext is the Schnorrkel domain-separator byte string the
// Sr25519 sign sub-protocol signs under (spec.md §4.3: "compatibility-
// exact" with substrate).
const SigningContext = "substrate"

// Driver runs EdDSA/Sr25519/TwoFactorAuth keygen and sign over an
// orchestrated session. Variant selects which of the three key types
// is produced; the round math and wire shapes are identical across all
// three (spec.md §3: "Sr25519/TwoFactorAuth: as EDDSA plus an optional
// owner-only secret envelope").
type Driver struct {
	Orchestrator *session.Orchestrator
	Store        *store.Store
	Keygen       mpcprim.KeygenRounds
	Sign         mpcprim.SignRounds
	Variant      keytypes.KeyType
}

// New constructs a Driver for one of KeyTypeEDDSA, KeyTypeSr25519, or
// KeyTypeTwoFactorAuth.
func New(orch *session.Orchestrator, st *store.Store, keygen mpcprim.KeygenRounds, sign mpcprim.SignRounds, variant keytypes.KeyType) (*Driver, error) {
	switch variant {
	case keytypes.KeyTypeEDDSA, keytypes.KeyTypeSr25519, keytypes.KeyTypeTwoFactorAuth:
	default:
		return nil, fmt.Errorf("eddsa: unsupported variant %q", variant)
	}
	return &Driver{Orchestrator: orch, Store: st, Keygen: keygen, Sign: sign, Variant: variant}, nil
}

// RunKeygen executes distributed key generation for keyID over the
// Edwards25519 group, then persists the Keyshare followed by the
// KeyInfo only once every participant agrees on y_sum (spec.md §4.3,
// §5 ordering). ownerSecret, when non-empty, is attached to the
// party_index == 0 share only (Sr25519's Schnorrkel envelope or the
// TwoFactorAuth raw code); every other party must pass it empty. If a
// keyshare already exists for keyID at the default share index,
// persistence fails with store.ErrAlreadyExists and nothing on disk is
// mutated (spec.md §4.1, §8).
func (d *Driver) RunKeygen(ctx context.Context, keyID string, selfPartyIndex int, parties []int, threshold int, ownerSecret string) (keytypes.KeyInfo, error) {
	curve, err := curvegroup.Edwards25519.Curve()
	if err != nil {
		return keytypes.KeyInfo{}, err
	}
	if selfPartyIndex != 0 && ownerSecret != "" {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: only party_index 0 may carry the owner secret")
	}

	round, err := d.Keygen.NewKeygen(selfPartyIndex, parties, threshold)
	if err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: construct keygen rounds: %w", err)
	}

	payload, err := d.Orchestrator.DriveRounds(ctx, func(n int) string {
		return bus.KeyGenRound(protoKeyGen, keyID, n)
	}, round)
	if err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: drive keygen rounds: %w", err)
	}

	var out mpcprim.KeygenOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: decode keygen output: %w", err)
	}

	agreed, err := d.Orchestrator.AgreeOnValue(ctx, bus.KeyGenAgree(protoKeyGen, keyID), out.YSum, len(parties))
	if err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: y_sum agreement: %w", err)
	}
	if !agreed {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: participants disagree on y_sum, aborting without writing")
	}

	var wire keytypes.VSSScheme
	if err := json.Unmarshal(out.VSS, &wire); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: decode vss scheme: %w", err)
	}
	if _, err := vss.FromWire(curve, wire); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: invalid vss scheme: %w", err)
	}

	ks := keytypes.Keyshare{
		Type:       d.Variant,
		PartyIndex: selfPartyIndex,
		Xi:         out.Xi,
		VSS:        wire,
		YSum:       out.YSum,
	}
	if selfPartyIndex == 0 && ownerSecret != "" {
		switch d.Variant {
		case keytypes.KeyTypeSr25519:
			ks.SchnorrkelSecretKey = []byte(ownerSecret)
		case keytypes.KeyTypeTwoFactorAuth:
			ks.RawCode = ownerSecret
		default:
			return keytypes.KeyInfo{}, fmt.Errorf("eddsa: variant %q does not carry an owner secret", d.Variant)
		}
	}
	if err := ks.Validate(); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: keyshare failed validation: %w", err)
	}

	if err := d.Store.SaveNewKeyshare(keyID, 0, ks); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: persist keyshare: %w", err)
	}

	info := keytypes.KeyInfo{KeyType: d.Variant, PublicKey: out.YSum}
	sortedParties := append([]int(nil), parties...)
	sort.Ints(sortedParties)
	for _, p := range sortedParties {
		info.NodeToShareIndices = append(info.NodeToShareIndices, keytypes.NodeShareIndex{NodeIndex: p, ShareIndex: p})
	}
	if err := d.Store.SaveKeyInfo(keyID, info); err != nil {
		return keytypes.KeyInfo{}, fmt.Errorf("eddsa: persist key info: %w", err)
	}

	if err := d.Orchestrator.Conn.Publish(ctx, bus.KeyGenEdDSASubject(keyID, "Result"), out.YSum); err != nil {
		logger.Warnf("keygen %s: publish result: %v", keyID, err)
	}

	return info, nil
}

// SignatureResult is EdDSA/sr25519's published sign result: the
// round's aggregated nonce commitment and response scalar (spec.md
// §4.3: "{R, sigma}").
type SignatureResult struct {
	R     keytypes.HexBytes `json:"R"`
	Sigma keytypes.HexBytes `json:"sigma"`
}

// RunSign executes threshold signing over digest for sessionID. For
// Sr25519, digest must already have been assembled under SigningContext
// by the caller (driver callers own message framing; this driver only
// carries bytes).
func (d *Driver) RunSign(ctx context.Context, sessionID string, selfPartyIndex int, parties []int, digest []byte) (SignatureResult, error) {
	round, err := d.Sign.NewSign(selfPartyIndex, parties, digest)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("eddsa: construct sign rounds: %w", err)
	}

	payload, err := d.Orchestrator.DriveRounds(ctx, func(n int) string {
		return bus.KeyGenRound(protoKeySign, sessionID, n)
	}, round)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("eddsa: drive sign rounds: %w", err)
	}

	var out mpcprim.SignOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return SignatureResult{}, fmt.Errorf("eddsa: decode sign output: %w", err)
	}
	result := SignatureResult{R: out.R, Sigma: out.Sigma}

	resultPayload, err := json.Marshal(result)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("eddsa: marshal signature result: %w", err)
	}
	if err := d.Orchestrator.Conn.Publish(ctx, bus.KeySignSubject(sessionID, "result"), resultPayload); err != nil {
		logger.Warnf("sign %s: publish result: %v", sessionID, err)
	}
	return result, nil
}

// SingleSignerSign produces a signature using only the owner's embedded
// Schnorrkel secret key, bypassing the multi-party round protocol
// entirely (spec.md §4.3: "The owner node for Sr25519 additionally
// supports single-signer fallback using the optional embedded secret").
// It is the caller's responsibility to supply the actual Schnorrkel
// sign function; this driver only enforces the variant/ownership
// invariants before delegating.
func (d *Driver) SingleSignerSign(ownerShare keytypes.Keyshare, digest []byte, sign func(secretKey, context, digest []byte) ([]byte, error)) (SignatureResult, error) {
	if d.Variant != keytypes.KeyTypeSr25519 {
		return SignatureResult{}, fmt.Errorf("eddsa: single-signer fallback is Sr25519-only")
	}
	if ownerShare.PartyIndex != 0 {
		return SignatureResult{}, fmt.Errorf("eddsa: single-signer fallback requires the party_index 0 share")
	}
	if len(ownerShare.SchnorrkelSecretKey) == 0 {
		return SignatureResult{}, fmt.Errorf("eddsa: owner share has no embedded schnorrkel secret key")
	}
	sig, err := sign(ownerShare.SchnorrkelSecretKey, []byte(SigningContext), digest)
	if err != nil {
		return SignatureResult{}, fmt.Errorf("eddsa: single-signer sign: %w", err)
	}
	return SignatureResult{Sigma: sig}, nil
}
