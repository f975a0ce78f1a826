// Package localrounds is a single-process, in-memory stand-in for the
// externalized round library mpcprim.KeygenRounds/SignRounds describe
// (spec.md §1: "the concrete curve and MPC primitives... assumed
// available as a library"). It runs a real, single-round joint
// Feldman DKG across the parties given to it and derives the party's
// additive share correctly, but it is not a production threshold
// signature scheme: it exists so cmd/node has something to drive
// end-to-end in a single process, the same role bus.InProc plays for
// the transport. A deployment with access to the real GG18/CGGMP or
// Ed25519-DKG round library substitutes it for this package without
// touching driver or session code.
package localrounds

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim/paillier"
	"github.com/justinrush/gridlock-mpc-engine/protocol"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

// logger is this package's structured round-event logger. Round-level
// DKG events (start, completion) carry party/threshold fields the same
// way a production MPC node's DKG handler would, rather than the
// sprintf-style logging the rest of this module uses for process
// lifecycle events. Defaults to a no-op logger; SetLogger installs a
// real one.
var logger = zap.NewNop()

// SetLogger installs l as the package's structured round-event logger.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// ECDSAKeygen is a KeygenRounds implementation over secp256k1 that also
// generates the fresh Paillier keypair driver/ecdsa.RunKeygen expects
// in its KeygenOutput.
type ECDSAKeygen struct{}

// NewKeygen constructs the joint-Feldman DKG round for this keygen.
func (ECDSAKeygen) NewKeygen(partyIndex int, parties []int, threshold int) (protocol.Round, error) {
	return newDKGRound(curvegroup.Secp256k1, partyIndex, parties, threshold, true)
}

// EdDSAKeygen is a KeygenRounds implementation over Edwards25519, used
// for EDDSA, Sr25519, and TwoFactorAuth keygen (no Paillier material).
type EdDSAKeygen struct{}

// NewKeygen constructs the joint-Feldman DKG round for this keygen.
func (EdDSAKeygen) NewKeygen(partyIndex int, parties []int, threshold int) (protocol.Round, error) {
	return newDKGRound(curvegroup.Edwards25519, partyIndex, parties, threshold, false)
}

var _ mpcprim.KeygenRounds = ECDSAKeygen{}
var _ mpcprim.KeygenRounds = EdDSAKeygen{}

type dkgPayload struct {
	Commitments []string `json:"commitments"`
	Share       string   `json:"share"`
}

type dkgRound struct {
	group       curvegroup.Group
	self        int
	parties     []int
	withPailler bool

	myScheme vss.Scheme
	myShares map[int]curvegroup.Scalar

	mu       sync.Mutex
	received map[int]dkgPayload

	output []byte
	done   bool
}

func newDKGRound(group curvegroup.Group, partyIndex int, parties []int, threshold int, withPaillier bool) (protocol.Round, error) {
	curve, err := group.Curve()
	if err != nil {
		return nil, err
	}
	secret, err := curvegroup.RandomScalar(curve)
	if err != nil {
		return nil, fmt.Errorf("localrounds: random secret: %w", err)
	}
	scheme, shares, err := vss.Share(curve, threshold, secret, parties)
	if err != nil {
		return nil, fmt.Errorf("localrounds: share secret: %w", err)
	}
	return &dkgRound{
		group: group, self: partyIndex, parties: parties, withPailler: withPaillier,
		myScheme: scheme, myShares: shares,
		received: make(map[int]dkgPayload),
	}, nil
}

func (r *dkgRound) Number() int { return 1 }

func (r *dkgRound) Start(ctx context.Context) ([]protocol.Message, error) {
	logger.Info("dkg round start",
		zap.String("group", string(r.group)),
		zap.Int("party_index", r.self),
		zap.Ints("parties", r.parties),
		zap.Bool("with_paillier", r.withPailler),
	)

	commitments := make([]string, len(r.myScheme.Commitments))
	for i, c := range r.myScheme.Commitments {
		commitments[i] = hex.EncodeToString(c.Bytes())
	}

	var out []protocol.Message
	for _, p := range r.parties {
		payload := dkgPayload{
			Commitments: commitments,
			Share:       hex.EncodeToString(r.myShares[p].Bytes()),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, protocol.Message{From: r.self, To: p, Payload: raw})
	}
	return out, nil
}

func (r *dkgRound) CanAccept(msg protocol.Message) bool {
	return msg.To == r.self
}

func (r *dkgRound) Update(ctx context.Context, msg protocol.Message) (bool, error) {
	var payload dkgPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[msg.From] = payload
	return len(r.received) == len(r.parties), nil
}

func (r *dkgRound) NextRound() (protocol.Round, error) {
	curve, err := r.group.Curve()
	if err != nil {
		return nil, err
	}

	xi := curvegroup.NewScalar(curve, big.NewInt(0))
	ySum := curvegroup.IdentityPoint(curve)
	for _, payload := range r.received {
		shareBytes, err := hex.DecodeString(payload.Share)
		if err != nil {
			return nil, err
		}
		xi = xi.Add(curvegroup.ScalarFromBytes(curve, shareBytes))

		c0Bytes, err := hex.DecodeString(payload.Commitments[0])
		if err != nil {
			return nil, err
		}
		c0, err := curvegroup.PointFromBytes(curve, c0Bytes)
		if err != nil {
			return nil, err
		}
		ySum = ySum.Add(c0)
	}

	wire := vss.ToWire(r.myScheme)
	wireRaw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	out := mpcprim.KeygenOutput{
		Xi:   xi.Bytes(),
		VSS:  wireRaw,
		YSum: ySum.Bytes(),
	}

	if r.withPailler {
		pub, priv, err := paillier.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("localrounds: generate paillier keypair: %w", err)
		}
		out.PaillierN = pub.N.Bytes()
		out.PaillierP = priv.P.Bytes()
		out.PaillierQ = priv.Q.Bytes()
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	r.output = raw
	r.done = true
	logger.Info("dkg round complete",
		zap.String("group", string(r.group)),
		zap.Int("party_index", r.self),
		zap.Int("contributors", len(r.received)),
	)
	return nil, nil
}

func (r *dkgRound) Output() ([]byte, bool) {
	return r.output, r.done
}
