// Package recovery drives the live key-share recovery session over the
// bus (spec.md §4.4): the ring exchange among surviving helpers, and
// the recovering node's side that collects each helper's combined
// contribution and sums them into the lost share. The Lagrange math
// itself lives in the top-level recovery package (Calculator,
// Reconstruct, Validate); this package only adds the session wiring,
// the same way driver/ecdsa and driver/eddsa wire mpcprim's round math
// onto session.Orchestrator.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	log "github.com/ipfs/go-log"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	mathrecovery "github.com/justinrush/gridlock-mpc-engine/recovery"
	"github.com/justinrush/gridlock-mpc-engine/protocol"
	"github.com/justinrush/gridlock-mpc-engine/session"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

var logger = log.Logger("driver/recovery")

const protoRing = "KeyShareRecoveryRing"

// RunHelperSide runs one helper's side of the recovery session for
// sessionID: the ring exchange of additively-split Lagrange
// contributions (spec.md §4.4 steps 1-3, no helper reveals its share to
// any other), then publishes this helper's combined result on the
// session's DeliverRecoveryPackage subject for the recovering node to
// collect (spec.md §4.4 step 4). Each piece is sealed to its recipient's
// entry in peerPublicKeys before it goes out on the bus, and opened with
// selfPrivateKey on arrival (spec.md §4.4 step 3: pieces travel
// "encrypted to each peer's public key").
func RunHelperSide(ctx context.Context, orch *session.Orchestrator, group curvegroup.Group, sessionID string, recoveryIndex, selfPartyIndex int, helperOrder []int, secretShare curvegroup.Scalar, selfPrivateKey [32]byte, peerPublicKeys map[int][]byte) error {
	curve, err := group.Curve()
	if err != nil {
		return err
	}
	calc, err := mathrecovery.NewCalculator(curve, recoveryIndex, selfPartyIndex, helperOrder, secretShare)
	if err != nil {
		return fmt.Errorf("recovery: construct calculator: %w", err)
	}

	round := &ringRound{
		calc: calc, self: selfPartyIndex, peerCount: len(helperOrder) - 1,
		received:       make(map[int]curvegroup.Scalar),
		selfPrivateKey: selfPrivateKey, peerPublicKeys: peerPublicKeys,
	}
	payload, err := orch.DriveRounds(ctx, func(n int) string {
		return bus.KeyGenRound(protoRing, sessionID, n)
	}, round)
	if err != nil {
		return fmt.Errorf("recovery: drive ring round: %w", err)
	}

	var out ringOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return fmt.Errorf("recovery: decode ring output: %w", err)
	}
	combined := curvegroup.ScalarFromBytes(curve, out.Combined)

	msg := combinedSharePayload{PartyIndex: selfPartyIndex, Combined: combined.Bytes()}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("recovery: marshal combined share: %w", err)
	}
	if err := orch.Conn.Publish(ctx, bus.KeyShareRecoverySubject(sessionID, "DeliverRecoveryPackage"), raw); err != nil {
		return fmt.Errorf("recovery: publish combined share: %w", err)
	}
	logger.Infof("recovery %s: helper %d delivered its combined contribution", sessionID, selfPartyIndex)
	return nil
}

// RunRecoveringNodeSide collects helperCount combined contributions
// published by RunHelperSide, sums them into the reconstructed share
// (spec.md §4.4 step 4), and validates it against schemes before
// returning it. It times out after orch.RoundTimeout if fewer than
// helperCount contributions arrive.
func RunRecoveringNodeSide(ctx context.Context, orch *session.Orchestrator, group curvegroup.Group, sessionID string, helperCount, recoveryIndex int, schemes []vss.Scheme) (curvegroup.Scalar, error) {
	curve, err := group.Curve()
	if err != nil {
		return curvegroup.Scalar{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, orch.RoundTimeout)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[int]bool)
	shares := make([]curvegroup.Scalar, 0, helperCount)
	doneCh := make(chan struct{})

	sub, err := orch.Conn.Subscribe(bus.KeyShareRecoverySubject(sessionID, "DeliverRecoveryPackage"), func(_ context.Context, m bus.Message) {
		var p combinedSharePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if seen[p.PartyIndex] {
			return
		}
		seen[p.PartyIndex] = true
		shares = append(shares, curvegroup.ScalarFromBytes(curve, p.Combined))
		if len(shares) == helperCount {
			close(doneCh)
		}
	})
	if err != nil {
		return curvegroup.Scalar{}, fmt.Errorf("recovery: subscribe delivery subject: %w", err)
	}
	defer sub.Unsubscribe()

	select {
	case <-doneCh:
	case <-ctx.Done():
		mu.Lock()
		n := len(shares)
		mu.Unlock()
		return curvegroup.Scalar{}, fmt.Errorf("%w: got %d/%d helper contributions before timeout", mathrecovery.ErrInsufficientShares, n, helperCount)
	}

	reconstructed := mathrecovery.Reconstruct(curve, shares)
	if err := mathrecovery.Validate(curve, reconstructed, schemes, recoveryIndex); err != nil {
		return curvegroup.Scalar{}, err
	}
	return reconstructed, nil
}

type combinedSharePayload struct {
	PartyIndex int    `json:"party_index"`
	Combined   []byte `json:"combined"`
}

type ringOutput struct {
	Combined []byte `json:"combined"`
}

// ringRound is the one-round ring exchange a single helper runs:
// send each ForPeerExchange piece to its PieceRecipient, collect one
// piece from each other helper, then combine (spec.md §4.4 steps 2-3).
type ringRound struct {
	calc      *mathrecovery.Calculator
	self      int
	peerCount int
	retained  curvegroup.Scalar

	selfPrivateKey [32]byte
	peerPublicKeys map[int][]byte

	mu       sync.Mutex
	received map[int]curvegroup.Scalar

	output []byte
	done   bool
}

func (r *ringRound) Number() int { return 1 }

func (r *ringRound) Start(ctx context.Context) ([]protocol.Message, error) {
	contribution, err := r.calc.ContributeLostShare()
	if err != nil {
		return nil, err
	}
	r.retained = contribution.Retained

	var out []protocol.Message
	for j, piece := range contribution.ForPeerExchange {
		recipient, err := r.calc.PieceRecipient(j)
		if err != nil {
			return nil, err
		}
		peerPub, ok := r.peerPublicKeys[recipient]
		if !ok {
			return nil, fmt.Errorf("recovery: no public key known for peer %d", recipient)
		}
		sealed, err := sealPiece(peerPub, piece.Bytes())
		if err != nil {
			return nil, fmt.Errorf("recovery: seal piece for peer %d: %w", recipient, err)
		}
		out = append(out, protocol.Message{From: r.self, To: recipient, Payload: sealed})
	}
	if r.peerCount == 0 {
		return out, r.finish()
	}
	return out, nil
}

func (r *ringRound) CanAccept(msg protocol.Message) bool {
	return msg.To == r.self
}

func (r *ringRound) Update(ctx context.Context, msg protocol.Message) (bool, error) {
	plaintext, err := openPiece(r.selfPrivateKey, msg.Payload)
	if err != nil {
		return false, fmt.Errorf("recovery: open piece from peer %d: %w", msg.From, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[msg.From] = curvegroup.ScalarFromBytes(r.calc.Curve, plaintext)
	if len(r.received) < r.peerCount {
		return false, nil
	}
	return true, r.finish()
}

func (r *ringRound) finish() error {
	pieces := make([]curvegroup.Scalar, 0, len(r.received))
	for _, s := range r.received {
		pieces = append(pieces, s)
	}
	combined := mathrecovery.CombineReceived(r.calc.Curve, r.retained, pieces)
	raw, err := json.Marshal(ringOutput{Combined: combined.Bytes()})
	if err != nil {
		return err
	}
	r.output = raw
	r.done = true
	return nil
}

func (r *ringRound) NextRound() (protocol.Round, error) { return nil, nil }

func (r *ringRound) Output() ([]byte, bool) { return r.output, r.done }
