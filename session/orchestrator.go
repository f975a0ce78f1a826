// Package session is the Session Orchestrator: it binds a session to
// its subject group, runs the Join barrier, and fans out/collects
// per-round messages for the protocol drivers above it (spec.md §4.2).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/ipfs/go-log"
	"golang.org/x/sync/errgroup"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/protocol"
)

var logger = log.Logger("session")

// Orchestrator drives sessions over a bus.Conn: the Join barrier
// (request/reply) and round fan-out/collect (publish/subscribe),
// bounded by JoinTimeout and RoundTimeout (spec.md §4.2).
type Orchestrator struct {
	Conn         bus.Conn
	JoinTimeout  time.Duration
	RoundTimeout time.Duration
}

// NewOrchestrator constructs an Orchestrator over conn with the given
// timeouts.
func NewOrchestrator(conn bus.Conn, joinTimeout, roundTimeout time.Duration) *Orchestrator {
	return &Orchestrator{Conn: conn, JoinTimeout: joinTimeout, RoundTimeout: roundTimeout}
}

// RunJoinBarrier is the initiator side of the Join barrier: it
// registers a request/reply responder on subject, blocks until
// expectedCount distinct party indices have joined or JoinTimeout
// elapses, then replies to every joiner at once with the same
// JoinResponse (spec.md §4.2: "the initiator gathers responses until
// either the expected count arrives or a deadline elapses, then
// broadcasts a JoinResponse"). Duplicate party_index joins are
// rejected.
func (o *Orchestrator) RunJoinBarrier(ctx context.Context, subject string, expectedCount int) (JoinResponse, error) {
	type waiter struct {
		reply chan []byte
		errCh chan error
	}

	var mu sync.Mutex
	seen := make(map[int]bool)
	waiters := make(map[int]*waiter)
	released := false
	resultCh := make(chan JoinResponse, 1)

	sub, err := o.Conn.SubscribeRequest(subject, func(rctx context.Context, msg bus.Message) ([]byte, error) {
		var join JoinMessage
		if err := json.Unmarshal(msg.Payload, &join); err != nil {
			return nil, fmt.Errorf("session: invalid join message: %w", err)
		}

		mu.Lock()
		if seen[join.PartyIndex] {
			mu.Unlock()
			return nil, fmt.Errorf("session: duplicate party_index %d", join.PartyIndex)
		}
		seen[join.PartyIndex] = true
		w := &waiter{reply: make(chan []byte, 1), errCh: make(chan error, 1)}
		waiters[join.PartyIndex] = w

		if len(seen) == expectedCount && !released {
			released = true
			indices := make([]int, 0, len(seen))
			for idx := range seen {
				indices = append(indices, idx)
			}
			sort.Ints(indices)
			resp := JoinResponse{PartyCount: len(indices), AllPartyIndices: indices}
			payload, merr := json.Marshal(resp)
			for _, w := range waiters {
				if merr != nil {
					w.errCh <- merr
				} else {
					w.reply <- payload
				}
			}
			resultCh <- resp
		}
		mu.Unlock()

		select {
		case payload := <-w.reply:
			return payload, nil
		case err := <-w.errCh:
			return nil, err
		case <-rctx.Done():
			return nil, rctx.Err()
		}
	})
	if err != nil {
		return JoinResponse{}, fmt.Errorf("session: subscribe join barrier: %w", err)
	}
	defer sub.Unsubscribe()

	select {
	case resp := <-resultCh:
		logger.Debugf("join barrier on %s satisfied with %d participants", subject, resp.PartyCount)
		return resp, nil
	case <-time.After(o.JoinTimeout):
		logger.Warnf("join barrier on %s timed out waiting for %d participants", subject, expectedCount)
		return JoinResponse{}, fmt.Errorf("session: join barrier on %s timed out waiting for %d participants", subject, expectedCount)
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

// joinRetryInterval is how often Join retries its request while waiting
// for the barrier side's responder to subscribe (the in-process bus has
// no request queueing, unlike a real broker, so a joiner that races the
// initiator's RunJoinBarrier subscription would otherwise fail
// immediately instead of blocking for it).
const joinRetryInterval = 20 * time.Millisecond

// Join is the participant side of the Join barrier: it sends msg on
// subject and blocks for the broadcast JoinResponse.
func (o *Orchestrator) Join(ctx context.Context, subject string, msg JoinMessage) (JoinResponse, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return JoinResponse{}, fmt.Errorf("session: marshal join message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.JoinTimeout)
	defer cancel()

	var reply []byte
	for {
		reply, err = o.Conn.Request(ctx, subject, payload)
		if err == nil {
			break
		}
		select {
		case <-time.After(joinRetryInterval):
		case <-ctx.Done():
			return JoinResponse{}, fmt.Errorf("session: join request: %w", err)
		}
	}

	var resp JoinResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return JoinResponse{}, fmt.Errorf("session: invalid join response: %w", err)
	}
	return resp, nil
}

// RoundBridge wires a bus.Conn subscription into the protocol.Message
// inbox/send shape protocol.Run expects, for the subject
// "<proto>.<session_id>.<round>" pattern (spec.md §4.2's fixed subject
// discipline). Each bus.Message payload is expected to already be a
// JSON-encoded protocol.Message.
type RoundBridge struct {
	inbox chan protocol.Message
	conn  bus.Conn
	subj  string
	sub   bus.Subscription
}

// NewRoundBridge subscribes to subject and returns a RoundBridge whose
// Inbox channel receives every message published there.
func NewRoundBridge(conn bus.Conn, subject string) (*RoundBridge, error) {
	rb := &RoundBridge{inbox: make(chan protocol.Message, 64), conn: conn, subj: subject}
	sub, err := conn.Subscribe(subject, func(ctx context.Context, msg bus.Message) {
		var pm protocol.Message
		if err := json.Unmarshal(msg.Payload, &pm); err != nil {
			return
		}
		select {
		case rb.inbox <- pm:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("session: subscribe round subject %s: %w", subject, err)
	}
	rb.sub = sub
	return rb, nil
}

// Inbox is the channel protocol.Run should read round messages from.
func (rb *RoundBridge) Inbox() <-chan protocol.Message {
	return rb.inbox
}

// Send publishes a protocol.Message on the round subject for
// protocol.Run's send callback.
func (rb *RoundBridge) Send(ctx context.Context, msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: marshal round message: %w", err)
	}
	return rb.conn.Publish(ctx, rb.subj, payload)
}

// Close unsubscribes from the round subject.
func (rb *RoundBridge) Close() error {
	return rb.sub.Unsubscribe()
}

// DriveRounds runs an mpcprim-style externalized round sequence to
// completion over the bus, opening a fresh RoundBridge for each round's
// subject (spec.md §4.2's per-session round subject,
// "<proto>.<session_id>.<round>") since each round of a keygen/sign/
// recovery protocol is exchanged on its own subject rather than a
// single shared channel. first is the protocol's first round; subjectFor
// maps a round number to its bus subject.
func (o *Orchestrator) DriveRounds(ctx context.Context, subjectFor func(roundNumber int) string, first protocol.Round) ([]byte, error) {
	round := first
	for round != nil {
		roundNumber := round.Number()
		subject := subjectFor(roundNumber)

		rb, err := NewRoundBridge(o.Conn, subject)
		if err != nil {
			return nil, fmt.Errorf("session: open round %d bridge: %w", roundNumber, err)
		}

		ctx, cancel := context.WithTimeout(ctx, o.RoundTimeout)
		outbound, err := round.Start(ctx)
		if err != nil {
			cancel()
			rb.Close()
			return nil, fmt.Errorf("session: round %d start: %w", roundNumber, err)
		}
		for _, msg := range outbound {
			if err := rb.Send(ctx, msg); err != nil {
				cancel()
				rb.Close()
				return nil, fmt.Errorf("session: round %d send: %w", roundNumber, err)
			}
		}

		done := len(outbound) == 0 // a round with nothing to collect (e.g. solo party) is immediately done
		var updateErr error
		for !done {
			select {
			case msg := <-rb.Inbox():
				if !round.CanAccept(msg) {
					continue
				}
				done, updateErr = round.Update(ctx, msg)
				if updateErr != nil {
					cancel()
					rb.Close()
					return nil, fmt.Errorf("session: round %d update: %w", roundNumber, updateErr)
				}
			case <-ctx.Done():
				cancel()
				rb.Close()
				return nil, fmt.Errorf("session: round %d: %w", roundNumber, ctx.Err())
			}
		}
		cancel()
		rb.Close()

		next, err := round.NextRound()
		if err != nil {
			return nil, fmt.Errorf("session: round %d finalize: %w", roundNumber, err)
		}
		if next == nil {
			if payload, ok := round.Output(); ok {
				return payload, nil
			}
			return nil, fmt.Errorf("session: round %d was terminal but produced no output", roundNumber)
		}
		round = next
	}
	return nil, fmt.Errorf("session: round sequence ended without a terminal round")
}

// CollectRoundResults runs fn once per party in parties, bounded by
// RoundTimeout and ctx, collecting every result or the first error
// (a helper for fanning out a blocking per-party step, e.g. a Paillier
// proof computation, across an errgroup, spec.md §4.2's round
// fan-out/collect responsibility; no driver in this module calls it).
func (o *Orchestrator) CollectRoundResults(ctx context.Context, parties []int, fn func(ctx context.Context, partyIndex int) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.RoundTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range parties {
		p := p
		g.Go(func() error {
			return fn(gctx, p)
		})
	}
	return g.Wait()
}

// AgreeOnValue publishes selfValue on subject and collects expectedCount
// published values (including this party's own), bounded by
// RoundTimeout, reporting whether every collected value is
// byte-identical. This backs the "all participants must agree... a
// mismatch aborts without writing" invariant on keygen results
// (spec.md §4.3).
func (o *Orchestrator) AgreeOnValue(ctx context.Context, subject string, selfValue []byte, expectedCount int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, o.RoundTimeout)
	defer cancel()

	collected := make(chan []byte, expectedCount)
	sub, err := o.Conn.Subscribe(subject, func(_ context.Context, msg bus.Message) {
		select {
		case collected <- msg.Payload:
		default:
		}
	})
	if err != nil {
		return false, fmt.Errorf("session: subscribe agreement subject %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	if err := o.Conn.Publish(ctx, subject, selfValue); err != nil {
		return false, fmt.Errorf("session: publish agreement value: %w", err)
	}

	values := make([][]byte, 0, expectedCount)
	for len(values) < expectedCount {
		select {
		case v := <-collected:
			values = append(values, v)
		case <-ctx.Done():
			return false, fmt.Errorf("session: agreement on %s timed out with %d/%d values", subject, len(values), expectedCount)
		}
	}

	for _, v := range values[1:] {
		if string(v) != string(values[0]) {
			return false, nil
		}
	}
	return true, nil
}
