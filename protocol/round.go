package protocol

import (
	"context"
	"fmt"
)

// Message is one party's contribution to the current round: an
// arbitrary opaque payload plus its sender's party index so Round
// implementations can address per-peer state (e.g. Paillier proofs
// keyed by sender). To is the party index of the addressed peer; every
// message is shipped over the round's shared subject, and each Round's
// CanAccept decides which messages it takes (no value of To is treated
// as a broadcast).
type Message struct {
	From    int
	To      int
	Payload []byte
}

// Round is one step of a multi-round protocol (keygen, signing, or
// recovery), run as a bounded collect against a session-scoped inbox
// rather than a tall call stack of awaits (spec.md §9). The shape
// mirrors the teacher's Start/CanAccept/Update/NextRound round
// lifecycle: Start emits this party's outbound messages, CanAccept
// reports whether a given message belongs to this round, Update folds
// one accepted message into round state and reports completion, and
// NextRound returns the following Round once Update reports done (or
// nil if the protocol is finished). Number and Output let a driver
// address this round's bus subject and retrieve the terminal result,
// for sequences run over session.Orchestrator.DriveRounds rather than
// protocol.Run's single static channel.
type Round interface {
	// Number is this round's 1-based position in the protocol.
	Number() int
	// Start produces this round's outbound messages.
	Start(ctx context.Context) ([]Message, error)
	// CanAccept reports whether msg belongs to this round, so the
	// driver can buffer messages that arrive out of order for a later
	// round instead of dropping them.
	CanAccept(msg Message) bool
	// Update folds one accepted message into round state, reporting
	// whether every expected message has now been collected.
	Update(ctx context.Context, msg Message) (done bool, err error)
	// NextRound returns the following Round, or nil if the protocol has
	// completed.
	NextRound() (Round, error)
	// Output returns the protocol's finalized, JSON-encoded result and
	// true once this round, as the terminal round, has produced one;
	// otherwise it returns false. Only meaningful after NextRound
	// returned nil.
	Output() (payload []byte, ok bool)
}

// Run drives a Round sequence to completion: Start the round, collect
// messages from inbox (buffering ones the current round can't yet
// accept), Update on every accepted message until done, then advance
// via NextRound. send is called once per outbound Message produced by
// Start. Run returns when NextRound yields nil, ctx is cancelled, or a
// round reports an error.
func Run(ctx context.Context, first Round, inbox <-chan Message, send func(Message) error) error {
	pending := make([]Message, 0)
	round := first
	roundNumber := 0
	for round != nil {
		roundNumber++
		outbound, err := round.Start(ctx)
		if err != nil {
			return fmt.Errorf("protocol: round %d start: %w", roundNumber, err)
		}
		for _, msg := range outbound {
			if err := send(msg); err != nil {
				return fmt.Errorf("protocol: round %d send: %w", roundNumber, err)
			}
		}

		done, err := drainPending(ctx, round, &pending)
		if err != nil {
			return fmt.Errorf("protocol: round %d: %w", roundNumber, err)
		}
		for !done {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-inbox:
				if !ok {
					return fmt.Errorf("protocol: round %d: inbox closed before round completed", roundNumber)
				}
				if !round.CanAccept(msg) {
					pending = append(pending, msg)
					continue
				}
				done, err = round.Update(ctx, msg)
				if err != nil {
					return fmt.Errorf("protocol: round %d update: %w", roundNumber, err)
				}
			}
		}

		round, err = round.NextRound()
		if err != nil {
			return fmt.Errorf("protocol: round %d advance: %w", roundNumber, err)
		}
	}
	return nil
}

// drainPending replays buffered messages from a prior round against the
// new round, in case they arrived early.
func drainPending(ctx context.Context, round Round, pending *[]Message) (bool, error) {
	remaining := (*pending)[:0]
	done := false
	for _, msg := range *pending {
		if done || !round.CanAccept(msg) {
			remaining = append(remaining, msg)
			continue
		}
		var err error
		done, err = round.Update(ctx, msg)
		if err != nil {
			return false, err
		}
	}
	*pending = remaining
	return done, nil
}
