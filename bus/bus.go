// Package bus defines the Bus Adapter contract: subject-addressed
// publish, subscribe, and request/reply (spec.md §1, §6). The bus
// itself is an external collaborator out of this module's scope; this
// package carries the contract the session orchestrator and relay
// depend on, plus subject builders for the grammar rooted at
// network.gridlock.nodes (spec.md §6's subject grammar table).
package bus

import (
	"context"
	"fmt"
)

// Root is the dot-delimited prefix every subject is rooted at.
const Root = "network.gridlock.nodes"

// Message is one published or received bus message: a subject plus an
// opaque, already-serialized payload. Handlers decode Payload according
// to what the subject pattern documents it carries.
type Message struct {
	Subject string
	Payload []byte
}

// Handler processes one inbound message on a subscription.
type Handler func(ctx context.Context, msg Message)

// ReplyHandler processes one inbound request, returning the payload to
// send back as the reply.
type ReplyHandler func(ctx context.Context, msg Message) ([]byte, error)

// Subscription can be cancelled to stop receiving messages.
type Subscription interface {
	Unsubscribe() error
}

// Conn is the subject-addressed bus contract every component above the
// transport depends on. A concrete implementation is expected to be
// supplied by the deployment (spec.md §1); InProc below is a
// self-contained adapter for single-process runs and tests.
type Conn interface {
	// Publish sends payload on subject with no reply expected.
	Publish(ctx context.Context, subject string, payload []byte) error
	// Subscribe registers handler for every message published on
	// subject (which may contain NATS-style wildcards: `*` for one
	// token, `>` for the remaining tokens).
	Subscribe(subject string, handler Handler) (Subscription, error)
	// SubscribeRequest registers handler as a request/reply responder:
	// its return value is published back to the requester's reply
	// subject. Used for the Join barrier (spec.md §4.2).
	SubscribeRequest(subject string, handler ReplyHandler) (Subscription, error)
	// Request publishes payload on subject and blocks for a single
	// reply, or until ctx is done.
	Request(ctx context.Context, subject string, payload []byte) ([]byte, error)
	// Close releases any resources held by the connection.
	Close() error
}

// Subjects builds the fixed subject patterns from spec.md §6, all
// rooted at Root.

// NodeMessageNew is where TaggedCommand envelopes are delivered to a
// running node.
func NodeMessageNew(nodeID string) string {
	return fmt.Sprintf("%s.Message.new.%s", Root, nodeID)
}

// RelayMessageNew is where TaggedCommand envelopes are delivered to the
// delivery relay for store-and-forward.
func RelayMessageNew(nodeID string) string {
	return fmt.Sprintf("%s.async.Message.new.%s", Root, nodeID)
}

// NodeReady is the heartbeat a node publishes to signal it is online
// and able to receive queued updates.
func NodeReady(nodeID string) string {
	return fmt.Sprintf("%s.ready.%s", Root, nodeID)
}

// KeyGenNew is where a keygen session invites a participant.
func KeyGenNew(nodeID string) string {
	return fmt.Sprintf("%s.keyGen.new.%s", Root, nodeID)
}

// KeyGenJoin is the ECDSA keygen Join barrier subject for keyID.
func KeyGenJoin(keyID string) string {
	return fmt.Sprintf("%s.keyGen.session.%s.join", Root, keyID)
}

// KeyGenResult is where the ECDSA keygen result fans out.
func KeyGenResult(keyID string) string {
	return fmt.Sprintf("%s.keyGen.session.%s.result", Root, keyID)
}

// KeyGenRound builds the per-round subject for a keygen/sign/recovery
// protocol's round exchange, the general form spec.md §4.2 names
// ("<proto>.<session_id>.<round>") specialized with proto and a round
// number.
func KeyGenRound(proto, sessionID string, roundNumber int) string {
	return fmt.Sprintf("%s.%s.session.%s.round.%d", Root, proto, sessionID, roundNumber)
}

// KeyGenAgree builds the subject participants publish their derived
// y_sum to for the post-keygen agreement check (spec.md §4.3: "all
// participants must agree on y_sum; a mismatch aborts without
// writing").
func KeyGenAgree(proto, sessionID string) string {
	return fmt.Sprintf("%s.%s.session.%s.agree", Root, proto, sessionID)
}

// KeySignSubject builds one of the signing session's {join,start,result}
// subjects for sessionID.
func KeySignSubject(sessionID, step string) string {
	return fmt.Sprintf("%s.keySign.session.%s.%s", Root, sessionID, step)
}

// KeyGenEdDSASubject builds one of the EdDSA keygen's {Join,Result}
// subjects for keyID.
func KeyGenEdDSASubject(keyID, step string) string {
	return fmt.Sprintf("%s.KeyGenEdDSA.%s.%s", Root, keyID, step)
}

// KeyShareRecoverySubject builds one of the recovery session's
// {Join,DeliverRecoveryPackage} subjects for sessionID.
func KeyShareRecoverySubject(sessionID, step string) string {
	return fmt.Sprintf("%s.KeyShareRecovery.%s.%s", Root, sessionID, step)
}
