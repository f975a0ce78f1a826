package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// InProc is a self-contained, in-process Conn: every Publish is
// dispatched synchronously, on the caller's goroutine, to every matching
// subscriber, and every Request to the first matching responder.
// It exists to exercise the Conn contract in tests and single-process
// deployments (a live NATS-style transport is out of this module's
// scope, spec.md §1).
type InProc struct {
	mu   sync.RWMutex
	subs map[string]*inprocSub
}

type inprocSub struct {
	pattern []string
	handler Handler
	request ReplyHandler
}

// NewInProc constructs an empty in-process bus.
func NewInProc() *InProc {
	return &InProc{subs: make(map[string]*inprocSub)}
}

func tokenize(subject string) []string {
	return strings.Split(subject, ".")
}

// matches reports whether subject matches pattern, honoring `*` (one
// token) and `>` (remaining tokens) wildcards.
func matches(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" {
			return true
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}

func (b *InProc) Publish(ctx context.Context, subject string, payload []byte) error {
	b.dispatch(ctx, subject, payload)
	return nil
}

func (b *InProc) dispatch(ctx context.Context, subject string, payload []byte) {
	tokens := tokenize(subject)
	b.mu.RLock()
	var matched []*inprocSub
	for _, s := range b.subs {
		if matches(s.pattern, tokens) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		if s.handler != nil {
			s.handler(ctx, Message{Subject: subject, Payload: payload})
		}
	}
}

func (b *InProc) Subscribe(subject string, handler Handler) (Subscription, error) {
	id := uuid.NewString()
	sub := &inprocSub{pattern: tokenize(subject), handler: handler}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return &inprocSubscription{bus: b, id: id}, nil
}

func (b *InProc) SubscribeRequest(subject string, handler ReplyHandler) (Subscription, error) {
	id := uuid.NewString()
	sub := &inprocSub{pattern: tokenize(subject), request: handler}
	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return &inprocSubscription{bus: b, id: id}, nil
}

func (b *InProc) Request(ctx context.Context, subject string, payload []byte) ([]byte, error) {
	tokens := tokenize(subject)
	b.mu.RLock()
	var responder *inprocSub
	for _, s := range b.subs {
		if s.request != nil && matches(s.pattern, tokens) {
			responder = s
			break
		}
	}
	b.mu.RUnlock()

	if responder == nil {
		return nil, fmt.Errorf("bus: no responder for subject %q", subject)
	}
	return responder.request(ctx, Message{Subject: subject, Payload: payload})
}

func (b *InProc) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]*inprocSub)
	return nil
}

type inprocSubscription struct {
	bus *InProc
	id  string
}

func (s *inprocSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}
