package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/ipfs/go-log"
	"golang.org/x/sync/errgroup"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/session"
)

var logger = log.Logger("relay")

// Defaults mirror original_source/backend/key-info/src/main.rs exactly:
// SAVE_CMD_TIMEOUT_SEC = 5, READY_MSG_INTERVAL = 200ms*2 = 400ms, and
// the update loop's hardcoded 10-second per-row delivery timeout.
const (
	DefaultSaveCmdTimeout  = 5 * time.Second
	DefaultReadyMsgInterval = 400 * time.Millisecond
	DefaultDeliverTimeout   = 10 * time.Second
)

// Relay runs the store-and-forward message_loop and update_loop
// (spec.md §4.6) against a bus connection and a persisted queue.
type Relay struct {
	Conn             bus.Conn
	Store            *BoltStore
	SaveCmdTimeout   time.Duration
	ReadyMsgInterval time.Duration
	DeliverTimeout   time.Duration

	mu        sync.Mutex
	lastReady map[string]time.Time
}

// New constructs a Relay with spec.md §4.6's default timeouts.
func New(conn bus.Conn, store *BoltStore) *Relay {
	return &Relay{
		Conn:             conn,
		Store:            store,
		SaveCmdTimeout:   DefaultSaveCmdTimeout,
		ReadyMsgInterval: DefaultReadyMsgInterval,
		DeliverTimeout:   DefaultDeliverTimeout,
		lastReady:        make(map[string]time.Time),
	}
}

// Run drives the message loop and update loop concurrently until ctx
// is done or either loop returns an error (spec.md §5: "Process
// termination races all sessions to completion").
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.messageLoop(ctx) })
	g.Go(func() error { return r.updateLoop(ctx) })
	return g.Wait()
}

// messageLoop subscribes to every node's async delivery subject,
// attempts an immediate request/reply delivery, and on timeout
// persists a NodeUpdateData row (spec.md §4.6 steps 1-4).
func (r *Relay) messageLoop(ctx context.Context) error {
	sub, err := r.Conn.Subscribe(bus.RelayMessageNew("*"), func(_ context.Context, msg bus.Message) {
		nodeID := lastSubjectToken(msg.Subject)
		if nodeID == "" {
			logger.Errorf("unable to obtain node id from subject %q", msg.Subject)
			return
		}
		go r.processCommand(ctx, nodeID, msg.Payload)
	})
	if err != nil {
		return fmt.Errorf("relay: subscribe message loop: %w", err)
	}
	defer sub.Unsubscribe()
	<-ctx.Done()
	return nil
}

func (r *Relay) processCommand(ctx context.Context, nodeID string, payload []byte) {
	var cmd session.TaggedCommand
	messageType := "unknown"
	if err := json.Unmarshal(payload, &cmd); err == nil && cmd.Cmd != "" {
		messageType = cmd.Cmd
	}

	deliverCtx, cancel := context.WithTimeout(ctx, r.SaveCmdTimeout)
	defer cancel()
	_, err := r.Conn.Request(deliverCtx, bus.NodeMessageNew(nodeID), payload)
	if err == nil {
		logger.Infof("command delivered successfully - node_id: %s", nodeID)
		return
	}

	logger.Infof("command wasn't delivered, saving node update data - node_id: %s", nodeID)
	row := NodeUpdateData{NodeID: nodeID, MessageType: messageType, UpdateCmd: json.RawMessage(payload)}
	if err := r.Store.Save(row); err != nil {
		logger.Errorf("unable to save node update data - node_id: %s: %v", nodeID, err)
	}
}

// updateLoop subscribes to every node's ready heartbeat, throttles
// repeated heartbeats within ReadyMsgInterval, and on an accepted
// heartbeat delivers every undelivered row for that node (spec.md §4.6
// steps 5-6).
func (r *Relay) updateLoop(ctx context.Context) error {
	sub, err := r.Conn.Subscribe(bus.NodeReady("*"), func(_ context.Context, msg bus.Message) {
		nodeID := string(msg.Payload)
		if nodeID == "" {
			logger.Errorf("unable to decode ready message on subject %q", msg.Subject)
			return
		}
		if !r.acceptReady(nodeID) {
			return
		}
		logger.Infof("processing ready message - node_id: %s", nodeID)
		go r.deliverUpdatesTo(ctx, nodeID)
	})
	if err != nil {
		return fmt.Errorf("relay: subscribe update loop: %w", err)
	}
	defer sub.Unsubscribe()
	<-ctx.Done()
	return nil
}

// acceptReady reports whether this heartbeat for nodeID should trigger
// a delivery attempt, throttling repeats within ReadyMsgInterval
// (original_source's node_id_to_upd_time map).
func (r *Relay) acceptReady(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, seen := r.lastReady[nodeID]
	now := time.Now()
	r.lastReady[nodeID] = now
	if seen && now.Sub(last) < r.ReadyMsgInterval {
		return false
	}
	return true
}

func (r *Relay) deliverUpdatesTo(ctx context.Context, nodeID string) {
	rows, err := r.Store.UndeliveredFor(nodeID)
	if err != nil {
		logger.Errorf("failed to retrieve updates - node_id: %s: %v", nodeID, err)
		return
	}
	logger.Infof("updates count: %d - node_id: %s", len(rows), nodeID)
	if len(rows) == 0 {
		return
	}

	for _, row := range rows {
		deliverCtx, cancel := context.WithTimeout(ctx, r.DeliverTimeout)
		_, err := r.Conn.Request(deliverCtx, bus.NodeMessageNew(nodeID), row.UpdateCmd)
		cancel()
		if err != nil {
			continue
		}
		if err := r.Store.MarkRowDelivered(row.ID, time.Now()); err != nil {
			logger.Errorf("failed to mark row delivered - node_id: %s, row: %s: %v", nodeID, row.ID, err)
		}
	}
}

func lastSubjectToken(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
