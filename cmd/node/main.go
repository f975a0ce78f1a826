// Command node runs one participant's side of the network: it serves
// TaggedCommand requests on its Message.new subject (spec.md §6),
// heartbeats readiness for the delivery relay (spec.md §4.6), and
// drives keygen/sign/recovery sessions through session.Orchestrator.
// Process shape follows original_source/backend/key-info/src/main.rs's
// message-loop/update-loop/SIGTERM split; command-line handling follows
// luxfi-threshold/cmd/threshold-cli's cobra layout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	log "github.com/ipfs/go-log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/config"
	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	ecdsadriver "github.com/justinrush/gridlock-mpc-engine/driver/ecdsa"
	eddsadriver "github.com/justinrush/gridlock-mpc-engine/driver/eddsa"
	recoverydriver "github.com/justinrush/gridlock-mpc-engine/driver/recovery"
	"github.com/justinrush/gridlock-mpc-engine/keytypes"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim/localrounds"
	"github.com/justinrush/gridlock-mpc-engine/session"
	"github.com/justinrush/gridlock-mpc-engine/store"
)

var logger = log.Logger("cmd/node")

// readyInterval is how often this process announces itself to the
// delivery relay (spec.md §4.6's heartbeat side, distinct from
// relay.DefaultReadyMsgInterval which throttles how often the relay
// reacts to it).
const readyInterval = 2 * time.Second

var (
	storageDir string
	logLevel   string
	partyIndex int
)

func main() {
	root := &cobra.Command{
		Use:   "node",
		Short: "Run a gridlock-mpc-engine network participant",
		RunE:  runNode,
	}
	root.Flags().StringVar(&storageDir, "storage-dir", "", "keyshare store directory (default: $STORAGE_DIR or ./node)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (default: $LOG_LEVEL or info)")
	root.Flags().IntVar(&partyIndex, "party-index", -1, "this node's party index (required)")
	root.MarkFlagRequired("party-index")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	if storageDir != "" {
		cfg.StorageDir = storageDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := log.SetLogLevel("*", cfg.LogLevel); err != nil {
		logger.Warnf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	if err := cfg.EnsureStorageDir(); err != nil {
		return fmt.Errorf("node: ensure storage dir: %w", err)
	}

	zapLogger, zapErr := newZapLogger(cfg.LogLevel)
	if zapErr != nil {
		logger.Warnf("construct structured dkg logger: %v", zapErr)
	} else {
		localrounds.SetLogger(zapLogger)
		defer func() { _ = zapLogger.Sync() }()
	}

	identityKey, err := resolveIdentityKey(cfg.IdentityPrivateKey)
	if err != nil {
		return fmt.Errorf("node: resolve identity key: %w", err)
	}

	nodeID := fmt.Sprintf("%d", partyIndex)
	conn := bus.NewInProc()
	st := store.New(cfg.StorageDir)
	orch := session.NewOrchestrator(conn, cfg.JoinTimeout, cfg.RoundTimeout)

	d := &dispatcher{
		orch: orch, store: st, nodeID: nodeID, selfIndex: partyIndex,
		selfPrivateKey: identityKey, peerPublicKeys: cfg.PeerPublicKeys,
	}

	sub, err := conn.SubscribeRequest(bus.NodeMessageNew(nodeID), d.handle)
	if err != nil {
		return fmt.Errorf("node: subscribe message handler: %w", err)
	}
	defer sub.Unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go heartbeat(ctx, conn, nodeID)

	logger.Infof("node %s ready, storage=%s", nodeID, cfg.StorageDir)
	<-ctx.Done()
	logger.Infof("node %s shutting down", nodeID)
	return nil
}

// newZapLogger builds the structured logger mpcprim/localrounds uses
// for its DKG round events, development-mode (console-encoded, debug
// enabled) under "debug", production-mode (JSON) otherwise.
func newZapLogger(logLevel string) (*zap.Logger, error) {
	if logLevel == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// resolveIdentityKey returns the node's static X25519 private key: the
// provisioned key if configured, or a freshly minted one for standalone
// runs where no federation-wide identity directory has been set up.
func resolveIdentityKey(configured []byte) ([32]byte, error) {
	if len(configured) == 0 {
		priv, _, err := recoverydriver.GenerateIdentityKeypair()
		return priv, err
	}
	var key [32]byte
	if len(configured) != 32 {
		return key, fmt.Errorf("identity private key must be 32 bytes, got %d", len(configured))
	}
	copy(key[:], configured)
	return key, nil
}

func heartbeat(ctx context.Context, conn bus.Conn, nodeID string) {
	ticker := time.NewTicker(readyInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.Publish(ctx, bus.NodeReady(nodeID), []byte(nodeID)); err != nil {
				logger.Warnf("publish ready heartbeat: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatcher decodes session.TaggedCommand envelopes delivered to this
// node's Message.new subject and routes them to the matching driver.
type dispatcher struct {
	orch      *session.Orchestrator
	store     *store.Store
	nodeID    string
	selfIndex int

	// selfPrivateKey and peerPublicKeys back the ring-exchange peer
	// encryption in driver/recovery (spec.md §4.4 step 3).
	selfPrivateKey [32]byte
	peerPublicKeys map[int][]byte
}

func (d *dispatcher) handle(ctx context.Context, msg bus.Message) ([]byte, error) {
	var cmd session.TaggedCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return nil, fmt.Errorf("node: invalid tagged command: %w", err)
	}

	switch cmd.Cmd {
	case session.CmdOrchestrateKeyGen:
		go d.runKeygen(context.Background(), cmd)
	case session.CmdOrchestrateSigning:
		go d.runSign(context.Background(), cmd)
	case session.CmdOrchestrateRecovery:
		go d.runRecoveryHelper(context.Background(), cmd)
	default:
		return nil, fmt.Errorf("node: unknown command %q", cmd.Cmd)
	}
	return []byte("accepted"), nil
}

// joinSession runs the Join barrier for a keygen/sign/recovery session
// (spec.md §4.2's "each node joins the session barrier" step, always
// run before the driver is invoked). No separate coordinator process
// exists in this binary, so the participant holding the lowest party
// index also runs the responder side (session.Orchestrator.RunJoinBarrier)
// concurrently with joining it itself, matching the control flow's
// "owner node subscribes party members" while every node, including the
// owner, still goes through Join.
func (d *dispatcher) joinSession(ctx context.Context, subject, sessionID string, parties []int) (session.JoinResponse, error) {
	sorted := append([]int(nil), parties...)
	sort.Ints(sorted)
	isInitiator := len(sorted) > 0 && sorted[0] == d.selfIndex

	var (
		barrierErr error
		wg         sync.WaitGroup
	)
	if isInitiator {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, barrierErr = d.orch.RunJoinBarrier(ctx, subject, len(parties))
		}()
	}

	joinResp, err := d.orch.Join(ctx, subject, session.JoinMessage{
		SessionID: sessionID, NodeID: d.nodeID, PartyIndex: d.selfIndex,
	})

	if isInitiator {
		wg.Wait()
		if barrierErr != nil {
			return session.JoinResponse{}, fmt.Errorf("node: join barrier on %s: %w", subject, barrierErr)
		}
	}
	if err != nil {
		return session.JoinResponse{}, fmt.Errorf("node: join %s: %w", subject, err)
	}
	return joinResp, nil
}

type keygenRequest struct {
	KeyID       string `json:"key_id"`
	Parties     []int  `json:"parties"`
	Threshold   int    `json:"threshold"`
	OwnerSecret string `json:"owner_secret,omitempty"`
}

func (d *dispatcher) runKeygen(ctx context.Context, cmd session.TaggedCommand) {
	var req keygenRequest
	if err := json.Unmarshal(cmd.Payload, &req); err != nil {
		logger.Errorf("keygen: decode request: %v", err)
		return
	}

	var joinSubject string
	switch cmd.KeyType {
	case keytypes.KeyTypeEDDSA, keytypes.KeyTypeSr25519:
		joinSubject = bus.KeyGenEdDSASubject(req.KeyID, "Join")
	default:
		joinSubject = bus.KeyGenJoin(req.KeyID)
	}
	joined, err := d.joinSession(ctx, joinSubject, req.KeyID, req.Parties)
	if err != nil {
		logger.Errorf("keygen %s: join barrier: %v", req.KeyID, err)
		return
	}
	parties := joined.AllPartyIndices

	switch cmd.KeyType {
	case keytypes.KeyTypeECDSA:
		drv := ecdsadriver.New(d.orch, d.store, localrounds.ECDSAKeygen{}, nil)
		_, err = drv.RunKeygen(ctx, req.KeyID, d.selfIndex, parties, req.Threshold)
	case keytypes.KeyTypeEDDSA, keytypes.KeyTypeSr25519:
		var drv *eddsadriver.Driver
		drv, err = eddsadriver.New(d.orch, d.store, localrounds.EdDSAKeygen{}, nil, cmd.KeyType)
		if err == nil {
			_, err = drv.RunKeygen(ctx, req.KeyID, d.selfIndex, parties, req.Threshold, req.OwnerSecret)
		}
	default:
		err = fmt.Errorf("key type %q is imported, not DKG-generated (see driver/keyimport)", cmd.KeyType)
	}
	if err != nil {
		logger.Errorf("keygen %s failed: %v", req.KeyID, err)
		return
	}
	logger.Infof("keygen %s complete", req.KeyID)
}

type signRequest struct {
	SessionID string            `json:"session_id"`
	Parties   []int             `json:"parties"`
	Digest    keytypes.HexBytes `json:"digest"`
}

func (d *dispatcher) runSign(ctx context.Context, cmd session.TaggedCommand) {
	var req signRequest
	if err := json.Unmarshal(cmd.Payload, &req); err != nil {
		logger.Errorf("sign: decode request: %v", err)
		return
	}
	if _, err := d.joinSession(ctx, bus.KeySignSubject(req.SessionID, "join"), req.SessionID, req.Parties); err != nil {
		logger.Errorf("sign %s: join barrier: %v", req.SessionID, err)
		return
	}

	// The production threshold-signing round math (MtA, zero-knowledge
	// proofs) is an externalized collaborator this module never
	// implements (spec.md §1); localrounds only covers keygen's single
	// DKG round, so there is no SignRounds to hand the driver here.
	logger.Errorf("sign %s: no signing round provider configured in this binary", req.SessionID)
}

type recoveryRequest struct {
	SessionID     string `json:"session_id"`
	KeyID         string `json:"key_id"`
	RecoveryIndex int    `json:"recovery_index"`
	HelperOrder   []int  `json:"helper_order"`
}

func (d *dispatcher) runRecoveryHelper(ctx context.Context, cmd session.TaggedCommand) {
	var req recoveryRequest
	if err := json.Unmarshal(cmd.Payload, &req); err != nil {
		logger.Errorf("recovery: decode request: %v", err)
		return
	}

	if _, err := d.joinSession(ctx, bus.KeyShareRecoverySubject(req.SessionID, "Join"), req.SessionID, req.HelperOrder); err != nil {
		logger.Errorf("recovery %s: join barrier: %v", req.SessionID, err)
		return
	}

	ks, err := d.store.LoadKeyshareOfType(req.KeyID, 0, cmd.KeyType)
	if err != nil {
		logger.Errorf("recovery %s: load own keyshare: %v", req.SessionID, err)
		return
	}

	group, err := groupForKeyType(ks.Type)
	if err != nil {
		logger.Errorf("recovery %s: %v", req.SessionID, err)
		return
	}
	curve, err := group.Curve()
	if err != nil {
		logger.Errorf("recovery %s: %v", req.SessionID, err)
		return
	}
	secretShare := curvegroup.ScalarFromBytes(curve, ks.Xi)

	if err := recoverydriver.RunHelperSide(ctx, d.orch, group, req.SessionID, req.RecoveryIndex, d.selfIndex, req.HelperOrder, secretShare, d.selfPrivateKey, d.peerPublicKeys); err != nil {
		logger.Errorf("recovery %s: helper side failed: %v", req.SessionID, err)
		return
	}
	logger.Infof("recovery %s: delivered combined contribution for index %d", req.SessionID, req.RecoveryIndex)
}

func groupForKeyType(t keytypes.KeyType) (curvegroup.Group, error) {
	switch t {
	case keytypes.KeyTypeECDSA:
		return curvegroup.Secp256k1, nil
	case keytypes.KeyTypeEDDSA, keytypes.KeyTypeSr25519, keytypes.KeyTypeTwoFactorAuth:
		return curvegroup.Edwards25519, nil
	default:
		return "", fmt.Errorf("unknown key type %q", t)
	}
}
