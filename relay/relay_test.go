package relay_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/relay"
)

func newBoltStore(t *testing.T) *relay.BoltStore {
	t.Helper()
	st, err := relay.OpenBoltStore(filepath.Join(t.TempDir(), "keyinfo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// TestDeliverySurvivesOfflineTarget exercises spec.md §8 scenario 5:
// the target is offline when the command is first published, so
// request/reply times out and a row is persisted; once online and
// heartbeating, the first heartbeat delivers it.
func TestDeliverySurvivesOfflineTarget(t *testing.T) {
	conn := bus.NewInProc()
	st := newBoltStore(t)
	r := relay.New(conn, st)
	r.SaveCmdTimeout = 50 * time.Millisecond
	r.ReadyMsgInterval = 20 * time.Millisecond
	r.DeliverTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let the loops subscribe

	payload := json.RawMessage(`{"cmd":"OrchestrateRecovery","key_type":"ECDSA"}`)
	require.NoError(t, conn.Publish(context.Background(), bus.RelayMessageNew("node-1"), payload))

	require.Eventually(t, func() bool {
		rows, err := st.UndeliveredFor("node-1")
		return err == nil && len(rows) == 1
	}, time.Second, 5*time.Millisecond)

	delivered := make(chan struct{}, 1)
	_, err := conn.SubscribeRequest(bus.NodeMessageNew("node-1"), func(ctx context.Context, msg bus.Message) ([]byte, error) {
		delivered <- struct{}{}
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	require.NoError(t, conn.Publish(context.Background(), bus.NodeReady("node-1"), []byte("node-1")))

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued delivery after heartbeat")
	}

	require.Eventually(t, func() bool {
		rows, err := st.UndeliveredFor("node-1")
		return err == nil && len(rows) == 0
	}, time.Second, 5*time.Millisecond)
}

// TestRepeatedHeartbeatOnlyTriggersOneDeliveryAttempt exercises the
// ReadyMsgInterval throttle: two heartbeats closer together than the
// interval must only cause one delivery attempt.
func TestRepeatedHeartbeatOnlyTriggersOneDeliveryAttempt(t *testing.T) {
	conn := bus.NewInProc()
	st := newBoltStore(t)
	r := relay.New(conn, st)
	r.ReadyMsgInterval = 200 * time.Millisecond
	r.DeliverTimeout = time.Second

	require.NoError(t, st.Save(relay.NodeUpdateData{NodeID: "node-2", UpdateCmd: json.RawMessage(`{}`)}))

	attempts := make(chan struct{}, 10)
	_, err := conn.SubscribeRequest(bus.NodeMessageNew("node-2"), func(ctx context.Context, msg bus.Message) ([]byte, error) {
		attempts <- struct{}{}
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, conn.Publish(context.Background(), bus.NodeReady("node-2"), []byte("node-2")))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, conn.Publish(context.Background(), bus.NodeReady("node-2"), []byte("node-2")))

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, attempts, 1)
}
