package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/protocol"
	"github.com/justinrush/gridlock-mpc-engine/session"
)

func TestJoinBarrierGathersExpectedCount(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, time.Second)

	subject := "network.gridlock.nodes.keyGen.session.key-1.join"

	var wg sync.WaitGroup
	barrierResults := make(chan session.JoinResponse, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := orch.RunJoinBarrier(context.Background(), subject, 3)
		require.NoError(t, err)
		barrierResults <- resp
	}()

	time.Sleep(10 * time.Millisecond) // let the barrier subscribe

	joinResults := make(chan session.JoinResponse, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := orch.Join(context.Background(), subject, session.JoinMessage{
				SessionID: "key-1", NodeID: "node", PartyIndex: i,
			})
			require.NoError(t, err)
			joinResults <- resp
		}(i)
	}
	wg.Wait()
	close(joinResults)

	barrierResp := <-barrierResults
	assert.Equal(t, 3, barrierResp.PartyCount)
	assert.Equal(t, []int{0, 1, 2}, barrierResp.AllPartyIndices)

	for resp := range joinResults {
		assert.Equal(t, barrierResp, resp)
	}
}

func TestJoinRetriesUntilBarrierSubscribes(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, time.Second)
	subject := "network.gridlock.nodes.keyGen.session.key-retry.join"

	// No RunJoinBarrier responder is subscribed yet: Join must retry
	// rather than fail immediately on the in-process bus's "no
	// responder" error.
	joinDone := make(chan error, 1)
	go func() {
		_, err := orch.Join(context.Background(), subject, session.JoinMessage{SessionID: "key-retry", PartyIndex: 0})
		joinDone <- err
	}()

	time.Sleep(30 * time.Millisecond)
	go func() {
		_, _ = orch.RunJoinBarrier(context.Background(), subject, 1)
	}()

	select {
	case err := <-joinDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Join never recovered once the barrier subscribed")
	}
}

func TestJoinBarrierRejectsDuplicatePartyIndex(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, time.Second)
	subject := "network.gridlock.nodes.keyGen.session.key-2.join"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = orch.RunJoinBarrier(context.Background(), subject, 2)
	}()
	time.Sleep(10 * time.Millisecond)

	// The first index-0 join is retained by the barrier and the duplicate
	// is rejected; a join at index 1 then completes the quorum and
	// releases the retained one.
	var err1, err2 error
	var joins sync.WaitGroup
	joins.Add(2)
	go func() {
		defer joins.Done()
		_, err1 = orch.Join(context.Background(), subject, session.JoinMessage{SessionID: "key-2", PartyIndex: 0})
	}()
	time.Sleep(10 * time.Millisecond)
	go func() {
		defer joins.Done()
		_, err2 = orch.Join(context.Background(), subject, session.JoinMessage{SessionID: "key-2", PartyIndex: 0})
	}()
	time.Sleep(10 * time.Millisecond)
	_, err3 := orch.Join(context.Background(), subject, session.JoinMessage{SessionID: "key-2", PartyIndex: 1})
	joins.Wait()
	wg.Wait()

	// Exactly one of the two duplicate-index joins must fail.
	assert.True(t, (err1 == nil) != (err2 == nil))
	assert.NoError(t, err3)
}

func TestJoinBarrierTimesOutWithoutQuorum(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, 20*time.Millisecond, time.Second)
	subject := "network.gridlock.nodes.keyGen.session.key-3.join"

	_, err := orch.RunJoinBarrier(context.Background(), subject, 2)
	assert.Error(t, err)
}

func TestAgreeOnValueDetectsConsensusAndMismatch(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, time.Second)

	var wg sync.WaitGroup
	agree := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := orch.AgreeOnValue(context.Background(), "agree.subject.ok", []byte("y-sum-a"), 2)
			require.NoError(t, err)
			agree <- ok
		}()
	}
	wg.Wait()
	close(agree)
	for ok := range agree {
		assert.True(t, ok)
	}

	mismatch := make(chan bool, 2)
	values := [][]byte{[]byte("y-sum-a"), []byte("y-sum-b")}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := orch.AgreeOnValue(context.Background(), "agree.subject.mismatch", values[i], 2)
			require.NoError(t, err)
			mismatch <- ok
		}(i)
	}
	wg.Wait()
	close(mismatch)
	for ok := range mismatch {
		assert.False(t, ok)
	}
}

func TestRoundBridgeRoundTripsProtocolMessages(t *testing.T) {
	conn := bus.NewInProc()
	subject := "network.gridlock.nodes.keyGen.session.key-4.1"

	rb, err := session.NewRoundBridge(conn, subject)
	require.NoError(t, err)
	defer rb.Close()

	require.NoError(t, rb.Send(context.Background(), protocol.Message{From: 1, Payload: []byte("hello")}))

	select {
	case msg := <-rb.Inbox():
		assert.Equal(t, 1, msg.From)
		assert.Equal(t, "hello", string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for round message")
	}
}
