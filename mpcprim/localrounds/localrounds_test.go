package localrounds_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	ecdsadriver "github.com/justinrush/gridlock-mpc-engine/driver/ecdsa"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim/localrounds"
	"github.com/justinrush/gridlock-mpc-engine/session"
	"github.com/justinrush/gridlock-mpc-engine/store"
)

func TestECDSAKeygenThreePartiesAgreeOnPublicKey(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, 2*time.Second)
	parties := []int{0, 1, 2}

	type result struct {
		pub string
		err error
	}
	results := make(chan result, len(parties))

	var wg sync.WaitGroup
	for _, p := range parties {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			st := store.New(t.TempDir())
			driver := ecdsadriver.New(orch, st, localrounds.ECDSAKeygen{}, nil)
			info, err := driver.RunKeygen(context.Background(), "shared-key", p, parties, 2)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{pub: info.PublicKey.String()}
		}(p)
	}
	wg.Wait()
	close(results)

	var pubKeys []string
	for r := range results {
		require.NoError(t, r.err)
		pubKeys = append(pubKeys, r.pub)
	}
	require.Len(t, pubKeys, len(parties))
	for _, pk := range pubKeys[1:] {
		assert.Equal(t, pubKeys[0], pk)
	}
}
