package eddsa_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/bus"
	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	eddsadriver "github.com/justinrush/gridlock-mpc-engine/driver/eddsa"
	"github.com/justinrush/gridlock-mpc-engine/keytypes"
	"github.com/justinrush/gridlock-mpc-engine/mpcprim"
	"github.com/justinrush/gridlock-mpc-engine/protocol"
	"github.com/justinrush/gridlock-mpc-engine/session"
	"github.com/justinrush/gridlock-mpc-engine/store"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

// fakeKeygenRounds is the same single-round joint Feldman DKG stand-in
// used by driver/ecdsa's tests, over Edwards25519 and without Paillier
// key material.
type fakeKeygenRounds struct{}

type dkgPayload struct {
	Commitments []string `json:"commitments"`
	Share       string   `json:"share"`
}

type dkgRound struct {
	self    int
	parties []int

	myScheme vss.Scheme
	myShares map[int]curvegroup.Scalar

	mu       sync.Mutex
	received map[int]dkgPayload

	output []byte
	done   bool
}

func (fakeKeygenRounds) NewKeygen(partyIndex int, parties []int, threshold int) (protocol.Round, error) {
	curve, err := curvegroup.Edwards25519.Curve()
	if err != nil {
		return nil, err
	}
	secret, err := curvegroup.RandomScalar(curve)
	if err != nil {
		return nil, err
	}
	scheme, shares, err := vss.Share(curve, threshold, secret, parties)
	if err != nil {
		return nil, err
	}
	return &dkgRound{
		self: partyIndex, parties: parties,
		myScheme: scheme, myShares: shares,
		received: make(map[int]dkgPayload),
	}, nil
}

func (r *dkgRound) Number() int { return 1 }

func (r *dkgRound) Start(ctx context.Context) ([]protocol.Message, error) {
	commitments := make([]string, len(r.myScheme.Commitments))
	for i, c := range r.myScheme.Commitments {
		commitments[i] = hex.EncodeToString(c.Bytes())
	}

	var out []protocol.Message
	for _, p := range r.parties {
		payload := dkgPayload{
			Commitments: commitments,
			Share:       hex.EncodeToString(r.myShares[p].Bytes()),
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, protocol.Message{From: r.self, To: p, Payload: raw})
	}
	return out, nil
}

func (r *dkgRound) CanAccept(msg protocol.Message) bool {
	return msg.To == r.self
}

func (r *dkgRound) Update(ctx context.Context, msg protocol.Message) (bool, error) {
	var payload dkgPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received[msg.From] = payload
	return len(r.received) == len(r.parties), nil
}

func (r *dkgRound) NextRound() (protocol.Round, error) {
	curve, err := curvegroup.Edwards25519.Curve()
	if err != nil {
		return nil, err
	}

	xi := curvegroup.NewScalar(curve, big.NewInt(0))
	ySum := curvegroup.IdentityPoint(curve)
	for _, payload := range r.received {
		shareBytes, err := hex.DecodeString(payload.Share)
		if err != nil {
			return nil, err
		}
		xi = xi.Add(curvegroup.ScalarFromBytes(curve, shareBytes))

		c0Bytes, err := hex.DecodeString(payload.Commitments[0])
		if err != nil {
			return nil, err
		}
		c0, err := curvegroup.PointFromBytes(curve, c0Bytes)
		if err != nil {
			return nil, err
		}
		ySum = ySum.Add(c0)
	}

	wire := vss.ToWire(r.myScheme)
	wireRaw, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	out := mpcprim.KeygenOutput{
		Xi:   xi.Bytes(),
		VSS:  wireRaw,
		YSum: ySum.Bytes(),
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	r.output = raw
	r.done = true
	return nil, nil
}

func (r *dkgRound) Output() ([]byte, bool) {
	return r.output, r.done
}

func TestRunKeygenPersistsEdDSAKeyshareAndKeyInfo(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, 2*time.Second)
	parties := []int{0, 1, 2}

	type runResult struct {
		info keytypes.KeyInfo
		err  error
	}
	resultCh := make(chan runResult, len(parties))

	var wg sync.WaitGroup
	for _, p := range parties {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			st := store.New(t.TempDir())
			driver, err := eddsadriver.New(orch, st, fakeKeygenRounds{}, nil, keytypes.KeyTypeEDDSA)
			require.NoError(t, err)
			info, runErr := driver.RunKeygen(context.Background(), "eddsa-key-1", p, parties, 1, "")
			resultCh <- runResult{info: info, err: runErr}
		}(p)
	}
	wg.Wait()
	close(resultCh)

	for r := range resultCh {
		require.NoError(t, r.err)
		assert.Equal(t, keytypes.KeyTypeEDDSA, r.info.KeyType)
		assert.Len(t, r.info.NodeToShareIndices, len(parties))
	}
}

func TestRunKeygenSr25519OwnerCarriesSchnorrkelSecret(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, 2*time.Second)
	parties := []int{0, 1, 2}

	type runResult struct {
		err error
	}
	resultCh := make(chan runResult, len(parties))

	var wg sync.WaitGroup
	for _, p := range parties {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			st := store.New(t.TempDir())
			driver, err := eddsadriver.New(orch, st, fakeKeygenRounds{}, nil, keytypes.KeyTypeSr25519)
			require.NoError(t, err)
			owner := ""
			if p == 0 {
				owner = "schnorrkel-secret-bytes"
			}
			_, runErr := driver.RunKeygen(context.Background(), "sr25519-key-1", p, parties, 1, owner)
			resultCh <- runResult{err: runErr}

			if p == 0 {
				ks, loadErr := st.LoadKeyshare("sr25519-key-1", 0)
				require.NoError(t, loadErr)
				assert.Equal(t, "schnorrkel-secret-bytes", string(ks.SchnorrkelSecretKey))
			}
		}(p)
	}
	wg.Wait()
	close(resultCh)

	for r := range resultCh {
		require.NoError(t, r.err)
	}
}

func TestRunKeygenRejectsOwnerSecretFromNonZeroParty(t *testing.T) {
	conn := bus.NewInProc()
	orch := session.NewOrchestrator(conn, time.Second, 2*time.Second)
	st := store.New(t.TempDir())
	driver, err := eddsadriver.New(orch, st, fakeKeygenRounds{}, nil, keytypes.KeyTypeSr25519)
	require.NoError(t, err)

	_, err = driver.RunKeygen(context.Background(), "sr25519-key-2", 1, []int{0, 1, 2}, 1, "not-allowed")
	assert.Error(t, err)
}

func TestSingleSignerSignRequiresSr25519Owner(t *testing.T) {
	driver, err := eddsadriver.New(session.NewOrchestrator(bus.NewInProc(), time.Second, time.Second), store.New(t.TempDir()), fakeKeygenRounds{}, nil, keytypes.KeyTypeEDDSA)
	require.NoError(t, err)

	ownerShare := keytypes.Keyshare{Type: keytypes.KeyTypeEDDSA, PartyIndex: 0, SchnorrkelSecretKey: []byte("x")}
	_, err = driver.SingleSignerSign(ownerShare, []byte("msg"), func(secretKey, context, digest []byte) ([]byte, error) {
		return []byte("sig"), nil
	})
	assert.Error(t, err)
}

func TestSingleSignerSignDelegatesToProvidedSigner(t *testing.T) {
	driver, err := eddsadriver.New(session.NewOrchestrator(bus.NewInProc(), time.Second, time.Second), store.New(t.TempDir()), fakeKeygenRounds{}, nil, keytypes.KeyTypeSr25519)
	require.NoError(t, err)

	ownerShare := keytypes.Keyshare{Type: keytypes.KeyTypeSr25519, PartyIndex: 0, SchnorrkelSecretKey: []byte("secret")}
	var gotCtx string
	result, err := driver.SingleSignerSign(ownerShare, []byte("msg"), func(secretKey, context, digest []byte) ([]byte, error) {
		gotCtx = string(context)
		return []byte("sig-bytes"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, eddsadriver.SigningContext, gotCtx)
	assert.Equal(t, "sig-bytes", string(result.Sigma))
}
