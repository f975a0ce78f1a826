package store_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/keytypes"
	"github.com/justinrush/gridlock-mpc-engine/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	return store.New(dir)
}

func sampleKeyshare() keytypes.Keyshare {
	return keytypes.Keyshare{
		Type:       keytypes.KeyTypeEDDSA,
		PartyIndex: 1,
		Xi:         keytypes.HexBytes{0x01, 0x02},
		YSum:       keytypes.HexBytes{0x03, 0x04},
	}
}

func TestSaveAndLoadKeyshareRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ks := sampleKeyshare()

	require.NoError(t, s.SaveKeyshare("key-1", 0, ks))

	got, err := s.LoadKeyshare("key-1", 0)
	require.NoError(t, err)
	assert.Equal(t, ks, got)
}

func TestLoadKeyshareNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadKeyshare("missing", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadKeyshareCorrupted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keys--key-1.json"), []byte("{not json"), 0o600))
	s := store.New(dir)

	_, err := s.LoadKeyshare("key-1", 0)
	assert.ErrorIs(t, err, store.ErrCorrupted)
}

func TestExtraShareIndexUsesSuffixedFilename(t *testing.T) {
	dir := t.TempDir()
	s := store.New(dir)
	require.NoError(t, s.SaveKeyshare("key-1", 2, sampleKeyshare()))

	_, err := os.Stat(filepath.Join(dir, "keys--key-1--2.json"))
	require.NoError(t, err)
}

func TestSaveKeyInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	info := keytypes.KeyInfo{
		KeyType:   keytypes.KeyTypeECDSA,
		PublicKey: keytypes.HexBytes{0xAA},
		NodeToShareIndices: []keytypes.NodeShareIndex{
			{NodeIndex: 1, ShareIndex: 0},
			{NodeIndex: 2, ShareIndex: 1},
		},
	}
	require.NoError(t, s.SaveKeyInfo("key-2", info))

	got, err := s.LoadKeyInfo("key-2")
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestDiagnoseFindsOrphanedKeyInfo(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveKeyInfo("orphan", keytypes.KeyInfo{KeyType: keytypes.KeyTypeECDSA}))
	require.NoError(t, s.SaveKeyshare("paired", 0, sampleKeyshare()))
	require.NoError(t, s.SaveKeyInfo("paired", keytypes.KeyInfo{KeyType: keytypes.KeyTypeEDDSA}))

	diagnoses, err := s.Diagnose()
	require.NoError(t, err)
	require.Len(t, diagnoses, 1)
	assert.Equal(t, "orphan", diagnoses[0].KeyID)
	assert.Equal(t, store.OrphanedKeyInfo, diagnoses[0].Kind)
}

func TestConcurrentSavesToSameKeyAreSerialized(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ks := sampleKeyshare()
			ks.PartyIndex = i
			assert.NoError(t, s.SaveKeyshare("key-contended", 0, ks))
		}(i)
	}
	wg.Wait()

	_, err := s.LoadKeyshare("key-contended", 0)
	require.NoError(t, err)
}

func TestSaveNewKeyshareRejectsExistingFileWithoutMutatingIt(t *testing.T) {
	s := newTestStore(t)
	first := sampleKeyshare()
	require.NoError(t, s.SaveNewKeyshare("key-1", 0, first))

	second := sampleKeyshare()
	second.PartyIndex = 99
	err := s.SaveNewKeyshare("key-1", 0, second)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	got, loadErr := s.LoadKeyshare("key-1", 0)
	require.NoError(t, loadErr)
	assert.Equal(t, first, got, "on-disk keyshare must be unchanged after a rejected SaveNewKeyshare")
}

func TestSaveNewKeyshareSucceedsWhenNoFileExists(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveNewKeyshare("key-1", 0, sampleKeyshare()))

	got, err := s.LoadKeyshare("key-1", 0)
	require.NoError(t, err)
	assert.Equal(t, sampleKeyshare(), got)
}

func TestLoadKeyshareOfTypeRejectsMismatchedVariant(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveKeyshare("key-1", 0, sampleKeyshare())) // Type: KeyTypeEDDSA

	_, err := s.LoadKeyshareOfType("key-1", 0, keytypes.KeyTypeECDSA)
	assert.ErrorIs(t, err, store.ErrWrongKind)
}

func TestLoadKeyshareOfTypeAcceptsMatchingVariant(t *testing.T) {
	s := newTestStore(t)
	ks := sampleKeyshare()
	require.NoError(t, s.SaveKeyshare("key-1", 0, ks))

	got, err := s.LoadKeyshareOfType("key-1", 0, keytypes.KeyTypeEDDSA)
	require.NoError(t, err)
	assert.Equal(t, ks, got)
}

func TestDeleteKeyshareIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveKeyshare("key-3", 0, sampleKeyshare()))
	require.NoError(t, s.DeleteKeyshare("key-3", 0))
	require.NoError(t, s.DeleteKeyshare("key-3", 0))

	_, err := s.LoadKeyshare("key-3", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
