package keytypes_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/keytypes"
)

func TestKeyshareRoundTrip(t *testing.T) {
	ks := keytypes.Keyshare{
		Type:       keytypes.KeyTypeECDSA,
		PartyIndex: 2,
		Xi:         keytypes.HexBytes{0x01, 0x02, 0x03},
		VSS: keytypes.VSSScheme{
			Threshold:  1,
			ShareCount: 3,
			Commitments: []keytypes.HexBytes{
				{0xaa, 0xbb},
				{0xcc, 0xdd},
			},
		},
		YSum:       keytypes.HexBytes(make([]byte, 64)),
		PaillierEK: &keytypes.PaillierPublic{N: keytypes.HexBytes{0x09}},
		PaillierDK: &keytypes.PaillierPrivate{P: keytypes.HexBytes{0x01}, Q: keytypes.HexBytes{0x02}},
	}
	require.NoError(t, ks.Validate())

	raw, err := json.Marshal(ks)
	require.NoError(t, err)

	var out keytypes.Keyshare
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, ks, out)
}

func TestKeyshareValidateRejectsOwnerSecretOnNonOwner(t *testing.T) {
	ks := keytypes.Keyshare{
		Type:                keytypes.KeyTypeSr25519,
		PartyIndex:          1,
		Xi:                  keytypes.HexBytes{0x01},
		SchnorrkelSecretKey: keytypes.HexBytes{0x02},
	}
	assert.Error(t, ks.Validate())
}

func TestKeyshareValidateAllowsOwnerSecretAtZero(t *testing.T) {
	ks := keytypes.Keyshare{
		Type:                keytypes.KeyTypeSr25519,
		PartyIndex:          0,
		Xi:                  keytypes.HexBytes{0x01},
		SchnorrkelSecretKey: keytypes.HexBytes{0x02},
	}
	assert.NoError(t, ks.Validate())
}

func TestKeyInfoReplaceNodeIsAppendOnly(t *testing.T) {
	ki := keytypes.KeyInfo{
		KeyType:   keytypes.KeyTypeEDDSA,
		PublicKey: keytypes.HexBytes{0x01},
		NodeToShareIndices: []keytypes.NodeShareIndex{
			{NodeIndex: 1, ShareIndex: 1},
			{NodeIndex: 2, ShareIndex: 2},
		},
	}
	ki.ReplaceNode(2, 5)
	assert.Equal(t, []int{1, 2}, ki.ShareIndices())
	assert.Equal(t, 5, ki.NodeToShareIndices[1].NodeIndex)

	ki.ReplaceNode(3, 9)
	assert.Equal(t, []int{1, 2, 3}, ki.ShareIndices())
}

func TestNodeIdentityJSON(t *testing.T) {
	id := keytypes.NodeIdentity{
		Index:     1,
		NodeID:    uuid.New(),
		PublicKey: []byte{0x01, 0x02},
	}
	raw, err := json.Marshal(id)
	require.NoError(t, err)
	var out keytypes.NodeIdentity
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, id, out)
}
