package keytypes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HexBytes is a byte slice that marshals as a hex string in JSON records
// (keyshare and key-info files, and their on-wire equivalents). Scalars,
// points, and Paillier key material are all stored this way so that the
// on-disk format stays a flat, inspectable JSON document per spec §6.
type HexBytes []byte

// MarshalJSON implements json.Marshaler.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("keytypes: decode hex bytes: %w", err)
	}
	if s == "" {
		*b = nil
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("keytypes: decode hex bytes: %w", err)
	}
	*b = decoded
	return nil
}

// String returns the hex encoding.
func (b HexBytes) String() string {
	return hex.EncodeToString(b)
}
