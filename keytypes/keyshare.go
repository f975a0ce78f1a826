package keytypes

import (
	"encoding/json"
	"fmt"
)

// KeyType discriminates the four Keyshare variants. Wire-compatible with
// the bus grammar's key_type tag (spec §6).
type KeyType string

const (
	KeyTypeECDSA         KeyType = "ECDSA"
	KeyTypeEDDSA         KeyType = "EDDSA"
	KeyTypeSr25519       KeyType = "Sr25519"
	KeyTypeTwoFactorAuth KeyType = "TwoFA"
)

// VSSScheme is the serializable Feldman VSS commitment vector published
// at keygen time. Validation and y_sum reconstruction (spec §4.4, §4.5)
// are done by the vss package against the curvegroup the KeyType implies;
// this type only carries the wire/on-disk representation.
type VSSScheme struct {
	Threshold   int        `json:"threshold"`
	ShareCount  int        `json:"share_count"`
	Commitments []HexBytes `json:"commitments"`
}

// Keyshare is a closed tagged union over the four variants in spec §3.
// Dispatch is always by explicit switch on Type (see Validate), never by
// open-ended dynamic dispatch, so every curve's constraints are checked
// exhaustively at compile time and at call sites.
type Keyshare struct {
	Type        KeyType   `json:"type"`
	PartyIndex  int       `json:"party_index"`
	Xi          HexBytes  `json:"x_i"`
	VSS         VSSScheme `json:"vss_scheme"`
	YSum        HexBytes  `json:"y_sum"`

	// ECDSA-only.
	PaillierEK *PaillierPublic  `json:"paillier_ek,omitempty"`
	PaillierDK *PaillierPrivate `json:"paillier_dk,omitempty"`

	// Sr25519 owner-only (party_index == 0).
	SchnorrkelSecretKey HexBytes `json:"schnorrkel_secret_key,omitempty"`

	// TwoFactorAuth owner-only (party_index == 0).
	RawCode string `json:"raw_code,omitempty"`
}

// PaillierPublic is the Paillier encryption key associated with an ECDSA
// share (spec §3). Only the modulus is required by the externalized MPC
// round library's contract; it is carried verbatim.
type PaillierPublic struct {
	N HexBytes `json:"n"`
}

// PaillierPrivate is the Paillier decryption key associated with an ECDSA
// share. Held only by the owning party.
type PaillierPrivate struct {
	P HexBytes `json:"p"`
	Q HexBytes `json:"q"`
}

// Validate checks the invariants in spec §3 that are cheap to check
// locally (cross-party invariants like "x_i reconstructs the secret" are
// checked by recovery/vss, not here).
func (k Keyshare) Validate() error {
	switch k.Type {
	case KeyTypeECDSA:
		if k.PaillierEK == nil || k.PaillierDK == nil {
			return fmt.Errorf("keytypes: ECDSA keyshare missing paillier keys")
		}
	case KeyTypeEDDSA:
		if k.PaillierEK != nil || k.PaillierDK != nil {
			return fmt.Errorf("keytypes: EDDSA keyshare must not carry paillier keys")
		}
	case KeyTypeSr25519, KeyTypeTwoFactorAuth:
		if k.PartyIndex != 0 {
			if len(k.SchnorrkelSecretKey) != 0 || k.RawCode != "" {
				return fmt.Errorf("keytypes: only party_index 0 may hold the owner secret for %s", k.Type)
			}
		}
	default:
		return fmt.Errorf("keytypes: unknown key type %q", k.Type)
	}
	if len(k.Xi) == 0 {
		return fmt.Errorf("keytypes: keyshare missing x_i")
	}
	return nil
}

// IsSigningKey reports whether this variant must never let party_index 0
// hold the full secret (spec §3: "never for ECDSA/EDDSA signing keys").
func (t KeyType) IsSigningKey() bool {
	return t == KeyTypeECDSA || t == KeyTypeEDDSA
}

// MarshalJSON and UnmarshalJSON round-trip through the same flat shape
// (encoding/json already does this for the struct above); they are
// defined explicitly so the zero-value/omitempty semantics stay the
// canonical, stable form spec §6 requires ("field names are stable and
// case-sensitive").
func (k Keyshare) MarshalJSON() ([]byte, error) {
	type alias Keyshare
	return json.Marshal(alias(k))
}

func (k *Keyshare) UnmarshalJSON(data []byte) error {
	type alias Keyshare
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*k = Keyshare(a)
	return nil
}
