package recovery

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const ringPieceHKDFInfo = "gridlock-mpc-engine/recovery/ring-piece/v1"

// GenerateIdentityKeypair creates a fresh X25519 static keypair for ring
// exchange peer encryption (spec.md §4.4 step 3). A node generates one
// at provisioning and publishes the public half to the federation
// (keytypes.NodeIdentity.PublicKey); the private half never leaves the
// node.
func GenerateIdentityKeypair() (priv [32]byte, pub []byte, err error) {
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, nil, fmt.Errorf("recovery: generate identity private key: %w", err)
	}
	var pubArr [32]byte
	curve25519.ScalarBaseMult(&pubArr, &priv)
	return priv, pubArr[:], nil
}

// sealPiece encrypts plaintext to recipientPublicKey so that only the
// holder of the matching private key can read it (spec.md §4.4 step 3:
// ring pieces are "encrypted to each peer's public key"). It uses an
// ephemeral X25519 keypair for the sender's half of the ECDH so the
// sender needs no static key of its own, deriving the symmetric key
// with HKDF-SHA256 over the shared secret and sealing with
// ChaCha20-Poly1305. Wire format: ephemeral public key || nonce ||
// ciphertext.
func sealPiece(recipientPublicKey []byte, plaintext []byte) ([]byte, error) {
	if len(recipientPublicKey) != 32 {
		return nil, fmt.Errorf("recovery: peer public key must be 32 bytes, got %d", len(recipientPublicKey))
	}

	var ephPriv, ephPub [32]byte
	if _, err := io.ReadFull(rand.Reader, ephPriv[:]); err != nil {
		return nil, fmt.Errorf("recovery: generate ephemeral key: %w", err)
	}
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	var recipientPub [32]byte
	copy(recipientPub[:], recipientPublicKey)
	shared, err := curve25519.X25519(ephPriv[:], recipientPub[:])
	if err != nil {
		return nil, fmt.Errorf("recovery: compute shared secret: %w", err)
	}

	key, err := deriveRingPieceKey(shared, ephPub[:], recipientPublicKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("recovery: construct aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("recovery: generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ciphertext))
	out = append(out, ephPub[:]...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// openPiece reverses sealPiece using this node's static private key.
func openPiece(selfPrivateKey [32]byte, sealed []byte) ([]byte, error) {
	const nonceSize = chacha20poly1305.NonceSize
	if len(sealed) < 32+nonceSize {
		return nil, fmt.Errorf("recovery: sealed ring piece too short")
	}
	ephPub := sealed[:32]
	nonce := sealed[32 : 32+nonceSize]
	ciphertext := sealed[32+nonceSize:]

	shared, err := curve25519.X25519(selfPrivateKey[:], ephPub)
	if err != nil {
		return nil, fmt.Errorf("recovery: compute shared secret: %w", err)
	}
	var selfPub [32]byte
	curve25519.ScalarBaseMult(&selfPub, &selfPrivateKey)

	key, err := deriveRingPieceKey(shared, ephPub, selfPub[:])
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("recovery: construct aead: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("recovery: decrypt ring piece: %w", err)
	}
	return plaintext, nil
}

func deriveRingPieceKey(sharedSecret, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := append(append([]byte{}, ephemeralPub...), recipientPub...)
	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte(ringPieceHKDFInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("recovery: derive ring piece key: %w", err)
	}
	return key, nil
}
