// Package paillier generates the Paillier keypair associated with an
// ECDSA keyshare. Full Paillier-based MtA and its zero-knowledge proofs
// belong to the externalized ECDSA-GG18/CGGMP round library (spec §1)
// and are out of this module's scope; what this module does own is
// generating a *fresh* keypair during ECDSA share recovery. Sending its
// modulus to the other holders is not done by this package or by any
// other package in this module.
package paillier

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/otiai10/primes"
)

// KeyBits is the Paillier modulus bit length, matching the GG18/CGGMP
// literature's recommendation (the teacher library's paillier_test.go
// documents the same constant for its own keygen tests).
const KeyBits = 2048

// PublicKey is the encryption key: N, the product of two safe primes.
type PublicKey struct {
	N *big.Int
}

// PrivateKey is the decryption key: the two safe primes themselves.
type PrivateKey struct {
	P, Q *big.Int
}

// smallPrimes is a trial-division sieve used to cheaply reject obvious
// composite candidates before the expensive safe-prime primality test
// below, the same two-phase search (sieve, then Miller-Rabin) real
// Paillier/RSA keygen implementations use.
var smallPrimes = primes.Sieve(10000)

// GenerateKeyPair generates a fresh Paillier keypair with an N of
// KeyBits bits, built from two safe primes (p such that (p-1)/2 is also
// prime), as the recovery target must do when taking over an ECDSA
// party's share (spec §4.4).
func GenerateKeyPair() (*PublicKey, *PrivateKey, error) {
	p, err := safePrime(KeyBits / 2)
	if err != nil {
		return nil, nil, fmt.Errorf("paillier: generate p: %w", err)
	}
	q, err := safePrime(KeyBits / 2)
	if err != nil {
		return nil, nil, fmt.Errorf("paillier: generate q: %w", err)
	}
	for p.Cmp(q) == 0 {
		q, err = safePrime(KeyBits / 2)
		if err != nil {
			return nil, nil, fmt.Errorf("paillier: generate q: %w", err)
		}
	}
	n := new(big.Int).Mul(p, q)
	return &PublicKey{N: n}, &PrivateKey{P: p, Q: q}, nil
}

// safePrime returns a prime p of the given bit length such that (p-1)/2
// is also prime.
func safePrime(bits int) (*big.Int, error) {
	for {
		candidate, err := rand.Prime(rand.Reader, bits)
		if err != nil {
			return nil, err
		}
		if !passesSieve(candidate) {
			continue
		}
		sophieGermain := new(big.Int).Rsh(candidate, 1) // (p-1)/2, candidate is odd
		if sophieGermain.ProbablyPrime(32) && candidate.ProbablyPrime(32) {
			return candidate, nil
		}
	}
}

// passesSieve rejects candidates divisible by any of the small primes,
// cheaply filtering before the expensive ProbablyPrime calls above.
func passesSieve(candidate *big.Int) bool {
	for _, p := range smallPrimes {
		if p == 0 {
			continue
		}
		bp := big.NewInt(int64(p))
		if candidate.Cmp(bp) == 0 {
			return true
		}
		if new(big.Int).Mod(candidate, bp).Sign() == 0 {
			return false
		}
	}
	return true
}
