// Package vss implements Feldman verifiable-secret-sharing commitment
// handling: evaluating a party's point commitment, and reconstructing
// the public key y_sum from one or many keygen participants' commitment
// vectors (spec §4.5).
package vss

import (
	"crypto/elliptic"
	"fmt"

	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/keytypes"
)

// Share splits secret into shares at the given indices using a random
// degree-threshold polynomial whose constant term is secret, Feldman
// committing to each coefficient. This is used by driver/keyimport to
// split an externally-supplied secret (spec's supplemented key-import
// feature; see original_source/backend/node/src/keygen/key_import.rs,
// which calls the Rust equivalent VerifiableSS::share_at_indices), and by
// mpcprim/localrounds, whose keygen rounds share each party's random
// sub-secret with it.
func Share(curve elliptic.Curve, threshold int, secret curvegroup.Scalar, indices []int) (Scheme, map[int]curvegroup.Scalar, error) {
	if threshold < 0 {
		return Scheme{}, nil, fmt.Errorf("vss: negative threshold")
	}
	if len(indices) < threshold+1 {
		return Scheme{}, nil, fmt.Errorf("vss: need at least %d indices for threshold %d, got %d", threshold+1, threshold, len(indices))
	}

	coeffs := make([]curvegroup.Scalar, threshold+1)
	coeffs[0] = secret
	for i := 1; i <= threshold; i++ {
		c, err := curvegroup.RandomScalar(curve)
		if err != nil {
			return Scheme{}, nil, fmt.Errorf("vss: random coefficient: %w", err)
		}
		coeffs[i] = c
	}

	commitments := make([]curvegroup.Point, len(coeffs))
	for i, c := range coeffs {
		commitments[i] = curvegroup.BasePointMul(curve, c)
	}

	shares := make(map[int]curvegroup.Scalar, len(indices))
	for _, idx := range indices {
		x := curvegroup.ScalarFromIndex(curve, idx)
		shares[idx] = evalPoly(coeffs, x)
	}

	return Scheme{Curve: curve, Threshold: threshold, Commitments: commitments}, shares, nil
}

// evalPoly evaluates Σ coeffs[i] * x^i via Horner's method.
func evalPoly(coeffs []curvegroup.Scalar, x curvegroup.Scalar) curvegroup.Scalar {
	acc := coeffs[len(coeffs)-1]
	for i := len(coeffs) - 2; i >= 0; i-- {
		acc = acc.Mul(x).Add(coeffs[i])
	}
	return acc
}

// Scheme is a single party's published VSS commitment vector:
// Commitments[0] is the commitment to the secret (or sub-secret, for a
// contributing keygen party), Commitments[1:] commit to the sharing
// polynomial's higher-degree coefficients.
type Scheme struct {
	Curve       elliptic.Curve
	Threshold   int
	Commitments []curvegroup.Point
}

// PointCommitment evaluates the commitment polynomial at the point
// assigned to share index (spec §4.4: x_k = k+1), via Horner's method:
// Σ_i Commitments[i] * x^i with x = index+1. This is the value a correct share at
// that index must satisfy: g*x_index == PointCommitment(index).
func (s Scheme) PointCommitment(index int) curvegroup.Point {
	x := curvegroup.ScalarFromIndex(s.Curve, index)
	acc := curvegroup.IdentityPoint(s.Curve)
	for i := len(s.Commitments) - 1; i >= 0; i-- {
		acc = acc.Mul(x).Add(s.Commitments[i])
	}
	return acc
}

// YSum reconstructs the public key from every contributing keygen
// party's VSS commitment vector: y_sum = Σ_k commitments_k[0] (spec
// §4.5, multi-VSS variant).
func YSum(curve elliptic.Curve, schemes []Scheme) (curvegroup.Point, error) {
	if len(schemes) == 0 {
		return curvegroup.Point{}, fmt.Errorf("vss: y_sum: no VSS schemes supplied")
	}
	sum := curvegroup.IdentityPoint(curve)
	for _, s := range schemes {
		if len(s.Commitments) == 0 {
			return curvegroup.Point{}, fmt.Errorf("vss: y_sum: scheme has empty commitment vector")
		}
		sum = sum.Add(s.Commitments[0])
	}
	return sum, nil
}

// YSumSingle returns commitments[0] for an imported, single-VSS key
// (spec §4.5, single-VSS variant — 2FA/Sr25519 import).
func YSumSingle(s Scheme) (curvegroup.Point, error) {
	if len(s.Commitments) == 0 {
		return curvegroup.Point{}, fmt.Errorf("vss: y_sum: scheme has empty commitment vector")
	}
	return s.Commitments[0], nil
}

// ToWire serializes a Scheme into the on-disk/on-wire VSSScheme shape.
func ToWire(s Scheme) keytypes.VSSScheme {
	commitments := make([]keytypes.HexBytes, len(s.Commitments))
	for i, c := range s.Commitments {
		commitments[i] = c.Bytes()
	}
	return keytypes.VSSScheme{
		Threshold:   s.Threshold,
		ShareCount:  len(s.Commitments),
		Commitments: commitments,
	}
}

// FromWire deserializes a VSSScheme for the given curve.
func FromWire(curve elliptic.Curve, w keytypes.VSSScheme) (Scheme, error) {
	commitments := make([]curvegroup.Point, len(w.Commitments))
	for i, c := range w.Commitments {
		p, err := curvegroup.PointFromBytes(curve, c)
		if err != nil {
			return Scheme{}, fmt.Errorf("vss: decode commitment %d: %w", i, err)
		}
		commitments[i] = p
	}
	return Scheme{Curve: curve, Threshold: w.Threshold, Commitments: commitments}, nil
}
