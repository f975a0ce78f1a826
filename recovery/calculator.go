// Package recovery implements the share-recovery engine: Lagrange
// linear-secret-sharing reconstruction of a lost share from t+1
// surviving helpers, without any helper revealing its share, followed
// by validation against the published VSS commitments (spec §4.4).
package recovery

import (
	"crypto/elliptic"
	"fmt"
	"math/big"

	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

// ErrInsufficientShares is returned when fewer than t+1 helpers are
// available (spec §4.4 edge case).
var ErrInsufficientShares = fmt.Errorf("recovery: insufficient shares")

// ErrValidationFailed is returned when a reconstructed share does not
// satisfy g*x_r == Σ VSS_k.PointCommitment(r) (spec §4.4).
var ErrValidationFailed = fmt.Errorf("recovery: validation failed")

// Contribution is one helper's additive split of its Lagrange-weighted
// contribution c_i = λ_i * x_i (spec §4.4 step 2-3): Retained is the
// piece the helper keeps, ForPeerExchange the pieces destined for the
// other helpers, one per other helper in HelperOrder's ring order (see
// PieceRecipient).
type Contribution struct {
	Retained        curvegroup.Scalar
	ForPeerExchange []curvegroup.Scalar
}

// Calculator computes one helper's contribution toward recovering the
// share at RecoveryIndex.
type Calculator struct {
	Curve         elliptic.Curve
	RecoveryIndex int
	PartyIndex    int
	HelperOrder   []int // all_parties, fixed order shared by every helper
	SecretShare   curvegroup.Scalar
}

// NewCalculator validates the helper set and constructs a Calculator.
// Duplicate helpers are rejected at join per spec §4.4; callers should
// also reject them before reaching this constructor, but it is checked
// here too since it is cheap and this is the last line of defense.
func NewCalculator(curve elliptic.Curve, recoveryIndex, partyIndex int, helperOrder []int, secretShare curvegroup.Scalar) (*Calculator, error) {
	seen := make(map[int]bool, len(helperOrder))
	found := false
	for _, h := range helperOrder {
		if seen[h] {
			return nil, fmt.Errorf("recovery: duplicate helper index %d", h)
		}
		seen[h] = true
		if h == partyIndex {
			found = true
		}
		if h == recoveryIndex {
			return nil, fmt.Errorf("recovery: helper %d cannot also be the recovery target", h)
		}
	}
	if !found {
		return nil, fmt.Errorf("recovery: party %d is not among its own helper set", partyIndex)
	}
	return &Calculator{
		Curve:         curve,
		RecoveryIndex: recoveryIndex,
		PartyIndex:    partyIndex,
		HelperOrder:   helperOrder,
		SecretShare:   secretShare,
	}, nil
}

// lagrangeCoefficient computes λ_i = Π_{j∈S,j≠i} (x_j - x_r)/(x_j - x_i)
// (spec §4.4 step 1), with x_k = k+1 so that index 0 maps to a nonzero
// point.
func lagrangeCoefficient(curve elliptic.Curve, recoveryIndex, partyIndex int, helperOrder []int) curvegroup.Scalar {
	xr := curvegroup.ScalarFromIndex(curve, recoveryIndex)
	xi := curvegroup.ScalarFromIndex(curve, partyIndex)

	num := curvegroup.NewScalar(curve, one)
	den := curvegroup.NewScalar(curve, one)
	for _, j := range helperOrder {
		if j == partyIndex {
			continue
		}
		xj := curvegroup.ScalarFromIndex(curve, j)
		num = num.Mul(xj.Sub(xr))
		den = den.Mul(xj.Sub(xi))
	}
	return num.Mul(den.Invert())
}

// ContributeLostShare computes this helper's Lagrange-weighted
// contribution c_i = λ_i * x_i and additively splits it into
// len(HelperOrder)-1 random parts plus a retained remainder, so that no
// single message reveals c_i (spec §4.4 steps 2-3).
func (c *Calculator) ContributeLostShare() (Contribution, error) {
	li := lagrangeCoefficient(c.Curve, c.RecoveryIndex, c.PartyIndex, c.HelperOrder)
	ci := c.SecretShare.Mul(li)

	numParts := len(c.HelperOrder) - 1
	if numParts < 0 {
		return Contribution{}, fmt.Errorf("recovery: helper set is empty")
	}

	parts := make([]curvegroup.Scalar, numParts)
	sum := curvegroup.NewScalar(c.Curve, zero)
	for i := 0; i < numParts; i++ {
		r, err := curvegroup.RandomScalar(c.Curve)
		if err != nil {
			return Contribution{}, fmt.Errorf("recovery: random sub-share: %w", err)
		}
		parts[i] = r
		sum = sum.Add(r)
	}
	retained := ci.Sub(sum)
	return Contribution{Retained: retained, ForPeerExchange: parts}, nil
}

// PieceRecipient returns the helper index that should receive piece j
// (0-indexed) of this helper's ForPeerExchange slice, following the ring
// assignment: the helper at ring position p sends piece j to the helper
// at ring position (p+1+j) mod n, where n = len(HelperOrder). This
// ensures every other helper receives exactly one piece from this
// helper, and this helper in turn receives exactly one piece from each
// other helper (spec §4.4 step 3: "sends the others... to each peer").
func (c *Calculator) PieceRecipient(pieceIndex int) (int, error) {
	n := len(c.HelperOrder)
	pos := -1
	for i, h := range c.HelperOrder {
		if h == c.PartyIndex {
			pos = i
			break
		}
	}
	if pos < 0 {
		return 0, fmt.Errorf("recovery: party %d not in helper order", c.PartyIndex)
	}
	if pieceIndex < 0 || pieceIndex >= n-1 {
		return 0, fmt.Errorf("recovery: piece index %d out of range", pieceIndex)
	}
	return c.HelperOrder[(pos+1+pieceIndex)%n], nil
}

// CombineReceived sums a helper's retained piece with the pieces it
// received from every other helper, producing that helper's additive
// share of the reconstructed secret x_r (spec §4.4 step 3, end state).
func CombineReceived(curve elliptic.Curve, retained curvegroup.Scalar, received []curvegroup.Scalar) curvegroup.Scalar {
	sum := retained
	for _, r := range received {
		sum = sum.Add(r)
	}
	return sum
}

// Reconstruct sums every helper's combined additive share to recover
// x_r at the target (spec §4.4 step 4).
func Reconstruct(curve elliptic.Curve, helperShares []curvegroup.Scalar) curvegroup.Scalar {
	sum := curvegroup.NewScalar(curve, zero)
	for _, s := range helperShares {
		sum = sum.Add(s)
	}
	return sum
}

// Validate checks a reconstructed share against the published VSS
// commitments: accept iff g*x_r == Σ_k VSS_k.PointCommitment(r) (spec
// §4.4's validation rule). Multiple contributing VSS schemes are
// combined exactly as vss.YSum sums commitments_k[0], generalized to an
// arbitrary share index via PointCommitment.
func Validate(curve elliptic.Curve, reconstructed curvegroup.Scalar, schemes []vss.Scheme, index int) error {
	if len(schemes) == 0 {
		return fmt.Errorf("%w: no VSS schemes supplied", ErrValidationFailed)
	}
	sum := curvegroup.IdentityPoint(curve)
	for _, s := range schemes {
		sum = sum.Add(s.PointCommitment(index))
	}
	got := curvegroup.BasePointMul(curve, reconstructed)
	if !got.Equal(sum) {
		return ErrValidationFailed
	}
	return nil
}

var (
	one  = big.NewInt(1)
	zero = big.NewInt(0)
)
