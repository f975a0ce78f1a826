package vss_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justinrush/gridlock-mpc-engine/curvegroup"
	"github.com/justinrush/gridlock-mpc-engine/vss"
)

func TestSharePointCommitmentMatchesShares(t *testing.T) {
	curve, err := curvegroup.Secp256k1.Curve()
	require.NoError(t, err)

	secret, err := curvegroup.RandomScalar(curve)
	require.NoError(t, err)

	scheme, shares, err := vss.Share(curve, 2, secret, []int{0, 1, 2, 3, 4})
	require.NoError(t, err)

	for idx, share := range shares {
		got := curvegroup.BasePointMul(curve, share)
		want := scheme.PointCommitment(idx)
		assert.True(t, got.Equal(want), "share at index %d does not match its point commitment", idx)
	}
}

func TestYSumMatchesSecretCommitment(t *testing.T) {
	curve, err := curvegroup.Secp256k1.Curve()
	require.NoError(t, err)

	secretA, err := curvegroup.RandomScalar(curve)
	require.NoError(t, err)
	secretB, err := curvegroup.RandomScalar(curve)
	require.NoError(t, err)

	schemeA, _, err := vss.Share(curve, 1, secretA, []int{0, 1, 2})
	require.NoError(t, err)
	schemeB, _, err := vss.Share(curve, 1, secretB, []int{0, 1, 2})
	require.NoError(t, err)

	sum, err := vss.YSum(curve, []vss.Scheme{schemeA, schemeB})
	require.NoError(t, err)

	want := curvegroup.BasePointMul(curve, secretA.Add(secretB))
	assert.True(t, sum.Equal(want))
}

func TestVSSWireRoundTrip(t *testing.T) {
	curve, err := curvegroup.Secp256k1.Curve()
	require.NoError(t, err)
	secret, err := curvegroup.RandomScalar(curve)
	require.NoError(t, err)

	scheme, _, err := vss.Share(curve, 1, secret, []int{0, 1, 2})
	require.NoError(t, err)

	wire := vss.ToWire(scheme)
	back, err := vss.FromWire(curve, wire)
	require.NoError(t, err)

	for i := range scheme.Commitments {
		assert.True(t, scheme.Commitments[i].Equal(back.Commitments[i]))
	}
}
