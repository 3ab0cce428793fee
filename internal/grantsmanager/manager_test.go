package grantsmanager

import (
	"testing"

	"github.com/flexprice/flexcore/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grant(id string, gtype types.GrantType, limit int64, effectiveAt, expiresAt int64, allowOverage bool) types.Grant {
	l := decimal.NewFromInt(limit)
	e := expiresAt
	return types.Grant{
		ID:                id,
		Type:              gtype,
		FeatureType:       types.FeatureTypeUsage,
		AggregationMethod: types.AggregationSum,
		Limit:             &l,
		EffectiveAt:       effectiveAt,
		ExpiresAt:         &e,
		AllowOverage:      allowOverage,
	}
}

func TestMergeGrants_SumPolicy(t *testing.T) {
	g1 := grant("g1", types.GrantTypeSubscription, 100, 0, 10, false)
	g2 := grant("g2", types.GrantTypeAddon, 50, 0, 10, false)
	grants := []types.Grant{g2, g1} // priority-desc: addon(20) before subscription(10)

	result, err := MergeGrants(grants, nil)
	require.NoError(t, err)

	assert.Equal(t, types.MergingPolicySum, result.MergingPolicy)
	require.NotNil(t, result.Limit)
	assert.True(t, result.Limit.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, int64(0), result.EffectiveAt)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, int64(10), *result.ExpiresAt)
}

func TestMergeGrants_TierMaxPolicy(t *testing.T) {
	g1 := grant("g1", types.GrantTypeSubscription, 100, 0, 10, false)
	g1.FeatureType = types.FeatureTypeTier
	g2 := grant("g2", types.GrantTypeAddon, 500, 0, 10, false)
	g2.FeatureType = types.FeatureTypeTier
	g3 := grant("g3", types.GrantTypeManual, 50, 0, 10, false)
	g3.FeatureType = types.FeatureTypeTier

	grants := []types.Grant{g3, g2, g1}
	sortByPriorityDesc(grants)

	result, err := MergeGrants(grants, nil)
	require.NoError(t, err)

	assert.Equal(t, types.MergingPolicyMax, result.MergingPolicy)
	require.NotNil(t, result.Limit)
	assert.True(t, result.Limit.Equal(decimal.NewFromInt(500)))
	require.Len(t, result.Grants, 1)
	assert.Equal(t, "g2", result.Grants[0].GrantID)
}

func TestVerify_SumMergeUsageBreach(t *testing.T) {
	limit := decimal.NewFromInt(150)
	state := types.EntitlementState{
		FeatureType: types.FeatureTypeUsage,
		Limit:       &limit,
		Grants: []types.GrantSnapshot{
			{GrantID: "g1", Priority: 10, EffectiveAt: 0},
		},
		CurrentCycleUsage: decimal.NewFromInt(149),
	}

	allowed := Verify(state, 5)
	assert.True(t, allowed.Allowed)

	state.CurrentCycleUsage = decimal.NewFromInt(150)
	denied := Verify(state, 5)
	assert.False(t, denied.Allowed)
	assert.Equal(t, types.DeniedReasonLimitExceeded, denied.DeniedReason)
}

func TestAttribute_Waterfall(t *testing.T) {
	grants := []types.GrantSnapshot{
		{GrantID: "high", Priority: 70, Limit: decPtr(10)},
		{GrantID: "low", Priority: 10, Limit: decPtr(100), AllowOverage: true},
	}

	out := attribute(grants, decimal.NewFromInt(15), true)

	require.Len(t, out, 2)
	assert.Equal(t, "high", out[0].GrantID)
	assert.True(t, out[0].Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "low", out[1].GrantID)
	assert.True(t, out[1].Amount.Equal(decimal.NewFromInt(5)))
}

func TestAttribute_OverageGoesToAllowOverageGrant(t *testing.T) {
	grants := []types.GrantSnapshot{
		{GrantID: "strict", Priority: 70, Limit: decPtr(5)},
		{GrantID: "flexible", Priority: 10, Limit: decPtr(5), AllowOverage: true},
	}

	out := attribute(grants, decimal.NewFromInt(20), true)

	var overageTo string
	var total decimal.Decimal
	for _, c := range out {
		total = total.Add(c.Amount)
		if c.GrantID == "flexible" {
			overageTo = c.GrantID
		}
	}
	assert.Equal(t, "flexible", overageTo)
	assert.True(t, total.Equal(decimal.NewFromInt(20)))
}

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}
