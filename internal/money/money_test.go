package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRound_HalfAwayFromZero(t *testing.T) {
	require.Equal(t, int64(2), Round(decimal.NewFromFloat(1.5)))
	require.Equal(t, int64(-2), Round(decimal.NewFromFloat(-1.5)))
	require.Equal(t, int64(1), Round(decimal.NewFromFloat(1.4)))
	require.Equal(t, int64(2), Round(decimal.NewFromFloat(1.6)))
}

func TestSum(t *testing.T) {
	require.Equal(t, int64(0), Sum())
	require.Equal(t, int64(600), Sum(100, 200, 300))
	require.Equal(t, int64(-100), Sum(100, -200))
}

func TestClamp0(t *testing.T) {
	require.Equal(t, int64(0), Clamp0(-50))
	require.Equal(t, int64(0), Clamp0(0))
	require.Equal(t, int64(50), Clamp0(50))
}

func TestMin(t *testing.T) {
	require.Equal(t, int64(10), Min(10, 20))
	require.Equal(t, int64(10), Min(20, 10))
	require.Equal(t, int64(5), Min(5, 5))
}
