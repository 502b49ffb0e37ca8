package eip1559

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeeSource struct {
	tip     *big.Int
	baseFee *big.Int
	err     error
}

func (f fakeFeeSource) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.tip, f.err
}

func (f fakeFeeSource) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestSuggestFee(t *testing.T) {
	tests := []struct {
		name    string
		tip     *big.Int
		baseFee *big.Int
		maxFee  *big.Int
		prio    *big.Int
	}{
		{"tip below floor", big.NewInt(1), gwei(1), gwei(20), gwei(2)},
		{"tip gets 13 percent", gwei(10), gwei(30), new(big.Int).Add(gwei(60), big.NewInt(11_300_000_000)), big.NewInt(11_300_000_000)},
		{"legacy chain", gwei(3), nil, big.NewInt(3_390_000_000), big.NewInt(3_390_000_000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxFee, prio, err := SuggestFee(context.Background(), fakeFeeSource{tip: tt.tip, baseFee: tt.baseFee})
			require.NoError(t, err)
			assert.Equal(t, tt.maxFee.String(), maxFee.String())
			assert.Equal(t, tt.prio.String(), prio.String())
			assert.True(t, maxFee.Cmp(prio) >= 0)
		})
	}

	_, _, err := SuggestFee(context.Background(), fakeFeeSource{err: errors.New("down")})
	assert.Error(t, err)
}

func TestFloorsAreNotAliased(t *testing.T) {
	_, prio, err := FeeFromTip(big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)
	prio.SetInt64(5)
	assert.Equal(t, gwei(2).String(), MinPriorityFee.String())
}
