package eip1559

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// minimum tip for bundler profitability
	MinPriorityFee = big.NewInt(2_000_000_000)
	// floor for chains whose base fee swings fast
	MinMaxFee = big.NewInt(20_000_000_000)
)

// FeeSource is the part of an execution client the fee oracle reads.
// *ethclient.Client satisfies it.
type FeeSource interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// SuggestFee returns maxFeePerGas and maxPriorityFeePerGas for the next block.
func SuggestFee(ctx context.Context, client FeeSource) (*big.Int, *big.Int, error) {
	tipCap, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	return FeeFromTip(tipCap, header.BaseFee)
}

// FeeFromTip applies the fee policy to a suggested tip and the latest base fee.
// A nil base fee means a pre-London chain.
func FeeFromTip(tipCap, baseFee *big.Int) (*big.Int, *big.Int, error) {
	// Add 13% buffer to tip for safety
	buffer := new(big.Int).Div(tipCap, big.NewInt(100))
	buffer = new(big.Int).Mul(buffer, big.NewInt(13))
	maxPriorityFeePerGas := new(big.Int).Add(tipCap, buffer)

	if maxPriorityFeePerGas.Cmp(MinPriorityFee) < 0 {
		maxPriorityFeePerGas = new(big.Int).Set(MinPriorityFee)
	}

	if baseFee == nil {
		return new(big.Int).Set(maxPriorityFeePerGas), maxPriorityFeePerGas, nil
	}

	// 2x baseFee leaves room for the base fee to double before inclusion
	maxFeePerGas := new(big.Int).Add(
		new(big.Int).Mul(baseFee, big.NewInt(2)),
		maxPriorityFeePerGas,
	)
	if maxFeePerGas.Cmp(MinMaxFee) < 0 {
		maxFeePerGas = new(big.Int).Set(MinMaxFee)
	}

	return maxFeePerGas, maxPriorityFeePerGas, nil
}
