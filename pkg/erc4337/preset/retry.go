package preset

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

var (
	// Placeholders sent with the first estimate. The bundler replaces them.
	placeholderCallGasLimit         = big.NewInt(1)
	placeholderVerificationGasLimit = big.NewInt(1_000_000)
	placeholderPreVerificationGas   = big.NewInt(1)

	// VerificationGasSlack is added on top of the estimated verificationGasLimit
	// and again on every AA40 rejection.
	VerificationGasSlack = big.NewInt(10_000)
)

const (
	// consecutive rejections that did not raise any gas value
	maxStalledAttempts = 4
	maxAttempts        = 64
)

var (
	ErrNoProgress = errors.New("bundler keeps rejecting the user operation without a higher gas hint")
	ErrUnknown    = errors.New("bundler rejected the user operation")
)

// Bundler is the part of the bundler RPC the retry loop talks to.
type Bundler interface {
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (*bundler.GasEstimation, error)
	SendUserOperation(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (common.Hash, error)
}

type gasValues struct {
	pvg, vgl, cgl *big.Int
}

// raise sets *dst to max(*dst, hint) and reports whether it grew.
func raise(dst **big.Int, hint *big.Int) bool {
	if hint == nil || hint.Cmp(*dst) <= 0 {
		return false
	}
	*dst = new(big.Int).Set(hint)
	return true
}

// sendWithRetry estimates, signs and submits the operation in b, adjusting gas
// from the bundler's rejections. Fees are fixed for the whole loop and gas
// values only ever grow.
func sendWithRetry(
	ctx context.Context,
	b *Builder,
	client Bundler,
	wallet *signer.Wallet,
	entryPoint common.Address,
	maxFeePerGas, maxPriorityFeePerGas *big.Int,
	lgr logger.Logger,
) (common.Hash, error) {
	lgr = logger.EnsureLogger(lgr)

	b.SetCallGasLimit(placeholderCallGasLimit).
		SetVerificationGasLimit(placeholderVerificationGasLimit).
		SetPreVerificationGas(placeholderPreVerificationGas).
		SetMaxFeePerGas(maxFeePerGas).
		SetMaxPriorityFeePerGas(maxPriorityFeePerGas).
		SetSignature(userop.DummySignature)

	op, err := b.Build()
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := wallet.SignUserOp(op, entryPoint)
	if err != nil {
		return common.Hash{}, err
	}

	estimate, err := client.EstimateUserOperationGas(ctx, signed, entryPoint)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth_estimateUserOperationGas failed: %w", err)
	}

	gas := gasValues{
		pvg: new(big.Int).Set(estimate.PreVerificationGas),
		vgl: new(big.Int).Add(estimate.VerificationGasLimit, VerificationGasSlack),
		cgl: new(big.Int).Set(estimate.CallGasLimit),
	}
	lgr.Debug("user operation gas estimated", "pvg", gas.pvg.String(), "vgl", gas.vgl.String(), "cgl", gas.cgl.String())

	stalled := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return common.Hash{}, err
		}

		b.SetPreVerificationGas(gas.pvg).
			SetCallGasLimit(gas.cgl).
			SetVerificationGasLimit(gas.vgl).
			SetMaxFeePerGas(maxFeePerGas).
			SetMaxPriorityFeePerGas(maxPriorityFeePerGas)

		op, err := b.Build()
		if err != nil {
			return common.Hash{}, err
		}
		signed, err := wallet.SignUserOp(op, entryPoint)
		if err != nil {
			return common.Hash{}, err
		}
		b.SetSignature(signed.Signature)

		hash, sendErr := client.SendUserOperation(ctx, signed, entryPoint)
		if sendErr == nil {
			b.SetUoHash(hash)
			lgr.Info("user operation accepted", "hash", hash.Hex(), "sender", signed.Sender.Hex(), "attempt", attempt)
			return hash, nil
		}

		var (
			cglErr *bundler.CallGasLimitError
			pvgErr *bundler.PreVerificationGasError
			vglErr *bundler.VerificationGasLimitError
		)
		progressed := false
		switch {
		case errors.As(sendErr, &cglErr):
			progressed = raise(&gas.cgl, cglErr.Estimation)
		case errors.As(sendErr, &pvgErr):
			progressed = raise(&gas.pvg, pvgErr.Calculated)
		case errors.As(sendErr, &vglErr):
			gas.vgl = new(big.Int).Add(gas.vgl, VerificationGasSlack)
			progressed = true
		default:
			return common.Hash{}, fmt.Errorf("%w: %w", ErrUnknown, sendErr)
		}

		lgr.Debug("user operation rejected, retrying", "attempt", attempt, "error", sendErr.Error(), "progressed", progressed)
		if progressed {
			stalled = 0
			continue
		}
		stalled++
		if stalled >= maxStalledAttempts {
			return common.Hash{}, fmt.Errorf("%w: %w", ErrNoProgress, sendErr)
		}
	}

	return common.Hash{}, fmt.Errorf("%w after %d attempts", ErrNoProgress, maxAttempts)
}
