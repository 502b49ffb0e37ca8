package uopool

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/storage"
)

// minValidityWindow is how long an operation must stay valid after admission.
const minValidityWindow = 30 * time.Second

func requireFields(op *userop.UserOperation) error {
	fields := []struct {
		name  string
		value *big.Int
	}{
		{"nonce", op.Nonce},
		{"callGasLimit", op.CallGasLimit},
		{"verificationGasLimit", op.VerificationGasLimit},
		{"preVerificationGas", op.PreVerificationGas},
		{"maxFeePerGas", op.MaxFeePerGas},
		{"maxPriorityFeePerGas", op.MaxPriorityFeePerGas},
	}
	for _, f := range fields {
		if f.value == nil {
			return newValidationError(InvalidFields, "missing %s", f.name)
		}
		if f.value.Sign() < 0 {
			return newValidationError(InvalidFields, "%s must not be negative", f.name)
		}
	}
	return nil
}

// validate runs the admission checks in order and stops at the first failure.
func (p *Pool) validate(ctx context.Context, op *userop.UserOperation, ep common.Address) error {
	if !p.supports(ep) {
		return newValidationError(InvalidFields, "%s: %s", ErrUnsupportedEntryPoint, ep.Hex())
	}
	if err := requireFields(op); err != nil {
		return err
	}

	deployed, err := p.checkSender(ctx, op)
	if err != nil {
		return err
	}

	if op.VerificationGasLimit.Cmp(new(big.Int).SetUint64(p.params.MaxVerificationGas)) > 0 {
		return newValidationError(InvalidFields, "Verification gas limit %s is higher than max verification gas %d", op.VerificationGasLimit, p.params.MaxVerificationGas)
	}

	if op.MaxPriorityFeePerGas.Cmp(p.params.MinPriorityFeePerGas) < 0 {
		return newValidationError(InvalidFields, "maxPriorityFeePerGas %s is lower than minimum %s", op.MaxPriorityFeePerGas, p.params.MinPriorityFeePerGas)
	}
	if op.MaxFeePerGas.Cmp(op.MaxPriorityFeePerGas) < 0 {
		return newValidationError(InvalidFields, "maxFeePerGas %s is lower than maxPriorityFeePerGas %s", op.MaxFeePerGas, op.MaxPriorityFeePerGas)
	}

	pvg, err := p.overhead.PreVerificationGas(op)
	if err != nil {
		return newValidationError(InvalidFields, "%s", err)
	}
	if op.PreVerificationGas.Cmp(pvg) < 0 {
		return newValidationError(InvalidFields, "%s", bundler.FormatPreVerificationGas(op.PreVerificationGas, pvg))
	}

	cgl, err := p.estimateCallGas(ctx, op, ep, deployed)
	if err != nil {
		return err
	}
	if op.CallGasLimit.Cmp(cgl) < 0 {
		return newValidationError(InvalidFields, "%s", bundler.FormatCallGasLimit(op.CallGasLimit, cgl))
	}

	if p.params.Mode == Standard {
		return p.simulateValidation(ctx, op, ep)
	}
	return nil
}

// checkSender verifies the sender code and initCode agree, and reports
// whether the sender is deployed.
func (p *Pool) checkSender(ctx context.Context, op *userop.UserOperation) (bool, error) {
	deployed, err := p.isDeployed(ctx, op.Sender)
	if err != nil {
		return false, err
	}

	switch {
	case deployed && len(op.InitCode) > 0:
		return false, newValidationError(SimulateValidation, "AA10 sender already constructed")
	case !deployed && len(op.InitCode) == 0:
		return false, newValidationError(SimulateValidation, "AA20 account not deployed")
	case !deployed && len(op.InitCode) < common.AddressLength:
		return false, newValidationError(InvalidFields, "initCode must start with a factory address")
	}

	if !deployed {
		hasCode, err := p.isDeployed(ctx, op.Factory())
		if err != nil {
			return false, err
		}
		if !hasCode {
			return false, newValidationError(SimulateValidation, "AA13 factory %s has no code", op.Factory().Hex())
		}
	}
	return deployed, nil
}

func (p *Pool) simulateValidation(ctx context.Context, op *userop.UserOperation, ep common.Address) error {
	data, err := aa.SimulateValidationCalldata(op)
	if err != nil {
		return newValidationError(InvalidFields, "%s", err)
	}

	revert, err := p.callForRevert(ctx, ep, data)
	if err != nil {
		return err
	}

	if failed, err := aa.DecodeFailedOp(revert); err == nil {
		code := SimulateValidation
		if strings.HasPrefix(failed.Reason, "AA3") {
			code = SimulatePaymasterValid
		}
		return newValidationError(code, "%s", failed.Reason)
	}

	result, err := aa.DecodeValidationResult(revert)
	if err != nil {
		return newValidationError(SimulateValidation, "unexpected simulateValidation revert %s", aa.DescribeRevert(revert))
	}

	if result.ReturnInfo.SigFailed {
		return newValidationError(InvalidSignature, "Invalid UserOp signature or paymaster signature")
	}

	if until := result.ReturnInfo.ValidUntil; until != nil && until.Sign() > 0 {
		deadline := p.now().Add(minValidityWindow).Unix()
		if until.Cmp(big.NewInt(deadline)) < 0 {
			return newValidationError(ExpiresShortly, "expires too soon")
		}
	}

	return p.checkPaymasterStake(op.Paymaster(), result.PaymasterInfo)
}

func (p *Pool) checkPaymasterStake(paymaster common.Address, info aa.StakeInfo) error {
	if paymaster == (common.Address{}) || lo.Contains(p.params.Whitelist, paymaster) {
		return nil
	}

	stake := info.Stake
	if stake == nil {
		stake = new(big.Int)
	}
	if stake.Cmp(p.params.MinStake) < 0 {
		return newValidationError(StakeTooLow, "paymaster %s stake %s is lower than min stake %s", paymaster.Hex(), stake, p.params.MinStake)
	}

	delay := info.UnstakeDelaySec
	if delay == nil {
		delay = new(big.Int)
	}
	if delay.Cmp(new(big.Int).SetUint64(p.params.MinUnstakeDelay)) < 0 {
		return newValidationError(StakeTooLow, "paymaster %s unstake delay %s is lower than min unstake delay %d", paymaster.Hex(), delay, p.params.MinUnstakeDelay)
	}
	return nil
}

// checkReplacement returns the hash of the pooled operation op replaces, or
// the zero hash when the (sender, nonce) slot is free. Caller holds p.mu.
func (p *Pool) checkReplacement(op *userop.UserOperation, ep common.Address) (common.Hash, error) {
	raw, err := p.db.GetKey(senderKey(ep, op.Sender, op.Nonce))
	if errors.Is(err, storage.ErrNotFound) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, err
	}

	existingHash := common.BytesToHash(raw)
	existing, err := p.entry(ep, existingHash)
	if errors.Is(err, ErrNotFound) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, err
	}

	if op.MaxPriorityFeePerGas.Cmp(existing.UserOperation.MaxPriorityFeePerGas) <= 0 {
		return common.Hash{}, newValidationError(InvalidFields,
			"replacement user operation must have higher maxPriorityFeePerGas than %s", existing.UserOperation.MaxPriorityFeePerGas)
	}
	return existingHash, nil
}
