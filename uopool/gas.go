package uopool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

// Overhead is the calldata cost model used for preVerificationGas.
type Overhead struct {
	Fixed         uint64
	PerUserOp     uint64
	PerUserOpWord uint64
	ZeroByte      uint64
	NonZeroByte   uint64
	BundleSize    uint64
	SigSize       int
}

var DefaultOverhead = Overhead{
	Fixed:         21000,
	PerUserOp:     18300,
	PerUserOpWord: 4,
	ZeroByte:      4,
	NonZeroByte:   16,
	BundleSize:    1,
	SigSize:       65,
}

const (
	// callGasFloor is charged for an undeployed sender whose execution
	// cannot be estimated before initCode runs.
	callGasFloor           = 33100
	callGasPerCalldataByte = 16

	// verificationGasMarginPercent is added on top of simulated verification gas.
	verificationGasMarginPercent = 10
)

var (
	addressTy, _ = abi.NewType("address", "", nil)
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	bytesTy, _   = abi.NewType("bytes", "", nil)

	// the full on-chain layout of a UserOperation inside handleOps
	calldataArgs = abi.Arguments{
		{Name: "sender", Type: addressTy},
		{Name: "nonce", Type: uint256Ty},
		{Name: "initCode", Type: bytesTy},
		{Name: "callData", Type: bytesTy},
		{Name: "callGasLimit", Type: uint256Ty},
		{Name: "verificationGasLimit", Type: uint256Ty},
		{Name: "preVerificationGas", Type: uint256Ty},
		{Name: "maxFeePerGas", Type: uint256Ty},
		{Name: "maxPriorityFeePerGas", Type: uint256Ty},
		{Name: "paymasterAndData", Type: bytesTy},
		{Name: "signature", Type: bytesTy},
	}
)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func orEmpty(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// packForCalldata abi-encodes op the way it appears in handleOps calldata.
// The signature is replaced by SigSize non-zero bytes so the estimate does not
// depend on whether the caller already signed.
func (o Overhead) packForCalldata(op *userop.UserOperation) ([]byte, error) {
	sig := make([]byte, o.SigSize)
	for i := range sig {
		sig[i] = 1
	}
	return calldataArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		orEmpty(op.InitCode),
		orEmpty(op.CallData),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		// a realistic value so the estimate does not undercount its own bytes
		big.NewInt(int64(o.Fixed)),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		orEmpty(op.PaymasterAndData),
		sig,
	)
}

// PreVerificationGas returns the calldata and per-op overhead gas for op.
func (o Overhead) PreVerificationGas(op *userop.UserOperation) (*big.Int, error) {
	packed, err := o.packForCalldata(op)
	if err != nil {
		return nil, fmt.Errorf("cannot pack user operation: %w", err)
	}

	var callDataCost uint64
	for _, b := range packed {
		if b == 0 {
			callDataCost += o.ZeroByte
		} else {
			callDataCost += o.NonZeroByte
		}
	}
	words := uint64(len(packed)+31) / 32

	total := callDataCost + o.Fixed/o.BundleSize + o.PerUserOp + o.PerUserOpWord*words
	return new(big.Int).SetUint64(total), nil
}

// estimateCallGas estimates the execution phase. A deployed sender is
// simulated by eth_estimateGas from the entry point, an undeployed one gets a
// floor proportional to its calldata.
func (p *Pool) estimateCallGas(ctx context.Context, op *userop.UserOperation, ep common.Address, deployed bool) (*big.Int, error) {
	if !deployed {
		return new(big.Int).SetUint64(callGasFloor + callGasPerCalldataByte*uint64(len(op.CallData))), nil
	}

	gas, err := p.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: ep,
		To:   &op.Sender,
		Data: op.CallData,
	})
	if err != nil {
		return nil, newValidationError(SimulateValidation, "call gas estimation failed: %s", err)
	}
	return new(big.Int).SetUint64(gas), nil
}

// estimateVerificationGas runs simulateHandleOp and derives the verification
// part from preOpGas.
func (p *Pool) estimateVerificationGas(ctx context.Context, op *userop.UserOperation, ep common.Address, pvg *big.Int) (*big.Int, error) {
	sim := op.Clone()
	sim.CallGasLimit = big.NewInt(0)
	sim.VerificationGasLimit = new(big.Int).SetUint64(p.params.MaxVerificationGas)
	sim.PreVerificationGas = new(big.Int).Set(pvg)
	// fees are zeroed so the simulation does not require a deposit
	sim.MaxFeePerGas = big.NewInt(0)
	sim.MaxPriorityFeePerGas = big.NewInt(0)

	result, err := p.simulateHandleOp(ctx, sim, ep)
	if err != nil {
		return nil, err
	}

	vgl := new(big.Int).Sub(result.PreOpGas, pvg)
	if vgl.Sign() < 0 {
		vgl.SetInt64(0)
	}
	margin := new(big.Int).Div(new(big.Int).Mul(vgl, big.NewInt(verificationGasMarginPercent)), big.NewInt(100))
	return vgl.Add(vgl, margin), nil
}

// Estimate returns the gas values a caller should put in op.
func (p *Pool) Estimate(ctx context.Context, op *userop.UserOperation, ep common.Address) (*bundler.GasEstimation, error) {
	if !p.supports(ep) {
		return nil, newValidationError(InvalidFields, "%s: %s", ErrUnsupportedEntryPoint, ep.Hex())
	}

	pvg, err := p.overhead.PreVerificationGas(op)
	if err != nil {
		return nil, err
	}

	deployed, err := p.isDeployed(ctx, op.Sender)
	if err != nil {
		return nil, err
	}

	vgl, err := p.estimateVerificationGas(ctx, op, ep, pvg)
	if err != nil {
		return nil, err
	}

	cgl, err := p.estimateCallGas(ctx, op, ep, deployed)
	if err != nil {
		return nil, err
	}

	return &bundler.GasEstimation{
		PreVerificationGas:   pvg,
		VerificationGasLimit: vgl,
		CallGasLimit:         cgl,
	}, nil
}

func (p *Pool) simulateHandleOp(ctx context.Context, op *userop.UserOperation, ep common.Address) (*aa.ExecutionResult, error) {
	data, err := aa.SimulateHandleOpCalldata(op, common.Address{}, nil)
	if err != nil {
		return nil, err
	}

	revert, err := p.callForRevert(ctx, ep, data)
	if err != nil {
		return nil, err
	}

	if result, err := aa.DecodeExecutionResult(revert); err == nil {
		return result, nil
	}
	if failed, err := aa.DecodeFailedOp(revert); err == nil {
		return nil, newValidationError(SimulateValidation, "%s", failed.Reason)
	}
	return nil, newValidationError(SimulateValidation, "unexpected simulateHandleOp revert %s", aa.DescribeRevert(revert))
}

// callForRevert performs an eth_call that is expected to revert and returns
// the revert payload.
func (p *Pool) callForRevert(ctx context.Context, ep common.Address, data []byte) ([]byte, error) {
	_, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &ep, Data: data}, nil)
	if err == nil {
		return nil, newValidationError(SimulateValidation, "simulation did not revert")
	}

	revert, ok := aa.RevertData(err)
	if !ok {
		return nil, fmt.Errorf("simulation call failed: %w", err)
	}
	return revert, nil
}
