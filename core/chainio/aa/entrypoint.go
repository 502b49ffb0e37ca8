package aa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/ethuo/pkg/byte4"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

// UserOperationEventTopic is topic[0] of every UserOperationEvent log.
var UserOperationEventTopic = EntryPointABI.Events["UserOperationEvent"].ID

// DepositInfo is the EntryPoint stake manager record of an account.
type DepositInfo struct {
	Deposit         *big.Int
	Staked          bool
	Stake           *big.Int
	UnstakeDelaySec uint32
	WithdrawTime    *big.Int
}

type FailedOp struct {
	OpIndex *big.Int
	Reason  string
}

func (e *FailedOp) Error() string {
	return fmt.Sprintf("FailedOp(%s, %s)", e.OpIndex, e.Reason)
}

// ExecutionResult is the revert payload of simulateHandleOp.
type ExecutionResult struct {
	PreOpGas      *big.Int
	Paid          *big.Int
	ValidAfter    *big.Int
	ValidUntil    *big.Int
	TargetSuccess bool
	TargetResult  []byte
}

type ReturnInfo struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       *big.Int
	ValidUntil       *big.Int
	PaymasterContext []byte
}

type StakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

// ValidationResult is the revert payload of simulateValidation.
type ValidationResult struct {
	ReturnInfo    ReturnInfo
	SenderInfo    StakeInfo
	FactoryInfo   StakeInfo
	PaymasterInfo StakeInfo
}

// UserOperationEvent is a decoded EntryPoint log.
type UserOperationEvent struct {
	UserOpHash    common.Hash
	Sender        common.Address
	Paymaster     common.Address
	Nonce         *big.Int
	Success       bool
	ActualGasCost *big.Int
	ActualGasUsed *big.Int
	Raw           types.Log
}

func abi2Address(v interface{}) *common.Address {
	return abi.ConvertType(v, new(common.Address)).(*common.Address)
}

func entryPointContract(ep common.Address, caller bind.ContractCaller) *bind.BoundContract {
	return bind.NewBoundContract(ep, EntryPointABI, caller, nil, nil)
}

// GetNonce returns the next nonce of sender in the given key space.
func GetNonce(ctx context.Context, caller bind.ContractCaller, ep, sender common.Address, key *big.Int) (*big.Int, error) {
	if key == nil {
		key = new(big.Int)
	}

	var out []interface{}
	if err := entryPointContract(ep, caller).Call(&bind.CallOpts{Context: ctx}, &out, "getNonce", sender, key); err != nil {
		return nil, fmt.Errorf("failed to get nonce for %s: %w", sender.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func BalanceOf(ctx context.Context, caller bind.ContractCaller, ep, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := entryPointContract(ep, caller).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("failed to get entrypoint balance of %s: %w", account.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func GetDepositInfo(ctx context.Context, caller bind.ContractCaller, ep, account common.Address) (*DepositInfo, error) {
	var out []interface{}
	if err := entryPointContract(ep, caller).Call(&bind.CallOpts{Context: ctx}, &out, "getDepositInfo", account); err != nil {
		return nil, fmt.Errorf("failed to get deposit info of %s: %w", account.Hex(), err)
	}
	return abi.ConvertType(out[0], new(DepositInfo)).(*DepositInfo), nil
}

func DepositToCalldata(account common.Address) ([]byte, error) {
	return EntryPointABI.Pack("depositTo", account)
}

func HandleOpsCalldata(ops []*userop.UserOperation, beneficiary common.Address) ([]byte, error) {
	tuples := make([]userop.Tuple, len(ops))
	for i, op := range ops {
		tuples[i] = op.AbiTuple()
	}
	return EntryPointABI.Pack("handleOps", tuples, beneficiary)
}

// UnpackHandleOps decodes the operations out of handleOps calldata.
func UnpackHandleOps(data []byte) ([]*userop.UserOperation, common.Address, error) {
	method := EntryPointABI.Methods["handleOps"]
	if len(data) < 4 || !bytes.Equal(data[:4], method.ID) {
		return nil, common.Address{}, errors.New("calldata is not a handleOps call")
	}

	var args struct {
		Ops         []userop.Tuple
		Beneficiary common.Address
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to unpack handleOps: %w", err)
	}
	if err := method.Inputs.Copy(&args, values); err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to copy handleOps arguments: %w", err)
	}

	ops := make([]*userop.UserOperation, len(args.Ops))
	for i, t := range args.Ops {
		ops[i] = userop.FromTuple(t)
	}
	return ops, args.Beneficiary, nil
}

func SimulateValidationCalldata(op *userop.UserOperation) ([]byte, error) {
	return EntryPointABI.Pack("simulateValidation", op.AbiTuple())
}

func SimulateHandleOpCalldata(op *userop.UserOperation, target common.Address, targetCallData []byte) ([]byte, error) {
	if targetCallData == nil {
		targetCallData = []byte{}
	}
	return EntryPointABI.Pack("simulateHandleOp", op.AbiTuple(), target, targetCallData)
}

// RevertData pulls the raw revert payload out of an eth_call error.
func RevertData(err error) ([]byte, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, false
	}

	switch data := dataErr.ErrorData().(type) {
	case string:
		raw, decodeErr := hexutil.Decode(data)
		if decodeErr != nil {
			return nil, false
		}
		return raw, true
	case []byte:
		return data, true
	}
	return nil, false
}

func unpackError(name string, data []byte, out interface{}) error {
	abiErr, err := byte4.GetErrorFromRevert(EntryPointABI, data)
	if err != nil || abiErr.Name != name {
		return fmt.Errorf("revert data is not %s", name)
	}
	values, err := abiErr.Inputs.Unpack(data[4:])
	if err != nil {
		return fmt.Errorf("failed to unpack %s: %w", name, err)
	}
	return abiErr.Inputs.Copy(out, values)
}

// DescribeRevert names an EntryPoint revert: the custom error, the
// Error(string) reason, or the raw hex.
func DescribeRevert(data []byte) string {
	if abiErr, err := byte4.GetErrorFromRevert(EntryPointABI, data); err == nil {
		return abiErr.Name
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	return hexutil.Encode(data)
}

// DescribeCall names the SimpleAccount method called by an operation's callData.
func DescribeCall(callData []byte) string {
	method, err := byte4.GetMethodFromCalldata(SimpleAccountABI, callData)
	if err != nil {
		return ""
	}
	return method.Name
}

func DecodeFailedOp(data []byte) (*FailedOp, error) {
	var out FailedOp
	if err := unpackError("FailedOp", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func DecodeExecutionResult(data []byte) (*ExecutionResult, error) {
	var out ExecutionResult
	if err := unpackError("ExecutionResult", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func DecodeValidationResult(data []byte) (*ValidationResult, error) {
	var out ValidationResult
	if err := unpackError("ValidationResult", data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseUserOperationEvent decodes a log emitted by the EntryPoint.
func ParseUserOperationEvent(log types.Log) (*UserOperationEvent, error) {
	if len(log.Topics) != 4 || log.Topics[0] != UserOperationEventTopic {
		return nil, errors.New("log is not a UserOperationEvent")
	}

	var data struct {
		Nonce         *big.Int
		Success       bool
		ActualGasCost *big.Int
		ActualGasUsed *big.Int
	}
	if err := EntryPointABI.UnpackIntoInterface(&data, "UserOperationEvent", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack UserOperationEvent: %w", err)
	}

	return &UserOperationEvent{
		UserOpHash:    log.Topics[1],
		Sender:        common.BytesToAddress(log.Topics[2].Bytes()),
		Paymaster:     common.BytesToAddress(log.Topics[3].Bytes()),
		Nonce:         data.Nonce,
		Success:       data.Success,
		ActualGasCost: data.ActualGasCost,
		ActualGasUsed: data.ActualGasUsed,
		Raw:           log,
	}, nil
}
