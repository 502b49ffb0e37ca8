// Package userop holds the ERC-4337 (EntryPoint v0.6) UserOperation type and its encoders.
package userop

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// DummySignature is a well formed 65 byte ECDSA signature used during gas estimation.
	DummySignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

	// DummyPaymasterAndData stands in for a verifying paymaster during estimation.
	DummyPaymasterAndData = append(
		common.HexToAddress("0xC03Aac639Bb21233e0139381970328dB8bcEeB67").Bytes(),
		DummySignature...,
	)
)

// UserOperation represents an EIP-4337 style transaction for a smart contract account.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

// wireUserOperation is the hex encoded JSON-RPC form
type wireUserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func hexBig(v *big.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(v)
}

func fromHexBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}

func nonNil(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}

// MarshalJSON encodes every integer as a 0x quantity and every byte string as 0x data.
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireUserOperation{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		InitCode:             nonNil(op.InitCode),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     nonNil(op.PaymasterAndData),
		Signature:            nonNil(op.Signature),
	})
}

func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var w wireUserOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("invalid user operation: %w", err)
	}

	*op = UserOperation{
		Sender:               w.Sender,
		Nonce:                fromHexBig(w.Nonce),
		InitCode:             []byte(w.InitCode),
		CallData:             []byte(w.CallData),
		CallGasLimit:         fromHexBig(w.CallGasLimit),
		VerificationGasLimit: fromHexBig(w.VerificationGasLimit),
		PreVerificationGas:   fromHexBig(w.PreVerificationGas),
		MaxFeePerGas:         fromHexBig(w.MaxFeePerGas),
		MaxPriorityFeePerGas: fromHexBig(w.MaxPriorityFeePerGas),
		PaymasterAndData:     []byte(w.PaymasterAndData),
		Signature:            []byte(w.Signature),
	}
	return nil
}

var (
	address, _ = abi.NewType("address", "", nil)
	uint256, _ = abi.NewType("uint256", "", nil)
	bytes32, _ = abi.NewType("bytes32", "", nil)

	packArgs = abi.Arguments{
		{Name: "sender", Type: address},
		{Name: "nonce", Type: uint256},
		{Name: "hashInitCode", Type: bytes32},
		{Name: "hashCallData", Type: bytes32},
		{Name: "callGasLimit", Type: uint256},
		{Name: "verificationGasLimit", Type: uint256},
		{Name: "preVerificationGas", Type: uint256},
		{Name: "maxFeePerGas", Type: uint256},
		{Name: "maxPriorityFeePerGas", Type: uint256},
		{Name: "hashPaymasterAndData", Type: bytes32},
	}

	hashArgs = abi.Arguments{
		{Name: "userOpHash", Type: bytes32},
		{Name: "entryPoint", Type: address},
		{Name: "chainId", Type: uint256},
	}
)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Pack returns the abi encoding of every field except the signature, with the
// dynamic byte fields replaced by their keccak256.
func (op *UserOperation) Pack() []byte {
	packed, err := packArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		orZero(op.CallGasLimit),
		orZero(op.VerificationGasLimit),
		orZero(op.PreVerificationGas),
		orZero(op.MaxFeePerGas),
		orZero(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		// static types only, packing cannot fail
		panic(err)
	}
	return packed
}

// GetUserOpHash returns the hash the wallet owner signs. It binds the operation
// to a single EntryPoint deployment on a single chain.
func (op *UserOperation) GetUserOpHash(entryPoint common.Address, chainID *big.Int) common.Hash {
	encoded, err := hashArgs.Pack(crypto.Keccak256Hash(op.Pack()), entryPoint, orZero(chainID))
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(encoded)
}

// Factory returns the factory address encoded in the first 20 bytes of initCode.
func (op *UserOperation) Factory() common.Address {
	if len(op.InitCode) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.InitCode[:common.AddressLength])
}

func (op *UserOperation) Paymaster() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// TotalGasLimit is the sum of the three gas fields.
func (op *UserOperation) TotalGasLimit() *big.Int {
	total := new(big.Int).Add(orZero(op.CallGasLimit), orZero(op.VerificationGasLimit))
	return total.Add(total, orZero(op.PreVerificationGas))
}

// MaxGasCost is the upper bound the EntryPoint may charge the sender or paymaster.
func (op *UserOperation) MaxGasCost() *big.Int {
	mul := big.NewInt(1)
	if len(op.PaymasterAndData) > 0 {
		// postOp may run twice on a paymaster funded operation
		mul = big.NewInt(3)
	}
	vgl := new(big.Int).Mul(orZero(op.VerificationGasLimit), mul)
	gas := new(big.Int).Add(orZero(op.CallGasLimit), vgl)
	gas.Add(gas, orZero(op.PreVerificationGas))
	return gas.Mul(gas, orZero(op.MaxFeePerGas))
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Clone returns a deep copy.
func (op *UserOperation) Clone() *UserOperation {
	return &UserOperation{
		Sender:               op.Sender,
		Nonce:                cloneBig(op.Nonce),
		InitCode:             cloneBytes(op.InitCode),
		CallData:             cloneBytes(op.CallData),
		CallGasLimit:         cloneBig(op.CallGasLimit),
		VerificationGasLimit: cloneBig(op.VerificationGasLimit),
		PreVerificationGas:   cloneBig(op.PreVerificationGas),
		MaxFeePerGas:         cloneBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: cloneBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     cloneBytes(op.PaymasterAndData),
		Signature:            cloneBytes(op.Signature),
	}
}

// AbiTuple converts the operation into the anonymous struct layout expected
// by go-ethereum's abi encoder for the UserOperation tuple.
func (op *UserOperation) AbiTuple() Tuple {
	return Tuple{
		Sender:               op.Sender,
		Nonce:                orZero(op.Nonce),
		InitCode:             nonNil(op.InitCode),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         orZero(op.CallGasLimit),
		VerificationGasLimit: orZero(op.VerificationGasLimit),
		PreVerificationGas:   orZero(op.PreVerificationGas),
		MaxFeePerGas:         orZero(op.MaxFeePerGas),
		MaxPriorityFeePerGas: orZero(op.MaxPriorityFeePerGas),
		PaymasterAndData:     nonNil(op.PaymasterAndData),
		Signature:            nonNil(op.Signature),
	}
}

// Tuple mirrors the solidity UserOperation struct field for field.
type Tuple struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         *big.Int       `json:"callGasLimit"`
	VerificationGasLimit *big.Int       `json:"verificationGasLimit"`
	PreVerificationGas   *big.Int       `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

// FromTuple is the inverse of AbiTuple.
func FromTuple(t Tuple) *UserOperation {
	return &UserOperation{
		Sender:               t.Sender,
		Nonce:                t.Nonce,
		InitCode:             t.InitCode,
		CallData:             t.CallData,
		CallGasLimit:         t.CallGasLimit,
		VerificationGasLimit: t.VerificationGasLimit,
		PreVerificationGas:   t.PreVerificationGas,
		MaxFeePerGas:         t.MaxFeePerGas,
		MaxPriorityFeePerGas: t.MaxPriorityFeePerGas,
		PaymasterAndData:     t.PaymasterAndData,
		Signature:            t.Signature,
	}
}
