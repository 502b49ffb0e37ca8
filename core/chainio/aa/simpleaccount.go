package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// SimpleAccount is the reference eth-infinitism wallet and its factory.
type SimpleAccount struct{}

func (SimpleAccount) CreateAccountCalldata(owner common.Address, salt *big.Int) ([]byte, error) {
	return SimpleAccountFactoryABI.Pack("createAccount", owner, salt)
}

func (s SimpleAccount) InitCode(factory, owner common.Address, salt *big.Int) ([]byte, error) {
	calldata, err := s.CreateAccountCalldata(owner, salt)
	if err != nil {
		return nil, err
	}

	var data []byte
	data = append(data, factory.Bytes()...)
	return append(data, calldata...), nil
}

// CounterfactualAddress asks the factory where the wallet for owner and salt
// lives or will live once deployed.
func (SimpleAccount) CounterfactualAddress(ctx context.Context, caller bind.ContractCaller, factory, owner common.Address, salt *big.Int) (common.Address, error) {
	contract := bind.NewBoundContract(factory, SimpleAccountFactoryABI, caller, nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "getAddress", owner, salt); err != nil {
		return common.Address{}, fmt.Errorf("failed to call getAddress on factory %s: %w", factory.Hex(), err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected getAddress output length %d", len(out))
	}
	return *abi2Address(out[0]), nil
}

// Generate calldata for UserOps
func (SimpleAccount) ExecuteCalldata(dest common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}
	return SimpleAccountABI.Pack("execute", dest, value, data)
}

func (SimpleAccount) ExecuteBatchCalldata(dests []common.Address, datas [][]byte) ([]byte, error) {
	if len(dests) != len(datas) {
		return nil, fmt.Errorf("executeBatch needs one calldata per destination, got %d and %d", len(dests), len(datas))
	}
	return SimpleAccountABI.Pack("executeBatch", dests, datas)
}
