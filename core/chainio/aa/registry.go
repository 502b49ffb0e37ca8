package aa

import (
	"context"
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var ErrUnknownWallet = errors.New("unknown wallet name")

// Factory deploys smart contract wallets at deterministic addresses.
type Factory interface {
	CreateAccountCalldata(owner common.Address, salt *big.Int) ([]byte, error)
	CounterfactualAddress(ctx context.Context, caller bind.ContractCaller, factory, owner common.Address, salt *big.Int) (common.Address, error)
	// InitCode is the factory address followed by the createAccount calldata.
	InitCode(factory, owner common.Address, salt *big.Int) ([]byte, error)
}

// Wallet encodes calls the smart contract wallet executes on behalf of its owner.
type Wallet interface {
	ExecuteCalldata(dest common.Address, value *big.Int, data []byte) ([]byte, error)
	ExecuteBatchCalldata(dests []common.Address, datas [][]byte) ([]byte, error)
}

type registryEntry struct {
	wallet  Wallet
	factory Factory
	address common.Address
}

var registry = map[string]registryEntry{
	SimpleAccountWallet:     {wallet: SimpleAccount{}, factory: SimpleAccount{}, address: SimpleAccountFactoryAddress},
	SimpleAccountTestWallet: {wallet: SimpleAccount{}, factory: SimpleAccount{}, address: DevnetSimpleAccountFactoryAddress},
}

// Resolve maps a wallet name to its capabilities and the factory deployment it uses.
func Resolve(name string) (Wallet, Factory, common.Address, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, nil, common.Address{}, ErrUnknownWallet
	}
	return entry.wallet, entry.factory, entry.address, nil
}

func WalletNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
