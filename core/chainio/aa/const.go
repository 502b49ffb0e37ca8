package aa

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// EntrypointAddress is the canonical EntryPoint v0.6 deployment.
	EntrypointAddress = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

	// DevnetEntrypointAddress is where the EntryPoint lands when it is the
	// first contract created by DevnetDeployer.
	DevnetEntrypointAddress = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")

	SimpleAccountFactoryAddress       = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	DevnetSimpleAccountFactoryAddress = common.HexToAddress("0xe7f1725e7734ce288f8367e1bb143e90bb3f0512")

	// DevnetDeployer is the first account of the test mnemonic.
	DevnetDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	DefaultSalt = big.NewInt(2)
)

const (
	DevnetChainID = 1337

	SimpleAccountWallet     = "simple-account"
	SimpleAccountTestWallet = "simple-account-test"
)
