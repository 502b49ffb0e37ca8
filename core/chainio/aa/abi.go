package aa

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const userOpComponents = `[
	{"name":"sender","type":"address"},
	{"name":"nonce","type":"uint256"},
	{"name":"initCode","type":"bytes"},
	{"name":"callData","type":"bytes"},
	{"name":"callGasLimit","type":"uint256"},
	{"name":"verificationGasLimit","type":"uint256"},
	{"name":"preVerificationGas","type":"uint256"},
	{"name":"maxFeePerGas","type":"uint256"},
	{"name":"maxPriorityFeePerGas","type":"uint256"},
	{"name":"paymasterAndData","type":"bytes"},
	{"name":"signature","type":"bytes"}
]`

const stakeInfoComponents = `[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]`

// Subset of the EntryPoint v0.6 interface used by the client and the bundler.
var entryPointJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"depositTo","stateMutability":"payable",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[]},
	{"type":"function","name":"getDepositInfo","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"info","type":"tuple","components":[
		{"name":"deposit","type":"uint112"},
		{"name":"staked","type":"bool"},
		{"name":"stake","type":"uint112"},
		{"name":"unstakeDelaySec","type":"uint32"},
		{"name":"withdrawTime","type":"uint48"}]}]},
	{"type":"function","name":"handleOps","stateMutability":"nonpayable",
	 "inputs":[{"name":"ops","type":"tuple[]","components":` + userOpComponents + `},{"name":"beneficiary","type":"address"}],
	 "outputs":[]},
	{"type":"function","name":"simulateValidation","stateMutability":"nonpayable",
	 "inputs":[{"name":"userOp","type":"tuple","components":` + userOpComponents + `}],"outputs":[]},
	{"type":"function","name":"simulateHandleOp","stateMutability":"nonpayable",
	 "inputs":[{"name":"op","type":"tuple","components":` + userOpComponents + `},
		{"name":"target","type":"address"},{"name":"targetCallData","type":"bytes"}],"outputs":[]},
	{"type":"error","name":"FailedOp",
	 "inputs":[{"name":"opIndex","type":"uint256"},{"name":"reason","type":"string"}]},
	{"type":"error","name":"SenderAddressResult","inputs":[{"name":"sender","type":"address"}]},
	{"type":"error","name":"ExecutionResult",
	 "inputs":[{"name":"preOpGas","type":"uint256"},{"name":"paid","type":"uint256"},
		{"name":"validAfter","type":"uint48"},{"name":"validUntil","type":"uint48"},
		{"name":"targetSuccess","type":"bool"},{"name":"targetResult","type":"bytes"}]},
	{"type":"error","name":"ValidationResult",
	 "inputs":[{"name":"returnInfo","type":"tuple","components":[
		{"name":"preOpGas","type":"uint256"},{"name":"prefund","type":"uint256"},
		{"name":"sigFailed","type":"bool"},{"name":"validAfter","type":"uint48"},
		{"name":"validUntil","type":"uint48"},{"name":"paymasterContext","type":"bytes"}]},
		{"name":"senderInfo","type":"tuple","components":` + stakeInfoComponents + `},
		{"name":"factoryInfo","type":"tuple","components":` + stakeInfoComponents + `},
		{"name":"paymasterInfo","type":"tuple","components":` + stakeInfoComponents + `}]},
	{"type":"event","name":"UserOperationEvent","anonymous":false,
	 "inputs":[{"name":"userOpHash","type":"bytes32","indexed":true},
		{"name":"sender","type":"address","indexed":true},
		{"name":"paymaster","type":"address","indexed":true},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"success","type":"bool","indexed":false},
		{"name":"actualGasCost","type":"uint256","indexed":false},
		{"name":"actualGasUsed","type":"uint256","indexed":false}]}
]`

const simpleAccountJSON = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable",
	 "inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable",
	 "inputs":[{"name":"dest","type":"address[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

const simpleAccountFactoryJSON = `[
	{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"_entryPoint","type":"address"}]},
	{"type":"function","name":"createAccount","stateMutability":"nonpayable",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

var (
	EntryPointABI           = mustParseABI("EntryPoint", entryPointJSON)
	SimpleAccountABI        = mustParseABI("SimpleAccount", simpleAccountJSON)
	SimpleAccountFactoryABI = mustParseABI("SimpleAccountFactory", simpleAccountFactoryJSON)
)

func mustParseABI(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Errorf("Invalid %s ABI: %w", name, err))
	}
	return parsed
}
