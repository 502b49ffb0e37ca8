package bundler

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
)

// UserOperationReceipt is the result of eth_getUserOperationReceipt.
type UserOperationReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	EntryPoint    common.Address `json:"entryPoint"`
	Sender        common.Address `json:"sender"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Paymaster     common.Address `json:"paymaster"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	Success       bool           `json:"success"`
	Reason        string         `json:"reason"`
	Logs          []*types.Log   `json:"logs"`
	Receipt       *types.Receipt `json:"receipt"`
}

// UserOperationByHash is the result of eth_getUserOperationByHash.
type UserOperationByHash struct {
	UserOperation   *userop.UserOperation `json:"userOperation"`
	EntryPoint      common.Address        `json:"entryPoint"`
	BlockNumber     *hexutil.Big          `json:"blockNumber"`
	BlockHash       common.Hash           `json:"blockHash"`
	TransactionHash common.Hash           `json:"transactionHash"`
}
