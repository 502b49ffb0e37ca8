package bundler

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

type GasEstimation struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
}

type gasEstimationJSON struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

func (g GasEstimation) MarshalJSON() ([]byte, error) {
	return json.Marshal(gasEstimationJSON{
		PreVerificationGas:   (*hexutil.Big)(g.PreVerificationGas),
		VerificationGasLimit: (*hexutil.Big)(g.VerificationGasLimit),
		CallGasLimit:         (*hexutil.Big)(g.CallGasLimit),
	})
}

func (g *GasEstimation) UnmarshalJSON(data []byte) error {
	var dec gasEstimationJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	if dec.PreVerificationGas == nil || dec.VerificationGasLimit == nil || dec.CallGasLimit == nil {
		return fmt.Errorf("incomplete gas estimation: %s", string(data))
	}
	g.PreVerificationGas = dec.PreVerificationGas.ToInt()
	g.VerificationGasLimit = dec.VerificationGasLimit.ToInt()
	g.CallGasLimit = dec.CallGasLimit.ToInt()
	return nil
}

// Total is the sum of the three estimated gas values.
func (g *GasEstimation) Total() *big.Int {
	total := new(big.Int).Add(g.PreVerificationGas, g.VerificationGasLimit)
	return total.Add(total, g.CallGasLimit)
}
