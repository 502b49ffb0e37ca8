package bundler

import (
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// The bundler reports gas shortfalls in free text. These patterns are the
// contract between the client retry loop and the mempool that emits them.
var (
	callGasLimitRe       = regexp.MustCompile(`Call gas limit (\d+) is lower than call gas estimation (\d+)`)
	preVerificationGasRe = regexp.MustCompile(`Pre-verification gas (\d+) is lower than calculated pre-verification gas (\d+)`)
)

const verificationGasLimitMarker = "AA40 over verificationGasLimit"

// CallGasLimitError means callGasLimit is below what the bundler estimated.
type CallGasLimitError struct {
	Limit      *big.Int
	Estimation *big.Int
}

func (e *CallGasLimitError) Error() string {
	return FormatCallGasLimit(e.Limit, e.Estimation)
}

// PreVerificationGasError means preVerificationGas is below the calldata cost the bundler computed.
type PreVerificationGasError struct {
	Actual     *big.Int
	Calculated *big.Int
}

func (e *PreVerificationGasError) Error() string {
	return FormatPreVerificationGas(e.Actual, e.Calculated)
}

// VerificationGasLimitError means validation ran out of verificationGasLimit.
type VerificationGasLimitError struct {
	Message string
}

func (e *VerificationGasLimitError) Error() string {
	return e.Message
}

// UnknownError is any bundler rejection the client has no recovery for.
type UnknownError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("bundler error %d: %s", e.Code, e.Message)
}

func FormatCallGasLimit(limit, estimation *big.Int) string {
	return fmt.Sprintf("Call gas limit %s is lower than call gas estimation %s", limit, estimation)
}

func FormatPreVerificationGas(actual, calculated *big.Int) string {
	return fmt.Sprintf("Pre-verification gas %s is lower than calculated pre-verification gas %s", actual, calculated)
}

func parseUint(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

// classify turns a JSON-RPC error into one of the typed bundler errors.
func classify(rpcErr *RPCError) error {
	msg := rpcErr.Message

	if m := callGasLimitRe.FindStringSubmatch(msg); m != nil {
		return &CallGasLimitError{Limit: parseUint(m[1]), Estimation: parseUint(m[2])}
	}
	if m := preVerificationGasRe.FindStringSubmatch(msg); m != nil {
		return &PreVerificationGasError{Actual: parseUint(m[1]), Calculated: parseUint(m[2])}
	}
	if strings.Contains(msg, verificationGasLimitMarker) {
		return &VerificationGasLimitError{Message: msg}
	}
	return &UnknownError{Code: rpcErr.Code, Message: msg, Data: rpcErr.Data}
}
