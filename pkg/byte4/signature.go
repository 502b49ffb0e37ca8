// Package byte4 matches 4-byte selectors against an ABI.
package byte4

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// GetMethodFromCalldata returns the method whose selector prefixes data.
func GetMethodFromCalldata(parsedABI abi.ABI, data []byte) (*abi.Method, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid selector length: %d", len(data))
	}
	for _, method := range parsedABI.Methods {
		if bytes.Equal(method.ID, data[:4]) {
			return &method, nil
		}
	}
	return nil, fmt.Errorf("no matching method found for selector: 0x%x", data[:4])
}

// GetErrorFromRevert returns the custom error whose selector prefixes the revert data.
func GetErrorFromRevert(parsedABI abi.ABI, data []byte) (*abi.Error, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("invalid selector length: %d", len(data))
	}
	for _, abiErr := range parsedABI.Errors {
		if bytes.Equal(abiErr.ID[:4], data[:4]) {
			return &abiErr, nil
		}
	}
	return nil, fmt.Errorf("no matching error found for selector: 0x%x", data[:4])
}
