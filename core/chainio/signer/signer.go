package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	eip191Prefix = "\x19Ethereum Signed Message:\n"
)

func FromPrivateKeyHex(privateKeyHex string, chainID *big.Int) (*bind.TransactOpts, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, err
	}

	return bind.NewKeyedTransactorWithChainID(privateKey, chainID)
}

// EIP191Hash is the personal_sign digest of data.
func EIP191Hash(data []byte) common.Hash {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	return crypto.Keccak256Hash(prefix, data)
}

// Generate EIP191 signature
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	sig, err := crypto.Sign(EIP191Hash(data).Bytes(), key)
	if err != nil {
		return nil, err
	}
	// https://stackoverflow.com/questions/69762108/implementing-ethereum-personal-sign-eip-191-from-go-ethereum-gives-different-s
	sig[64] += 27

	return sig, nil
}

func SignMessageAsHex(key *ecdsa.PrivateKey, data []byte) (string, error) {
	signature, e := SignMessage(key, data)
	if e == nil {
		return common.Bytes2Hex(signature), nil
	}

	return "", e
}

// RecoverMessageSigner returns the address that produced an EIP191 signature over data.
func RecoverMessageSigner(data, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}

	normalized := append([]byte{}, sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(EIP191Hash(data).Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
