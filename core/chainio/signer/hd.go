package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/bisoncraft/go-bip39"
	"github.com/decred/dcrd/hdkeychain/v3"
	"github.com/ethereum/go-ethereum/crypto"
)

// TestMnemonic is the well known development phrase. Its first account is
// 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266.
const TestMnemonic = "test test test test test test test test test test test junk"

const mnemonicEntropyBits = 128

// bip32Params satisfies hdkeychain.NetworkParams with the standard xprv/xpub versions.
type bip32Params struct{}

func (bip32Params) HDPrivKeyVersion() [4]byte { return [4]byte{0x04, 0x88, 0xad, 0xe4} }
func (bip32Params) HDPubKeyVersion() [4]byte  { return [4]byte{0x04, 0x88, 0xb2, 0x1e} }

// ethereumPath returns m/44'/60'/0'/0/index.
func ethereumPath(index uint32) []uint32 {
	return []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
}

// NewMnemonic returns a fresh 12 word BIP-39 phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveKey derives the secp256k1 key at m/44'/60'/0'/0/index from a BIP-39 phrase.
func DeriveKey(phrase string, index uint32) (*ecdsa.PrivateKey, error) {
	seed, err := bip39.NewSeedWithErrorChecking(phrase, "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	root, err := hdkeychain.NewMaster(seed, bip32Params{})
	if err != nil {
		return nil, err
	}
	defer root.Zero()

	extKey := root
	for i, childIdx := range ethereumPath(index) {
		child, err := extKey.ChildBIP32Std(childIdx)
		if i > 0 {
			extKey.Zero()
		}
		if err != nil {
			if errors.Is(err, hdkeychain.ErrInvalidChild) {
				return nil, fmt.Errorf("index %d derives an invalid key, use another index", index)
			}
			return nil, fmt.Errorf("derive child %d: %w", childIdx, err)
		}
		extKey = child
	}
	defer extKey.Zero()

	raw, err := extKey.SerializedPrivKey()
	if err != nil {
		return nil, err
	}
	return crypto.ToECDSA(raw)
}
