package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

type WalletJSONConfig struct {
	AddressKeyMap []KeyEntry `json:"address_key_map" yaml:"address_key_map" validate:"dive"`

	// AddressScwMap is keyed by the owner address.
	AddressScwMap map[string][]ScwEntry `json:"address_scw_map" yaml:"address_scw_map" validate:"dive,dive"`
}

// KeyEntry is a signing key created by `wallet new-key`.
type KeyEntry struct {
	Address string `json:"address" yaml:"address" validate:"required,eth_addr"`
	Phrase  string `json:"phrase" yaml:"phrase" validate:"required"`
	ChainID uint64 `json:"chain_id" yaml:"chain_id" validate:"required"`
}

// ScwEntry is a counterfactual smart contract wallet of an owner key.
type ScwEntry struct {
	ScwAddress string `json:"scw_address" yaml:"scw_address" validate:"required,eth_addr"`
	WalletName string `json:"wallet_name" yaml:"wallet_name" validate:"required"`
	Salt       string `json:"salt" yaml:"salt" validate:"required,number"`
	Deployed   bool   `json:"deployed" yaml:"deployed"`
}

func (e ScwEntry) SaltValue() (*big.Int, error) {
	salt, ok := new(big.Int).SetString(e.Salt, 10)
	if !ok {
		return nil, fmt.Errorf("invalid salt %q for %s", e.Salt, e.ScwAddress)
	}
	return salt, nil
}

func (w *WalletJSONConfig) AddKey(address common.Address, phrase string, chainID uint64) {
	w.AddressKeyMap = append(w.AddressKeyMap, KeyEntry{
		Address: address.Hex(),
		Phrase:  phrase,
		ChainID: chainID,
	})
}

func (w *WalletJSONConfig) Key(address common.Address) (KeyEntry, error) {
	entry, ok := lo.Find(w.AddressKeyMap, func(e KeyEntry) bool {
		return common.HexToAddress(e.Address) == address
	})
	if !ok {
		return KeyEntry{}, fmt.Errorf("%w: %s", ErrSourceAddressNotFound, address.Hex())
	}
	return entry, nil
}

func (w *WalletJSONConfig) AddScw(owner common.Address, entry ScwEntry) {
	if w.AddressScwMap == nil {
		w.AddressScwMap = map[string][]ScwEntry{}
	}
	key, _ := w.scwKey(owner)
	if key == "" {
		key = owner.Hex()
	}
	w.AddressScwMap[key] = append(w.AddressScwMap[key], entry)
}

func (w *WalletJSONConfig) Scw(owner, scw common.Address) (ScwEntry, error) {
	for _, entry := range w.scwsOf(owner) {
		if common.HexToAddress(entry.ScwAddress) == scw {
			return entry, nil
		}
	}
	return ScwEntry{}, fmt.Errorf("%w: %s of %s", ErrScwNotFound, scw.Hex(), owner.Hex())
}

func (w *WalletJSONConfig) MarkDeployed(owner, scw common.Address) error {
	key, entries := w.scwKey(owner)
	for i, entry := range entries {
		if common.HexToAddress(entry.ScwAddress) == scw {
			w.AddressScwMap[key][i].Deployed = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s of %s", ErrScwNotFound, scw.Hex(), owner.Hex())
}

func (w *WalletJSONConfig) scwsOf(owner common.Address) []ScwEntry {
	_, entries := w.scwKey(owner)
	return entries
}

// scwKey tolerates hand edited files where the owner is not checksummed.
func (w *WalletJSONConfig) scwKey(owner common.Address) (string, []ScwEntry) {
	for key, entries := range w.AddressScwMap {
		if common.HexToAddress(key) == owner {
			return key, entries
		}
	}
	return "", nil
}
