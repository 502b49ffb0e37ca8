// Package config reads and writes config.json, the file shared by the
// wallet and bundler commands.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
)

const DefaultPath = "config.json"

var (
	ErrSourceAddressNotFound = errors.New("source address not found in address_key_map")
	ErrScwNotFound           = errors.New("smart contract wallet not found in address_scw_map")

	validate = validator.New()
)

type Config struct {
	Bundler BundlerJSONConfig `json:"json_bundler_config" yaml:"json_bundler_config"`
	Wallet  WalletJSONConfig  `json:"json_wallet_config" yaml:"json_wallet_config"`
}

type BundlerJSONConfig struct {
	EthClient         string        `json:"eth_client" yaml:"eth_client" validate:"required,url"`
	EntryPointAddress string        `json:"entry_point_address" yaml:"entry_point_address" validate:"required,eth_addr"`
	Bundler           BundlerConfig `json:"bundler_config" yaml:"bundler_config"`
	UoPool            UoPoolConfig  `json:"user_operation_pool_config" yaml:"user_operation_pool_config"`
	RPC               RPCConfig     `json:"rpc_config" yaml:"rpc_config"`

	// DataDir holds the mempool store, $HOME/.silius when empty.
	DataDir string `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`

	// BackupInterval in seconds between store snapshots, 0 disables them.
	BackupInterval uint64 `json:"backup_interval,omitempty" yaml:"backup_interval,omitempty"`
	SocketPath     string `json:"socket_path,omitempty" yaml:"socket_path,omitempty"`
	Environment    string `json:"environment,omitempty" yaml:"environment,omitempty" validate:"omitempty,oneof=development production"`
}

type BundlerConfig struct {
	BundlerAddress     string   `json:"bundler_address" yaml:"bundler_address" validate:"omitempty,ip"`
	BundlerPort        uint16   `json:"bundler_port" yaml:"bundler_port"`
	BundlerSeed        string   `json:"bundler_seed" yaml:"bundler_seed"`
	BeneficiaryAddress string   `json:"beneficiary_address" yaml:"beneficiary_address" validate:"omitempty,eth_addr"`
	MinBalance         uint64   `json:"min_balance" yaml:"min_balance"`
	BundleInterval     uint64   `json:"bundle_interval" yaml:"bundle_interval" validate:"gt=0"`
	SendBundleMode     string   `json:"send_bundle_mode" yaml:"send_bundle_mode" validate:"omitempty,oneof=EthClient Flashbots"`
	Relays             []string `json:"relays,omitempty" yaml:"relays,omitempty" validate:"omitempty,dive,url"`
}

type UoPoolConfig struct {
	UoPoolAddress        string   `json:"uo_pool_address" yaml:"uo_pool_address" validate:"omitempty,ip"`
	UoPoolPort           uint16   `json:"uo_pool_port" yaml:"uo_pool_port"`
	MaxVerificationGas   uint64   `json:"max_verification_gas" yaml:"max_verification_gas" validate:"gt=0"`
	MinStake             uint64   `json:"min_stake" yaml:"min_stake"`
	MinUnstakeDelay      uint64   `json:"min_unstake_delay" yaml:"min_unstake_delay"`
	MinPriorityFeePerGas uint64   `json:"min_priority_fee_per_gas" yaml:"min_priority_fee_per_gas"`
	Whitelist            []string `json:"whitelist" yaml:"whitelist" validate:"omitempty,dive,eth_addr"`
	UoPoolMode           string   `json:"uopool_mode" yaml:"uopool_mode" validate:"omitempty,oneof=Standard Unsafe"`
}

type RPCConfig struct {
	HTTP     bool   `json:"http" yaml:"http"`
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	HTTPPort uint16 `json:"http_port" yaml:"http_port"`
	WS       bool   `json:"ws" yaml:"ws"`
	WSAddr   string `json:"ws_addr" yaml:"ws_addr"`
	WSPort   uint16 `json:"ws_port" yaml:"ws_port"`
}

// Default mirrors what a fresh install runs with.
func Default() *Config {
	return &Config{
		Bundler: BundlerJSONConfig{
			EthClient:         "http://127.0.0.1:8545",
			EntryPointAddress: aa.EntrypointAddress.Hex(),
			Bundler: BundlerConfig{
				BundlerAddress: "0.0.0.0",
				BundlerPort:    3002,
				BundlerSeed:    "test test test test test test test test test test test junk",
				BundleInterval: 5,
				SendBundleMode: "EthClient",
			},
			UoPool: UoPoolConfig{
				UoPoolAddress:        "0.0.0.0",
				UoPoolPort:           3003,
				MaxVerificationGas:   1,
				MinStake:             1,
				MinUnstakeDelay:      1,
				MinPriorityFeePerGas: 1,
				Whitelist:            []string{},
				UoPoolMode:           "Standard",
			},
			RPC: RPCConfig{
				HTTP:     true,
				HTTPAddr: "127.0.0.1",
				HTTPPort: 3000,
				WSAddr:   "127.0.0.1",
				WSPort:   3001,
			},
		},
		Wallet: WalletJSONConfig{
			AddressKeyMap: []KeyEntry{},
			AddressScwMap: map[string][]ScwEntry{},
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Read parses path on top of Default. A missing file yields the defaults so
// that the first `wallet new-key` can create it.
func Read(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	if cfg.Wallet.AddressScwMap == nil {
		cfg.Wallet.AddressScwMap = map[string][]ScwEntry{}
	}
	return cfg, nil
}

// Load is Read plus environment overrides and validation.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes through a temporary file so a crash never leaves a truncated
// config behind.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Update runs fn on the stored config and writes the result back. Env
// overrides are not applied so they never end up in the file. Concurrent
// Updates of the same file are not safe.
func Update(path string, fn func(*Config) error) error {
	cfg, err := Read(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return Save(path, cfg)
}
