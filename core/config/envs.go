package config

import (
	"os"
	"path/filepath"
)

const (
	EnvWalletPath     = "WALLET_PATH"
	EnvWalletPassword = "WALLET_PASSWORD"
	EnvHTTPRPC        = "HTTP_RPC"
	EnvLogLevel       = "LOG_LEVEL"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHTTPRPC); v != "" {
		c.Bundler.EthClient = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Bundler.Environment = v
	}
}

// WalletPath resolves WALLET_PATH against $HOME. ok is false when unset.
func WalletPath() (path string, ok bool) {
	v := os.Getenv(EnvWalletPath)
	if v == "" {
		return "", false
	}
	if filepath.IsAbs(v) {
		return v, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return v, true
	}
	return filepath.Join(home, v), true
}

func WalletPassword() string {
	return os.Getenv(EnvWalletPassword)
}

// DefaultDataDir is $HOME/.silius, or .silius in the working directory when
// there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".silius"
	}
	return filepath.Join(home, ".silius")
}
