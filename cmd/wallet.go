package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/core/config"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/preset"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

var (
	bundlerURL string

	walletCmd = &cobra.Command{
		Use:     "wallet",
		Aliases: []string{"w"},
		Short:   "Wallet management utilities",
	}

	newKeyCmd = &cobra.Command{
		Use:     "new-key",
		Aliases: []string{"k"},
		Short:   "Generate a new signing key",
		RunE:    runNewKey,
	}

	newWalletAddressCmd = &cobra.Command{
		Use:     "new-wallet-address",
		Aliases: []string{"nwa"},
		Short:   "Generate a counter-factual smart contract wallet address",
		RunE:    runNewWalletAddress,
	}

	newWalletCmd = &cobra.Command{
		Use:     "new-wallet",
		Aliases: []string{"nw"},
		Short:   "Deploy a smart contract wallet",
		RunE:    runNewWallet,
	}

	transferCmd = &cobra.Command{
		Use:     "transfer",
		Aliases: []string{"t"},
		Short:   "Transfer ETH from a smart contract wallet",
		RunE:    runTransfer,
	}

	depositCmd = &cobra.Command{
		Use:     "deposit",
		Aliases: []string{"d"},
		Short:   "Add to the EntryPoint deposit of a smart contract wallet",
		RunE:    runDeposit,
	}
)

func init() {
	walletCmd.PersistentFlags().StringVar(&bundlerURL, "bundler-url", "", "Bundler JSON-RPC URL, defaults to rpc_config of the config file")

	newKeyCmd.Flags().Uint64("chain-id", aa.DevnetChainID, "Chain the key signs for")

	newWalletAddressCmd.Flags().String("source-address", "", "Owner address from address_key_map")
	newWalletAddressCmd.Flags().String("wallet-name", aa.SimpleAccountWallet, fmt.Sprintf("Wallet implementation, one of %v", aa.WalletNames()))
	newWalletAddressCmd.Flags().String("salt", "", "Decimal salt, random when empty")
	newWalletAddressCmd.MarkFlagRequired("source-address")

	newWalletCmd.Flags().String("source-address", "", "Owner address from address_key_map")
	newWalletCmd.Flags().String("scw-address", "", "Address from new-wallet-address")
	newWalletCmd.Flags().String("pre-fund", "0", "ETH sent to the wallet before deployment")
	newWalletCmd.MarkFlagRequired("source-address")
	newWalletCmd.MarkFlagRequired("scw-address")

	transferCmd.Flags().String("source-address", "", "Owner address from address_key_map")
	transferCmd.Flags().String("scw-address", "", "Sending smart contract wallet")
	transferCmd.Flags().String("to", "", "Recipient address")
	transferCmd.Flags().String("amount", "", "Amount in ETH")
	for _, name := range []string{"source-address", "scw-address", "to", "amount"} {
		transferCmd.MarkFlagRequired(name)
	}

	depositCmd.Flags().String("source-address", "", "Owner address from address_key_map")
	depositCmd.Flags().String("scw-address", "", "Smart contract wallet to credit")
	depositCmd.Flags().String("amount", "", "Amount in ETH")
	for _, name := range []string{"source-address", "scw-address", "amount"} {
		depositCmd.MarkFlagRequired(name)
	}

	walletCmd.AddCommand(newKeyCmd, newWalletAddressCmd, newWalletCmd, transferCmd, depositCmd)
	rootCmd.AddCommand(walletCmd)
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	v, _ := cmd.Flags().GetString(name)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("--%s: %q is not an address", name, v)
	}
	return common.HexToAddress(v), nil
}

// session is everything a wallet command needs to act for one owner key.
type session struct {
	cfg        *config.Config
	owner      common.Address
	client     *ethclient.Client
	middleware *preset.UserOpMiddleware
	bundler    *bundler.BundlerClient
	logger     logger.Logger
}

func openSession(ctx context.Context, owner common.Address) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	key, err := cfg.Wallet.Key(owner)
	if err != nil {
		return nil, err
	}
	lgr, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	wallet, err := signer.FromPhrase(key.Phrase, new(big.Int).SetUint64(key.ChainID), false)
	if err != nil {
		return nil, err
	}
	if wallet.Address() != owner {
		return nil, fmt.Errorf("phrase of %s derives %s, the config is corrupt", owner.Hex(), wallet.Address().Hex())
	}

	url := bundlerURL
	if url == "" {
		url = cfg.Bundler.HTTPEndpoint()
	}
	bc, err := bundler.NewBundlerClient(url, bundler.WithLogger(lgr))
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, ethClientURL(cfg))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to execution client: %w", err)
	}

	return &session{
		cfg:        cfg,
		owner:      owner,
		client:     client,
		middleware: preset.NewUserOpMiddleware(client, bc, cfg.Bundler.EntryPoint(), wallet, lgr),
		bundler:    bc,
		logger:     lgr,
	}, nil
}

func (s *session) Close() { s.client.Close() }

// waitAndReport prints the outcome of a submitted user operation.
func (s *session) waitAndReport(ctx context.Context, w io.Writer, hash common.Hash) error {
	fmt.Fprintf(w, "user operation: %s\n", hash.Hex())
	receipt, err := preset.WaitForReceipt(ctx, s.bundler, hash, preset.DefaultBackoff, s.logger)
	if err != nil {
		return err
	}
	if receipt == nil {
		return fmt.Errorf("user operation %s is still pending", hash.Hex())
	}
	if receipt.Receipt != nil {
		fmt.Fprintf(w, "transaction: %s\n", receipt.Receipt.TxHash.Hex())
	}
	if !receipt.Success {
		return fmt.Errorf("user operation %s reverted: %s", hash.Hex(), receipt.Reason)
	}
	return nil
}

func runNewKey(cmd *cobra.Command, args []string) error {
	chainID, _ := cmd.Flags().GetUint64("chain-id")

	phrase, err := signer.NewMnemonic()
	if err != nil {
		return err
	}
	wallet, err := signer.FromPhrase(phrase, new(big.Int).SetUint64(chainID), false)
	if err != nil {
		return err
	}

	err = config.Update(configPath, func(c *config.Config) error {
		c.Wallet.AddKey(wallet.Address(), phrase, chainID)
		return nil
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "address: %s\n", wallet.Address().Hex())
	fmt.Fprintf(out, "phrase: %s\n", phrase)
	fmt.Fprintf(out, "chain id: %d\n", chainID)
	return nil
}

func runNewWalletAddress(cmd *cobra.Command, args []string) error {
	owner, err := addressFlag(cmd, "source-address")
	if err != nil {
		return err
	}
	walletName, _ := cmd.Flags().GetString("wallet-name")
	saltFlag, _ := cmd.Flags().GetString("salt")

	ctx := cmd.Context()
	s, err := openSession(ctx, owner)
	if err != nil {
		return err
	}
	defer s.Close()

	var (
		scw  common.Address
		salt *big.Int
	)
	if saltFlag == "" {
		scw, salt, err = s.middleware.BuildRandomAddress(ctx, walletName)
	} else {
		var ok bool
		if salt, ok = new(big.Int).SetString(saltFlag, 10); !ok || salt.Sign() < 0 {
			return fmt.Errorf("--salt: %q is not a non-negative integer", saltFlag)
		}
		scw, err = s.middleware.CounterfactualAddress(ctx, walletName, salt)
	}
	if err != nil {
		return err
	}

	err = config.Update(configPath, func(c *config.Config) error {
		c.Wallet.AddScw(owner, config.ScwEntry{
			ScwAddress: scw.Hex(),
			WalletName: walletName,
			Salt:       salt.String(),
		})
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scw address: %s\nwallet: %s\nsalt: %s\n", scw.Hex(), walletName, salt)
	return nil
}

func runNewWallet(cmd *cobra.Command, args []string) error {
	owner, err := addressFlag(cmd, "source-address")
	if err != nil {
		return err
	}
	scw, err := addressFlag(cmd, "scw-address")
	if err != nil {
		return err
	}
	preFundFlag, _ := cmd.Flags().GetString("pre-fund")
	preFund, err := parseEther(preFundFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, owner)
	if err != nil {
		return err
	}
	defer s.Close()

	entry, err := s.cfg.Wallet.Scw(owner, scw)
	if err != nil {
		return err
	}
	salt, err := entry.SaltValue()
	if err != nil {
		return err
	}

	markDeployed := func() error {
		return config.Update(configPath, func(c *config.Config) error {
			return c.Wallet.MarkDeployed(owner, scw)
		})
	}

	hash, deployedAt, err := s.middleware.DeployScw(ctx, entry.WalletName, preFund, salt)
	if errors.Is(err, preset.ErrWalletAlreadyDeployed) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is already deployed\n", scw.Hex())
		return markDeployed()
	}
	if err != nil {
		return err
	}
	if deployedAt != scw {
		return fmt.Errorf("deployment landed on %s instead of %s", deployedAt.Hex(), scw.Hex())
	}

	if err := s.waitAndReport(ctx, cmd.OutOrStdout(), hash); err != nil {
		return err
	}
	return markDeployed()
}

func runTransfer(cmd *cobra.Command, args []string) error {
	owner, err := addressFlag(cmd, "source-address")
	if err != nil {
		return err
	}
	scw, err := addressFlag(cmd, "scw-address")
	if err != nil {
		return err
	}
	to, err := addressFlag(cmd, "to")
	if err != nil {
		return err
	}
	amountFlag, _ := cmd.Flags().GetString("amount")
	amount, err := parseEther(amountFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, owner)
	if err != nil {
		return err
	}
	defer s.Close()

	entry, err := s.cfg.Wallet.Scw(owner, scw)
	if err != nil {
		return err
	}

	hash, err := s.middleware.SendEth(ctx, scw, entry.WalletName, to, amount)
	if err != nil {
		return err
	}
	return s.waitAndReport(ctx, cmd.OutOrStdout(), hash)
}

func runDeposit(cmd *cobra.Command, args []string) error {
	owner, err := addressFlag(cmd, "source-address")
	if err != nil {
		return err
	}
	scw, err := addressFlag(cmd, "scw-address")
	if err != nil {
		return err
	}
	amountFlag, _ := cmd.Flags().GetString("amount")
	amount, err := parseEther(amountFlag)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, owner)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.cfg.Wallet.Scw(owner, scw); err != nil {
		return err
	}

	receipt, err := s.middleware.Deposit(ctx, scw, amount)
	if err != nil {
		return err
	}
	deposit, err := s.middleware.DepositOf(ctx, scw)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "transaction: %s\n", receipt.TxHash.Hex())
	fmt.Fprintf(out, "deposit of %s: %s ETH\n", scw.Hex(), formatEther(deposit))
	return nil
}
