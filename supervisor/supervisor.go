// Package supervisor runs the embedded bundler: the mempool and bundle
// builder gRPC services, the JSON-RPC façade and the operator console.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AvaProtocol/ethuo/builder"
	"github.com/AvaProtocol/ethuo/core/apqueue"
	"github.com/AvaProtocol/ethuo/core/backup"
	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/jsonrpc"
	"github.com/AvaProtocol/ethuo/metrics"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/pkg/timekeeper"
	"github.com/AvaProtocol/ethuo/storage"
	"github.com/AvaProtocol/ethuo/uopool"
)

const (
	DefaultUoPoolAddr  = "127.0.0.1:3003"
	DefaultBuilderAddr = "127.0.0.1:3002"
	DefaultStopTimeout = 10 * time.Second

	receiptCacheTTL = 10 * time.Minute
	uptimeInterval  = 15 * time.Second
	vacuumInterval  = time.Hour
	ledgerCleanup   = time.Hour
	ledgerRetention = 7 * 24 * time.Hour
	bundleQueueName = "bundle"
	uopoolSubdir    = "uopool"
	backupSubdir    = "backups"
)

type Params struct {
	EthClient string
	Wallet    *signer.Wallet

	// DataDir holds the badger store. Empty keeps all state in memory.
	DataDir string

	// BackupInterval snapshots the store under DataDir/backups. Zero disables it.
	BackupInterval time.Duration

	// SocketPath enables the operator console.
	SocketPath string

	UoPoolAddr  string
	Pool        uopool.Params
	BuilderAddr string
	Builder     builder.Params
	RPC         jsonrpc.Params

	StopTimeout time.Duration
	Logger      logger.Logger
}

func (p Params) withDefaults() Params {
	if p.UoPoolAddr == "" {
		p.UoPoolAddr = DefaultUoPoolAddr
	}
	if p.BuilderAddr == "" {
		p.BuilderAddr = DefaultBuilderAddr
	}
	if p.StopTimeout <= 0 {
		p.StopTimeout = DefaultStopTimeout
	}
	if p.Builder.EntryPoint == (common.Address{}) && len(p.Pool.EntryPoints) > 0 {
		p.Builder.EntryPoint = p.Pool.EntryPoints[0]
	}
	if p.RPC.ProxyURL == "" {
		p.RPC.ProxyURL = p.EthClient
	}
	p.Logger = logger.EnsureLogger(p.Logger)
	return p
}

func (p Params) validate() error {
	if p.EthClient == "" {
		return errors.New("supervisor: execution client url is required")
	}
	if p.Wallet == nil {
		return errors.New("supervisor: bundler wallet is required")
	}
	if len(p.Pool.EntryPoints) == 0 {
		return errors.New("supervisor: at least one entry point is required")
	}
	return nil
}

func openStorage(dataDir string) (storage.Storage, error) {
	if dataDir == "" {
		return storage.NewInMemory()
	}
	return storage.NewWithPath(filepath.Join(dataDir, uopoolSubdir))
}

// walletBalances feeds the wallet collector from the execution client.
type walletBalances struct {
	client     *ethclient.Client
	entryPoint common.Address
}

func (w *walletBalances) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	return w.client.BalanceAt(ctx, account, block)
}

func (w *walletBalances) DepositOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return aa.BalanceOf(ctx, w.client, w.entryPoint, account)
}

// Run starts mempool, builder, façade and console in that order, then blocks
// until SIGINT, SIGTERM, ctx cancellation or the first service failure. The
// services are stopped in reverse order and the first error is returned.
func Run(ctx context.Context, p Params) error {
	p = p.withDefaults()
	if err := p.validate(); err != nil {
		return err
	}
	lgr := p.Logger

	client, err := ethclient.DialContext(ctx, p.EthClient)
	if err != nil {
		return fmt.Errorf("cannot connect to execution client %s: %w", p.EthClient, err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("cannot read chain id from %s: %w", p.EthClient, err)
	}
	if p.Wallet.ChainID().Cmp(chainID) != 0 {
		return fmt.Errorf("wallet is configured for chain %s but the execution client is on chain %s", p.Wallet.ChainID(), chainID)
	}
	p.Pool.ChainID = chainID
	p.Builder.ChainID = chainID

	db, err := openStorage(p.DataDir)
	if err != nil {
		return fmt.Errorf("cannot open storage: %w", err)
	}
	defer db.Close()

	cache, err := bigcache.New(ctx, bigcache.DefaultConfig(receiptCacheTTL))
	if err != nil {
		return fmt.Errorf("cannot create receipt cache: %w", err)
	}
	defer cache.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewWalletCollector(&walletBalances{client: client, entryPoint: p.Builder.EntryPoint}, p.Wallet.Address(), lgr),
	)
	m := metrics.NewBundlerMetrics(reg)

	queue := apqueue.New(db, logger.Component(lgr, "ledger"), &apqueue.QueueOption{Prefix: bundleQueueName})
	if err := queue.Start(); err != nil {
		return err
	}
	defer queue.Stop()
	if recovered, err := queue.Recover(); err != nil {
		lgr.Warn("cannot recover bundle ledger", "error", err)
	} else if recovered > 0 {
		lgr.Info("requeued unconfirmed bundles", "count", recovered)
	}
	queue.SchedulePeriodicCleanup(ledgerCleanup, ledgerRetention)

	pool, err := uopool.NewPool(client, db, cache, p.Pool, m, logger.Component(lgr, "uopool"))
	if err != nil {
		return err
	}

	g := newGroup(lgr)
	fail := func(err error) error {
		if stopErr := g.shutdown(p.StopTimeout); stopErr != nil {
			lgr.Warn("teardown after failed start", "error", stopErr)
		}
		return err
	}

	poolSvc := uopool.NewService(p.UoPoolAddr, pool, logger.Component(lgr, "uopool"))
	if err := g.start(poolSvc); err != nil {
		return fail(err)
	}
	poolClient, err := uopool.Dial(poolSvc.Addr())
	if err != nil {
		return fail(fmt.Errorf("cannot dial uopool: %w", err))
	}
	defer poolClient.Close()

	sender, err := newSender(p, client)
	if err != nil {
		return fail(err)
	}
	b, err := builder.New(poolClient, client, p.Wallet, sender, queue, p.Builder, m, logger.Component(lgr, "builder"))
	if err != nil {
		return fail(err)
	}
	builderSvc := builder.NewService(p.BuilderAddr, b, logger.Component(lgr, "builder"))
	if err := g.start(builderSvc); err != nil {
		return fail(err)
	}
	builderClient, err := builder.Dial(builderSvc.Addr())
	if err != nil {
		return fail(fmt.Errorf("cannot dial builder: %w", err))
	}
	defer builderClient.Close()

	if p.RPC.HTTP || p.RPC.WS {
		rpcSvc := jsonrpc.NewService(p.RPC, poolClient, builderClient, reg, m, logger.Component(lgr, "jsonrpc"))
		if err := g.start(rpcSvc); err != nil {
			return fail(err)
		}
	}

	var backups *backup.Service
	if p.DataDir != "" {
		backups = backup.NewService(db, filepath.Join(p.DataDir, backupSubdir), logger.Component(lgr, "backup"))
		if p.BackupInterval > 0 {
			if err := backups.Start(p.BackupInterval); err != nil {
				return fail(err)
			}
			defer backups.Stop()
		}
	}

	if p.SocketPath != "" {
		console := NewConsole(p.SocketPath, db, poolClient, builderClient, queue, backups, logger.Component(lgr, "console"))
		if err := g.start(console); err != nil {
			return fail(err)
		}
	}

	scheduler, err := startMaintenance(b, m, db, lgr)
	if err != nil {
		return fail(err)
	}
	defer scheduler.Shutdown()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	lgr.Info("bundler is running", "chain_id", chainID, "entry_points", p.Pool.EntryPoints, "wallet", p.Wallet.Address())
	waitErr := g.wait(ctx, sigs)
	stopErr := g.shutdown(p.StopTimeout)
	if waitErr != nil {
		return waitErr
	}
	return stopErr
}

func newSender(p Params, client *ethclient.Client) (builder.Sender, error) {
	if p.Builder.SendMode != builder.Flashbots {
		return builder.NewEthClientSender(client), nil
	}
	relays := p.Builder.Relays
	if len(relays) == 0 {
		relays = []string{builder.DefaultRelay}
	}
	return builder.NewFlashbotsSender(relays, p.Wallet.FlashbotsKey(), client, logger.Component(p.Logger, "flashbots"))
}

// startMaintenance counts the time spent bundling automatically and
// compacts the store.
func startMaintenance(b *builder.Builder, m metrics.MetricsGenerator, db storage.Storage, lgr logger.Logger) (gocron.Scheduler, error) {
	elapsing := timekeeper.NewElapsing()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize maintenance scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(uptimeInterval),
		gocron.NewTask(func() {
			if b.Mode() == builder.Manual {
				_ = elapsing.Pause()
			} else {
				_ = elapsing.Resume()
			}
			m.AddUptime(float64(elapsing.Report().Milliseconds()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create uptime job: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(vacuumInterval),
		gocron.NewTask(func() {
			if err := db.Vacuum(); err != nil {
				lgr.Warn("store vacuum failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create vacuum job: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}
