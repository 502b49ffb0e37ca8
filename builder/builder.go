// Package builder turns pooled user operations into handleOps transactions.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-co-op/gocron/v2"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ethuo/core/apqueue"
	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/metrics"
	"github.com/AvaProtocol/ethuo/pkg/eip1559"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/uopool"
)

// Backend is the execution client surface used to build, send and confirm
// bundles. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// gasLimitMarginPercent is added to eth_estimateGas of handleOps.
const gasLimitMarginPercent = 20

type Builder struct {
	pool    uopool.Mempool
	backend Backend
	wallet  *signer.Wallet
	sender  Sender
	params  Params
	queue   *apqueue.Queue
	metrics metrics.MetricsGenerator
	logger  logger.Logger

	// sendMu makes bundles strictly sequential so nonces never collide
	sendMu sync.Mutex

	modeMu sync.RWMutex
	mode   BundlingMode

	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// New wires a builder. queue may be nil, bundles are then not recorded.
func New(pool uopool.Mempool, backend Backend, wallet *signer.Wallet, sender Sender, queue *apqueue.Queue, params Params, m metrics.MetricsGenerator, lgr logger.Logger) (*Builder, error) {
	if params.ChainID == nil {
		return nil, errors.New("builder: chain id is required")
	}
	if wallet == nil {
		return nil, errors.New("builder: a signing wallet is required")
	}
	p := params.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Builder{
		pool:    pool,
		backend: backend,
		wallet:  wallet,
		sender:  sender,
		params:  p,
		queue:   queue,
		metrics: metrics.Ensure(m),
		logger:  logger.EnsureLogger(lgr),
		mode:    p.BundlingMode,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (b *Builder) Mode() BundlingMode {
	b.modeMu.RLock()
	defer b.modeMu.RUnlock()
	return b.mode
}

func (b *Builder) SetBundlingMode(mode BundlingMode) {
	b.modeMu.Lock()
	b.mode = mode
	b.modeMu.Unlock()
	b.logger.Info("bundling mode changed", "mode", mode)
}

// RelayEndpoints is empty outside Flashbots mode.
func (b *Builder) RelayEndpoints() []string {
	if b.params.SendMode != Flashbots {
		return []string{}
	}
	return append([]string(nil), b.params.Relays...)
}

// beneficiary receives the bundle fees. When the bundler wallet runs low the
// fees go back to it regardless of configuration.
func (b *Builder) beneficiary(ctx context.Context) (common.Address, error) {
	self := b.wallet.Address()

	balance, err := b.backend.BalanceAt(ctx, self, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("cannot read bundler balance: %w", err)
	}
	if balance.Cmp(b.params.MinBalance) < 0 {
		return self, nil
	}
	if b.params.Beneficiary == (common.Address{}) {
		return self, nil
	}
	return b.params.Beneficiary, nil
}

func (b *Builder) buildTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	from := b.wallet.Address()
	ep := b.params.EntryPoint

	nonce, err := b.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("cannot read bundler nonce: %w", err)
	}

	maxFee, tip, err := eip1559.SuggestFee(ctx, b.backend)
	if err != nil {
		return nil, fmt.Errorf("cannot suggest bundle fees: %w", err)
	}

	gas, err := b.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &ep,
		GasFeeCap: maxFee,
		GasTipCap: tip,
		Data:      data,
	})
	if err != nil {
		return nil, err
	}
	gas += gas * gasLimitMarginPercent / 100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.params.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: maxFee,
		Gas:       gas,
		To:        &ep,
		Data:      data,
	})
	return types.SignTx(tx, types.LatestSignerForChainID(b.params.ChainID), b.wallet.PrivateKey())
}

// dropFailedOp removes the operation a handleOps estimation blamed, so the
// next bundle is not blocked by it.
func (b *Builder) dropFailedOp(ctx context.Context, ops []*userop.UserOperation, estimateErr error) {
	revert, ok := aa.RevertData(estimateErr)
	if !ok {
		return
	}
	failed, err := aa.DecodeFailedOp(revert)
	if err != nil || !failed.OpIndex.IsInt64() {
		return
	}

	idx := failed.OpIndex.Int64()
	if idx < 0 || idx >= int64(len(ops)) {
		return
	}
	hash := ops[idx].GetUserOpHash(b.params.EntryPoint, b.params.ChainID)
	if err := b.pool.Remove(ctx, b.params.EntryPoint, []common.Hash{hash}); err != nil {
		b.logger.Error("cannot drop failed user operation", "hash", hash.Hex(), "error", err)
		return
	}
	b.logger.Warn("dropped user operation failing in bundle", "hash", hash.Hex(), "reason", failed.Reason)
}

// SendBundle packs the best pooled operations into one handleOps transaction
// and submits it. It returns the zero hash when the pool is empty.
func (b *Builder) SendBundle(ctx context.Context) (common.Hash, error) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	ep := b.params.EntryPoint
	ops, err := b.pool.GetSortedOps(ctx, ep, b.params.MaxBundleSize)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot read mempool: %w", err)
	}
	if len(ops) == 0 {
		return common.Hash{}, nil
	}

	beneficiary, err := b.beneficiary(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := aa.HandleOpsCalldata(ops, beneficiary)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot pack handleOps: %w", err)
	}

	tx, err := b.buildTx(ctx, data)
	if err != nil {
		b.dropFailedOp(ctx, ops, err)
		b.metrics.IncBundleSent(string(b.params.SendMode), "failed")
		return common.Hash{}, fmt.Errorf("cannot build bundle transaction: %w", err)
	}

	txHash, err := b.sender.Send(ctx, tx)
	if err != nil {
		b.metrics.IncBundleSent(string(b.params.SendMode), "failed")
		return common.Hash{}, err
	}

	hashes := lo.Map(ops, func(op *userop.UserOperation, _ int) common.Hash {
		return op.GetUserOpHash(ep, b.params.ChainID)
	})
	if err := b.pool.Remove(ctx, ep, hashes); err != nil {
		b.logger.Error("bundle sent but operations stay pooled", "tx", txHash.Hex(), "error", err)
	}

	b.metrics.IncBundleSent(string(b.params.SendMode), "sent")
	b.metrics.ObserveBundleSize(len(ops))
	b.logger.Info("bundle sent", "tx", txHash.Hex(), "ops", len(ops), "beneficiary", beneficiary.Hex(), "mode", b.params.SendMode)

	b.record(txHash, hashes)
	return txHash, nil
}

// record enqueues the bundle for confirmation tracking.
func (b *Builder) record(txHash common.Hash, hashes []common.Hash) {
	if b.queue == nil {
		return
	}

	id := ulid.Make().String()
	data, err := json.Marshal(&BundleRecord{
		ID:           id,
		TxHash:       txHash,
		UserOpHashes: hashes,
		SendMode:     b.params.SendMode,
		SentAt:       time.Now().Unix(),
	})
	if err != nil {
		b.logger.Error("cannot encode bundle record", "tx", txHash.Hex(), "error", err)
		return
	}
	if _, err := b.queue.Enqueue(JobTypeConfirmBundle, id, data); err != nil {
		b.logger.Error("cannot record bundle", "tx", txHash.Hex(), "error", err)
	}
}

func (b *Builder) tick() {
	if b.Mode() != Auto {
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.params.BundleInterval*4)
	defer cancel()

	if _, err := b.SendBundle(ctx); err != nil {
		b.logger.Error("failed to send bundle", "error", err)
	}
}

// Start schedules SendBundle every BundleInterval and starts the
// confirmation worker when a queue is configured.
func (b *Builder) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(b.params.BundleInterval),
		gocron.NewTask(b.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create bundle job: %w", err)
	}

	if b.queue != nil {
		worker := apqueue.NewWorker(b.queue)
		worker.RegisterProcessor(JobTypeConfirmBundle, &confirmProcessor{builder: b})
		worker.MustStart()
	}

	scheduler.Start()
	b.scheduler = scheduler
	b.logger.Info("bundle builder started", "interval", b.params.BundleInterval, "mode", b.Mode(), "send_mode", b.params.SendMode)
	return nil
}

// Stop halts the scheduler and aborts in-flight confirmations.
func (b *Builder) Stop() error {
	b.cancel()
	if b.scheduler == nil {
		return nil
	}
	return b.scheduler.Shutdown()
}
