package builder

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"golang.org/x/crypto/sha3"

	"github.com/AvaProtocol/ethuo/core/chainio/signer"
	"github.com/AvaProtocol/ethuo/pkg/logger"
)

// Sender submits a signed bundle transaction.
type Sender interface {
	Send(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

type txSubmitter interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// EthClientSender broadcasts through the execution client's public mempool.
type EthClientSender struct {
	client txSubmitter
}

func NewEthClientSender(client txSubmitter) *EthClientSender {
	return &EthClientSender{client: client}
}

func (s *EthClientSender) Send(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("cannot send bundle transaction: %w", err)
	}
	return tx.Hash(), nil
}

type blockNumberReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// FlashbotsSender posts eth_sendBundle to every configured relay, targeting
// the next block. It succeeds when at least one relay accepts the bundle.
type FlashbotsSender struct {
	relays []string
	key    *ecdsa.PrivateKey
	chain  blockNumberReader
	http   *resty.Client
	logger logger.Logger
}

func NewFlashbotsSender(relays []string, key *ecdsa.PrivateKey, chain blockNumberReader, lgr logger.Logger) (*FlashbotsSender, error) {
	if key == nil {
		return nil, errors.New("flashbots mode requires a relay signing key")
	}
	if len(relays) == 0 {
		relays = []string{DefaultRelay}
	}

	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")

	return &FlashbotsSender{
		relays: relays,
		key:    key,
		chain:  chain,
		http:   client,
		logger: logger.EnsureLogger(lgr),
	}, nil
}

func (s *FlashbotsSender) Relays() []string {
	return append([]string(nil), s.relays...)
}

type sendBundleParams struct {
	Txs         []hexutil.Bytes `json:"txs"`
	BlockNumber hexutil.Uint64  `json:"blockNumber"`
}

type relayRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// relayResponse only inspects error; relays disagree on the shape of result.
type relayResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignatureHeader computes X-Flashbots-Signature for body: the EIP-191
// signature of the hex encoded keccak256 of the body, prefixed by the signer.
func SignatureHeader(key *ecdsa.PrivateKey, body []byte) (string, error) {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(body)
	digest := hexutil.Encode(hasher.Sum(nil))

	sig, err := signer.SignMessage(key, []byte(digest))
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex() + ":" + hexutil.Encode(sig), nil
}

func (s *FlashbotsSender) Send(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot encode bundle transaction: %w", err)
	}

	head, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot read block number: %w", err)
	}

	body, err := json.Marshal(relayRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_sendBundle",
		Params:  []interface{}{sendBundleParams{Txs: []hexutil.Bytes{raw}, BlockNumber: hexutil.Uint64(head + 1)}},
	})
	if err != nil {
		return common.Hash{}, err
	}

	header, err := SignatureHeader(s.key, body)
	if err != nil {
		return common.Hash{}, fmt.Errorf("cannot sign relay request: %w", err)
	}

	var errs []error
	accepted := 0
	for _, relay := range s.relays {
		if err := s.post(ctx, relay, body, header); err != nil {
			s.logger.Warn("relay rejected bundle", "relay", relay, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", relay, err))
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return common.Hash{}, fmt.Errorf("no relay accepted the bundle: %w", errors.Join(errs...))
	}
	s.logger.Info("bundle submitted to relays", "tx", tx.Hash().Hex(), "target_block", head+1, "accepted", accepted)
	return tx.Hash(), nil
}

func (s *FlashbotsSender) post(ctx context.Context, relay string, body []byte, header string) error {
	var out relayResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("X-Flashbots-Signature", header).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(relay)
	if err != nil {
		return err
	}
	if out.Error != nil {
		return fmt.Errorf("relay error %d: %s", out.Error.Code, out.Error.Message)
	}
	if resp.IsError() {
		return fmt.Errorf("relay returned %s", resp.Status())
	}
	return nil
}
