package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/k0kubun/pp/v3"

	"github.com/AvaProtocol/ethuo/core/apqueue"
	"github.com/AvaProtocol/ethuo/core/backup"
	"github.com/AvaProtocol/ethuo/core/chainio/aa"
	"github.com/AvaProtocol/ethuo/jsonrpc"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/storage"
	"github.com/AvaProtocol/ethuo/uopool"
)

const consoleCommandTimeout = 30 * time.Second

// Console is an operator shell on a unix socket, e.g. `nc -U /tmp/ethuo.sock`.
type Console struct {
	path    string
	db      storage.Storage
	pool    uopool.Mempool
	bundler jsonrpc.Bundler
	queue   *apqueue.Queue
	backups *backup.Service
	printer *pp.PrettyPrinter
	logger  logger.Logger

	mu     sync.Mutex
	lis    net.Listener
	conns  map[net.Conn]struct{}
	closed bool
}

// NewConsole accepts nil for bundler, queue and backups; the matching
// commands then report that they are unavailable.
func NewConsole(path string, db storage.Storage, pool uopool.Mempool, b jsonrpc.Bundler, queue *apqueue.Queue, backups *backup.Service, lgr logger.Logger) *Console {
	printer := pp.New()
	printer.SetColoringEnabled(false)

	return &Console{
		path:    path,
		db:      db,
		pool:    pool,
		bundler: b,
		queue:   queue,
		backups: backups,
		printer: printer,
		logger:  logger.EnsureLogger(lgr),
		conns:   make(map[net.Conn]struct{}),
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a previous crash leaves the socket file behind
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove stale socket %s: %w", c.path, err)
	}
	lis, err := net.Listen("unix", c.path)
	if err != nil {
		return fmt.Errorf("console cannot listen on %s: %w", c.path, err)
	}
	c.lis = lis
	return nil
}

func (c *Console) Serve() error {
	c.mu.Lock()
	lis := c.lis
	c.mu.Unlock()
	if lis == nil {
		return errors.New("console: Serve called before Listen")
	}

	for {
		conn, err := lis.Accept()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("console accept: %w", err)
		}

		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.mu.Unlock()
		go c.handle(conn)
	}
}

func (c *Console) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for conn := range c.conns {
		conn.Close()
	}
	if c.lis == nil {
		return nil
	}
	return c.lis.Close()
}

func (c *Console) handle(conn net.Conn) {
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	fmt.Fprintln(conn, "ethuo bundler console")
	fmt.Fprintln(conn, "-------------------------")

	for {
		fmt.Fprint(conn, "> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(conn, "\nExiting...")
			}
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		parts := strings.SplitN(input, " ", 2)
		command := strings.ToLower(parts[0])
		arg := ""
		if len(parts) == 2 {
			arg = strings.TrimSpace(parts[1])
		}

		if command == "exit" {
			fmt.Fprintln(conn, "Exiting...")
			return
		}
		c.exec(conn, command, arg)
	}
}

func (c *Console) exec(w io.Writer, command, arg string) {
	ctx, cancel := context.WithTimeout(context.Background(), consoleCommandTimeout)
	defer cancel()

	switch command {
	case "help":
		fmt.Fprintln(w, "list <prefix>*   keys in storage")
		fmt.Fprintln(w, "get <key>        raw value of a key")
		fmt.Fprintln(w, "ops [entrypoint] pooled user operations")
		fmt.Fprintln(w, "bundle           send a bundle now")
		fmt.Fprintln(w, "mode auto|manual set the bundling mode")
		fmt.Fprintln(w, "jobs             bundle ledger stats")
		fmt.Fprintln(w, "failed           bundles that did not confirm")
		fmt.Fprintln(w, "backup           snapshot the store")
		fmt.Fprintln(w, "exit")
	case "list":
		if arg == "" {
			fmt.Fprintln(w, "Usage: list <prefix>* or list *")
			return
		}
		keys, err := c.db.ListKeys(arg)
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		for _, k := range keys {
			fmt.Fprintln(w, k)
		}
	case "get":
		if arg == "" {
			fmt.Fprintln(w, "Usage: get <key>")
			return
		}
		value, err := c.db.GetKey([]byte(arg))
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		fmt.Fprintln(w, string(value))
	case "ops":
		c.dumpOps(ctx, w, arg)
	case "bundle":
		if c.bundler == nil {
			fmt.Fprintln(w, "bundle builder is not available")
			return
		}
		hash, err := c.bundler.SendBundleNow(ctx)
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		fmt.Fprintln(w, hash.Hex())
	case "mode":
		if c.bundler == nil {
			fmt.Fprintln(w, "bundle builder is not available")
			return
		}
		if err := c.bundler.SetBundlingMode(ctx, arg); err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		fmt.Fprintln(w, "ok")
	case "jobs":
		if c.queue == nil {
			fmt.Fprintln(w, "bundle ledger is not available")
			return
		}
		stats, err := c.queue.Stats()
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		c.printer.Fprintln(w, stats)
	case "failed":
		if c.queue == nil {
			fmt.Fprintln(w, "bundle ledger is not available")
			return
		}
		jobs, err := c.queue.Failed()
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		for _, job := range jobs {
			c.printer.Fprintln(w, job)
		}
	case "backup":
		if c.backups == nil {
			fmt.Fprintln(w, "backups are not available")
			return
		}
		file, err := c.backups.Snapshot(ctx)
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		fmt.Fprintln(w, file)
	default:
		fmt.Fprintln(w, "Unknown command:", command)
	}
}

func (c *Console) dumpOps(ctx context.Context, w io.Writer, arg string) {
	var eps []common.Address
	if arg != "" {
		if !common.IsHexAddress(arg) {
			fmt.Fprintln(w, "Usage: ops [entrypoint]")
			return
		}
		eps = []common.Address{common.HexToAddress(arg)}
	} else {
		supported, err := c.pool.SupportedEntryPoints(ctx)
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		eps = supported
	}

	for _, ep := range eps {
		ops, err := c.pool.Dump(ctx, ep)
		if err != nil {
			fmt.Fprintln(w, "error:", err)
			return
		}
		fmt.Fprintf(w, "%s: %d operation(s)\n", ep.Hex(), len(ops))
		for _, op := range ops {
			if call := aa.DescribeCall(op.CallData); call != "" {
				fmt.Fprintln(w, "call:", call)
			}
			encoded, err := json.MarshalIndent(op, "", "  ")
			if err != nil {
				fmt.Fprintln(w, "error:", err)
				return
			}
			fmt.Fprintln(w, string(encoded))
		}
	}
}
