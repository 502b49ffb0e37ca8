package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"math/big"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ethuo/core/apqueue"
	"github.com/AvaProtocol/ethuo/core/backup"
	"github.com/AvaProtocol/ethuo/pkg/erc4337/userop"
	"github.com/AvaProtocol/ethuo/storage"
	"github.com/AvaProtocol/ethuo/uopool"
)

var testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// stubPool only serves what the console reads.
type stubPool struct {
	uopool.Mempool
	ops []*userop.UserOperation
}

func (p *stubPool) SupportedEntryPoints(context.Context) ([]common.Address, error) {
	return []common.Address{testEntryPoint}, nil
}

func (p *stubPool) Dump(_ context.Context, ep common.Address) ([]*userop.UserOperation, error) {
	if ep != testEntryPoint {
		return nil, uopool.ErrUnsupportedEntryPoint
	}
	return p.ops, nil
}

type stubBundler struct{}

func (b *stubBundler) SendBundleNow(context.Context) (common.Hash, error) {
	return common.HexToHash("0xb0b"), nil
}

func (b *stubBundler) SetBundlingMode(_ context.Context, mode string) error {
	if mode != "auto" && mode != "manual" {
		return fmt.Errorf("unknown bundling mode %q", mode)
	}
	return nil
}

type session struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

const prompt = "> "

// untilPrompt returns everything printed before the next prompt. The prompt
// only counts at the start of a line so replies may contain '>' themselves.
func (s *session) untilPrompt() string {
	s.t.Helper()
	var out strings.Builder
	for {
		c, err := s.reader.ReadByte()
		require.NoError(s.t, err)
		out.WriteByte(c)
		got := out.String()
		if got == prompt || strings.HasSuffix(got, "\n"+prompt) {
			return strings.TrimSuffix(got, prompt)
		}
	}
}

func (s *session) run(command string) string {
	s.t.Helper()
	_, err := fmt.Fprintln(s.conn, command)
	require.NoError(s.t, err)
	return s.untilPrompt()
}

func startConsole(t *testing.T, pool uopool.Mempool, b *stubBundler) (*Console, *session, storage.Storage) {
	t.Helper()

	db, err := storage.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	queue := apqueue.New(db, nil, &apqueue.QueueOption{Prefix: bundleQueueName})
	require.NoError(t, queue.Start())
	t.Cleanup(func() { queue.Stop() })

	backups := backup.NewService(db, filepath.Join(t.TempDir(), "backups"), nil)
	console := NewConsole(filepath.Join(t.TempDir(), "ethuo.sock"), db, pool, b, queue, backups, nil)
	require.NoError(t, console.Listen())
	done := make(chan error, 1)
	go func() { done <- console.Serve() }()
	t.Cleanup(func() {
		console.Stop(context.Background())
		assert.NoError(t, <-done)
	})

	conn, err := net.Dial("unix", console.path)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	s := &session{t: t, conn: conn, reader: bufio.NewReader(conn)}
	assert.Contains(t, s.untilPrompt(), "ethuo bundler console")
	return console, s, db
}

func TestConsoleStorageCommands(t *testing.T) {
	_, s, db := startConsole(t, &stubPool{}, &stubBundler{})
	require.NoError(t, db.Set([]byte("uo:a"), []byte("first")))
	require.NoError(t, db.Set([]byte("uo:b"), []byte("second")))
	require.NoError(t, db.Set([]byte("sender:a"), []byte("other")))

	help := s.run("help")
	assert.Contains(t, help, "get <key>")
	assert.Contains(t, help, "backup")

	listed := s.run("list uo:*")
	assert.Contains(t, listed, "uo:a")
	assert.Contains(t, listed, "uo:b")
	assert.NotContains(t, listed, "sender:a")

	assert.Contains(t, s.run("get uo:b"), "second")
	assert.Contains(t, s.run("get missing"), "error:")
	assert.Contains(t, s.run("get"), "Usage: get <key>")
	assert.Contains(t, s.run("frobnicate"), "Unknown command: frobnicate")

	snapshot := strings.TrimSpace(s.run("backup"))
	assert.FileExists(t, snapshot)
}

func TestConsolePoolAndBuilderCommands(t *testing.T) {
	op := &userop.UserOperation{
		Sender: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:  big.NewInt(3),
	}
	_, s, _ := startConsole(t, &stubPool{ops: []*userop.UserOperation{op}}, &stubBundler{})

	ops := s.run("ops")
	assert.Contains(t, ops, testEntryPoint.Hex()+": 1 operation(s)")
	assert.Contains(t, ops, "0x1111111111111111111111111111111111111111")

	assert.Contains(t, s.run("ops 0x0000000000000000000000000000000000000001"), "error:")
	assert.Contains(t, s.run("ops nope"), "Usage: ops")

	assert.Contains(t, s.run("bundle"), common.HexToHash("0xb0b").Hex())

	assert.Contains(t, s.run("mode manual"), "ok")
	assert.Contains(t, s.run("mode sometimes"), "unknown bundling mode")

	assert.Contains(t, s.run("jobs"), "pending")
	assert.NotContains(t, s.run("failed"), "error:")
}

func TestConsoleExit(t *testing.T) {
	_, s, _ := startConsole(t, &stubPool{}, &stubBundler{})

	_, err := fmt.Fprintln(s.conn, "exit")
	require.NoError(t, err)

	out, _ := s.reader.ReadString('\n')
	assert.Contains(t, out, "Exiting...")
	_, err = s.reader.ReadByte()
	assert.Error(t, err)
}

func TestConsoleStopClosesSessions(t *testing.T) {
	console, s, _ := startConsole(t, &stubPool{}, &stubBundler{})

	require.NoError(t, console.Stop(context.Background()))
	_, err := s.reader.ReadByte()
	assert.Error(t, err)
}
