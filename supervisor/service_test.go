package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeService struct {
	name      string
	log       *eventLog
	listenErr error
	stopErr   error

	serveErr chan error
	stopped  chan struct{}
	once     sync.Once
}

func newFakeService(name string, log *eventLog) *fakeService {
	return &fakeService{
		name:     name,
		log:      log,
		serveErr: make(chan error, 1),
		stopped:  make(chan struct{}),
	}
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Listen() error {
	if s.listenErr != nil {
		return s.listenErr
	}
	s.log.add("listen " + s.name)
	return nil
}

func (s *fakeService) Serve() error {
	select {
	case err := <-s.serveErr:
		return err
	case <-s.stopped:
		return nil
	}
}

func (s *fakeService) Stop(context.Context) error {
	s.log.add("stop " + s.name)
	s.once.Do(func() { close(s.stopped) })
	return s.stopErr
}

func startAll(t *testing.T, g *group, services ...Service) {
	t.Helper()
	for _, svc := range services {
		require.NoError(t, g.start(svc))
	}
}

func TestGroupStopsInReverseOrder(t *testing.T) {
	log := &eventLog{}
	g := newGroup(nil)
	startAll(t, g,
		newFakeService("uopool", log),
		newFakeService("builder", log),
		newFakeService("jsonrpc", log),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, g.wait(ctx, nil))
	require.NoError(t, g.shutdown(time.Second))

	assert.Equal(t, []string{
		"listen uopool", "listen builder", "listen jsonrpc",
		"stop jsonrpc", "stop builder", "stop uopool",
	}, log.all())
}

func TestGroupWaitsForSignal(t *testing.T) {
	g := newGroup(nil)
	startAll(t, g, newFakeService("uopool", &eventLog{}))

	sigs := make(chan os.Signal, 1)
	sigs <- syscall.SIGTERM
	assert.NoError(t, g.wait(context.Background(), sigs))
	assert.NoError(t, g.shutdown(time.Second))
}

func TestGroupFirstServiceFailureWins(t *testing.T) {
	log := &eventLog{}
	pool := newFakeService("uopool", log)
	rpc := newFakeService("jsonrpc", log)

	g := newGroup(nil)
	startAll(t, g, pool, rpc)

	rpc.serveErr <- errors.New("address in use")
	err := g.wait(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jsonrpc: address in use")

	require.NoError(t, g.shutdown(time.Second))
	assert.Equal(t, []string{"listen uopool", "listen jsonrpc", "stop jsonrpc", "stop uopool"}, log.all())
}

func TestGroupServeReturningEarly(t *testing.T) {
	svc := newFakeService("console", &eventLog{})
	g := newGroup(nil)
	startAll(t, g, svc)

	svc.serveErr <- nil
	err := g.wait(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "console stopped unexpectedly")
	assert.NoError(t, g.shutdown(time.Second))
}

func TestGroupListenFailure(t *testing.T) {
	log := &eventLog{}
	broken := newFakeService("builder", log)
	broken.listenErr = errors.New("port taken")

	g := newGroup(nil)
	startAll(t, g, newFakeService("uopool", log))

	err := g.start(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "builder: port taken")

	require.NoError(t, g.shutdown(time.Second))
	assert.Equal(t, []string{"listen uopool", "stop uopool"}, log.all())
}

func TestGroupShutdownReturnsFirstStopError(t *testing.T) {
	log := &eventLog{}
	first := newFakeService("uopool", log)
	first.stopErr = errors.New("uopool stuck")
	second := newFakeService("builder", log)
	second.stopErr = errors.New("builder stuck")

	g := newGroup(nil)
	startAll(t, g, first, second)

	err := g.shutdown(time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopping builder: builder stuck")
	assert.Equal(t, []string{"listen uopool", "listen builder", "stop builder", "stop uopool"}, log.all())
}
