package supervisor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AvaProtocol/ethuo/pkg/logger"
)

// Service is a long-lived server. Listen binds and returns once peers can
// connect, Serve blocks until Stop.
type Service interface {
	Name() string
	Listen() error
	Serve() error
	Stop(ctx context.Context) error
}

type exit struct {
	name string
	err  error
}

// group starts services in order and stops them in reverse.
type group struct {
	logger  logger.Logger
	started []Service
	exits   chan exit
	done    chan struct{}
}

func newGroup(lgr logger.Logger) *group {
	return &group{
		logger: logger.EnsureLogger(lgr),
		exits:  make(chan exit),
		done:   make(chan struct{}),
	}
}

func (g *group) start(svc Service) error {
	if err := svc.Listen(); err != nil {
		return fmt.Errorf("%s: %w", svc.Name(), err)
	}
	g.started = append(g.started, svc)

	go func() {
		e := exit{name: svc.Name(), err: svc.Serve()}
		select {
		case g.exits <- e:
		case <-g.done:
		}
	}()

	g.logger.Info("service started", "service", svc.Name())
	return nil
}

// wait blocks until ctx ends, a signal arrives or a service exits on its
// own. Only the latter is an error.
func (g *group) wait(ctx context.Context, signals <-chan os.Signal) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context done, shutting down")
		return nil
	case sig := <-signals:
		g.logger.Info("signal received, shutting down", "signal", sig.String())
		return nil
	case e := <-g.exits:
		if e.err != nil {
			return fmt.Errorf("%s: %w", e.name, e.err)
		}
		return fmt.Errorf("%s stopped unexpectedly", e.name)
	}
}

// shutdown stops every started service, newest first, and returns the first
// failure.
func (g *group) shutdown(timeout time.Duration) error {
	close(g.done)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var first error
	for i := len(g.started) - 1; i >= 0; i-- {
		svc := g.started[i]
		if err := svc.Stop(ctx); err != nil {
			g.logger.Warn("service did not stop cleanly", "service", svc.Name(), "error", err)
			if first == nil {
				first = fmt.Errorf("stopping %s: %w", svc.Name(), err)
			}
			continue
		}
		g.logger.Info("service stopped", "service", svc.Name())
	}
	g.started = nil
	return first
}
