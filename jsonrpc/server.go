package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ethuo/metrics"
	"github.com/AvaProtocol/ethuo/pkg/logger"
	"github.com/AvaProtocol/ethuo/uopool"
)

const (
	DefaultHTTPAddr = "127.0.0.1:3000"
	DefaultWSAddr   = "127.0.0.1:3001"
)

var DefaultNamespaces = []string{NamespaceEth, NamespaceDebug}

type Params struct {
	HTTP     bool
	HTTPAddr string
	WS       bool
	WSAddr   string

	Namespaces  []string
	CORSOrigins []string
	// ProxyURL receives every method outside the enabled namespaces. Empty
	// means unknown methods are rejected.
	ProxyURL string
}

func (p Params) withDefaults() Params {
	if p.HTTPAddr == "" {
		p.HTTPAddr = DefaultHTTPAddr
	}
	if p.WSAddr == "" {
		p.WSAddr = DefaultWSAddr
	}
	if len(p.Namespaces) == 0 {
		p.Namespaces = DefaultNamespaces
	}
	if len(p.CORSOrigins) == 0 {
		p.CORSOrigins = []string{"*"}
	}
	return p
}

// Service runs the HTTP and websocket endpoints.
type Service struct {
	params  Params
	api     *API
	proxy   *Proxy
	metrics metrics.MetricsGenerator
	logger  logger.Logger

	http     *echo.Echo
	ws       *echo.Echo
	upgrader websocket.Upgrader

	mu        sync.Mutex
	listeners map[*echo.Echo]net.Listener
}

// NewService wires the API. gatherer may be nil, in which case /metrics is
// not served.
func NewService(params Params, pool uopool.Mempool, b Bundler, gatherer prometheus.Gatherer, m metrics.MetricsGenerator, lgr logger.Logger) *Service {
	params = params.withDefaults()
	m = metrics.Ensure(m)

	s := &Service{
		params:    params,
		api:       NewAPI(pool, b, params.Namespaces, m),
		metrics:   m,
		logger:    logger.EnsureLogger(lgr),
		listeners: make(map[*echo.Echo]net.Listener),
	}
	if params.ProxyURL != "" {
		s.proxy = NewProxy(params.ProxyURL)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	s.http = s.newEcho()
	s.http.POST("/", s.serveHTTP)
	if gatherer != nil {
		s.http.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	s.ws = s.newEcho()
	s.ws.GET("/", s.serveWS)

	return s
}

func (s *Service) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.params.CORSOrigins,
	}))

	e.GET("/up", func(c echo.Context) error {
		return c.String(http.StatusOK, "up")
	})
	return e
}

func (s *Service) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return lo.Contains(s.params.CORSOrigins, "*") || lo.Contains(s.params.CORSOrigins, origin)
}

func (s *Service) serveHTTP(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSONBlob(http.StatusOK, marshal(errorResponse(nil, ParseError, err.Error())))
	}
	return c.JSONBlob(http.StatusOK, s.handle(c.Request().Context(), body))
}

// serveWS answers each text frame in order until the peer goes away.
func (s *Service) serveWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "error", err)
			}
			return nil
		}
		if err := conn.WriteMessage(websocket.TextMessage, s.handle(ctx, msg)); err != nil {
			return nil
		}
	}
}

func (s *Service) Name() string { return "jsonrpc" }

func (s *Service) servers() map[*echo.Echo]string {
	out := make(map[*echo.Echo]string)
	if s.params.HTTP {
		out[s.http] = s.params.HTTPAddr
	}
	if s.params.WS {
		out[s.ws] = s.params.WSAddr
	}
	return out
}

// Listen binds every enabled endpoint.
func (s *Service) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for e, addr := range s.servers() {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			for _, bound := range s.listeners {
				bound.Close()
			}
			s.listeners = make(map[*echo.Echo]net.Listener)
			return fmt.Errorf("jsonrpc cannot listen on %s: %w", addr, err)
		}
		e.Listener = lis
		s.listeners[e] = lis
	}
	return nil
}

// HTTPAddr is the bound HTTP address, or the configured one before Listen.
func (s *Service) HTTPAddr() string {
	return s.boundAddr(s.http, s.params.HTTPAddr)
}

func (s *Service) WSAddr() string {
	return s.boundAddr(s.ws, s.params.WSAddr)
}

func (s *Service) boundAddr(e *echo.Echo, fallback string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lis, ok := s.listeners[e]; ok {
		return lis.Addr().String()
	}
	return fallback
}

// Serve blocks until every endpoint stops. The first failure is returned.
func (s *Service) Serve() error {
	s.mu.Lock()
	bound := make([]*echo.Echo, 0, len(s.listeners))
	for e := range s.listeners {
		bound = append(bound, e)
	}
	s.mu.Unlock()
	if len(bound) == 0 {
		return errors.New("jsonrpc: Serve called before Listen")
	}

	errc := make(chan error, len(bound))
	for _, e := range bound {
		s.logger.Info("json-rpc server listening", "addr", e.Listener.Addr().String())
		go func(e *echo.Echo) {
			err := e.Start("")
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			errc <- err
		}(e)
	}

	for range bound {
		if err := <-errc; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	var errs []error
	for _, e := range []*echo.Echo{s.http, s.ws} {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	// Listeners that never reached Serve are not owned by http.Server.
	s.mu.Lock()
	for _, lis := range s.listeners {
		lis.Close()
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}
