package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/wsconn/internal/discovery"
	"github.com/muurk/wsconn/internal/factory"
	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/transport"
)

var (
	// ErrTooManyConnections stops Serve when the connection limit is hit and
	// the factory's settings make new-connection failures fatal.
	ErrTooManyConnections = errors.New("too many connections")

	// ErrServerClosed is returned by Serve after Shutdown.
	ErrServerClosed = errors.New("server closed")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// Config holds the server configuration
type Config struct {
	Host string
	Port int

	// Path restricts upgrades to one request path. Empty accepts any path.
	Path string

	// Advertise registers the listener via mDNS under ServiceName.
	Advertise   bool
	ServiceName string

	// ReadLimit bounds a single message. Zero means protocol.DefaultMaxPayload.
	ReadLimit uint64

	// HandshakeTimeout bounds the TLS upgrade and the HTTP upgrade request.
	HandshakeTimeout time.Duration
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Server accepts connections and drives each one through the transport
// upgrade, the websocket handshake and the frame loop.
type Server struct {
	config  *Config
	factory factory.Factory

	mu          sync.Mutex
	listener    net.Listener
	activeConns map[string]*connection
	advert      *discovery.Advertisement
	closing     bool

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Server instance
func New(config *Config, f factory.Factory) *Server {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Server{
		config:      config,
		factory:     f,
		activeConns: make(map[string]*connection),
	}
}

// ListenAndServe listens on the configured address, optionally advertises the
// listener and serves until ctx ends or Shutdown is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}

	if s.config.Advertise {
		settings := s.factory.Settings()
		port := listener.Addr().(*net.TCPAddr).Port
		ad, err := discovery.Advertise(s.config.ServiceName, port, discovery.Info{
			Path:      s.config.Path,
			Secure:    settings.ListenSecure,
			Protocols: settings.Protocols,
		})
		if err != nil {
			_ = listener.Close()
			return err
		}
		s.mu.Lock()
		s.advert = ad
		s.mu.Unlock()
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx ends, Shutdown is called or
// the connection policy makes an accept failure fatal.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	settings := s.factory.Settings()
	logging.Info("Server listening for connections",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_connections", settings.MaxConnections),
		zap.Bool("listen_secure", settings.ListenSecure),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosing() {
				return ErrServerClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if settings.PanicOnNewConnection {
				_ = listener.Close()
				return fmt.Errorf("accept failed: %w", err)
			}
			logging.Warn("Failed to accept connection", zap.Error(err))
			continue
		}

		if s.ActiveConnections() >= settings.MaxConnections {
			remote := conn.RemoteAddr().String()
			_ = conn.Close()
			if settings.PanicOnNewConnection {
				_ = listener.Close()
				logging.Error("Connection limit reached, stopping listener",
					zap.String("remote_addr", remote),
					zap.Int("max_connections", settings.MaxConnections),
				)
				return fmt.Errorf("%w: limit %d", ErrTooManyConnections, settings.MaxConnections)
			}
			logging.Warn("Connection limit reached, dropping connection",
				zap.String("remote_addr", remote),
				zap.Int("max_connections", settings.MaxConnections),
			)
			continue
		}

		c := s.track(ctx, conn)
		if c == nil {
			_ = conn.Close()
			return ErrServerClosed
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(c)
			c.serve()
		}()
	}
}

// track registers a new connection. It returns nil once shutdown has begun.
func (s *Server) track(ctx context.Context, conn net.Conn) *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &connection{
		id:     uuid.NewString(),
		server: s,
		raw:    conn,
		ctx:    ctx,
		cancel: cancel,
	}
	s.activeConns[c.id] = c
	return c
}

func (s *Server) untrack(c *connection) {
	c.cancel()
	s.mu.Lock()
	delete(s.activeConns, c.id)
	s.mu.Unlock()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown notifies the factory, stops accepting, closes every connection with
// a going-away close frame and waits for their goroutines until ctx ends.
// Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	s.notifyFactory()

	s.mu.Lock()
	s.closing = true
	listener := s.listener
	advert := s.advert
	active := len(s.activeConns)
	for _, c := range s.activeConns {
		c.interrupt()
	}
	s.mu.Unlock()

	logging.LogShutdown("server", active)

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logging.Error("Error closing listener", zap.Error(err))
		}
	}
	advert.Shutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(defaultShutdownTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
		err = ctx.Err()
	case <-timer.C:
		logging.Warn("Shutdown timeout after 10 seconds, forcing close")
		err = context.DeadlineExceeded
	}

	if err != nil {
		s.mu.Lock()
		for _, c := range s.activeConns {
			_ = c.raw.Close()
		}
		s.mu.Unlock()
	}

	logging.Sync()
	return err
}

// notifyFactory runs the factory's shutdown hook. A panic escapes only when
// the factory's settings ask for it.
func (s *Server) notifyFactory() {
	settings := s.factory.Settings()
	defer func() {
		if r := recover(); r != nil {
			if settings.PanicOnShutdown {
				panic(r)
			}
			logging.Error("Factory shutdown hook panicked", zap.Any("panic", r))
		}
	}()
	s.factory.OnShutdown()
}

// ActiveConnections returns the number of active connections
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// Addr returns the listener address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// newStream wraps an accepted socket according to the listener settings.
func newStream(conn net.Conn, settings factory.Settings) *transport.Stream {
	return transport.NewStream(transport.AsSocket(conn), settings.ListenSecure)
}
