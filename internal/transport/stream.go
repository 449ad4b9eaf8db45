package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/muurk/wsconn/internal/logging"
)

// Kind identifies the live variant of a Stream.
type Kind int

const (
	// KindTCP is a plain, fully usable transport. It never transitions.
	KindTCP Kind = iota
	// KindTLSConnecting has not finished TLS negotiation; I/O still uses the
	// raw socket.
	KindTLSConnecting
	// KindTLSEstablished routes all I/O through the TLS session.
	KindTLSEstablished
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindTLSConnecting:
		return "tls-connecting"
	case KindTLSEstablished:
		return "tls-established"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// TLSConfigSource supplies the TLS context used when a stream upgrades.
type TLSConfigSource interface {
	TLSConfig() (*tls.Config, error)
}

// retryInterval paces re-polling after a would-block handshake result.
const retryInterval = 10 * time.Millisecond

type state interface {
	kind() Kind
	conn() net.Conn
}

type tcpState struct {
	sock Socket
}

type connectingState struct {
	sock Socket
	neg  *negotiation
}

type establishedState struct {
	sock   Socket
	secure *tls.Conn
}

func (s *tcpState) kind() Kind         { return KindTCP }
func (s *connectingState) kind() Kind  { return KindTLSConnecting }
func (s *establishedState) kind() Kind { return KindTLSEstablished }

func (s *tcpState) conn() net.Conn         { return s.sock }
func (s *connectingState) conn() net.Conn  { return s.sock }
func (s *establishedState) conn() net.Conn { return s.secure }

// Option configures a Stream.
type Option func(*Stream)

// WithServerName sets the name used for SNI and certificate verification
// when the TLS config does not carry one.
func WithServerName(name string) Option {
	return func(s *Stream) { s.serverName = name }
}

// WithHandshake replaces the TLS handshake primitive. When hs reports
// ErrWouldBlock, the next Upgrade call restarts the handshake from scratch on
// a fresh clone of the socket; bytes the failed attempt already wrote are not
// replayed or withdrawn.
func WithHandshake(hs HandshakeFunc) Option {
	return func(s *Stream) { s.handshake = hs }
}

// Stream unifies plain and TLS sockets behind one net.Conn surface. A Stream
// belongs to a single owner goroutine; it is not safe for concurrent Upgrade
// calls.
type Stream struct {
	state      state
	serverName string
	handshake  HandshakeFunc
}

var _ net.Conn = (*Stream)(nil)

// NewStream wraps sock in the TCP variant, or in TLSConnecting when secure.
func NewStream(sock Socket, secure bool, opts ...Option) *Stream {
	s := &Stream{handshake: ClientHandshake}
	if secure {
		s.state = &connectingState{sock: sock}
	} else {
		s.state = &tcpState{sock: sock}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Kind returns the live variant.
func (s *Stream) Kind() Kind {
	return s.state.kind()
}

// Evented returns the socket the owner polls for readiness. It is the same
// value for the whole life of the stream, including across an upgrade.
func (s *Stream) Evented() Socket {
	switch st := s.state.(type) {
	case *tcpState:
		return st.sock
	case *connectingState:
		return st.sock
	case *establishedState:
		return st.sock
	default:
		panic(fmt.Sprintf("transport: unknown stream state %T", st))
	}
}

// Upgrade advances TLS negotiation. It returns true once the stream is stable
// (plain TCP or established TLS) and false while the handshake still needs
// I/O, in which case the caller retries on the next readiness notification.
func (s *Stream) Upgrade(src TLSConfigSource, isClient bool) (bool, error) {
	st, ok := s.state.(*connectingState)
	if !ok {
		return true, nil
	}
	if !isClient {
		return false, ErrUnsupported
	}

	if st.neg == nil {
		if err := s.begin(st, src); err != nil {
			return false, err
		}
	}

	if !st.neg.finished() {
		return false, nil
	}

	neg := st.neg
	st.neg = nil
	neg.cancel()

	if neg.err != nil {
		_ = neg.clone.Close()
		retry, err := handshakeResult(neg.err)
		if retry {
			return false, nil
		}
		return false, err
	}

	s.state = &establishedState{sock: st.sock, secure: neg.conn}
	logging.LogTLSHandshake(remoteString(st.sock), neg.conn.ConnectionState())
	return true, nil
}

func (s *Stream) begin(st *connectingState, src TLSConfigSource) error {
	clone, err := st.sock.Clone()
	if err != nil {
		return err
	}

	cfg, err := src.TLSConfig()
	if err == nil && cfg == nil {
		err = errors.New("no TLS config supplied")
	}
	if err != nil {
		_ = clone.Close()
		return fmt.Errorf("%w: %w", ErrTLSSetup, err)
	}

	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = s.serverName
	}

	logging.LogUpgradeAttempt(remoteString(st.sock), cfg.ServerName)
	st.neg = startNegotiation(clone, cfg, s.handshake)
	return nil
}

var closedCh = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Pending returns a channel closed when the in-flight handshake has a result.
// With no handshake in flight the channel is already closed.
func (s *Stream) Pending() <-chan struct{} {
	if st, ok := s.state.(*connectingState); ok && st.neg != nil {
		return st.neg.done
	}
	return closedCh
}

func (s *Stream) inFlight() bool {
	st, ok := s.state.(*connectingState)
	return ok && st.neg != nil
}

// Negotiate drives Upgrade until the stream is stable, an error occurs or ctx
// ends.
func (s *Stream) Negotiate(ctx context.Context, src TLSConfigSource, isClient bool) error {
	for {
		done, err := s.Upgrade(src, isClient)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if s.inFlight() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.Pending():
			}
			continue
		}

		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TLSState returns the negotiated session state once established.
func (s *Stream) TLSState() (tls.ConnectionState, bool) {
	if st, ok := s.state.(*establishedState); ok {
		return st.secure.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

func (s *Stream) Read(b []byte) (int, error) {
	return s.state.conn().Read(b)
}

func (s *Stream) Write(b []byte) (int, error) {
	return s.state.conn().Write(b)
}

// Flush flushes the live delegate if it buffers writes.
func (s *Stream) Flush() error {
	if f, ok := s.state.conn().(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close releases the socket and any TLS session or in-flight handshake.
func (s *Stream) Close() error {
	switch st := s.state.(type) {
	case *tcpState:
		return st.sock.Close()
	case *connectingState:
		if st.neg != nil {
			st.neg.abort()
			st.neg = nil
		}
		return st.sock.Close()
	case *establishedState:
		return errors.Join(st.secure.Close(), ignoreClosed(st.sock.Close()))
	default:
		return fmt.Errorf("transport: unknown stream state %T", st)
	}
}

func (s *Stream) LocalAddr() net.Addr {
	return s.state.conn().LocalAddr()
}

func (s *Stream) RemoteAddr() net.Addr {
	return s.state.conn().RemoteAddr()
}

func (s *Stream) SetDeadline(t time.Time) error {
	return s.state.conn().SetDeadline(t)
}

func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.state.conn().SetReadDeadline(t)
}

func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.state.conn().SetWriteDeadline(t)
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func remoteString(c net.Conn) string {
	if addr := c.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
