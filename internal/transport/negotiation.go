package transport

import (
	"context"
	"crypto/tls"
	"net"
)

// HandshakeFunc performs one client-side TLS handshake attempt over conn.
// Returning an error matching ErrWouldBlock asks the owner to retry later.
type HandshakeFunc func(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error)

// ClientHandshake is the default HandshakeFunc.
func ClientHandshake(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error) {
	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}

// negotiation is one in-flight handshake over a cloned socket. The handshake
// goroutine owns clone until done is closed; it never touches stream state.
type negotiation struct {
	clone  net.Conn
	done   chan struct{}
	cancel context.CancelFunc

	// valid once done is closed
	conn *tls.Conn
	err  error
}

func startNegotiation(clone net.Conn, cfg *tls.Config, hs HandshakeFunc) *negotiation {
	ctx, cancel := context.WithCancel(context.Background())
	n := &negotiation{
		clone:  clone,
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(n.done)
		n.conn, n.err = hs(ctx, clone, cfg)
	}()

	return n
}

// finished reports without blocking whether the handshake has a result.
func (n *negotiation) finished() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *negotiation) abort() {
	n.cancel()
	_ = n.clone.Close()
}
