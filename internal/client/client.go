package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/wsconn/internal/factory"
	"github.com/muurk/wsconn/internal/handler"
	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/transport"
)

// ErrUnsupportedScheme is returned for URLs that are not ws:// or wss://.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
	commandQueueSize        = 64
)

type options struct {
	dialer           *net.Dialer
	header           http.Header
	handshakeTimeout time.Duration
	readLimit        int64
	tlsHandshake     transport.HandshakeFunc
}

// Option configures Dial.
type Option func(*options)

// WithDialer replaces the TCP dialer.
func WithDialer(d *net.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithHeader adds request headers to the websocket handshake.
func WithHeader(h http.Header) Option {
	return func(o *options) { o.header = h }
}

// WithHandshakeTimeout bounds the websocket handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithReadLimit bounds incoming messages. Zero means no limit.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}

// WithTLSHandshake replaces the TLS handshake primitive used for wss:// URLs.
func WithTLSHandshake(hs transport.HandshakeFunc) Option {
	return func(o *options) { o.tlsHandshake = hs }
}

// Conn is an established client connection.
type Conn struct {
	id     string
	stream *transport.Stream
	ws     *websocket.Conn
	h      handler.Handler
	sender *handler.Sender
	cmds   chan handler.Command
	done   chan struct{}

	finishOnce sync.Once
}

// Dial connects to rawURL, upgrades the stream when the scheme is wss, hands
// the factory the connection's Sender and performs the websocket handshake.
func Dial(ctx context.Context, rawURL string, f factory.Factory, opts ...Option) (*Conn, error) {
	o := options{
		dialer:           &net.Dialer{},
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	var secure bool
	switch u.Scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if secure {
			port = "443"
		}
	}
	addr := net.JoinHostPort(host, port)

	raw, err := o.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	streamOpts := []transport.Option{transport.WithServerName(host)}
	if o.tlsHandshake != nil {
		streamOpts = append(streamOpts, transport.WithHandshake(o.tlsHandshake))
	}
	stream := transport.NewStream(transport.AsSocket(raw), secure, streamOpts...)

	if err := stream.Negotiate(ctx, f, true); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("transport upgrade to %s failed: %w", addr, err)
	}

	settings := f.Settings()
	c := &Conn{
		id:     uuid.NewString(),
		stream: stream,
		cmds:   make(chan handler.Command, commandQueueSize),
		done:   make(chan struct{}),
	}
	c.sender = handler.NewSender(c.id, c.cmds, c.done)
	c.h = f.ConnectionMade(c.sender)

	logging.LogConnection(c.id, addr, "connection_established")

	useStream := func(context.Context, string, string) (net.Conn, error) { return stream, nil }
	d := websocket.Dialer{
		NetDialContext:    useStream,
		NetDialTLSContext: useStream,
		HandshakeTimeout:  o.handshakeTimeout,
		Subprotocols:      splitList(settings.Protocols),
	}

	ws, resp, err := d.DialContext(ctx, rawURL, o.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		err = fmt.Errorf("websocket handshake with %s failed: %w", addr, err)
		c.h.OnError(err)
		c.finish()
		_ = stream.Close()
		return nil, err
	}
	if o.readLimit > 0 {
		ws.SetReadLimit(o.readLimit)
	}
	c.ws = ws

	logging.Info("WebSocket connection established",
		zap.String("conn_id", c.id),
		zap.String("url", rawURL),
		zap.Stringer("transport", stream.Kind()),
		zap.String("protocol", ws.Subprotocol()),
	)
	c.h.OnOpen()

	return c, nil
}

type readResult struct {
	typ  int
	data []byte
	err  error
}

// Run delivers incoming messages to the Handler and applies Sender commands
// until the connection closes or ctx ends. It returns nil after a normal
// closing handshake. Run must be called at most once.
func (c *Conn) Run(ctx context.Context) error {
	defer c.finish()

	reads := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			typ, data, err := c.ws.ReadMessage()
			select {
			case reads <- readResult{typ: typ, data: data, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	closing := false
	for {
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseGoingAway, "client shutting down")
			return ctx.Err()

		case cmd := <-c.cmds:
			if closing {
				continue
			}
			if err := c.apply(cmd); err != nil {
				c.h.OnError(err)
				return err
			}
			if cmd.Kind == handler.CommandClose || cmd.Kind == handler.CommandShutdown {
				closing = true
				_ = c.ws.SetReadDeadline(time.Now().Add(writeWait))
			}

		case res := <-reads:
			if res.err != nil {
				if closing || websocket.IsCloseError(res.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				c.h.OnError(res.err)
				return res.err
			}
			if closing {
				continue
			}
			logging.LogWebSocketMessage(c.id, "received", res.typ, res.data)
			msg := handler.Message{Type: handler.MessageType(res.typ), Data: res.data}
			if err := c.h.OnMessage(msg); err != nil {
				err = fmt.Errorf("handler: %w", err)
				c.h.OnError(err)
				c.writeClose(websocket.CloseInternalServerErr, "")
				return err
			}
		}
	}
}

// apply writes one Sender command to the socket.
func (c *Conn) apply(cmd handler.Command) error {
	switch cmd.Kind {
	case handler.CommandSend:
		msg := cmd.Message
		if msg.Type != handler.Text && msg.Type != handler.Binary {
			return fmt.Errorf("cannot send %s message", msg.Type)
		}
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(int(msg.Type), msg.Data); err != nil {
			return err
		}
		logging.LogWebSocketMessage(c.id, "sent", int(msg.Type), msg.Data)
	case handler.CommandPing:
		return c.ws.WriteControl(websocket.PingMessage, cmd.Message.Data, time.Now().Add(writeWait))
	case handler.CommandClose, handler.CommandShutdown:
		// Shutdown on a client is Close.
		return c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
	}
	return nil
}

func (c *Conn) writeClose(code int, reason string) {
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	if err != nil {
		logging.Debug("Failed to send close frame", zap.String("conn_id", c.id), zap.Error(err))
	}
}

// finish ends the Sender and notifies the handler exactly once.
func (c *Conn) finish() {
	c.finishOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
		c.h.OnClose()
		logging.LogConnection(c.id, c.stream.RemoteAddr().String(), "connection_closed")
	})
}

// Close drops the connection without a closing handshake.
func (c *Conn) Close() error {
	err := c.ws.Close()
	c.finish()
	return err
}

// ID identifies the connection.
func (c *Conn) ID() string { return c.id }

// Sender returns the connection's output conduit.
func (c *Conn) Sender() *handler.Sender { return c.sender }

// Subprotocol returns the sub-protocol the server selected.
func (c *Conn) Subprotocol() string { return c.ws.Subprotocol() }

// Kind reports the transport variant the connection runs over.
func (c *Conn) Kind() transport.Kind { return c.stream.Kind() }

// TLSState returns the TLS session state for wss:// connections.
func (c *Conn) TLSState() (tls.ConnectionState, bool) { return c.stream.TLSState() }

// splitList splits a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
