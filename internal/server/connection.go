package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wsconn/internal/factory"
	"github.com/muurk/wsconn/internal/handler"
	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/protocol"
	"github.com/muurk/wsconn/internal/transport"
)

// commandQueueSize is the Sender backlog per connection.
const commandQueueSize = 64

// connection is one accepted socket and the goroutine that owns it.
type connection struct {
	id     string
	server *Server
	raw    net.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// interrupt asks the owner goroutine to wind down. Blocked reads on the raw
// socket return immediately.
func (c *connection) interrupt() {
	c.cancel()
	_ = c.raw.SetReadDeadline(time.Now())
}

// serve handles a single connection
func (c *connection) serve() {
	s := c.server
	remoteAddr := c.raw.RemoteAddr().String()

	logging.LogConnection(c.id, remoteAddr, "connection_accepted")
	defer logging.LogConnection(c.id, remoteAddr, "connection_closed")

	settings := s.factory.Settings()
	stream := newStream(c.raw, settings)
	defer func() { _ = stream.Close() }()

	_ = c.raw.SetDeadline(time.Now().Add(s.config.HandshakeTimeout))
	if c.ctx.Err() != nil {
		return
	}

	if err := stream.Negotiate(c.ctx, s.factory, false); err != nil {
		logging.Error("Transport upgrade failed",
			zap.String("conn_id", c.id),
			zap.String("remote_addr", remoteAddr),
			zap.Stringer("kind", stream.Kind()),
			zap.Error(err),
		)
		return
	}

	cmds := make(chan handler.Command, commandQueueSize)
	done := make(chan struct{})
	h := s.factory.ConnectionMade(handler.NewSender(c.id, cmds, done))
	defer func() {
		close(done)
		h.OnClose()
	}()

	br, sel, err := c.handshake(stream, settings)
	if err != nil {
		logging.Error("WebSocket handshake failed",
			zap.String("conn_id", c.id),
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		h.OnError(err)
		return
	}
	_ = c.raw.SetDeadline(time.Time{})

	logging.LogConnection(c.id, remoteAddr, "websocket_upgraded")
	h.OnOpen()

	sess := &session{
		conn:   c,
		stream: stream,
		reader: br,
		sel:    sel,
		h:      h,
		limit:  s.config.ReadLimit,
	}
	if sess.limit == 0 {
		sess.limit = protocol.DefaultMaxPayload
	}
	sess.run(cmds)
}

// handshake reads and answers the HTTP upgrade request. The returned reader
// holds any frame bytes that arrived with the request.
func (c *connection) handshake(stream *transport.Stream, settings factory.Settings) (*bufio.Reader, protocol.Selection, error) {
	var sel protocol.Selection
	remoteAddr := c.raw.RemoteAddr().String()

	br := bufio.NewReader(stream)
	req, err := protocol.ReadUpgradeRequest(br)
	if err != nil {
		return nil, sel, err
	}

	logging.Debug("WebSocket upgrade request details",
		zap.String("conn_id", c.id),
		zap.String("remote_addr", remoteAddr),
		zap.String("path", req.URL.Path),
		zap.String("host", req.Host),
		zap.String("origin", req.Header.Get("Origin")),
		zap.String("sec_websocket_version", req.Header.Get("Sec-WebSocket-Version")),
		zap.String("sec_websocket_protocol", req.Header.Get("Sec-WebSocket-Protocol")),
		zap.String("sec_websocket_extensions", req.Header.Get("Sec-WebSocket-Extensions")),
		zap.String("user_agent", req.Header.Get("User-Agent")),
	)

	if err := protocol.ValidateUpgradeRequest(req); err != nil {
		_ = protocol.WriteHandshakeError(stream, http.StatusBadRequest, err)
		return nil, sel, err
	}

	if want := c.server.config.Path; want != "" && req.URL.Path != want {
		err := fmt.Errorf("%w: no listener on path %q", protocol.ErrBadHandshake, req.URL.Path)
		_ = protocol.WriteHandshakeError(stream, http.StatusNotFound, err)
		return nil, sel, err
	}

	sel = protocol.Select(req, settings.Protocols, settings.Extensions)
	if err := protocol.WriteUpgradeResponse(stream, req, sel); err != nil {
		return nil, sel, err
	}
	if err := stream.Flush(); err != nil {
		return nil, sel, err
	}

	logging.Info("Sent HTTP 101 Switching Protocols response",
		zap.String("conn_id", c.id),
		zap.String("remote_addr", remoteAddr),
		zap.String("protocol", sel.Protocol),
		zap.String("extensions", sel.Extensions),
	)

	return br, sel, nil
}
