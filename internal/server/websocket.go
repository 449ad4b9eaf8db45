package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/muurk/wsconn/internal/handler"
	"github.com/muurk/wsconn/internal/logging"
	"github.com/muurk/wsconn/internal/protocol"
	"github.com/muurk/wsconn/internal/transport"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed for the peer to answer our close frame
	closeWait = 5 * time.Second
)

type frameResult struct {
	frame *protocol.Frame
	err   error
}

// session is the frame loop of one upgraded connection. Every field is owned
// by the connection goroutine; the reader goroutine only hands frames over.
type session struct {
	conn   *connection
	stream *transport.Stream
	reader *bufio.Reader
	sel    protocol.Selection
	h      handler.Handler
	limit  uint64

	closeSent bool
	fragType  handler.MessageType // zero when no fragmented message is open
	fragments []byte
}

// run multiplexes incoming frames and Sender commands until the connection
// closes.
func (s *session) run(cmds <-chan handler.Command) {
	frames := make(chan frameResult)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		for {
			f, err := protocol.ReadFrameLimit(s.reader, s.limit)
			select {
			case frames <- frameResult{frame: f, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.conn.ctx.Done():
			if !s.closeSent {
				s.sendClose(protocol.CloseGoingAway, "server shutting down")
			}
			return

		case cmd := <-cmds:
			if s.command(cmd) {
				return
			}

		case res := <-frames:
			if res.err != nil {
				s.readFailed(res.err)
				return
			}
			if s.frame(res.frame) {
				return
			}
		}
	}
}

// command applies one Sender command. It reports whether the session ended.
func (s *session) command(cmd handler.Command) bool {
	switch cmd.Kind {
	case handler.CommandSend:
		if s.closeSent {
			return false
		}
		msg := cmd.Message
		if msg.Type != handler.Text && msg.Type != handler.Binary {
			s.h.OnError(fmt.Errorf("cannot send %s message", msg.Type))
			return false
		}
		if err := s.write(protocol.NewFrame(byte(msg.Type), msg.Data)); err != nil {
			s.h.OnError(err)
			return true
		}
		logging.LogWebSocketMessage(s.conn.id, "sent", int(msg.Type), msg.Data)

	case handler.CommandPing:
		if s.closeSent {
			return false
		}
		if err := s.write(protocol.NewFrame(protocol.OpcodePing, cmd.Message.Data)); err != nil {
			s.h.OnError(err)
			return !errors.Is(err, protocol.ErrProtocol)
		}

	case handler.CommandClose:
		if !s.closeSent {
			s.sendClose(protocol.CloseNormal, "")
			_ = s.stream.SetReadDeadline(time.Now().Add(closeWait))
		}

	case handler.CommandShutdown:
		go func() {
			_ = s.conn.server.Shutdown(context.Background())
		}()
	}
	return false
}

// frame handles one incoming frame. It reports whether the session ended.
func (s *session) frame(f *protocol.Frame) bool {
	if !f.Masked {
		return s.fail(protocol.CloseProtocolError, fmt.Errorf("%w: unmasked client frame", protocol.ErrProtocol))
	}
	if (f.RSV1 || f.RSV2 || f.RSV3) && s.sel.Extensions == "" {
		return s.fail(protocol.CloseProtocolError, fmt.Errorf("%w: reserved bits set without extension", protocol.ErrProtocol))
	}

	switch f.Opcode {
	case protocol.OpcodePing:
		if s.closeSent {
			return false
		}
		logging.Debug("Received ping, sending pong", zap.String("conn_id", s.conn.id))
		if err := s.write(protocol.NewFrame(protocol.OpcodePong, f.Payload)); err != nil {
			s.h.OnError(err)
			return true
		}
		return false

	case protocol.OpcodePong:
		logging.Debug("Received pong", zap.String("conn_id", s.conn.id))
		return false

	case protocol.OpcodeClose:
		code, reason, err := protocol.ParseClosePayload(f.Payload)
		if err != nil {
			return s.fail(protocol.CloseProtocolError, err)
		}
		logging.Info("Received close frame",
			zap.String("conn_id", s.conn.id),
			zap.Uint16("code", code),
			zap.String("reason", reason),
		)
		if !s.closeSent {
			s.sendClose(code, "")
		}
		return true

	case protocol.OpcodeText, protocol.OpcodeBinary:
		if s.fragType != 0 {
			return s.fail(protocol.CloseProtocolError, fmt.Errorf("%w: new message inside fragmented message", protocol.ErrProtocol))
		}
		typ := handler.MessageType(f.Opcode)
		if f.FIN {
			return s.deliver(typ, f.Payload)
		}
		s.fragType = typ
		s.fragments = append(s.fragments[:0], f.Payload...)
		return false

	case protocol.OpcodeContinuation:
		if s.fragType == 0 {
			return s.fail(protocol.CloseProtocolError, fmt.Errorf("%w: continuation without message", protocol.ErrProtocol))
		}
		if uint64(len(s.fragments))+uint64(len(f.Payload)) > s.limit {
			return s.fail(protocol.CloseMessageTooBig, fmt.Errorf("%w: fragmented message above %d bytes", protocol.ErrFrameTooLarge, s.limit))
		}
		s.fragments = append(s.fragments, f.Payload...)
		if !f.FIN {
			return false
		}
		typ, data := s.fragType, s.fragments
		s.fragType, s.fragments = 0, nil
		return s.deliver(typ, data)

	default:
		return s.fail(protocol.CloseProtocolError, fmt.Errorf("%w: unknown opcode 0x%X", protocol.ErrProtocol, f.Opcode))
	}
}

// deliver hands a complete message to the handler.
func (s *session) deliver(typ handler.MessageType, data []byte) bool {
	if s.closeSent {
		return false
	}
	if typ == handler.Text && !utf8.Valid(data) {
		return s.fail(protocol.CloseInvalidPayload, fmt.Errorf("%w: text message is not valid UTF-8", protocol.ErrProtocol))
	}

	logging.LogWebSocketMessage(s.conn.id, "received", int(typ), data)
	if err := s.h.OnMessage(handler.Message{Type: typ, Data: data}); err != nil {
		return s.fail(protocol.CloseInternalError, fmt.Errorf("handler: %w", err))
	}
	return false
}

// readFailed classifies a read error that ended the frame loop.
func (s *session) readFailed(err error) {
	switch {
	case s.closeSent || s.conn.ctx.Err() != nil:
		if s.conn.ctx.Err() != nil && !s.closeSent {
			s.sendClose(protocol.CloseGoingAway, "server shutting down")
		}
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		logging.Info("Connection closed by peer", zap.String("conn_id", s.conn.id))
	case errors.Is(err, protocol.ErrFrameTooLarge):
		s.fail(protocol.CloseMessageTooBig, err)
	case errors.Is(err, protocol.ErrProtocol):
		s.fail(protocol.CloseProtocolError, err)
	default:
		logging.Info("Connection closed or error reading frame",
			zap.String("conn_id", s.conn.id),
			zap.Error(err),
		)
		s.h.OnError(err)
	}
}

// fail reports err to the handler and starts the closing handshake with code.
// It always reports the session as ended.
func (s *session) fail(code uint16, err error) bool {
	logging.Warn("Closing connection after error",
		zap.String("conn_id", s.conn.id),
		zap.Uint16("code", code),
		zap.Error(err),
	)
	s.h.OnError(err)
	if !s.closeSent {
		s.sendClose(code, "")
	}
	return true
}

func (s *session) sendClose(code uint16, reason string) {
	s.closeSent = true
	if err := s.write(protocol.NewCloseFrame(code, reason)); err != nil {
		logging.Debug("Failed to send close frame",
			zap.String("conn_id", s.conn.id),
			zap.Error(err),
		)
	}
}

func (s *session) write(f *protocol.Frame) error {
	if err := s.stream.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := protocol.WriteFrame(s.stream, f); err != nil {
		return err
	}
	return s.stream.Flush()
}
