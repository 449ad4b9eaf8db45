// Package handler defines the protocol-level consumer of a connection and the
// conduit it uses to talk back to the connection's owner.
package handler

import (
	"github.com/muurk/wsconn/internal/logging"
	"go.uber.org/zap"
)

// MessageType mirrors the websocket data opcodes.
type MessageType int

const (
	Text   MessageType = 1
	Binary MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}

// Message is one complete application message.
type Message struct {
	Type MessageType
	Data []byte
}

// TextMessage builds a text message.
func TextMessage(s string) Message {
	return Message{Type: Text, Data: []byte(s)}
}

// BinaryMessage builds a binary message.
func BinaryMessage(b []byte) Message {
	return Message{Type: Binary, Data: b}
}

// Handler consumes the events of one connection. All methods are invoked from
// the connection's owner goroutine, never concurrently.
type Handler interface {
	OnOpen()
	OnMessage(msg Message) error
	OnClose()
	OnError(err error)
}

// HandlerFunc adapts a message callback to a Handler. The other events are
// only logged.
type HandlerFunc func(msg Message) error

func (f HandlerFunc) OnOpen() {}

func (f HandlerFunc) OnMessage(msg Message) error { return f(msg) }

func (f HandlerFunc) OnClose() {}

func (f HandlerFunc) OnError(err error) {
	logging.Debug("Handler received connection error", zap.Error(err))
}
