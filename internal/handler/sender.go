package handler

import "errors"

var (
	// ErrSenderClosed is returned when the connection behind a Sender has ended.
	ErrSenderClosed = errors.New("connection closed")

	// ErrSenderQueueFull is returned when the connection owner has not yet
	// drained earlier commands. The command is dropped.
	ErrSenderQueueFull = errors.New("sender queue full")
)

// CommandKind names what a Command asks the connection owner to do.
type CommandKind int

const (
	CommandSend CommandKind = iota
	CommandPing
	CommandClose
	CommandShutdown
)

func (k CommandKind) String() string {
	switch k {
	case CommandSend:
		return "send"
	case CommandPing:
		return "ping"
	case CommandClose:
		return "close"
	case CommandShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Command is one request pushed through a Sender.
type Command struct {
	Kind    CommandKind
	Message Message
}

// Sender is the output conduit of one connection. It is safe for concurrent
// use; commands are applied in the order they were accepted. Pushing never
// blocks: the owner drains the queue on the goroutine that runs the Handler.
type Sender struct {
	id   string
	cmds chan<- Command
	done <-chan struct{}
}

// NewSender returns a Sender that feeds cmds until done is closed.
func NewSender(id string, cmds chan<- Command, done <-chan struct{}) *Sender {
	return &Sender{id: id, cmds: cmds, done: done}
}

// ID identifies the connection this Sender belongs to.
func (s *Sender) ID() string {
	return s.id
}

// Send queues msg for delivery.
func (s *Sender) Send(msg Message) error {
	return s.push(Command{Kind: CommandSend, Message: msg})
}

// SendText queues a text message.
func (s *Sender) SendText(text string) error {
	return s.Send(TextMessage(text))
}

// Ping queues a ping carrying payload.
func (s *Sender) Ping(payload []byte) error {
	return s.push(Command{Kind: CommandPing, Message: BinaryMessage(payload)})
}

// Close asks for a normal closing handshake on this connection.
func (s *Sender) Close() error {
	return s.push(Command{Kind: CommandClose})
}

// Shutdown asks the owner to shut down every connection it manages.
func (s *Sender) Shutdown() error {
	return s.push(Command{Kind: CommandShutdown})
}

func (s *Sender) push(cmd Command) error {
	select {
	case <-s.done:
		return ErrSenderClosed
	default:
	}

	select {
	case s.cmds <- cmd:
		return nil
	case <-s.done:
		return ErrSenderClosed
	default:
		return ErrSenderQueueFull
	}
}
