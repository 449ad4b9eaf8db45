package transport

import (
	"fmt"
	"net"
	"syscall"
)

// Socket is the pollable resource a Stream owns exclusively.
type Socket interface {
	net.Conn

	// Clone returns a second handle to the same underlying connection. The
	// TLS handshake runs over the clone while the original stays registered
	// with the owner.
	Clone() (net.Conn, error)
}

// AsSocket adapts conn to a Socket. TCP connections clone by duplicating the
// descriptor; any other connection clones to a non-owning handle that shares
// conn and leaves closing to the original.
func AsSocket(conn net.Conn) Socket {
	switch c := conn.(type) {
	case Socket:
		return c
	case *net.TCPConn:
		return &tcpSocket{TCPConn: c}
	default:
		return &sharedSocket{Conn: conn}
	}
}

type tcpSocket struct {
	*net.TCPConn
}

func (s *tcpSocket) Clone() (net.Conn, error) {
	f, err := s.TCPConn.File()
	if err != nil {
		return nil, fmt.Errorf("duplicate descriptor: %w", err)
	}
	defer func() { _ = f.Close() }()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("wrap duplicated descriptor: %w", err)
	}
	return conn, nil
}

type sharedSocket struct {
	net.Conn
}

func (s *sharedSocket) Clone() (net.Conn, error) {
	return &sharedHandle{Conn: s.Conn}, nil
}

// sharedHandle is a view of a connection owned elsewhere.
type sharedHandle struct {
	net.Conn
}

func (h *sharedHandle) Close() error { return nil }

// Descriptor returns the raw descriptor behind sock for reactor registration.
func Descriptor(sock Socket) (uintptr, error) {
	sc, ok := sock.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("socket %T exposes no descriptor", sock)
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("syscall conn: %w", err)
	}

	var fd uintptr
	if err := raw.Control(func(d uintptr) { fd = d }); err != nil {
		return 0, fmt.Errorf("read descriptor: %w", err)
	}
	return fd, nil
}
