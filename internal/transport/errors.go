package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrWouldBlock signals that an operation needs more I/O before it can
	// complete. During a handshake it is absorbed into the retry result.
	ErrWouldBlock = errors.New("operation would block")

	// ErrTLSSetup means no TLS context could be built for the upgrade.
	ErrTLSSetup = errors.New("TLS setup failed")

	// ErrTLSHandshake means negotiation failed for a reason other than I/O.
	ErrTLSHandshake = errors.New("TLS handshake failed")

	// ErrUnsupported is returned when a negotiating stream is upgraded as the
	// receiving side. Server-side TLS acceptance is not implemented.
	ErrUnsupported = errors.New("server-side TLS acceptance is not supported")
)

func isWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EWOULDBLOCK)
}

func isIOError(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return true
	}

	// tls reports peer alerts as *net.OpError with Op "remote error"; those
	// are protocol failures, not transport ones.
	var opErr *net.OpError
	return errors.As(err, &opErr) && (opErr.Op == "read" || opErr.Op == "write")
}

// handshakeResult maps a finished handshake attempt onto the upgrade result:
// retry reports a would-block outcome, and any other failure is returned.
func handshakeResult(err error) (retry bool, out error) {
	switch {
	case err == nil:
		return false, nil
	case isWouldBlock(err):
		return true, nil
	case isIOError(err):
		return false, err
	default:
		return false, fmt.Errorf("%w: %w", ErrTLSHandshake, err)
	}
}
