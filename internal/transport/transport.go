// Package transport moves frame descriptors to a consumer process over a
// connected Unix stream socket.
//
// Each plane is one message: a single 0x00 byte with the plane descriptor
// attached as SCM_RIGHTS. End-of-stream is a half-close of the write side,
// which the consumer observes as a zero byte read without a descriptor.
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/smazurov/pwmirror/internal/frame"
	"github.com/smazurov/pwmirror/internal/logging"
)

var payload = []byte{0}

// Sender is the producer end of the socket. All methods are safe for
// concurrent use; the lock is held for exactly one send or shutdown.
type Sender struct {
	mu     sync.Mutex
	conn   *net.UnixConn
	eos    bool
	closed bool
	logger logging.Logger
}

// NewSender takes ownership of conn.
func NewSender(conn *net.UnixConn) *Sender {
	return &Sender{
		conn:   conn,
		logger: logging.GetLogger("transport"),
	}
}

// SendFrame sends every plane descriptor of one frame in order. On failure
// the returned *Error tells how many planes made it. A frame without planes
// fails with ErrEmptyFrame.
func (s *Sender) SendFrame(planes []frame.TransferablePlane) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eos || s.closed {
		return newError(ErrCodeClosed, "send after end of stream", 0, len(planes), ErrClosed)
	}
	if len(planes) == 0 {
		return newError(ErrCodeEmpty, "refusing to send empty frame", 0, 0, ErrEmptyFrame)
	}

	for i, p := range planes {
		n, _, err := s.conn.WriteMsgUnix(payload, unix.UnixRights(p.FD), nil)
		if err == nil && n != len(payload) {
			err = fmt.Errorf("short write of %d bytes", n)
		}
		if err != nil {
			if i == 0 && peerGone(err) {
				return newError(ErrCodeClosed, "consumer disconnected", 0, len(planes), err)
			}
			return newError(ErrCodePartial, "failed to send plane descriptor", i, len(planes), err)
		}
	}
	return nil
}

// SignalEndOfStream half-closes the write side. Only the first call has an
// effect; later calls fail with ErrClosed.
func (s *Sender) SignalEndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eos || s.closed {
		return newError(ErrCodeClosed, "end of stream already signalled", 0, 0, ErrClosed)
	}
	s.eos = true
	if err := s.conn.CloseWrite(); err != nil {
		return fmt.Errorf("failed to half-close consumer socket: %w", err)
	}
	s.logger.Debug("End of stream signalled")
	return nil
}

// Close closes the socket in both directions.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func peerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, net.ErrClosed)
}

// Pair returns a connected pair of Unix stream sockets.
func Pair() (*net.UnixConn, *net.UnixConn, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create socketpair: %w", err)
	}
	a, err := fileConn(fds[0], "pwmirror-producer")
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := fileConn(fds[1], "pwmirror-consumer")
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

func fileConn(fd int, name string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	c, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap socket: %w", err)
	}
	uc, ok := c.(*net.UnixConn)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("socket %s is %T, not a unix connection", name, c)
	}
	return uc, nil
}

// Listen creates a Unix stream listener at path, removing a stale socket
// file left by a previous run.
func Listen(path string) (*net.UnixListener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	return l, nil
}
