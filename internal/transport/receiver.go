package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// Receiver is the consumer end of the socket.
type Receiver struct {
	conn *net.UnixConn
	buf  []byte
	oob  []byte
}

// NewReceiver takes ownership of conn.
func NewReceiver(conn *net.UnixConn) *Receiver {
	return &Receiver{
		conn: conn,
		buf:  make([]byte, 1),
		oob:  make([]byte, unix.CmsgSpace(4*4)),
	}
}

// Dial connects to a producer listening at path.
func Dial(path string) (*Receiver, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", path, err)
	}
	return NewReceiver(conn), nil
}

// Recv returns the next received descriptor. The caller owns it. io.EOF is
// returned once the producer has signalled end-of-stream.
func (r *Receiver) Recv() (int, error) {
	n, oobn, _, _, err := r.conn.ReadMsgUnix(r.buf, r.oob)

	var fds []int
	if oobn > 0 {
		fds, err = parseRights(r.oob[:oobn], err)
	}
	if len(fds) == 0 {
		if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
			return -1, io.EOF
		}
		if err != nil {
			return -1, fmt.Errorf("failed to receive descriptor: %w", err)
		}
		return -1, fmt.Errorf("message of %d bytes without descriptor", n)
	}
	// One descriptor per message; close any extras so they do not leak.
	for _, extra := range fds[1:] {
		unix.Close(extra)
	}
	return fds[0], nil
}

// RecvFrame receives the n descriptors of one frame in order. On error the
// descriptors already received are closed.
func (r *Receiver) RecvFrame(n int) ([]int, error) {
	fds := make([]int, 0, n)
	for range n {
		fd, err := r.Recv()
		if err != nil {
			for _, fd := range fds {
				unix.Close(fd)
			}
			if errors.Is(err, io.EOF) && len(fds) > 0 {
				return nil, fmt.Errorf("end of stream after %d of %d planes: %w", len(fds), n, io.ErrUnexpectedEOF)
			}
			return nil, err
		}
		fds = append(fds, fd)
	}
	return fds, nil
}

// Close closes the socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}

func parseRights(oob []byte, readErr error) ([]int, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("failed to parse control message: %w", err)
	}
	var fds []int
	for _, m := range msgs {
		rights, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, readErr
}
