// Package stage normalizes producer buffers into planes that can be handed
// to another process as file descriptors.
//
// Planes that already live in a descriptor are passed through untouched.
// Planes only reachable through mapped memory are copied into a fresh memfd
// which is sealed before it leaves the package. A frame is staged as a whole
// or not at all.
package stage

import (
	"fmt"
	"io"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/smazurov/pwmirror/internal/frame"
	"github.com/smazurov/pwmirror/internal/logging"
	"github.com/smazurov/pwmirror/pkg/linuxav/memfd"
)

// Stats are cumulative staging counters.
type Stats struct {
	Frames         uint64
	ZeroCopyPlanes uint64
	CopiedPlanes   uint64
	CopiedBytes    uint64
	Failures       uint64
}

// Stager turns raw planes into transferable planes.
type Stager struct {
	name   string
	logger logging.Logger

	frames   atomic.Uint64
	zeroCopy atomic.Uint64
	copied   atomic.Uint64
	bytes    atomic.Uint64
	failures atomic.Uint64
}

// New creates a stager. name is used as the debug name of created memfds.
func New(name string) *Stager {
	if name == "" {
		name = "pwmirror-frame"
	}
	return &Stager{
		name:   name,
		logger: logging.GetLogger("stage"),
	}
}

// Stage normalizes every plane of one frame. On error nothing created for the
// frame survives and the error is a *StageError.
func (s *Stager) Stage(planes []frame.RawPlane, format frame.Format) (*frame.Staged, error) {
	out := make([]frame.TransferablePlane, 0, len(planes))
	var owned []io.Closer
	var copiedBytes uint64

	abort := func(err *StageError) (*frame.Staged, error) {
		for _, c := range owned {
			c.Close()
		}
		s.failures.Add(1)
		s.logger.Debug("Frame staging aborted", "error", err, "format", format.String())
		return nil, err
	}

	if len(planes) == 0 {
		return abort(resourceError(0, "empty producer buffer", ErrNoPlanes))
	}

	for i, raw := range planes {
		switch p := raw.(type) {
		case frame.DescriptorBacked:
			if err := checkDescriptor(p.FD); err != nil {
				return abort(resourceError(i, "invalid producer descriptor", err))
			}
			out = append(out, frame.TransferablePlane{
				FD:     p.FD,
				Offset: p.Offset,
				Stride: p.Stride,
			})

		case frame.MappedOnly:
			region, err := memfd.NewSealed(s.name, p.Data)
			if err != nil {
				return abort(resourceError(i, "failed to stage mapped plane", err))
			}
			owned = append(owned, region)
			copiedBytes += uint64(len(p.Data))
			out = append(out, frame.TransferablePlane{
				FD:     region.FD(),
				Offset: p.Offset,
				Stride: p.Stride,
				Owned:  true,
				Size:   region.Size(),
			})

		default:
			return abort(resourceError(i, fmt.Sprintf("unknown plane type %T", raw), ErrNoDescriptor))
		}
	}

	s.frames.Add(1)
	s.copied.Add(uint64(len(owned)))
	s.zeroCopy.Add(uint64(len(out) - len(owned)))
	s.bytes.Add(copiedBytes)

	return frame.NewStaged(format, out, owned), nil
}

// Stats returns a snapshot of the counters.
func (s *Stager) Stats() Stats {
	return Stats{
		Frames:         s.frames.Load(),
		ZeroCopyPlanes: s.zeroCopy.Load(),
		CopiedPlanes:   s.copied.Load(),
		CopiedBytes:    s.bytes.Load(),
		Failures:       s.failures.Load(),
	}
}

func checkDescriptor(fd int) error {
	if fd < 0 {
		return fmt.Errorf("%w: fd %d", ErrNoDescriptor, fd)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return fmt.Errorf("%w: fd %d: %v", ErrNoDescriptor, fd, err)
	}
	return nil
}
