// Package frame holds the data model shared by negotiation, staging and
// transport: the negotiated format and the plane representations a frame
// passes through on its way to the consumer.
package frame

import (
	"errors"
	"fmt"
	"io"

	"github.com/smazurov/pwmirror/pkg/spa"
)

// ModifierInvalid is DRM_FORMAT_MOD_INVALID, meaning the layout is chosen by
// the implementation.
const ModifierInvalid uint64 = 0x00ffffffffffffff

// ModifierLinear is DRM_FORMAT_MOD_LINEAR.
const ModifierLinear uint64 = 0

// Format describes every frame of a stream until the next renegotiation.
// A Format is replaced wholesale and never modified in place.
type Format struct {
	Width       uint32
	Height      uint32
	PixelFormat spa.VideoFormat
	Modifier    uint64
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d %s modifier=%#x", f.Width, f.Height, f.PixelFormat, f.Modifier)
}

// IsZero reports whether no format has been negotiated yet.
func (f Format) IsZero() bool {
	return f == Format{}
}

// RawPlane is one memory plane of a producer buffer. The concrete type is
// decided once at the producer boundary and is either DescriptorBacked or
// MappedOnly.
type RawPlane interface {
	Chunk() (offset uint32, stride int32)
	isRawPlane()
}

// DescriptorBacked is a plane whose memory is already reachable through a
// file descriptor owned by the producer.
type DescriptorBacked struct {
	FD     int
	Offset uint32
	Stride int32
}

// MappedOnly is a plane only reachable through CPU-mapped memory. Data is
// valid for the duration of one frame callback.
type MappedOnly struct {
	Data   []byte
	Offset uint32
	Stride int32
}

// Chunk returns the plane's offset and stride.
func (p DescriptorBacked) Chunk() (uint32, int32) { return p.Offset, p.Stride }

// Chunk returns the plane's offset and stride.
func (p MappedOnly) Chunk() (uint32, int32) { return p.Offset, p.Stride }

func (DescriptorBacked) isRawPlane() {}
func (MappedOnly) isRawPlane()       {}

// TransferablePlane always carries exactly one open descriptor.
type TransferablePlane struct {
	FD     int
	Offset uint32
	Stride int32
	// Owned is set when the descriptor was created while staging and must
	// be closed by the frame. Producer descriptors are never owned.
	Owned bool
	// Size is the byte length of owned regions, 0 otherwise.
	Size int
}

// Staged is a frame normalized into transferable planes.
type Staged struct {
	Format Format
	Planes []TransferablePlane

	owned  []io.Closer
	closed bool
}

// NewStaged builds a staged frame. owned holds the resources created while
// staging; they are released by Close.
func NewStaged(format Format, planes []TransferablePlane, owned []io.Closer) *Staged {
	return &Staged{Format: format, Planes: planes, owned: owned}
}

// ZeroCopy reports whether no plane had to be copied.
func (s *Staged) ZeroCopy() bool {
	for _, p := range s.Planes {
		if p.Owned {
			return false
		}
	}
	return true
}

// Close releases resources created during staging. Producer descriptors are
// left open. It is safe to call more than once.
func (s *Staged) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, c := range s.owned {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
