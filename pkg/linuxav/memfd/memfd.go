//go:build linux

// Package memfd provides pure Go bindings to anonymous, sealable shared
// memory files created with memfd_create(2).
//
// A Region is written once and then sealed so that neither its size nor its
// contents can change again. The receiving side of a descriptor can then map
// it read-only without any further synchronization:
//
//	region, err := memfd.NewSealed("frame", pixels)
//	if err != nil {
//	    return err
//	}
//	defer region.Close()
//	send(region.FD())
package memfd

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sealed is the full set of seals applied by Seal.
const Sealed = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL

// ErrClosed is returned when operating on a closed region.
var ErrClosed = errors.New("memfd: region closed")

// Region is an anonymous shared memory file.
type Region struct {
	name string
	fd   int
	size int
}

// Create allocates a region of the given size that allows sealing.
func Create(name string, size int) (*Region, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("failed to create memfd: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to resize memfd to %d bytes: %w", size, err)
	}
	return &Region{name: name, fd: fd, size: size}, nil
}

// NewSealed creates a region holding a verbatim copy of data and seals it.
// Zero-length data yields a valid, sealed, empty region.
func NewSealed(name string, data []byte) (*Region, error) {
	r, err := Create(name, len(data))
	if err != nil {
		return nil, err
	}
	if err := r.Write(data); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.Seal(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Write copies data to the start of the region through a temporary shared
// mapping. The mapping is removed before returning so F_SEAL_WRITE can be
// applied afterwards.
func (r *Region) Write(data []byte) error {
	if r.fd < 0 {
		return ErrClosed
	}
	if len(data) > r.size {
		return fmt.Errorf("memfd: write of %d bytes exceeds region size %d", len(data), r.size)
	}
	if len(data) == 0 {
		return nil
	}
	mem, err := unix.Mmap(r.fd, 0, len(data), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap memfd: %w", err)
	}
	copy(mem, data)
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("failed to munmap memfd: %w", err)
	}
	return nil
}

// Seal forbids shrinking, growing and writing, then forbids changing the
// seals themselves.
func (r *Region) Seal() error {
	if r.fd < 0 {
		return ErrClosed
	}
	if _, err := unix.FcntlInt(uintptr(r.fd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_WRITE); err != nil {
		return fmt.Errorf("failed to add memfd seals: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(r.fd), unix.F_ADD_SEALS, unix.F_SEAL_SEAL); err != nil {
		return fmt.Errorf("failed to add memfd seal-seal: %w", err)
	}
	return nil
}

// FD returns the descriptor of the region.
func (r *Region) FD() int { return r.fd }

// Size returns the size of the region in bytes.
func (r *Region) Size() int { return r.size }

// Name returns the debug name the region was created with.
func (r *Region) Name() string { return r.name }

// Close closes the descriptor. Mappings made by a receiver stay valid.
func (r *Region) Close() error {
	if r.fd < 0 {
		return nil
	}
	fd := r.fd
	r.fd = -1
	return unix.Close(fd)
}

// Seals returns the seals currently applied to fd.
func Seals(fd int) (int, error) {
	seals, err := unix.FcntlInt(uintptr(fd), unix.F_GET_SEALS, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to query seals: %w", err)
	}
	return seals, nil
}

// Size returns the current size of the file behind fd.
func Size(fd int) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("failed to stat fd %d: %w", fd, err)
	}
	return st.Size, nil
}

// MapReadOnly maps size bytes of fd for reading. A zero size returns an
// empty slice without mapping.
func MapReadOnly(fd int, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap fd %d: %w", fd, err)
	}
	return mem, nil
}

// Unmap releases a mapping returned by MapReadOnly.
func Unmap(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}
