//go:build !linux

// Package memfd provides sealable shared memory. Only Linux supports it;
// on other platforms every function returns ErrUnsupported.
package memfd

import "errors"

// ErrUnsupported is returned on platforms without memfd_create.
var ErrUnsupported = errors.New("memfd: requires linux")

// ErrClosed is returned when operating on a closed region.
var ErrClosed = errors.New("memfd: region closed")

// Sealed is the full set of seals applied by Seal.
const Sealed = 0

// Region is an anonymous shared memory file.
type Region struct{}

// Create returns ErrUnsupported.
func Create(string, int) (*Region, error) { return nil, ErrUnsupported }

// NewSealed returns ErrUnsupported.
func NewSealed(string, []byte) (*Region, error) { return nil, ErrUnsupported }

// Write returns ErrUnsupported.
func (r *Region) Write([]byte) error { return ErrUnsupported }

// Seal returns ErrUnsupported.
func (r *Region) Seal() error { return ErrUnsupported }

// FD returns -1.
func (r *Region) FD() int { return -1 }

// Size returns 0.
func (r *Region) Size() int { return 0 }

// Name returns an empty string.
func (r *Region) Name() string { return "" }

// Close is a no-op.
func (r *Region) Close() error { return nil }

// Seals returns ErrUnsupported.
func Seals(int) (int, error) { return 0, ErrUnsupported }

// Size returns ErrUnsupported.
func Size(int) (int64, error) { return 0, ErrUnsupported }

// MapReadOnly returns ErrUnsupported.
func MapReadOnly(int, int) ([]byte, error) { return nil, ErrUnsupported }

// Unmap returns ErrUnsupported.
func Unmap([]byte) error { return ErrUnsupported }
