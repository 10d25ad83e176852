//go:build linux

package memfd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

func TestNewSealed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "pixels", data: bytes.Repeat([]byte{0x10, 0x20, 0x30, 0xff}, 64*64)},
		{name: "odd length", data: []byte{1, 2, 3}},
		{name: "empty", data: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewSealed("memfd-test", tt.data)
			if err != nil {
				t.Fatalf("NewSealed failed: %v", err)
			}
			defer r.Close()

			size, err := Size(r.FD())
			if err != nil {
				t.Fatalf("Size failed: %v", err)
			}
			if size != int64(len(tt.data)) {
				t.Errorf("size = %d, want %d", size, len(tt.data))
			}

			seals, err := Seals(r.FD())
			if err != nil {
				t.Fatalf("Seals failed: %v", err)
			}
			if seals&Sealed != Sealed {
				t.Errorf("seals = %#x, want %#x set", seals, Sealed)
			}

			mem, err := MapReadOnly(r.FD(), len(tt.data))
			if err != nil {
				t.Fatalf("MapReadOnly failed: %v", err)
			}
			defer Unmap(mem)
			if !bytes.Equal(mem, tt.data) {
				t.Error("mapped contents differ from input")
			}
		})
	}
}

func TestRegionAccessors(t *testing.T) {
	r, err := Create("testsrc-3", 64)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Close()

	if r.Name() != "testsrc-3" {
		t.Errorf("Name = %q, want testsrc-3", r.Name())
	}
	if r.Size() != 64 {
		t.Errorf("Size = %d, want 64", r.Size())
	}
	link, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", r.FD()))
	if err != nil {
		t.Skipf("cannot inspect fd: %v", err)
	}
	if !strings.Contains(link, "memfd:testsrc-3") {
		t.Errorf("fd link = %q, want memfd:testsrc-3", link)
	}
}

func TestSealedRejectsChanges(t *testing.T) {
	r, err := NewSealed("memfd-test", []byte("frame"))
	if err != nil {
		t.Fatalf("NewSealed failed: %v", err)
	}
	defer r.Close()

	if err := unix.Ftruncate(r.FD(), 1); !errors.Is(err, syscall.EPERM) {
		t.Errorf("shrink error = %v, want EPERM", err)
	}
	if err := unix.Ftruncate(r.FD(), 4096); !errors.Is(err, syscall.EPERM) {
		t.Errorf("grow error = %v, want EPERM", err)
	}
	if _, err := unix.Pwrite(r.FD(), []byte("x"), 0); !errors.Is(err, syscall.EPERM) {
		t.Errorf("write error = %v, want EPERM", err)
	}
	if _, err := unix.FcntlInt(uintptr(r.FD()), unix.F_ADD_SEALS, unix.F_SEAL_FUTURE_WRITE); !errors.Is(err, syscall.EPERM) {
		t.Errorf("add seal error = %v, want EPERM", err)
	}
	if _, err := unix.Mmap(r.FD(), 0, 5, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED); !errors.Is(err, syscall.EPERM) {
		t.Errorf("writable mmap error = %v, want EPERM", err)
	}
}

func TestWriteAfterClose(t *testing.T) {
	r, err := Create("memfd-test", 8)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write error = %v, want ErrClosed", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestWriteTooLarge(t *testing.T) {
	r, err := Create("memfd-test", 2)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer r.Close()
	if err := r.Write([]byte("abc")); err == nil {
		t.Error("expected error writing past region size")
	}
}
