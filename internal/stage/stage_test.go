//go:build linux

package stage

import (
	"bytes"
	"errors"
	"math"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/smazurov/pwmirror/internal/frame"
	"github.com/smazurov/pwmirror/pkg/linuxav/memfd"
	"github.com/smazurov/pwmirror/pkg/spa"
)

var testFormat = frame.Format{Width: 4, Height: 2, PixelFormat: spa.VideoFormatRGBA, Modifier: frame.ModifierLinear}

func openFD(t *testing.T) int {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "plane")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	fd, err := unix.Dup(int(f.Fd()))
	f.Close()
	if err != nil {
		t.Fatalf("Dup: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func isOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestStageDescriptorBacked(t *testing.T) {
	fd1 := openFD(t)
	fd2 := openFD(t)
	planes := []frame.RawPlane{
		frame.DescriptorBacked{FD: fd1, Offset: 0, Stride: 16},
		frame.DescriptorBacked{FD: fd2, Offset: 32, Stride: 8},
	}

	s := New("stage-test")
	staged, err := s.Stage(planes, testFormat)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	if !staged.ZeroCopy() {
		t.Error("expected zero-copy frame")
	}
	want := []frame.TransferablePlane{
		{FD: fd1, Offset: 0, Stride: 16},
		{FD: fd2, Offset: 32, Stride: 8},
	}
	for i, p := range staged.Planes {
		if p != want[i] {
			t.Errorf("plane %d = %+v, want %+v", i, p, want[i])
		}
	}
	if staged.Format != testFormat {
		t.Errorf("format = %v, want %v", staged.Format, testFormat)
	}

	if err := staged.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !isOpen(fd1) || !isOpen(fd2) {
		t.Error("Close closed a producer descriptor")
	}

	st := s.Stats()
	if st.ZeroCopyPlanes != 2 || st.CopiedPlanes != 0 || st.CopiedBytes != 0 || st.Frames != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStageMappedOnly(t *testing.T) {
	tests := []struct {
		name   string
		planes [][]byte
	}{
		{name: "single plane", planes: [][]byte{bytes.Repeat([]byte{0xff, 0, 0, 0xff}, 8)}},
		{name: "two planes", planes: [][]byte{[]byte("luma-plane-bytes"), []byte("chroma")}},
		{name: "zero length", planes: [][]byte{{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := make([]frame.RawPlane, len(tt.planes))
			for i, data := range tt.planes {
				raw[i] = frame.MappedOnly{Data: data, Offset: uint32(i), Stride: 16}
			}

			s := New("stage-test")
			staged, err := s.Stage(raw, testFormat)
			if err != nil {
				t.Fatalf("Stage failed: %v", err)
			}
			defer staged.Close()

			if staged.ZeroCopy() {
				t.Error("mapped frame reported zero-copy")
			}
			for i, p := range staged.Planes {
				if !p.Owned {
					t.Errorf("plane %d not owned", i)
				}
				if p.Offset != uint32(i) || p.Stride != 16 {
					t.Errorf("plane %d chunk = %d/%d, want %d/16", i, p.Offset, p.Stride, i)
				}
				size, err := memfd.Size(p.FD)
				if err != nil {
					t.Fatalf("Size: %v", err)
				}
				if size != int64(len(tt.planes[i])) {
					t.Errorf("plane %d size = %d, want %d", i, size, len(tt.planes[i]))
				}
				seals, err := memfd.Seals(p.FD)
				if err != nil {
					t.Fatalf("Seals: %v", err)
				}
				if seals&memfd.Sealed != memfd.Sealed {
					t.Errorf("plane %d seals = %#x", i, seals)
				}
				mem, err := memfd.MapReadOnly(p.FD, p.Size)
				if err != nil {
					t.Fatalf("MapReadOnly: %v", err)
				}
				if !bytes.Equal(mem, tt.planes[i]) {
					t.Errorf("plane %d contents differ", i)
				}
				memfd.Unmap(mem)
			}
		})
	}
}

func TestStageCloseReleasesOwned(t *testing.T) {
	s := New("stage-test")
	staged, err := s.Stage([]frame.RawPlane{frame.MappedOnly{Data: []byte("abc")}}, testFormat)
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	fd := staged.Planes[0].FD
	if err := staged.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if isOpen(fd) {
		t.Error("owned region still open after Close")
	}
	if err := staged.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestStageAtomic(t *testing.T) {
	// Beyond any descriptor limit, so it can never be reused by a region.
	const closed = math.MaxInt32

	tests := []struct {
		name   string
		planes []frame.RawPlane
		plane  int
	}{
		{
			name:   "negative descriptor",
			planes: []frame.RawPlane{frame.DescriptorBacked{FD: -1}},
			plane:  0,
		},
		{
			name: "closed descriptor after mapped plane",
			planes: []frame.RawPlane{
				frame.MappedOnly{Data: []byte("first")},
				frame.MappedOnly{Data: []byte("second")},
				frame.DescriptorBacked{FD: closed},
			},
			plane: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := openDescriptors(t)

			s := New("stage-test")
			staged, err := s.Stage(tt.planes, testFormat)
			if staged != nil {
				t.Fatal("expected nil frame on failure")
			}
			var se *StageError
			if !errors.As(err, &se) {
				t.Fatalf("error = %v, want *StageError", err)
			}
			if se.Code != ErrCodeResource || se.Plane != tt.plane {
				t.Errorf("error = %+v, want resource error on plane %d", se, tt.plane)
			}
			if !errors.Is(err, ErrNoDescriptor) {
				t.Errorf("error = %v, want ErrNoDescriptor", err)
			}
			if after := openDescriptors(t); after != before {
				t.Errorf("open descriptors %d -> %d, staged regions leaked", before, after)
			}
			if s.Stats().Failures != 1 || s.Stats().Frames != 0 {
				t.Errorf("stats = %+v", s.Stats())
			}
		})
	}
}

func TestStageEmptyFrame(t *testing.T) {
	s := New("stage-test")
	staged, err := s.Stage(nil, testFormat)
	if staged != nil {
		t.Fatal("expected nil frame for empty buffer")
	}
	var se *StageError
	if !errors.As(err, &se) || se.Code != ErrCodeResource {
		t.Fatalf("error = %v, want resource error", err)
	}
	if !errors.Is(err, ErrNoPlanes) {
		t.Errorf("error = %v, want ErrNoPlanes", err)
	}
	if st := s.Stats(); st.Failures != 1 || st.Frames != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func openDescriptors(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot list descriptors: %v", err)
	}
	return len(entries)
}
