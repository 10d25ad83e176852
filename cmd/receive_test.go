//go:build linux

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/pwmirror/internal/frame"
	"github.com/smazurov/pwmirror/internal/transport"
	"github.com/smazurov/pwmirror/pkg/linuxav/memfd"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve accepts one consumer and hands its sender to produce. Cleanup waits
// for produce to return, so resources created before serve outlive it.
func serve(t *testing.T, produce func(*transport.Sender)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pwmirror.sock")
	ln, err := transport.Listen(path)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	done := make(chan struct{})
	t.Cleanup(func() {
		ln.Close()
		<-done
	})

	go func() {
		defer close(done)
		conn, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		tx := transport.NewSender(conn)
		defer tx.Close()
		produce(tx)
	}()
	return path
}

func region(t *testing.T, data []byte, seal bool) *memfd.Region {
	t.Helper()
	var (
		r   *memfd.Region
		err error
	)
	if seal {
		r, err = memfd.NewSealed("receive-test", data)
	} else {
		r, err = memfd.Create("receive-test", len(data))
		if err == nil {
			err = r.Write(data)
		}
	}
	if err != nil {
		t.Fatalf("memfd failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func plane(r *memfd.Region) frame.TransferablePlane {
	return frame.TransferablePlane{FD: r.FD(), Stride: 4, Size: r.Size()}
}

func TestReceiveUntilEndOfStream(t *testing.T) {
	y := region(t, bytes.Repeat([]byte{1}, 64), true)
	uv := region(t, bytes.Repeat([]byte{2}, 32), true)

	path := serve(t, func(tx *transport.Sender) {
		for range 3 {
			if err := tx.SendFrame([]frame.TransferablePlane{plane(y), plane(uv)}); err != nil {
				t.Errorf("SendFrame failed: %v", err)
				return
			}
		}
		if err := tx.SignalEndOfStream(); err != nil {
			t.Errorf("SignalEndOfStream failed: %v", err)
		}
	})

	stats, err := Receive(context.Background(), ReceiveOptions{Socket: path, Planes: 2, RequireSealed: true}, quietLogger())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	want := ReceiveStats{Frames: 3, Bytes: 3 * 96, Sealed: 6}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestReceiveMaxFrames(t *testing.T) {
	r := region(t, []byte("abcd"), true)
	release := make(chan struct{})

	path := serve(t, func(tx *transport.Sender) {
		for range 5 {
			if err := tx.SendFrame([]frame.TransferablePlane{plane(r)}); err != nil {
				return
			}
		}
		<-release
	})
	t.Cleanup(func() { close(release) })

	stats, err := Receive(context.Background(), ReceiveOptions{Socket: path, Planes: 1, MaxFrames: 2}, quietLogger())
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if stats.Frames != 2 {
		t.Errorf("frames = %d, want 2", stats.Frames)
	}
}

func TestReceiveRequireSealed(t *testing.T) {
	tests := []struct {
		name    string
		require bool
		wantErr error
	}{
		{name: "tolerated", require: false},
		{name: "rejected", require: true, wantErr: ErrUnsealed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := region(t, []byte("open"), false)
			path := serve(t, func(tx *transport.Sender) {
				_ = tx.SendFrame([]frame.TransferablePlane{plane(r)})
				_ = tx.SignalEndOfStream()
			})

			stats, err := Receive(context.Background(), ReceiveOptions{Socket: path, Planes: 1, RequireSealed: tt.require}, quietLogger())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if stats.Unsealed != 1 {
				t.Errorf("unsealed = %d, want 1", stats.Unsealed)
			}
		})
	}
}

func TestReceiveCancel(t *testing.T) {
	release := make(chan struct{})
	path := serve(t, func(*transport.Sender) { <-release })
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Receive(ctx, ReceiveOptions{Socket: path, Planes: 1}, quietLogger())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Receive = %v, want nil after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancel")
	}
}

func TestReceiveErrors(t *testing.T) {
	if _, err := Receive(context.Background(), ReceiveOptions{Socket: "x", Planes: 0}, quietLogger()); err == nil {
		t.Error("expected error for zero planes")
	}

	missing := filepath.Join(t.TempDir(), "missing.sock")
	_, err := Receive(context.Background(), ReceiveOptions{Socket: missing, Planes: 1}, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "failed to connect") {
		t.Errorf("err = %v, want connect failure", err)
	}
}
