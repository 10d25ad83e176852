package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/smazurov/pwmirror/internal/logging"
	"github.com/smazurov/pwmirror/internal/transport"
	"github.com/smazurov/pwmirror/pkg/linuxav/memfd"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// ReceiveOptions configures the consumer.
type ReceiveOptions struct {
	Socket string
	// Planes is the number of descriptors that make up one frame.
	Planes int
	// MaxFrames stops after that many frames. Zero reads until end-of-stream.
	MaxFrames int
	// RequireSealed fails on the first plane that is not fully sealed.
	// Producer descriptors passed through without copying are never sealed.
	RequireSealed bool
}

// ReceiveStats summarizes a consumer run.
type ReceiveStats struct {
	Frames   int
	Bytes    int64
	Sealed   int
	Unsealed int
}

// ErrUnsealed is returned by Receive when RequireSealed is set and a plane
// is not sealed.
var ErrUnsealed = errors.New("received plane is not sealed")

// CreateReceiveCmd creates the receive command.
func CreateReceiveCmd() *cobra.Command {
	var opts ReceiveOptions
	var logJSON bool

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Connect as a consumer and log received frames",
		Long: `Connects to a running producer, receives one descriptor per plane, checks its size and seals ` +
			`and logs every frame until the producer signals end-of-stream.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("receive")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, err := Receive(ctx, opts, logger)
			logger.Info("Receiver finished",
				"frames", stats.Frames,
				"bytes", stats.Bytes,
				"sealed", stats.Sealed,
				"unsealed", stats.Unsealed)
			if err != nil {
				logger.Error("Receive failed", "error", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&opts.Socket, "socket", "s", "pwmirror.sock", "Producer socket path")
	cmd.Flags().IntVar(&opts.Planes, "planes", 1, "Descriptors per frame")
	cmd.Flags().IntVarP(&opts.MaxFrames, "frames", "n", 0, "Stop after this many frames (0 = until end-of-stream)")
	cmd.Flags().BoolVar(&opts.RequireSealed, "require-sealed", false, "Fail on planes that are not sealed")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	return cmd
}

// Receive reads frames from the producer at opts.Socket until end-of-stream,
// MaxFrames or ctx cancellation. Every received descriptor is closed before
// the next frame is read.
func Receive(ctx context.Context, opts ReceiveOptions, logger *slog.Logger) (ReceiveStats, error) {
	var stats ReceiveStats
	if opts.Planes < 1 {
		return stats, fmt.Errorf("planes must be at least 1, got %d", opts.Planes)
	}

	rx, err := transport.Dial(opts.Socket)
	if err != nil {
		return stats, err
	}
	defer rx.Close()
	stopClose := context.AfterFunc(ctx, func() { rx.Close() })
	defer stopClose()

	logger.Info("Connected to producer", "socket", opts.Socket, "planes", opts.Planes)

	for opts.MaxFrames == 0 || stats.Frames < opts.MaxFrames {
		fds, err := rx.RecvFrame(opts.Planes)
		if errors.Is(err, io.EOF) {
			logger.Info("End of stream")
			return stats, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return stats, nil
			}
			return stats, fmt.Errorf("frame %d: %w", stats.Frames, err)
		}

		err = inspectFrame(fds, &stats, opts.RequireSealed, logger)
		for _, fd := range fds {
			unix.Close(fd)
		}
		if err != nil {
			return stats, fmt.Errorf("frame %d: %w", stats.Frames, err)
		}
		stats.Frames++
	}
	return stats, nil
}

func inspectFrame(fds []int, stats *ReceiveStats, requireSealed bool, logger *slog.Logger) error {
	sizes := make([]int64, len(fds))
	for i, fd := range fds {
		size, err := memfd.Size(fd)
		if err != nil {
			return fmt.Errorf("plane %d: %w", i, err)
		}
		sizes[i] = size
		stats.Bytes += size

		// Producer buffers are not always memfds; those report no seals.
		seals, err := memfd.Seals(fd)
		if err == nil && seals&memfd.Sealed == memfd.Sealed {
			stats.Sealed++
			continue
		}
		stats.Unsealed++
		if requireSealed {
			return fmt.Errorf("plane %d: %w", i, ErrUnsealed)
		}
	}

	logger.Debug("Frame received", "frame", stats.Frames, "sizes", sizes)
	return nil
}
