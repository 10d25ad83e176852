package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/smazurov/pwmirror/cmd"
	"github.com/smazurov/pwmirror/internal/api"
	"github.com/smazurov/pwmirror/internal/events"
	"github.com/smazurov/pwmirror/internal/logging"
	"github.com/smazurov/pwmirror/internal/metrics"
	"github.com/smazurov/pwmirror/internal/negotiate"
	"github.com/smazurov/pwmirror/internal/session"
	"github.com/smazurov/pwmirror/internal/systemd"
	"github.com/smazurov/pwmirror/internal/testsrc"
	"github.com/smazurov/pwmirror/internal/transport"
	"golang.org/x/sync/errgroup"
)

// producerConfig is the validated subset of Options the producer needs.
type producerConfig struct {
	candidates     []negotiate.Candidate
	fps            uint32
	width, height  uint32
	buffers        int
	maxStageErrors int
}

func newProducerConfig(opts *Options) (producerConfig, error) {
	candidates, err := negotiate.ParseCandidates(cmd.SplitList(opts.StreamCandidates))
	if err != nil {
		return producerConfig{}, err
	}
	if len(candidates) == 0 {
		return producerConfig{}, fmt.Errorf("no stream candidates configured")
	}
	if opts.StreamFPS < 1 || opts.StreamFPS > int(negotiate.MaxFramerate.Num) {
		return producerConfig{}, fmt.Errorf("stream fps %d out of range", opts.StreamFPS)
	}
	if opts.StreamWidth < int(negotiate.MinSize.Width) || opts.StreamWidth > int(negotiate.MaxSize.Width) ||
		opts.StreamHeight < int(negotiate.MinSize.Height) || opts.StreamHeight > int(negotiate.MaxSize.Height) {
		return producerConfig{}, fmt.Errorf("stream size %dx%d out of range", opts.StreamWidth, opts.StreamHeight)
	}
	return producerConfig{
		candidates:     candidates,
		fps:            uint32(opts.StreamFPS),
		width:          uint32(opts.StreamWidth),
		height:         uint32(opts.StreamHeight),
		buffers:        opts.StreamBuffers,
		maxStageErrors: opts.SessionMaxStageErrors,
	}, nil
}

// runProducer serves the status API, waits for one consumer and runs a
// session against the synthetic source until the session ends or ctx is
// cancelled.
func runProducer(ctx context.Context, opts *Options, logger *slog.Logger) error {
	cfg, err := newProducerConfig(opts)
	if err != nil {
		return err
	}

	ln, err := transport.Listen(opts.Socket)
	if err != nil {
		return err
	}
	defer os.Remove(opts.Socket)
	defer ln.Close()

	bus := events.New()
	logging.SetLogCallback(func(entry logging.LogEntry) {
		bus.Publish(api.LogEvent(entry))
	})
	defer logging.SetLogCallback(nil)

	notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
	defer notifier.Stopping()
	defer notifier.Watch(bus)()

	apiOpts := api.Options{
		AuthUsername: opts.AuthUsername,
		AuthPassword: opts.AuthPassword,
		Properties:   testsrc.Properties,
	}
	if opts.MetricsEnabled {
		apiOpts.MetricsHandler = metrics.Handler()
	}
	server := api.NewServer(apiOpts, bus, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if opts.Listen != "" {
		g.Go(func() error {
			return server.Run(gctx, opts.Listen)
		})
	}
	notifier.Ready()
	notifier.Status("waiting for consumer on " + opts.Socket)

	g.Go(func() error {
		// The API has nothing left to report once the session is over.
		defer cancel()

		logger.Info("Waiting for consumer", "socket", opts.Socket)
		conn, err := acceptConsumer(gctx, ln)
		if err != nil {
			return err
		}
		sender := transport.NewSender(conn)
		defer sender.Close()

		src := testsrc.New(testsrc.Config{Buffers: cfg.buffers})
		sess := session.New(src, sender, session.Config{
			Candidates:     cfg.candidates,
			TargetFPS:      cfg.fps,
			DefaultWidth:   cfg.width,
			DefaultHeight:  cfg.height,
			MaxStageErrors: cfg.maxStageErrors,
			Bus:            bus,
		})
		server.SetSession(sess)
		defer metrics.DeleteSessionMetrics(sess.ID())

		logger.Info("Consumer connected", "session_id", sess.ID())
		if err := sess.Run(gctx); err != nil {
			return fmt.Errorf("session %s: %w", sess.ID(), err)
		}
		stats := sess.Stats()
		logger.Info("Session finished", "session_id", sess.ID(), "frames_sent", stats.FramesSent, "stale_dropped", stats.StaleDropped)
		return nil
	})

	return g.Wait()
}

// acceptConsumer waits for one consumer connection. Cancelling ctx closes
// the listener and returns ctx.Err().
func acceptConsumer(ctx context.Context, ln *net.UnixListener) (*net.UnixConn, error) {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.AcceptUnix()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept consumer: %w", err)
	}
	return conn, nil
}
