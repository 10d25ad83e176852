// Package session drives one capture stream from connection to shutdown.
//
// A Session owns the negotiated format, the stager and the consumer sender.
// All stream callbacks are handled on the goroutine calling Run; only Stop
// and the read accessors may be used from elsewhere.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/pwmirror/internal/events"
	"github.com/smazurov/pwmirror/internal/frame"
	"github.com/smazurov/pwmirror/internal/logging"
	"github.com/smazurov/pwmirror/internal/metrics"
	"github.com/smazurov/pwmirror/internal/negotiate"
	"github.com/smazurov/pwmirror/internal/stage"
	"github.com/smazurov/pwmirror/pkg/spa"
)

// DefaultMaxStageErrors is the number of consecutive staging failures that
// end a session.
const DefaultMaxStageErrors = 3

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("session already started")

// Config configures a Session.
type Config struct {
	// ID identifies the session in logs, events and metrics. A random UUID
	// is used when empty.
	ID string
	// Candidates are the (fourcc, modifier) pairs offered on connect.
	Candidates []negotiate.Candidate
	TargetFPS  uint32
	// DefaultWidth and DefaultHeight set the preferred size of the offer.
	DefaultWidth  uint32
	DefaultHeight uint32
	// MaxStageErrors consecutive staging failures end the session. Zero
	// means DefaultMaxStageErrors.
	MaxStageErrors int
	Bus            *events.Bus
}

// Stats are cumulative session counters.
type Stats struct {
	FramesSent      uint64 `json:"frames_sent"`
	StaleDropped    uint64 `json:"stale_dropped"`
	StageErrors     uint64 `json:"stage_errors"`
	MalformedParams uint64 `json:"malformed_params"`
	Negotiations    uint64 `json:"negotiations"`
	ZeroCopyFrames  uint64 `json:"zero_copy_frames"`
	CopiedFrames    uint64 `json:"copied_frames"`
}

// Session is the stream session driver.
type Session struct {
	id         string
	cfg        Config
	stream     Stream
	sender     Sender
	negotiator *negotiate.Negotiator
	stager     *stage.Stager
	bus        *events.Bus
	logger     *slog.Logger

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	// Loop-owned.
	connected   bool
	inFlight    *Buffer
	stageErrors int

	mu     sync.RWMutex
	state  State
	format frame.Format
	err    error
	stats  Stats
}

// New creates a session reading from stream and delivering to sender.
func New(stream Stream, sender Sender, cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.MaxStageErrors <= 0 {
		cfg.MaxStageErrors = DefaultMaxStageErrors
	}

	var opts []negotiate.Option
	if cfg.DefaultWidth > 0 && cfg.DefaultHeight > 0 {
		opts = append(opts, negotiate.WithDefaultSize(cfg.DefaultWidth, cfg.DefaultHeight))
	}

	return &Session{
		id:         cfg.ID,
		cfg:        cfg,
		stream:     stream,
		sender:     sender,
		negotiator: negotiate.New(opts...),
		stager:     stage.New("pwmirror-" + cfg.ID),
		bus:        cfg.Bus,
		logger:     logging.GetLogger("session").With("session_id", cfg.ID),
		stop:       make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Format returns the negotiated format, zero before negotiation.
func (s *Session) Format() frame.Format {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format
}

// Err returns the termination cause. It is nil while running and after a
// clean shutdown.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Stop asks the session to drain. It may be called from any goroutine and
// any number of times.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run connects the stream and processes events until the session ends. It
// returns the termination cause, nil on a clean stop.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.setState(StateConnecting)
	if ctx.Err() != nil {
		return s.drain(nil)
	}

	offer := s.negotiator.OfferParams(s.cfg.Candidates, s.cfg.TargetFPS)
	s.logger.Info("Connecting stream", "formats", len(offer), "fps", s.cfg.TargetFPS)
	if err := s.stream.Connect(ctx, offer); err != nil {
		if ctx.Err() != nil {
			return s.drain(nil)
		}
		return s.drain(fmt.Errorf("failed to connect stream: %w", err))
	}
	s.connected = true
	s.setState(StateNegotiating)

	streamEvents := s.stream.Events()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Session stopped")
			return s.drain(nil)

		case ev, ok := <-streamEvents:
			if !ok {
				return s.drain(nil)
			}
			done, err := s.handle(ev)
			if done {
				return s.drain(err)
			}
		}
	}
}

// handle processes one stream event. done ends the session with err as the
// cause.
func (s *Session) handle(ev Event) (bool, error) {
	switch e := ev.(type) {
	case ParamChanged:
		return s.onParamChanged(e)

	case Process:
		if err := s.onProcess(); err != nil {
			return true, err
		}
		return false, nil

	case Failed:
		s.logger.Error("Stream failed", "error", e.Err)
		return true, fmt.Errorf("stream failed: %w", e.Err)

	case Ended:
		s.logger.Info("Stream ended by producer")
		return true, nil

	default:
		s.logger.Warn("Ignoring unknown stream event", "event", fmt.Sprintf("%T", ev))
		return false, nil
	}
}

func (s *Session) onParamChanged(e ParamChanged) (bool, error) {
	if e.ID != spa.ParamFormat {
		s.logger.Debug("Ignoring param change", "id", e.ID)
		return false, nil
	}
	if e.Pod == nil {
		s.logger.Debug("Format cleared by producer")
		return false, nil
	}

	sel, err := s.negotiator.OnFormatSelected(e.Pod)
	if errors.Is(err, spa.ErrMalformedParameterObject) {
		s.logger.Warn("Dropping malformed format param", "error", err, "bytes", len(e.Pod))
		s.updateStats(func(st *Stats) { st.MalformedParams++ })
		metrics.IncMalformedParams(s.id)
		return false, nil
	}
	if err != nil {
		s.logger.Error("Producer selected an unusable format", "error", err)
		return true, err
	}

	if err := s.stream.UpdateParams(sel.Params); err != nil {
		return true, fmt.Errorf("failed to update buffer params: %w", err)
	}

	previous := s.Format()
	s.mu.Lock()
	s.format = sel.Format
	s.stats.Negotiations++
	s.mu.Unlock()
	metrics.IncNegotiations(s.id)

	s.logger.Info("Format negotiated", "format", sel.Format.String(), "renegotiation", !previous.IsZero())
	s.bus.Publish(events.FormatNegotiatedEvent{
		SessionID:   s.id,
		Width:       sel.Format.Width,
		Height:      sel.Format.Height,
		PixelFormat: sel.Format.PixelFormat.String(),
		Modifier:    sel.Format.Modifier,
		Timestamp:   timestamp(),
	})

	if s.State() == StateNegotiating {
		s.setState(StateStreaming)
	}
	return false, nil
}

// onProcess delivers the newest queued buffer and hands every older one
// straight back to the producer.
func (s *Session) onProcess() error {
	var newest *Buffer
	stale := 0
	for {
		b, ok := s.stream.Dequeue()
		if !ok {
			break
		}
		if newest != nil {
			s.stream.Queue(newest)
			stale++
		}
		newest = b
	}
	if newest == nil {
		return nil
	}

	if s.State() != StateStreaming {
		s.stream.Queue(newest)
		s.recordStale(stale + 1)
		return nil
	}
	s.recordStale(stale)

	s.inFlight = newest
	format := s.negotiator.Current()
	staged, err := s.stager.Stage(newest.Planes, format)
	if err != nil {
		s.inFlight = nil
		s.stream.Queue(newest)
		return s.onStageError(err)
	}
	s.stageErrors = 0

	sendErr := s.sender.SendFrame(staged.Planes)
	if err := staged.Close(); err != nil {
		s.logger.Warn("Failed to release staged regions", "error", err)
	}
	if sendErr != nil {
		s.logger.Error("Failed to send frame", "error", sendErr)
		return fmt.Errorf("failed to send frame: %w", sendErr)
	}

	s.inFlight = nil
	s.stream.Queue(newest)

	zeroCopy, copied, copiedBytes := 0, 0, 0
	for _, p := range staged.Planes {
		if p.Owned {
			copied++
			copiedBytes += p.Size
		} else {
			zeroCopy++
		}
	}
	s.updateStats(func(st *Stats) {
		st.FramesSent++
		if staged.ZeroCopy() {
			st.ZeroCopyFrames++
		} else {
			st.CopiedFrames++
		}
	})
	metrics.IncFramesSent(s.id)
	metrics.AddStagedPlanes(s.id, zeroCopy, copied, copiedBytes)
	return nil
}

func (s *Session) onStageError(err error) error {
	s.stageErrors++
	s.updateStats(func(st *Stats) { st.StageErrors++ })
	metrics.AddFramesDropped(s.id, metrics.DropStage, 1)
	s.bus.Publish(events.FrameDroppedEvent{
		SessionID: s.id,
		Reason:    err.Error(),
		Timestamp: timestamp(),
	})

	if s.stageErrors >= s.cfg.MaxStageErrors {
		s.logger.Error("Too many consecutive staging failures", "count", s.stageErrors, "error", err)
		return fmt.Errorf("%d consecutive staging failures: %w", s.stageErrors, err)
	}
	s.logger.Warn("Dropped frame", "error", err, "consecutive", s.stageErrors)
	return nil
}

func (s *Session) recordStale(n int) {
	if n == 0 {
		return
	}
	s.updateStats(func(st *Stats) { st.StaleDropped += uint64(n) })
	metrics.AddFramesDropped(s.id, metrics.DropStale, n)
}

// drain signals end-of-stream exactly once, releases the in-flight buffer
// and disconnects. cause becomes the session error.
func (s *Session) drain(cause error) error {
	s.mu.Lock()
	s.err = cause
	s.mu.Unlock()
	s.setState(StateDraining)

	if s.inFlight != nil {
		s.stream.Queue(s.inFlight)
		s.inFlight = nil
	}
	if err := s.sender.SignalEndOfStream(); err != nil {
		s.logger.Warn("Failed to signal end of stream", "error", err)
	}
	if s.connected {
		if err := s.stream.Disconnect(); err != nil {
			s.logger.Warn("Failed to disconnect stream", "error", err)
		}
		s.connected = false
	}

	s.setState(StateClosed)

	st := s.Stats()
	ended := events.SessionEndedEvent{
		SessionID:  s.id,
		FramesSent: st.FramesSent,
		Timestamp:  timestamp(),
	}
	if cause != nil {
		ended.Error = cause.Error()
		s.logger.Error("Session closed", "error", cause, "frames_sent", st.FramesSent)
	} else {
		s.logger.Info("Session closed", "frames_sent", st.FramesSent)
	}
	s.bus.Publish(ended)
	return cause
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from == to {
		return
	}
	s.logger.Debug("State changed", "from", from.String(), "to", to.String())
	metrics.SetSessionState(s.id, int(to), to.String())
	s.bus.Publish(events.SessionStateChangedEvent{
		SessionID: s.id,
		From:      from.String(),
		To:        to.String(),
		Timestamp: timestamp(),
	})
}

func (s *Session) updateStats(update func(*Stats)) {
	s.mu.Lock()
	update(&s.stats)
	s.mu.Unlock()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
