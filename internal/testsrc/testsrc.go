// Package testsrc is a synthetic capture producer. It answers a format
// offer the way a compositor would, then generates a moving test pattern at
// the negotiated framerate into a small buffer pool.
//
// When the session asks for descriptor-backed buffers the pool is made of
// memfd regions and frames take the zero-copy path; otherwise buffers are
// plain memory and the session has to copy them.
package testsrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/pwmirror/internal/frame"
	"github.com/smazurov/pwmirror/internal/logging"
	"github.com/smazurov/pwmirror/internal/session"
	"github.com/smazurov/pwmirror/pkg/linuxav/memfd"
	"github.com/smazurov/pwmirror/pkg/spa"
)

// Properties are the stream properties of a screen capture node.
var Properties = map[string]string{
	"media.type":     "Video",
	"media.category": "Capture",
	"media.role":     "Screen",
}

const bytesPerPixel = 4

// ErrNoOffer is returned by Connect when no usable format was offered.
var ErrNoOffer = errors.New("no usable format in offer")

// Config configures a Source.
type Config struct {
	// Buffers is the pool size. Defaults to 4.
	Buffers int
	// MaxFPS caps the generation rate. Zero uses the negotiated framerate.
	MaxFPS uint32
}

// Stats are producer counters.
type Stats struct {
	FramesProduced uint64
	FramesSkipped  uint64
}

type slot struct {
	buf    *session.Buffer
	region *memfd.Region
	data   []byte
	size   int
	busy   bool
}

// Source implements session.Stream.
type Source struct {
	cfg    Config
	logger *slog.Logger

	events chan session.Event
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	connected bool
	offer     *spa.Object
	format    frame.Format
	fps       uint32
	descMode  bool
	slots     []*slot
	ready     []*slot
	seq       uint64
	stats     Stats
}

// New creates a source.
func New(cfg Config) *Source {
	if cfg.Buffers <= 0 {
		cfg.Buffers = 4
	}
	s := &Source{
		cfg:    cfg,
		logger: logging.GetLogger("testsrc"),
		events: make(chan session.Event, 16),
		stopCh: make(chan struct{}),
	}
	for i := range cfg.Buffers {
		s.slots = append(s.slots, &slot{buf: &session.Buffer{ID: i}})
	}
	return s
}

// Connect picks the first offered format, fixates it and starts producing.
func (s *Source) Connect(ctx context.Context, params [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return errors.New("source already connected")
	}
	if len(params) == 0 {
		return ErrNoOffer
	}

	offer, err := spa.Decode(params[0])
	if err != nil {
		return fmt.Errorf("failed to decode offer: %w", err)
	}
	format, fps, err := fixate(offer)
	if err != nil {
		return err
	}
	if s.cfg.MaxFPS > 0 && fps > s.cfg.MaxFPS {
		fps = s.cfg.MaxFPS
	}

	s.offer = offer
	s.format = format
	s.fps = fps
	s.connected = true
	s.logger.Info("Source connected", "format", format.String(), "fps", fps, "properties", Properties)

	s.events <- session.ParamChanged{ID: spa.ParamFormat, Pod: formatPod(format, fps)}

	s.wg.Add(1)
	go s.generate(ctx, fps)
	return nil
}

// Events implements session.Stream.
func (s *Source) Events() <-chan session.Event { return s.events }

// Dequeue returns the oldest filled buffer.
func (s *Source) Dequeue() (*session.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return nil, false
	}
	sl := s.ready[0]
	s.ready = s.ready[1:]
	return sl.buf, true
}

// Queue returns a buffer to the pool.
func (s *Source) Queue(b *session.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b == nil || b.ID < 0 || b.ID >= len(s.slots) {
		return
	}
	s.slots[b.ID].busy = false
}

// UpdateParams accepts the consumer's buffer requirements. A dataType mask
// allowing MemFd switches the pool to memfd-backed buffers.
func (s *Source) UpdateParams(params [][]byte) error {
	for _, raw := range params {
		obj, err := spa.Decode(raw)
		if err != nil {
			return fmt.Errorf("failed to decode buffer params: %w", err)
		}
		if obj.ObjectType != spa.TypeObjectParamBuffers {
			continue
		}
		p, ok := obj.Prop(spa.ParamBuffersDataType)
		if !ok {
			continue
		}
		mask, ok := p.Value.(*spa.Choice)
		if !ok || len(mask.Values) == 0 {
			continue
		}
		bits, ok := mask.Values[0].(spa.Int)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.descMode = int32(bits)&spa.DataMemFd.Mask() != 0
		s.logger.Debug("Buffer params accepted", "descriptor_backed", s.descMode)
		s.mu.Unlock()
	}
	return nil
}

// Renegotiate switches to a new size mid-stream.
func (s *Source) Renegotiate(width, height uint32) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return errors.New("source not connected")
	}
	s.format.Width = width
	s.format.Height = height
	pod := formatPod(s.format, s.fps)
	s.mu.Unlock()

	select {
	case s.events <- session.ParamChanged{ID: spa.ParamFormat, Pod: pod}:
		return nil
	case <-s.stopCh:
		return errors.New("source disconnected")
	}
}

// Disconnect stops production and releases the pool.
func (s *Source) Disconnect() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, sl := range s.slots {
		if sl.region != nil {
			errs = append(errs, sl.region.Close())
			sl.region = nil
		}
	}
	s.logger.Info("Source disconnected", "frames_produced", s.stats.FramesProduced, "frames_skipped", s.stats.FramesSkipped)
	return errors.Join(errs...)
}

// Stats returns producer counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Source) generate(ctx context.Context, fps uint32) {
	defer s.wg.Done()

	if fps == 0 {
		fps = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.produce(); err != nil {
				s.logger.Error("Producer failed", "error", err)
				select {
				case s.events <- session.Failed{Err: err}:
				case <-s.stopCh:
				}
				return
			}
			select {
			case s.events <- session.Process{}:
			default:
				// A pending Process already covers this buffer.
			}
		}
	}
}

// produce fills the next free buffer with the test pattern.
func (s *Source) produce() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sl *slot
	for _, candidate := range s.slots {
		if !candidate.busy {
			sl = candidate
			break
		}
	}
	if sl == nil {
		s.stats.FramesSkipped++
		return nil
	}

	stride := int(s.format.Width) * bytesPerPixel
	size := stride * int(s.format.Height)
	pixels := pattern(s.format.Width, s.format.Height, s.seq)
	s.seq++

	if s.descMode {
		if sl.region == nil || sl.size != size {
			if sl.region != nil {
				sl.region.Close()
			}
			region, err := memfd.Create(fmt.Sprintf("testsrc-%d", sl.buf.ID), size)
			if err != nil {
				return err
			}
			s.logger.Debug("Buffer region allocated", "name", region.Name(), "size", size)
			sl.region = region
			sl.size = size
		}
		if err := sl.region.Write(pixels); err != nil {
			return err
		}
		sl.buf.Planes = []frame.RawPlane{frame.DescriptorBacked{FD: sl.region.FD(), Stride: int32(stride)}}
	} else {
		if sl.region != nil {
			sl.region.Close()
			sl.region = nil
		}
		sl.data = pixels
		sl.size = size
		sl.buf.Planes = []frame.RawPlane{frame.MappedOnly{Data: sl.data, Stride: int32(stride)}}
	}

	sl.busy = true
	s.ready = append(s.ready, sl)
	s.stats.FramesProduced++
	return nil
}

// pattern draws diagonal bands that shift by one pixel per frame.
func pattern(width, height uint32, seq uint64) []byte {
	stride := int(width) * bytesPerPixel
	data := make([]byte, stride*int(height))
	for y := range int(height) {
		row := data[y*stride : (y+1)*stride]
		for x := range int(width) {
			v := byte(uint64(x+y) + seq)
			px := row[x*bytesPerPixel : (x+1)*bytesPerPixel]
			px[0], px[1], px[2], px[3] = v, v<<1, ^v, 0xff
		}
	}
	return data
}

// fixate reduces one EnumFormat entry to concrete values.
func fixate(offer *spa.Object) (frame.Format, uint32, error) {
	var f frame.Format

	p, ok := offer.Prop(spa.FormatVideoFormat)
	if !ok {
		return f, 0, fmt.Errorf("%w: no pixel format", ErrNoOffer)
	}
	id, ok := spa.Fixate(p.Value).(spa.ID)
	if !ok {
		return f, 0, fmt.Errorf("%w: pixel format is not an id", ErrNoOffer)
	}
	f.PixelFormat = spa.VideoFormat(id)

	p, ok = offer.Prop(spa.FormatVideoSize)
	if !ok {
		return f, 0, fmt.Errorf("%w: no size", ErrNoOffer)
	}
	size, ok := spa.Fixate(p.Value).(spa.Rectangle)
	if !ok {
		return f, 0, fmt.Errorf("%w: size is not a rectangle", ErrNoOffer)
	}
	f.Width, f.Height = size.Width, size.Height

	f.Modifier = frame.ModifierInvalid
	if p, ok := offer.Prop(spa.FormatVideoModifier); ok {
		if mod, ok := spa.Fixate(p.Value).(spa.Long); ok {
			f.Modifier = uint64(mod)
		}
	}

	fps := uint32(30)
	if p, ok := offer.Prop(spa.FormatVideoFramerate); ok {
		if fr, ok := spa.Fixate(p.Value).(spa.Fraction); ok && fr.Denom != 0 && fr.Num > 0 {
			fps = fr.Num / fr.Denom
		}
	}
	return f, fps, nil
}

func formatPod(f frame.Format, fps uint32) []byte {
	return spa.Encode(&spa.Object{
		ObjectType: spa.TypeObjectFormat,
		ID:         spa.ParamFormat,
		Properties: []spa.Property{
			{Key: spa.FormatMediaType, Value: spa.ID(spa.MediaTypeVideo)},
			{Key: spa.FormatMediaSubtype, Value: spa.ID(spa.MediaSubtypeRaw)},
			{Key: spa.FormatVideoFormat, Value: spa.ID(f.PixelFormat)},
			{Key: spa.FormatVideoModifier, Flags: spa.PropMandatory, Value: spa.Long(f.Modifier)},
			{Key: spa.FormatVideoSize, Value: spa.Rectangle{Width: f.Width, Height: f.Height}},
			{Key: spa.FormatVideoFramerate, Value: spa.Fraction{Num: fps, Denom: 1}},
		},
	})
}
