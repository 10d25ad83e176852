// Package negotiate builds the format offer sent to a PipeWire stream and
// turns the format chosen by the remote side into a frame.Format.
package negotiate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/smazurov/pwmirror/internal/frame"
	"github.com/smazurov/pwmirror/pkg/spa"
)

// ErrUnrecognizedFormat is returned when the selected format lacks a concrete
// pixel format or size, or uses a pixel format outside the vocabulary.
var ErrUnrecognizedFormat = errors.New("unrecognized format")

// Size limits advertised in every offer.
var (
	MinSize = spa.Rectangle{Width: 1, Height: 1}
	MaxSize = spa.Rectangle{Width: 8192, Height: 8192}
)

// Framerate limits advertised in every offer.
var (
	MinFramerate = spa.Fraction{Num: 0, Denom: 1}
	MaxFramerate = spa.Fraction{Num: 1000, Denom: 1}
)

// DefaultSize is the preferred size when none is configured.
var DefaultSize = spa.Rectangle{Width: 256, Height: 256}

// DescriptorDataTypes is the buffer data type mask requested after a format
// is selected: every fd-backed memory type.
var DescriptorDataTypes = descriptorMask()

func descriptorMask() int32 {
	var mask int32
	for d := spa.DataInvalid; d <= spa.DataMemID; d++ {
		if d.IsDescriptor() {
			mask |= d.Mask()
		}
	}
	return mask
}

// Candidate is a (fourcc, modifier) pair the capture side can consume.
type Candidate struct {
	Code     uint32
	Modifier uint64
}

// Selection is the outcome of a format selection: the accepted format and
// the parameters to push back to the stream.
type Selection struct {
	Format frame.Format
	Params [][]byte
}

// Negotiator owns the current frame.Format of a stream.
type Negotiator struct {
	defaultSize spa.Rectangle
	current     frame.Format
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithDefaultSize sets the preferred size advertised in offers.
func WithDefaultSize(width, height uint32) Option {
	return func(n *Negotiator) {
		n.defaultSize = spa.Rectangle{Width: width, Height: height}
	}
}

// New creates a negotiator.
func New(opts ...Option) *Negotiator {
	n := &Negotiator{defaultSize: DefaultSize}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Current returns the last accepted format, zero if none.
func (n *Negotiator) Current() frame.Format {
	return n.current
}

// BuildOffer returns one EnumFormat object per distinct supported pixel
// format, in the order formats first appear. Modifiers of the same format
// are merged into one enum choice whose default is the first modifier seen.
// Candidates with unsupported fourccs are dropped.
func (n *Negotiator) BuildOffer(candidates []Candidate, targetFPS uint32) []*spa.Object {
	var order []spa.VideoFormat
	modifiers := make(map[spa.VideoFormat][]spa.Long)

	for _, c := range candidates {
		vf, ok := VideoFormatFromDRM(c.Code)
		if !ok {
			continue
		}
		mods, seen := modifiers[vf]
		if !seen {
			order = append(order, vf)
		}
		if !slices.Contains(mods, spa.Long(c.Modifier)) {
			modifiers[vf] = append(mods, spa.Long(c.Modifier))
		}
	}

	offer := make([]*spa.Object, 0, len(order))
	for _, vf := range order {
		mods := modifiers[vf]
		offer = append(offer, &spa.Object{
			ObjectType: spa.TypeObjectFormat,
			ID:         spa.ParamEnumFormat,
			Properties: []spa.Property{
				{Key: spa.FormatMediaType, Value: spa.ID(spa.MediaTypeVideo)},
				{Key: spa.FormatMediaSubtype, Value: spa.ID(spa.MediaSubtypeRaw)},
				{Key: spa.FormatVideoFormat, Value: spa.ID(vf)},
				{
					Key:   spa.FormatVideoModifier,
					Flags: spa.PropMandatory | spa.PropDontFixate,
					Value: spa.EnumLong(mods[0], mods...),
				},
				{Key: spa.FormatVideoSize, Value: spa.RangeRectangle(n.defaultSize, MinSize, MaxSize)},
				{Key: spa.FormatVideoFramerate, Value: spa.RangeFraction(
					spa.Fraction{Num: targetFPS, Denom: 1}, MinFramerate, MaxFramerate,
				)},
			},
		})
	}
	return offer
}

// OfferParams encodes the offer for Stream.Connect.
func (n *Negotiator) OfferParams(candidates []Candidate, targetFPS uint32) [][]byte {
	offer := n.BuildOffer(candidates, targetFPS)
	params := make([][]byte, len(offer))
	for i, obj := range offer {
		params[i] = spa.Encode(obj)
	}
	return params
}

// OnFormatSelected parses the Format parameter chosen by the remote side.
// On success the result replaces the current format and the selection
// carries a ParamBuffers request for descriptor-backed buffers. Decoding
// failures wrap spa.ErrMalformedParameterObject; a well-formed object that
// cannot be used wraps ErrUnrecognizedFormat. The current format is left
// untouched on error.
func (n *Negotiator) OnFormatSelected(raw []byte) (Selection, error) {
	obj, err := spa.Decode(raw)
	if err != nil {
		return Selection{}, fmt.Errorf("failed to decode selected format: %w", err)
	}

	format, err := parseFormat(obj)
	if err != nil {
		return Selection{}, err
	}

	n.current = format
	return Selection{
		Format: format,
		Params: [][]byte{spa.Encode(BufferParams())},
	}, nil
}

// BufferParams returns the ParamBuffers object requesting descriptor-backed
// buffers. The remote may ignore it and hand out mapped memory instead.
func BufferParams() *spa.Object {
	return &spa.Object{
		ObjectType: spa.TypeObjectParamBuffers,
		ID:         spa.ParamBuffers,
		Properties: []spa.Property{
			{Key: spa.ParamBuffersDataType, Value: spa.FlagsInt(DescriptorDataTypes)},
		},
	}
}

func parseFormat(obj *spa.Object) (frame.Format, error) {
	if obj.ObjectType != spa.TypeObjectFormat {
		return frame.Format{}, fmt.Errorf("%w: object type %#x is not a format", ErrUnrecognizedFormat, obj.ObjectType)
	}
	if err := expectID(obj, spa.FormatMediaType, spa.MediaTypeVideo); err != nil {
		return frame.Format{}, err
	}
	if err := expectID(obj, spa.FormatMediaSubtype, spa.MediaSubtypeRaw); err != nil {
		return frame.Format{}, err
	}

	p, ok := obj.Prop(spa.FormatVideoFormat)
	if !ok {
		return frame.Format{}, fmt.Errorf("%w: no pixel format", ErrUnrecognizedFormat)
	}
	id, ok := p.Value.(spa.ID)
	if !ok {
		return frame.Format{}, fmt.Errorf("%w: pixel format is %s, not a fixed id", ErrUnrecognizedFormat, p.Value.Type())
	}
	vf := spa.VideoFormat(id)
	if !Supported(vf) {
		return frame.Format{}, fmt.Errorf("%w: pixel format %d", ErrUnrecognizedFormat, uint32(vf))
	}

	p, ok = obj.Prop(spa.FormatVideoSize)
	if !ok {
		return frame.Format{}, fmt.Errorf("%w: no size", ErrUnrecognizedFormat)
	}
	size, ok := p.Value.(spa.Rectangle)
	if !ok {
		return frame.Format{}, fmt.Errorf("%w: size is %s, not a fixed rectangle", ErrUnrecognizedFormat, p.Value.Type())
	}
	if size.Width == 0 || size.Height == 0 {
		return frame.Format{}, fmt.Errorf("%w: empty size %dx%d", ErrUnrecognizedFormat, size.Width, size.Height)
	}

	modifier := frame.ModifierInvalid
	if p, ok := obj.Prop(spa.FormatVideoModifier); ok {
		// The producer may leave the modifier unfixated; take its default.
		switch v := spa.Fixate(p.Value).(type) {
		case spa.Long:
			modifier = uint64(v)
		case spa.ID:
			modifier = uint64(v)
		default:
			return frame.Format{}, fmt.Errorf("%w: modifier is not an integer", ErrUnrecognizedFormat)
		}
	}

	return frame.Format{
		Width:       size.Width,
		Height:      size.Height,
		PixelFormat: vf,
		Modifier:    modifier,
	}, nil
}

func expectID(obj *spa.Object, key, want uint32) error {
	p, ok := obj.Prop(key)
	if !ok {
		// Some producers omit media type keys in fixated formats.
		return nil
	}
	id, ok := spa.Fixate(p.Value).(spa.ID)
	if !ok || uint32(id) != want {
		return fmt.Errorf("%w: key %#x is %v, want %d", ErrUnrecognizedFormat, key, p.Value, want)
	}
	return nil
}
