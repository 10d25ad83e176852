// Package spa implements the Simple Plugin API (SPA) POD encoding used by
// PipeWire to negotiate stream parameters.
//
// This package does not use cgo. Every POD is encoded in host byte order as
// a {size, type} header followed by the body, padded to 8 bytes, which matches
// the layout produced by spa_pod_builder byte for byte.
//
// # Building Parameters
//
// Parameters are objects holding an ordered list of properties:
//
//	obj := &spa.Object{
//	    ObjectType: spa.TypeObjectFormat,
//	    ID:         spa.ParamEnumFormat,
//	    Properties: []spa.Property{
//	        {Key: spa.FormatMediaType, Value: spa.ID(spa.MediaTypeVideo)},
//	        {Key: spa.FormatMediaSubtype, Value: spa.ID(spa.MediaSubtypeRaw)},
//	    },
//	}
//	pod := spa.Encode(obj)
//
// # Parsing Parameters
//
// Decode validates every header against the input before reading, so PODs
// received from another process can be parsed safely:
//
//	obj, err := spa.Decode(pod)
//	if errors.Is(err, spa.ErrMalformedParameterObject) {
//	    // drop it
//	}
package spa

// Type describes the kind of data encoded right after a POD header.
type Type uint32

// Basic and container types (spa/utils/type.h).
const (
	TypeNone Type = iota + 1
	TypeBool
	TypeID
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeString
	TypeBytes
	TypeRectangle
	TypeFraction
	TypeBitmap
	TypeArray
	TypeStruct
	TypeObject
	TypeSequence
	TypePointer
	TypeFd
	TypeChoice
	TypePod
)

// String returns the name of basic types.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeBool:
		return "Bool"
	case TypeID:
		return "Id"
	case TypeInt:
		return "Int"
	case TypeLong:
		return "Long"
	case TypeFloat:
		return "Float"
	case TypeDouble:
		return "Double"
	case TypeString:
		return "String"
	case TypeBytes:
		return "Bytes"
	case TypeRectangle:
		return "Rectangle"
	case TypeFraction:
		return "Fraction"
	case TypeBitmap:
		return "Bitmap"
	case TypeArray:
		return "Array"
	case TypeStruct:
		return "Struct"
	case TypeObject:
		return "Object"
	case TypeSequence:
		return "Sequence"
	case TypePointer:
		return "Pointer"
	case TypeFd:
		return "Fd"
	case TypeChoice:
		return "Choice"
	case TypePod:
		return "Pod"
	default:
		return "Unknown"
	}
}

// Object types.
const (
	TypeObjectPropInfo     uint32 = 0x40001
	TypeObjectProps        uint32 = 0x40002
	TypeObjectFormat       uint32 = 0x40003
	TypeObjectParamBuffers uint32 = 0x40004
	TypeObjectParamMeta    uint32 = 0x40005
)

// Parameter ids (spa/param/param.h).
const (
	ParamInvalid uint32 = iota
	ParamPropInfo
	ParamProps
	ParamEnumFormat
	ParamFormat
	ParamBuffers
	ParamMeta
)

// Format keys (spa/param/format.h).
const (
	FormatMediaType    uint32 = 0x00001
	FormatMediaSubtype uint32 = 0x00002

	FormatVideoFormat       uint32 = 0x20001
	FormatVideoModifier     uint32 = 0x20002
	FormatVideoSize         uint32 = 0x20003
	FormatVideoFramerate    uint32 = 0x20004
	FormatVideoMaxFramerate uint32 = 0x20005
)

// Media types and subtypes.
const (
	MediaTypeAudio uint32 = 1
	MediaTypeVideo uint32 = 2

	MediaSubtypeRaw uint32 = 1
)

// ParamBuffers keys (spa/param/buffers.h).
const (
	ParamBuffersBuffers uint32 = iota + 1
	ParamBuffersBlocks
	ParamBuffersSize
	ParamBuffersStride
	ParamBuffersAlign
	ParamBuffersDataType
)

// DataType identifies how a buffer's memory is provided (spa/buffer/buffer.h).
type DataType uint32

// Data types.
const (
	DataInvalid DataType = iota
	DataMemPtr
	DataMemFd
	DataDmaBuf
	DataMemID
)

// Mask returns the bit for d in a ParamBuffersDataType flags choice.
func (d DataType) Mask() int32 {
	return 1 << d
}

// IsDescriptor reports whether memory of this type is backed by a file descriptor.
func (d DataType) IsDescriptor() bool {
	return d == DataMemFd || d == DataDmaBuf
}

// VideoFormat is an enum value from spa/param/video/raw.h.
type VideoFormat uint32

// Video formats. Only the packed 32-bit RGB family is used for capture.
const (
	VideoFormatUnknown VideoFormat = 0
	VideoFormatRGBx    VideoFormat = 7
	VideoFormatBGRx    VideoFormat = 8
	VideoFormatxRGB    VideoFormat = 9
	VideoFormatxBGR    VideoFormat = 10
	VideoFormatRGBA    VideoFormat = 11
	VideoFormatBGRA    VideoFormat = 12
	VideoFormatARGB    VideoFormat = 13
	VideoFormatABGR    VideoFormat = 14
)

func (f VideoFormat) String() string {
	switch f {
	case VideoFormatRGBx:
		return "RGBx"
	case VideoFormatBGRx:
		return "BGRx"
	case VideoFormatxRGB:
		return "xRGB"
	case VideoFormatxBGR:
		return "xBGR"
	case VideoFormatRGBA:
		return "RGBA"
	case VideoFormatBGRA:
		return "BGRA"
	case VideoFormatARGB:
		return "ARGB"
	case VideoFormatABGR:
		return "ABGR"
	default:
		return "UNKNOWN"
	}
}

// PropFlags are the per-property flags of an object.
type PropFlags uint32

// Property flags.
const (
	PropReadOnly   PropFlags = 1 << 0
	PropHardware   PropFlags = 1 << 1
	PropHintDict   PropFlags = 1 << 2
	PropMandatory  PropFlags = 1 << 3
	PropDontFixate PropFlags = 1 << 4
)

// ChoiceType selects how the values of a Choice are interpreted.
type ChoiceType uint32

// Choice types.
const (
	ChoiceNone ChoiceType = iota
	ChoiceRange
	ChoiceStep
	ChoiceEnum
	ChoiceFlags
)

func (c ChoiceType) String() string {
	switch c {
	case ChoiceNone:
		return "None"
	case ChoiceRange:
		return "Range"
	case ChoiceStep:
		return "Step"
	case ChoiceEnum:
		return "Enum"
	case ChoiceFlags:
		return "Flags"
	default:
		return "Unknown"
	}
}
