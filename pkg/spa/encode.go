package spa

import (
	"encoding/binary"
	"math"
)

// Encode serializes obj as a single object POD.
func Encode(obj *Object) []byte {
	return AppendValue(nil, obj)
}

// AppendValue appends the POD representation of v, including the trailing
// padding, to data and returns the extended slice.
func AppendValue(data []byte, v Value) []byte {
	start := len(data)
	data = appendHeader(data, 0, v.Type())
	data = appendBody(data, v)
	size := len(data) - start - headerSize
	binary.NativeEndian.PutUint32(data[start:], uint32(size))
	return pad(data, size)
}

const headerSize = 8

func appendHeader(data []byte, size uint32, t Type) []byte {
	data = binary.NativeEndian.AppendUint32(data, size)
	return binary.NativeEndian.AppendUint32(data, uint32(t))
}

// appendBody writes the body of v without header or padding.
func appendBody(data []byte, v Value) []byte {
	switch v := v.(type) {
	case ID:
		return binary.NativeEndian.AppendUint32(data, uint32(v))
	case Int:
		return binary.NativeEndian.AppendUint32(data, uint32(v))
	case Long:
		return binary.NativeEndian.AppendUint64(data, uint64(v))
	case Bool:
		var b uint32
		if v {
			b = 1
		}
		return binary.NativeEndian.AppendUint32(data, b)
	case Rectangle:
		data = binary.NativeEndian.AppendUint32(data, v.Width)
		return binary.NativeEndian.AppendUint32(data, v.Height)
	case Fraction:
		data = binary.NativeEndian.AppendUint32(data, v.Num)
		return binary.NativeEndian.AppendUint32(data, v.Denom)
	case *Object:
		data = binary.NativeEndian.AppendUint32(data, v.ObjectType)
		data = binary.NativeEndian.AppendUint32(data, v.ID)
		for _, p := range v.Properties {
			data = binary.NativeEndian.AppendUint32(data, p.Key)
			data = binary.NativeEndian.AppendUint32(data, uint32(p.Flags))
			data = AppendValue(data, p.Value)
		}
		return data
	case *Choice:
		data = binary.NativeEndian.AppendUint32(data, uint32(v.Choice))
		data = binary.NativeEndian.AppendUint32(data, v.Flags)
		if len(v.Values) == 0 {
			return appendHeader(data, 0, TypeNone)
		}
		kind := v.Values[0].Type()
		size, _ := fixedSize(kind)
		data = appendHeader(data, size, kind)
		for _, child := range v.Values {
			data = appendBody(data, child)
		}
		return data
	default:
		return data
	}
}

func pad(data []byte, size int) []byte {
	if rem := size % 8; rem != 0 {
		data = append(data, make([]byte, 8-rem)...)
	}
	return data
}

// roundUp8 returns n rounded up to a multiple of 8, saturating at MaxUint32.
func roundUp8(n uint32) uint32 {
	if n > math.MaxUint32-7 {
		return math.MaxUint32
	}
	return (n + 7) &^ 7
}
