package spa

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedParameterObject is returned for input that is truncated,
// inconsistent or uses a type this package does not decode.
var ErrMalformedParameterObject = errors.New("malformed parameter object")

// maxDepth bounds object nesting so hostile input cannot exhaust the stack.
const maxDepth = 16

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedParameterObject, fmt.Sprintf(format, args...))
}

// Decode parses a single object POD.
func Decode(data []byte) (*Object, error) {
	v, _, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, malformed("expected Object, got %s", v.Type())
	}
	return obj, nil
}

// DecodeValue parses one POD from the start of data and returns it along
// with the number of bytes consumed, including padding that is present.
func DecodeValue(data []byte) (Value, int, error) {
	return decodeValue(data, 0)
}

func decodeValue(data []byte, depth int) (Value, int, error) {
	if len(data) < headerSize {
		return nil, 0, malformed("header needs %d bytes, have %d", headerSize, len(data))
	}
	size := binary.NativeEndian.Uint32(data)
	kind := Type(binary.NativeEndian.Uint32(data[4:]))
	if uint64(size) > uint64(len(data)-headerSize) {
		return nil, 0, malformed("%s body of %d bytes exceeds remaining %d", kind, size, len(data)-headerSize)
	}
	body := data[headerSize : headerSize+int(size)]

	v, err := decodeBody(kind, body, depth)
	if err != nil {
		return nil, 0, err
	}

	n := headerSize + int(roundUp8(size))
	if n > len(data) {
		n = len(data)
	}
	return v, n, nil
}

func decodeBody(kind Type, body []byte, depth int) (Value, error) {
	switch kind {
	case TypeObject:
		return decodeObject(body, depth)
	case TypeChoice:
		return decodeChoice(body)
	default:
		return decodeFixed(kind, body)
	}
}

// decodeFixed decodes kinds with a constant body size. The body may be longer
// than required only when it is not part of a choice; extra bytes are ignored
// the same way spa_pod_get_* does.
func decodeFixed(kind Type, body []byte) (Value, error) {
	want, ok := fixedSize(kind)
	if !ok {
		return nil, malformed("unsupported type %s (%d)", kind, uint32(kind))
	}
	if uint32(len(body)) < want {
		return nil, malformed("%s body needs %d bytes, have %d", kind, want, len(body))
	}
	switch kind {
	case TypeID:
		return ID(binary.NativeEndian.Uint32(body)), nil
	case TypeInt:
		return Int(int32(binary.NativeEndian.Uint32(body))), nil
	case TypeBool:
		return Bool(binary.NativeEndian.Uint32(body) != 0), nil
	case TypeLong:
		return Long(int64(binary.NativeEndian.Uint64(body))), nil
	case TypeRectangle:
		return Rectangle{
			Width:  binary.NativeEndian.Uint32(body),
			Height: binary.NativeEndian.Uint32(body[4:]),
		}, nil
	case TypeFraction:
		return Fraction{
			Num:   binary.NativeEndian.Uint32(body),
			Denom: binary.NativeEndian.Uint32(body[4:]),
		}, nil
	}
	return nil, malformed("unsupported type %s", kind)
}

func decodeObject(body []byte, depth int) (*Object, error) {
	if depth >= maxDepth {
		return nil, malformed("objects nested deeper than %d", maxDepth)
	}
	if len(body) < 8 {
		return nil, malformed("object body needs 8 bytes, have %d", len(body))
	}
	obj := &Object{
		ObjectType: binary.NativeEndian.Uint32(body),
		ID:         binary.NativeEndian.Uint32(body[4:]),
	}

	rest := body[8:]
	for len(rest) > 0 {
		if len(rest) < 8+headerSize {
			return nil, malformed("property needs %d bytes, have %d", 8+headerSize, len(rest))
		}
		key := binary.NativeEndian.Uint32(rest)
		flags := PropFlags(binary.NativeEndian.Uint32(rest[4:]))
		v, n, err := decodeValue(rest[8:], depth+1)
		if err != nil {
			return nil, fmt.Errorf("property %#x: %w", key, err)
		}
		obj.Properties = append(obj.Properties, Property{Key: key, Flags: flags, Value: v})
		rest = rest[8+n:]
	}
	return obj, nil
}

func decodeChoice(body []byte) (*Choice, error) {
	if len(body) < 8+headerSize {
		return nil, malformed("choice body needs %d bytes, have %d", 8+headerSize, len(body))
	}
	c := &Choice{
		Choice: ChoiceType(binary.NativeEndian.Uint32(body)),
		Flags:  binary.NativeEndian.Uint32(body[4:]),
	}
	if c.Choice > ChoiceFlags {
		return nil, malformed("unknown choice type %d", uint32(c.Choice))
	}

	childSize := binary.NativeEndian.Uint32(body[8:])
	childKind := Type(binary.NativeEndian.Uint32(body[12:]))
	values := body[16:]

	if childKind == TypeNone && len(values) == 0 {
		return c, nil
	}
	want, ok := fixedSize(childKind)
	if !ok {
		return nil, malformed("unsupported choice child type %s", childKind)
	}
	if childSize != want {
		return nil, malformed("choice child %s has size %d, want %d", childKind, childSize, want)
	}
	if len(values)%int(want) != 0 {
		return nil, malformed("choice values of %d bytes not a multiple of %d", len(values), want)
	}

	for off := 0; off < len(values); off += int(want) {
		v, err := decodeFixed(childKind, values[off:off+int(want)])
		if err != nil {
			return nil, err
		}
		c.Values = append(c.Values, v)
	}
	if len(c.Values) == 0 {
		return nil, malformed("choice of %s has no values", childKind)
	}
	return c, nil
}
