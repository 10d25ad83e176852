package spa

// Value is a POD value. It is implemented by ID, Int, Long, Bool, Rectangle,
// Fraction, *Object and *Choice.
type Value interface {
	Type() Type
}

// ID is an enumerated value.
type ID uint32

// Int is a 32-bit integer.
type Int int32

// Long is a 64-bit integer.
type Long int64

// Bool is a boolean, encoded as a 32-bit integer.
type Bool bool

// Rectangle is a width and height pair.
type Rectangle struct {
	Width  uint32
	Height uint32
}

// Fraction is a numerator and denominator pair.
type Fraction struct {
	Num   uint32
	Denom uint32
}

// Property is one key/flags/value entry of an Object.
type Property struct {
	Key   uint32
	Flags PropFlags
	Value Value
}

// Object is a typed, ordered property list.
type Object struct {
	ObjectType uint32
	ID         uint32
	Properties []Property
}

// Choice constrains a property to a range or set of values of one kind.
//
// For ChoiceRange the values are default, min, max. For ChoiceStep they are
// default, min, max, step. For ChoiceEnum the first value is the default and
// the rest are the alternatives. ChoiceFlags carries a default and optional
// allowed masks; ChoiceNone carries a single value.
type Choice struct {
	Choice ChoiceType
	Flags  uint32
	Values []Value
}

func (ID) Type() Type        { return TypeID }
func (Int) Type() Type       { return TypeInt }
func (Long) Type() Type      { return TypeLong }
func (Bool) Type() Type      { return TypeBool }
func (Rectangle) Type() Type { return TypeRectangle }
func (Fraction) Type() Type  { return TypeFraction }
func (*Object) Type() Type   { return TypeObject }
func (*Choice) Type() Type   { return TypeChoice }

// Prop returns the first property with the given key.
func (o *Object) Prop(key uint32) (Property, bool) {
	for _, p := range o.Properties {
		if p.Key == key {
			return p, true
		}
	}
	return Property{}, false
}

// Default returns the default value of the choice, or nil if it has none.
func (c *Choice) Default() Value {
	if len(c.Values) == 0 {
		return nil
	}
	return c.Values[0]
}

// Fixate resolves a value to a single concrete value. Choices yield their
// default; other values are returned unchanged.
func Fixate(v Value) Value {
	if c, ok := v.(*Choice); ok {
		return c.Default()
	}
	return v
}

// RangeRectangle builds a range choice over rectangles.
func RangeRectangle(def, lo, hi Rectangle) *Choice {
	return &Choice{Choice: ChoiceRange, Values: []Value{def, lo, hi}}
}

// RangeFraction builds a range choice over fractions.
func RangeFraction(def, lo, hi Fraction) *Choice {
	return &Choice{Choice: ChoiceRange, Values: []Value{def, lo, hi}}
}

// EnumLong builds an enum choice over 64-bit integers. The first value is
// the default.
func EnumLong(def Long, alternatives ...Long) *Choice {
	values := make([]Value, 0, len(alternatives)+1)
	values = append(values, def)
	for _, a := range alternatives {
		values = append(values, a)
	}
	return &Choice{Choice: ChoiceEnum, Values: values}
}

// FlagsInt builds a flags choice over 32-bit integers.
func FlagsInt(mask int32) *Choice {
	return &Choice{Choice: ChoiceFlags, Values: []Value{Int(mask)}}
}

// fixedSize returns the body size of kinds that can appear inside a Choice.
func fixedSize(t Type) (uint32, bool) {
	switch t {
	case TypeBool, TypeID, TypeInt:
		return 4, true
	case TypeLong, TypeRectangle, TypeFraction:
		return 8, true
	default:
		return 0, false
	}
}
