package spa

import (
	"fmt"
	"strings"
)

// Dump renders v as indented text for logs and diagnostics.
func Dump(v Value) string {
	var b strings.Builder
	dump(&b, v, 0)
	return b.String()
}

func dump(b *strings.Builder, v Value, indent int) {
	prefix := strings.Repeat("  ", indent)
	switch v := v.(type) {
	case *Object:
		fmt.Fprintf(b, "%sObject type=%#x id=%d\n", prefix, v.ObjectType, v.ID)
		for _, p := range v.Properties {
			fmt.Fprintf(b, "%s  key=%#x flags=%#x\n", prefix, p.Key, uint32(p.Flags))
			dump(b, p.Value, indent+2)
		}
	case *Choice:
		fmt.Fprintf(b, "%sChoice %s flags=%#x\n", prefix, v.Choice, v.Flags)
		for _, c := range v.Values {
			dump(b, c, indent+1)
		}
	case Rectangle:
		fmt.Fprintf(b, "%sRectangle %dx%d\n", prefix, v.Width, v.Height)
	case Fraction:
		fmt.Fprintf(b, "%sFraction %d/%d\n", prefix, v.Num, v.Denom)
	case nil:
		fmt.Fprintf(b, "%s<nil>\n", prefix)
	default:
		fmt.Fprintf(b, "%s%s %v\n", prefix, v.Type(), v)
	}
}
