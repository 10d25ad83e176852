package negotiate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smazurov/pwmirror/internal/frame"
)

// ParseCandidate parses "FOURCC[:MODIFIER]", for example "XR24" or
// "AR24:0x100000000000001". The modifier defaults to linear and accepts
// decimal, hex (0x) or the names "linear" and "invalid".
func ParseCandidate(s string) (Candidate, error) {
	name, mod, hasMod := strings.Cut(strings.TrimSpace(s), ":")
	if len(name) != 4 {
		return Candidate{}, fmt.Errorf("candidate %q: fourcc must be four characters", s)
	}
	code := uint32(name[0]) | uint32(name[1])<<8 | uint32(name[2])<<16 | uint32(name[3])<<24

	c := Candidate{Code: code, Modifier: frame.ModifierLinear}
	if !hasMod {
		return c, nil
	}
	switch strings.ToLower(mod) {
	case "linear":
	case "invalid":
		c.Modifier = frame.ModifierInvalid
	default:
		m, err := strconv.ParseUint(mod, 0, 64)
		if err != nil {
			return Candidate{}, fmt.Errorf("candidate %q: bad modifier: %w", s, err)
		}
		c.Modifier = m
	}
	return c, nil
}

// ParseCandidates parses every entry and fails on the first bad one.
// Unsupported fourccs are kept; BuildOffer filters them.
func ParseCandidates(list []string) ([]Candidate, error) {
	out := make([]Candidate, 0, len(list))
	for _, s := range list {
		c, err := ParseCandidate(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s:%#x", FourCC(c.Code), c.Modifier)
}
