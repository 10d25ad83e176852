package negotiate

import (
	"testing"

	"github.com/smazurov/pwmirror/internal/frame"
)

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		in      string
		want    Candidate
		wantErr bool
	}{
		{in: "XR24", want: Candidate{Code: DRMFormatXRGB8888, Modifier: frame.ModifierLinear}},
		{in: " AR24:0 ", want: Candidate{Code: DRMFormatARGB8888, Modifier: 0}},
		{in: "XB24:0x100000000000001", want: Candidate{Code: DRMFormatXBGR8888, Modifier: 0x100000000000001}},
		{in: "AB24:invalid", want: Candidate{Code: DRMFormatABGR8888, Modifier: frame.ModifierInvalid}},
		{in: "RA24:LINEAR", want: Candidate{Code: DRMFormatRGBA8888, Modifier: frame.ModifierLinear}},
		{in: "NV12", want: Candidate{Code: 0x3231564e, Modifier: frame.ModifierLinear}},
		{in: "XR2", wantErr: true},
		{in: "XR24:zz", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCandidate(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCandidate(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCandidate(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseCandidate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseCandidates(t *testing.T) {
	got, err := ParseCandidates([]string{"XR24", "AR24:0x0"})
	if err != nil {
		t.Fatalf("ParseCandidates failed: %v", err)
	}
	if len(got) != 2 || got[0].Code != DRMFormatXRGB8888 || got[1].Code != DRMFormatARGB8888 {
		t.Errorf("got %v", got)
	}
	if _, err := ParseCandidates([]string{"XR24", "bad"}); err == nil {
		t.Error("expected error for bad entry")
	}
}

func TestCandidateString(t *testing.T) {
	c := Candidate{Code: DRMFormatXRGB8888, Modifier: 0}
	if got := c.String(); got != "XR24:0x0" {
		t.Errorf("String() = %q, want XR24:0x0", got)
	}
}
