package negotiate

import "github.com/smazurov/pwmirror/pkg/spa"

// DRM fourcc codes (drm_fourcc.h). DRM names list components from the most
// significant bit of a little-endian word, so the in-memory byte order is
// reversed relative to the SPA name: ARGB8888 is stored as B, G, R, A.
const (
	DRMFormatARGB8888 uint32 = 0x34325241 // AR24
	DRMFormatABGR8888 uint32 = 0x34324241 // AB24
	DRMFormatXRGB8888 uint32 = 0x34325258 // XR24
	DRMFormatXBGR8888 uint32 = 0x34324258 // XB24
	DRMFormatRGBA8888 uint32 = 0x34324152 // RA24
	DRMFormatBGRA8888 uint32 = 0x34324142 // BA24
	DRMFormatRGBX8888 uint32 = 0x34325852 // RX24
	DRMFormatBGRX8888 uint32 = 0x34325842 // BX24
)

var drmToSPA = map[uint32]spa.VideoFormat{
	DRMFormatARGB8888: spa.VideoFormatBGRA,
	DRMFormatABGR8888: spa.VideoFormatRGBA,
	DRMFormatXRGB8888: spa.VideoFormatBGRx,
	DRMFormatXBGR8888: spa.VideoFormatRGBx,
	DRMFormatRGBA8888: spa.VideoFormatABGR,
	DRMFormatBGRA8888: spa.VideoFormatARGB,
	DRMFormatRGBX8888: spa.VideoFormatxBGR,
	DRMFormatBGRX8888: spa.VideoFormatxRGB,
}

// VideoFormatFromDRM maps a DRM fourcc to the SPA video format with the same
// memory layout.
func VideoFormatFromDRM(fourcc uint32) (spa.VideoFormat, bool) {
	f, ok := drmToSPA[fourcc]
	return f, ok
}

// DRMFromVideoFormat is the inverse of VideoFormatFromDRM.
func DRMFromVideoFormat(f spa.VideoFormat) (uint32, bool) {
	for code, vf := range drmToSPA {
		if vf == f {
			return code, true
		}
	}
	return 0, false
}

// Supported reports whether f is in the vocabulary this package negotiates.
func Supported(f spa.VideoFormat) bool {
	_, ok := DRMFromVideoFormat(f)
	return ok
}

// FourCC converts a fourcc code to its four character name.
func FourCC(code uint32) string {
	b := []byte{
		byte(code & 0xFF),
		byte((code >> 8) & 0xFF),
		byte((code >> 16) & 0xFF),
		byte((code >> 24) & 0xFF),
	}
	return string(b)
}
