// internal/sniff/sniff.go
// Package sniff identifies the true media type of a byte buffer from its
// magic-byte signature, independent of whatever content type the remote
// server declared. Declared types from booth vendors are frequently wrong
// (octet-stream downloads, mislabeled JPEGs), so every stored object is
// identified here first.
package sniff

import (
	"bytes"
)

// Kind is a recognized media kind.
type Kind int

const (
	Unknown Kind = iota // No recognizable signature; callers decide whether that is fatal
	JPEG
	PNG
	GIF
	WEBP
	HEIC
	MP4
)

// minSniffBytes is the shortest buffer that can carry the longest signature
// we check (RIFF....WEBP spans the first 12 bytes).
const minSniffBytes = 12

var pngSignature = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

// Sniff inspects the leading bytes of data and returns the detected media
// kind. It is a total function: malformed or short input yields Unknown,
// never an error.
func Sniff(data []byte) Kind {
	if len(data) < minSniffBytes {
		return Unknown
	}

	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return JPEG
	case bytes.Equal(data[:8], pngSignature):
		return PNG
	case bytes.HasPrefix(data, []byte("GIF")):
		return GIF
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return WEBP
	}

	if brand, ok := isoBMFFBrand(data); ok {
		// HEIC/HEIF brands start with "he" (heic, heix, hevc, ...) or are
		// the image-sequence brands mif1/msf1. Anything else in the ISO-BMFF
		// family is treated as MP4 video.
		if bytes.HasPrefix(brand, []byte("he")) || bytes.Equal(brand, []byte("mif1")) || bytes.Equal(brand, []byte("msf1")) {
			return HEIC
		}
		return MP4
	}

	return Unknown
}

// isoBMFFBrand detects an 'ftyp' box at offset 4 and returns the 4-byte
// major brand if present.
func isoBMFFBrand(data []byte) ([]byte, bool) {
	if len(data) < 12 || !bytes.Equal(data[4:8], []byte("ftyp")) {
		return nil, false
	}
	return data[8:12], true
}

// IsImage reports whether k is a still-image kind.
func (k Kind) IsImage() bool {
	switch k {
	case JPEG, PNG, GIF, WEBP, HEIC:
		return true
	}
	return false
}

// IsVideo reports whether k is a video kind.
func (k Kind) IsVideo() bool {
	return k == MP4
}

// ExtensionFor returns the canonical file extension for a media kind.
// Unknown kinds map to a generic binary extension.
func ExtensionFor(k Kind) string {
	switch k {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	case GIF:
		return ".gif"
	case WEBP:
		return ".webp"
	case HEIC:
		return ".heic"
	case MP4:
		return ".mp4"
	default:
		return ".bin"
	}
}

// ContentTypeFor returns the canonical MIME type for a media kind.
// Unknown kinds map to application/octet-stream.
func ContentTypeFor(k Kind) string {
	switch k {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case GIF:
		return "image/gif"
	case WEBP:
		return "image/webp"
	case HEIC:
		return "image/heic"
	case MP4:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// String returns a short lowercase name for logging.
func (k Kind) String() string {
	switch k {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case GIF:
		return "gif"
	case WEBP:
		return "webp"
	case HEIC:
		return "heic"
	case MP4:
		return "mp4"
	default:
		return "unknown"
	}
}
