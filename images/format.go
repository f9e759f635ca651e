package images

import "bytes"

// ImageFormat represents the raster formats recognized on upload.
type ImageFormat string

const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the Windows bitmap format.
	FormatBMP ImageFormat = "bmp"
	// FormatGIF is the GIF format. Only the first frame is used.
	FormatGIF ImageFormat = "gif"
	// FormatTIFF is the TIFF format.
	FormatTIFF ImageFormat = "tiff"
	// FormatUnknown is returned when no magic number matches.
	FormatUnknown ImageFormat = "unknown"
)

var signatures = []struct {
	format ImageFormat
	match  func([]byte) bool
}{
	{FormatJPEG, func(b []byte) bool { return bytes.HasPrefix(b, []byte{0xFF, 0xD8, 0xFF}) }},
	{FormatPNG, func(b []byte) bool { return bytes.HasPrefix(b, []byte("\x89PNG\r\n\x1a\n")) }},
	{FormatGIF, func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a"))
	}},
	{FormatBMP, func(b []byte) bool { return bytes.HasPrefix(b, []byte("BM")) && len(b) > 14 }},
	{FormatTIFF, func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*"))
	}},
	{FormatWebP, func(b []byte) bool {
		return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
	}},
}

// DetectFormat sniffs the magic number at the start of data.
func DetectFormat(data []byte) ImageFormat {
	for _, sig := range signatures {
		if sig.match(data) {
			return sig.format
		}
	}
	return FormatUnknown
}

// ContentType returns the MIME type for the format.
func (f ImageFormat) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatBMP:
		return "image/bmp"
	case FormatGIF:
		return "image/gif"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
