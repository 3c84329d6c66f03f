package domain

import "strings"

var browserNativeFormats = map[string]struct{}{
	".mp4":  {},
	".webm": {},
	".ogg":  {},
}

var conversionFormats = map[string]struct{}{
	".mkv": {},
	".avi": {},
	".mov": {},
	".wmv": {},
	".flv": {},
	".m4v": {},
}

// ConvertedExt is the container produced by background conversion.
const ConvertedExt = ".mp4"

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NeedsConversion reports whether a container must be transcoded before a
// browser can play it.
func NeedsConversion(ext string) bool {
	_, ok := conversionFormats[normalizeExt(ext)]
	return ok
}

// IsBrowserNative reports whether a container can be served as-is.
func IsBrowserNative(ext string) bool {
	_, ok := browserNativeFormats[normalizeExt(ext)]
	return ok
}

// IsVideo reports whether the extension belongs to either format set.
func IsVideo(ext string) bool {
	return IsBrowserNative(ext) || NeedsConversion(ext)
}

// ContentType returns the outbound MIME type for a container. Transcoded
// output is always fragmented MP4, so anything that is not WebM or Ogg is
// announced as video/mp4.
func ContentType(ext string) string {
	switch normalizeExt(ext) {
	case ".webm":
		return "video/webm"
	case ".ogg":
		return "video/ogg"
	default:
		return "video/mp4"
	}
}
