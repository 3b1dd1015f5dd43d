package constants

import (
	"net/http"
	"strings"
)

// DocumentFormat is the coarse kind of an uploaded document.
type DocumentFormat string

const (
	PDF     DocumentFormat = "PDF"
	IMAGE   DocumentFormat = "IMAGE"
	UNKNOWN DocumentFormat = "UNKNOWN"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps an extension (with or without dot) to a DocumentFormat.
func MapExtToFormat(ext string) DocumentFormat {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "jpg", "jpeg", "png":
		return IMAGE
	default:
		return UNKNOWN
	}
}

// MapMIMEToFormat maps a MIME type to a DocumentFormat, ignoring parameters.
func MapMIMEToFormat(mimeType string) DocumentFormat {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch mt {
	case MIMEPDF:
		return PDF
	case MIMEJPEG, MIMEPNG:
		return IMAGE
	default:
		return UNKNOWN
	}
}

// DetectMIME sniffs content; uploads often arrive as application/octet-stream.
func DetectMIME(b []byte) string {
	if len(b) >= 5 && string(b[:5]) == "%PDF-" {
		return MIMEPDF
	}
	mt := http.DetectContentType(b)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}
