package files

import (
	"mime"
	"strings"
)

// Category groups a media type for clients that pick an icon or viewer.
func Category(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return "image"
	case strings.HasPrefix(ct, "video/"):
		return "video"
	case strings.HasPrefix(ct, "audio/"):
		return "audio"
	case ct == "application/pdf":
		return "pdf"
	case strings.Contains(ct, "spreadsheet") || strings.Contains(ct, "excel") || ct == "text/csv":
		return "spreadsheet"
	case strings.Contains(ct, "presentation") || strings.Contains(ct, "powerpoint"):
		return "presentation"
	case strings.Contains(ct, "wordprocessing") || strings.Contains(ct, "msword") || strings.Contains(ct, "opendocument.text"):
		return "document"
	case strings.Contains(ct, "zip") || strings.Contains(ct, "compressed") || strings.Contains(ct, "tar") || strings.Contains(ct, "archive"):
		return "archive"
	case strings.HasPrefix(ct, "text/") || ct == "application/json" || ct == "application/xml":
		return "text"
	default:
		return "file"
	}
}

// IsViewable returns true if the content type can be displayed inline in a
// browser without being executed as active content.
func IsViewable(contentType string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case ct == "image/svg+xml":
		return false
	case strings.HasPrefix(ct, "image/"), strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "audio/"):
		return true
	case ct == "application/pdf", ct == "text/plain", ct == "text/csv":
		return true
	default:
		return false
	}
}

// ContentDisposition builds the header for serving name. Non-ASCII names are
// encoded per RFC 2231.
func ContentDisposition(name string, inline bool) string {
	kind := "attachment"
	if inline {
		kind = "inline"
	}
	if v := mime.FormatMediaType(kind, map[string]string{"filename": name}); v != "" {
		return v
	}
	return kind
}
