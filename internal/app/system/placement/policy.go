package placement

import (
	"mime"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/system/names"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dustin/go-humanize"
)

// Policy is the admission check applied before any quota or byte write.
type Policy struct {
	// MaxSize is the largest accepted upload in bytes. Zero means no limit.
	MaxSize int64
	// AllowedTypes lists accepted media types. Entries may be "type/*".
	// Empty accepts everything.
	AllowedTypes []string
	// BlockedExtensions lists rejected filename extensions, with or without
	// the leading dot.
	BlockedExtensions []string
}

// CheckSize validates a declared upload size.
func (p Policy) CheckSize(size int64) error {
	if size <= 0 {
		return apperr.Invalid("file is empty or its size is unknown")
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		return apperr.Invalid("file is %s, the limit is %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.MaxSize)))
	}
	return nil
}

// CheckType validates a media type against the allowlist.
func (p Policy) CheckType(mediaType string) error {
	if len(p.AllowedTypes) == 0 {
		return nil
	}
	mt := baseType(mediaType)
	for _, allowed := range p.AllowedTypes {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if allowed == "*/*" || allowed == mt {
			return nil
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mt, prefix+"/") {
			return nil
		}
	}
	return apperr.New(apperr.KindTypeNotAllowed, "files of type %s are not allowed", mt)
}

// CheckExtension rejects blocked filename extensions.
func (p Policy) CheckExtension(name string) error {
	ext := names.Ext(name)
	if ext == "" {
		return nil
	}
	for _, b := range p.BlockedExtensions {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if !strings.HasPrefix(b, ".") {
			b = "." + b
		}
		if ext == b {
			return apperr.New(apperr.KindTypeNotAllowed, "%s files are not allowed", ext)
		}
	}
	return nil
}

// baseType lowercases a media type and drops its parameters.
func baseType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		mt, _, _ = strings.Cut(mediaType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
