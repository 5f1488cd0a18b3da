package asset

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Source records where an Image came from.
type Source string

const (
	SourceUpload Source = "upload"
	SourceResult Source = "result"
)

// DefaultMIME is assumed when a backend does not declare a type.
const DefaultMIME = "image/png"

// ErrInvalidDataURI is returned by ParseDataURI for malformed input.
var ErrInvalidDataURI = errors.New("asset: invalid data uri")

// Image is an in-memory image buffer with its declared type.
type Image struct {
	Data   []byte
	MIME   string
	Source Source
	Name   string
}

// IsZero reports whether the image carries no bytes.
func (img Image) IsZero() bool {
	return len(img.Data) == 0
}

// Clone returns a deep copy so callers cannot mutate session-owned buffers.
func (img Image) Clone() Image {
	out := img
	if img.Data != nil {
		out.Data = append([]byte(nil), img.Data...)
	}
	return out
}

// DataURI renders the image as data:<mime>;base64,<payload>.
func (img Image) DataURI() string {
	mime := NormalizeMIME(img.MIME)
	if mime == "" {
		mime = DefaultMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// IsImageMIME checks the declared type by prefix only. It is not a content
// sniff and must not be treated as a security boundary.
func IsImageMIME(mime string) bool {
	return strings.HasPrefix(NormalizeMIME(mime), "image/")
}

// NormalizeMIME lower-cases the type and strips parameters.
func NormalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	switch mime {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	}
	return mime
}

// IsDataURI reports whether ref looks like a data URI.
func IsDataURI(ref string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), "data:")
}

// ParseDataURI decodes a base64 data URI into an Image.
func ParseDataURI(ref string, source Source) (Image, error) {
	ref = strings.TrimSpace(ref)
	if !IsDataURI(ref) {
		return Image{}, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return Image{}, ErrInvalidDataURI
	}
	mime, encoding, _ := strings.Cut(meta, ";")
	if !strings.EqualFold(strings.TrimSpace(encoding), "base64") {
		return Image{}, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	mime = NormalizeMIME(mime)
	if mime == "" {
		mime = DefaultMIME
	}
	return Image{Data: data, MIME: mime, Source: source}, nil
}

// ExtensionFromMIME returns a file extension for common image types.
func ExtensionFromMIME(mime string) string {
	switch NormalizeMIME(mime) {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
