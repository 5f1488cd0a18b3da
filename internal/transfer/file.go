package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"bgremover/internal/asset"
)

// DefaultMaxBytes caps how much of a selected file is read into memory.
const DefaultMaxBytes int64 = 10 << 20

// File is a user-selected file reference. ContentType is the declared type,
// the way a browser file picker reports it.
type File interface {
	Name() string
	ContentType() string
	Open() (io.ReadCloser, error)
}

// UnsupportedTypeError reports a selection that is not an accepted image.
type UnsupportedTypeError struct {
	Name        string
	ContentType string
	Reason      string
}

func (e *UnsupportedTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported file %q: %s", e.Name, e.Reason)
	}
	ct := e.ContentType
	if ct == "" {
		ct = "unknown type"
	}
	return fmt.Sprintf("unsupported file %q (%s): please select an image", e.Name, ct)
}

// IsUnsupportedType checks if an error is an UnsupportedTypeError.
func IsUnsupportedType(err error) bool {
	var target *UnsupportedTypeError
	return errors.As(err, &target)
}

// OSFile references a file on disk. The declared type comes from the
// extension unless Type is set explicitly.
type OSFile struct {
	Path string
	Type string
}

func (f OSFile) Name() string {
	return filepath.Base(f.Path)
}

func (f OSFile) ContentType() string {
	if strings.TrimSpace(f.Type) != "" {
		return f.Type
	}
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(f.Path)))
}

func (f OSFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// BytesFile is an in-memory file, used for multipart uploads and tests.
type BytesFile struct {
	Filename string
	Type     string
	Data     []byte
}

func (f BytesFile) Name() string        { return f.Filename }
func (f BytesFile) ContentType() string { return f.Type }

func (f BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

// Decode reads a selected file into an Image. Non-image declared types are
// rejected before the file is opened.
func Decode(f File, maxBytes int64) (asset.Image, error) {
	if f == nil {
		return asset.Image{}, errors.New("transfer: no file selected")
	}
	declared := f.ContentType()
	if !asset.IsImageMIME(declared) {
		return asset.Image{}, &UnsupportedTypeError{Name: f.Name(), ContentType: declared}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	rc, err := f.Open()
	if err != nil {
		return asset.Image{}, fmt.Errorf("transfer: open %s: %w", f.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
	if err != nil {
		return asset.Image{}, fmt.Errorf("transfer: read %s: %w", f.Name(), err)
	}
	if int64(len(data)) > maxBytes {
		return asset.Image{}, &UnsupportedTypeError{
			Name:        f.Name(),
			ContentType: declared,
			Reason:      fmt.Sprintf("file is larger than %d bytes", maxBytes),
		}
	}
	if len(data) == 0 {
		return asset.Image{}, &UnsupportedTypeError{Name: f.Name(), ContentType: declared, Reason: "file is empty"}
	}
	return asset.Image{
		Data:   data,
		MIME:   asset.NormalizeMIME(declared),
		Source: asset.SourceUpload,
		Name:   f.Name(),
	}, nil
}
