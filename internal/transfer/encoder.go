package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bgremover/internal/asset"
)

// DownloadFilename is the fixed name given to every downloaded result.
const DownloadFilename = "background-removed.png"

var (
	// ErrRevokedURL is returned when a transient URL is no longer registered.
	ErrRevokedURL = errors.New("transfer: transient url has been revoked")
	// ErrUnsupportedRef is returned for references that are not a data URI,
	// transient URL or http(s) URL.
	ErrUnsupportedRef = errors.New("transfer: unsupported image reference")
	// ErrTooLarge is returned when a remote image exceeds the encoder limit.
	ErrTooLarge = errors.New("transfer: remote image exceeds size limit")
)

// Download is a retrievable binary ready to be saved.
type Download struct {
	Filename string
	MIME     string
	Data     []byte
}

// Saver delivers a download somewhere the user can reach it and returns its
// location.
type Saver interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// EncoderOptions configures an Encoder.
type EncoderOptions struct {
	Registry *Registry
	// DownloadEndpoint, when set, is a backend /download-image URL used to
	// resolve remote references instead of fetching them directly.
	DownloadEndpoint string
	HTTPClient       *http.Client
	MaxBytes         int64
}

// Encoder converts a displayable image reference back into bytes.
type Encoder struct {
	registry         *Registry
	downloadEndpoint string
	httpClient       *http.Client
	maxBytes         int64
}

// NewEncoder constructs an Encoder with defaults applied.
func NewEncoder(opts EncoderOptions) *Encoder {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 4 * DefaultMaxBytes
	}
	return &Encoder{
		registry:         opts.Registry,
		downloadEndpoint: strings.TrimSpace(opts.DownloadEndpoint),
		httpClient:       client,
		maxBytes:         maxBytes,
	}
}

// EncodeForDownload resolves ref into a Download named background-removed.png.
func (e *Encoder) EncodeForDownload(ctx context.Context, ref string) (Download, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return Download{}, ErrUnsupportedRef
	case IsTransientURL(ref):
		if e.registry == nil {
			return Download{}, ErrRevokedURL
		}
		img, ok := e.registry.Resolve(ref)
		if !ok {
			return Download{}, ErrRevokedURL
		}
		return newDownload(img.Data, img.MIME), nil
	case asset.IsDataURI(ref):
		img, err := asset.ParseDataURI(ref, asset.SourceResult)
		if err != nil {
			return Download{}, err
		}
		return newDownload(img.Data, img.MIME), nil
	case isRemoteURL(ref):
		if e.downloadEndpoint != "" {
			return e.viaEndpoint(ctx, ref)
		}
		return e.fetch(ctx, ref)
	default:
		return Download{}, fmt.Errorf("%w: %q", ErrUnsupportedRef, ref)
	}
}

func (e *Encoder) fetch(ctx context.Context, ref string) (Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Download{}, fmt.Errorf("transfer: build download request: %w", err)
	}
	return e.do(req)
}

type downloadRequest struct {
	Image string `json:"image"`
}

func (e *Encoder) viaEndpoint(ctx context.Context, ref string) (Download, error) {
	body, err := json.Marshal(downloadRequest{Image: ref})
	if err != nil {
		return Download{}, fmt.Errorf("transfer: encode download request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.downloadEndpoint, bytes.NewReader(body))
	if err != nil {
		return Download{}, fmt.Errorf("transfer: build download request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *Encoder) do(req *http.Request) (Download, error) {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Download{}, fmt.Errorf("transfer: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Download{}, fmt.Errorf("transfer: download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return Download{}, fmt.Errorf("transfer: read image: %w", err)
	}
	if int64(len(data)) > e.maxBytes {
		return Download{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, e.maxBytes)
	}
	return newDownload(data, resp.Header.Get("Content-Type")), nil
}

func newDownload(data []byte, mime string) Download {
	mime = asset.NormalizeMIME(mime)
	if mime == "" {
		mime = asset.DefaultMIME
	}
	return Download{
		Filename: DownloadFilename,
		MIME:     mime,
		Data:     append([]byte(nil), data...),
	}
}

func isRemoteURL(ref string) bool {
	parsed, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
