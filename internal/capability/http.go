package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bgremover/internal/asset"
)

const (
	// ProcessPath is the multipart endpoint served by the backend.
	ProcessPath = "/process-image"
	// FormField is the multipart field carrying the image.
	FormField = "image"

	defaultRequestTimeout = 60 * time.Second
	maxResponseBytes      = 64 << 20
)

// ErrMissingEndpoint indicates a remote variant configured without a base URL.
var ErrMissingEndpoint = errors.New("capability: endpoint is required")

// HTTPOptions configures the remote variants.
type HTTPOptions struct {
	BaseURL string
	// Path overrides the default endpoint path.
	Path           string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

// ProcessResponse is the JSON envelope returned by /process-image.
type ProcessResponse struct {
	Success bool   `json:"success"`
	Image   string `json:"image,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HTTPRemover posts the image as multipart form data to the backend.
type HTTPRemover struct {
	endpoint   string
	httpClient *http.Client
	logger     *zerolog.Logger
}

var _ Remover = (*HTTPRemover)(nil)

// NewHTTPRemover constructs the remote HTTP variant.
func NewHTTPRemover(opts HTTPOptions) (*HTTPRemover, error) {
	endpoint, err := joinEndpoint(opts.BaseURL, opts.Path, ProcessPath)
	if err != nil {
		return nil, err
	}
	return &HTTPRemover{
		endpoint:   endpoint,
		httpClient: httpClientOrDefault(opts.HTTPClient, opts.RequestTimeout),
		logger:     loggerOrNop(opts.Logger),
	}, nil
}

// Endpoint returns the resolved request URL.
func (c *HTTPRemover) Endpoint() string {
	return c.endpoint
}

// RemoveBackground fulfils the Remover interface.
func (c *HTTPRemover) RemoveBackground(ctx context.Context, img asset.Image) (asset.Image, error) {
	if img.IsZero() {
		return asset.Image{}, Failed("no image data to process")
	}
	body, contentType, err := encodeMultipart(img)
	if err != nil {
		return asset.Image{}, &ProcessingFailedError{Message: "cannot encode upload", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return asset.Image{}, Transport("build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	status, raw, err := doRequest(ctx, c.httpClient, req)
	if err != nil {
		return asset.Image{}, err
	}

	var envelope ProcessResponse
	decodeErr := json.Unmarshal(raw, &envelope)
	if status >= 300 {
		if decodeErr == nil && strings.TrimSpace(envelope.Error) != "" {
			return asset.Image{}, Failed("%s", strings.TrimSpace(envelope.Error))
		}
		return asset.Image{}, Failed("background removal failed: status %d: %s", status, snippet(raw))
	}
	if decodeErr != nil {
		return asset.Image{}, &ProcessingFailedError{Message: "background removal returned a malformed response", Err: decodeErr}
	}
	if !envelope.Success {
		msg := strings.TrimSpace(envelope.Error)
		if msg == "" {
			msg = "background removal failed"
		}
		return asset.Image{}, Failed("%s", msg)
	}
	out, err := asset.ParseDataURI(envelope.Image, asset.SourceResult)
	if err != nil {
		return asset.Image{}, &ProcessingFailedError{Message: "background removal returned a malformed image", Err: err}
	}
	out.Name = img.Name
	c.logger.Debug().
		Str("endpoint", c.endpoint).
		Str("mime", out.MIME).
		Int("bytes", len(out.Data)).
		Msg("http: background removed")
	return out, nil
}

// Close is a no-op; the HTTP client is shared.
func (c *HTTPRemover) Close() error {
	return nil
}

func (c *HTTPRemover) String() string {
	return string(BackendHTTP)
}

func encodeMultipart(img asset.Image) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	name := strings.TrimSpace(img.Name)
	if name == "" {
		name = "upload." + asset.ExtensionFromMIME(img.MIME)
	}
	mime := asset.NormalizeMIME(img.MIME)
	if mime == "" {
		mime = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormField, name))
	header.Set("Content-Type", mime)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf, mw.FormDataContentType(), nil
}

// doRequest performs req and reads the body. Connection failures become a
// TransportError unless the context expired first.
func doRequest(ctx context.Context, client *http.Client, req *http.Request) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, Classify(ctxErr)
		}
		if isTimeout(err) {
			return 0, nil, &ProcessingFailedError{Message: "background removal timed out", Err: err}
		}
		return 0, nil, Transport("http request", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, Classify(ctxErr)
		}
		return 0, nil, Transport("read response", err)
	}
	return resp.StatusCode, raw, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func joinEndpoint(base, path, fallback string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", ErrMissingEndpoint
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

func httpClientOrDefault(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
