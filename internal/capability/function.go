package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"bgremover/internal/asset"
)

// FunctionPath is the server-function endpoint.
const FunctionPath = "/remove-bg"

// FunctionResponse is the body returned by the server-function endpoint.
type FunctionResponse struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FunctionRemover posts raw image bytes to a stateless function endpoint and
// receives a base64 PNG back.
type FunctionRemover struct {
	endpoint   string
	httpClient *http.Client
	logger     *zerolog.Logger
}

var _ Remover = (*FunctionRemover)(nil)

// NewFunctionRemover constructs the server-function variant.
func NewFunctionRemover(opts HTTPOptions) (*FunctionRemover, error) {
	endpoint, err := joinEndpoint(opts.BaseURL, opts.Path, FunctionPath)
	if err != nil {
		return nil, err
	}
	return &FunctionRemover{
		endpoint:   endpoint,
		httpClient: httpClientOrDefault(opts.HTTPClient, opts.RequestTimeout),
		logger:     loggerOrNop(opts.Logger),
	}, nil
}

// RemoveBackground fulfils the Remover interface.
func (c *FunctionRemover) RemoveBackground(ctx context.Context, img asset.Image) (asset.Image, error) {
	if img.IsZero() {
		return asset.Image{}, Failed("no image data to process")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(img.Data))
	if err != nil {
		return asset.Image{}, Transport("build request", err)
	}
	contentType := asset.NormalizeMIME(img.MIME)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	status, raw, err := doRequest(ctx, c.httpClient, req)
	if err != nil {
		return asset.Image{}, err
	}
	var decoded FunctionResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if status >= 300 {
		if decodeErr == nil && strings.TrimSpace(decoded.Error) != "" {
			return asset.Image{}, Failed("%s", strings.TrimSpace(decoded.Error))
		}
		return asset.Image{}, Failed("background removal failed: status %d: %s", status, snippet(raw))
	}
	if decodeErr != nil {
		return asset.Image{}, &ProcessingFailedError{Message: "background removal returned a malformed response", Err: decodeErr}
	}
	if msg := strings.TrimSpace(decoded.Error); msg != "" {
		return asset.Image{}, Failed("%s", msg)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(decoded.Result))
	if err != nil || len(data) == 0 {
		return asset.Image{}, &ProcessingFailedError{Message: "background removal returned a malformed image", Err: err}
	}
	mime := asset.NormalizeMIME(http.DetectContentType(data))
	if !asset.IsImageMIME(mime) {
		mime = asset.DefaultMIME
	}
	c.logger.Debug().
		Str("endpoint", c.endpoint).
		Int("bytes", len(data)).
		Msg("function: background removed")
	return asset.Image{Data: data, MIME: mime, Source: asset.SourceResult, Name: img.Name}, nil
}

// Close is a no-op; the HTTP client is shared.
func (c *FunctionRemover) Close() error {
	return nil
}

func (c *FunctionRemover) String() string {
	return string(BackendFunction)
}
