package handlers_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bgremover/internal/asset"
	"bgremover/internal/capability"
	handlers "bgremover/internal/http/handlers"
	"bgremover/internal/http/httpapi"
	"bgremover/internal/infra"
	"bgremover/internal/transfer"
)

func testConfig() *infra.Config {
	return &infra.Config{
		AppEnv:               "test",
		MaxUploadBytes:       1 << 20,
		ProcessTimeout:       5 * time.Second,
		ImageSourceAllowlist: []string{"127.0.0.1"},
	}
}

func newRouter(t *testing.T, remover capability.Remover) http.Handler {
	t.Helper()
	app := handlers.NewApp(testConfig(), remover, zerolog.Nop())
	return httpapi.NewRouter(app)
}

func embedded() capability.Remover {
	return capability.NewEmbedded(capability.EmbeddedOptions{Workers: 1})
}

// productPhoto is a white canvas with a red square in the middle.
func productPhoto(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 8 && x < 16 && y >= 8 && y < 16 {
				c = color.NRGBA{R: 220, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

type failingRemover struct{ err error }

func (f failingRemover) RemoveBackground(ctx context.Context, img asset.Image) (asset.Image, error) {
	return asset.Image{}, f.err
}

func (failingRemover) Close() error { return nil }

func TestHealth(t *testing.T) {
	router := newRouter(t, embedded())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(t, embedded())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProcessImageReturnsTransparentPNG(t *testing.T) {
	router := newRouter(t, embedded())
	body, ct := multipartBody(t, "image", "shoe.png", "image/png", productPhoto(t))
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp capability.ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	out, err := asset.ParseDataURI(resp.Image, asset.SourceResult)
	if err != nil {
		t.Fatalf("parse data uri: %v", err)
	}
	if out.MIME != "image/png" {
		t.Fatalf("mime = %q", out.MIME)
	}
	decoded, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if _, _, _, a := decoded.At(0, 0).RGBA(); a != 0 {
		t.Fatalf("corner alpha = %d, want transparent", a)
	}
	if _, _, _, a := decoded.At(12, 12).RGBA(); a == 0 {
		t.Fatalf("subject became transparent")
	}
}

func TestProcessImageMissingField(t *testing.T) {
	router := newRouter(t, embedded())
	body, ct := multipartBody(t, "file", "shoe.png", "image/png", productPhoto(t))
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessImageRejectsNonImage(t *testing.T) {
	router := newRouter(t, embedded())
	body, ct := multipartBody(t, "image", "notes.txt", "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp capability.ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.Code != http.StatusOK || resp.Success || resp.Error == "" {
		t.Fatalf("unexpected response %d %+v", rec.Code, resp)
	}
}

func TestProcessImageReportsFailureVerbatim(t *testing.T) {
	router := newRouter(t, failingRemover{err: capability.Failed("model crashed")})
	body, ct := multipartBody(t, "image", "shoe.png", "image/png", productPhoto(t))
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp capability.ProcessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Success || resp.Error != "model crashed" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRemoveBGRawBody(t *testing.T) {
	router := newRouter(t, embedded())
	req := httptest.NewRequest(http.MethodPost, "/remove-bg", bytes.NewReader(productPhoto(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp capability.FunctionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Result)
	if err != nil {
		t.Fatalf("result is not base64: %v", err)
	}
	if http.DetectContentType(data) != "image/png" {
		t.Fatalf("result is not a png")
	}
}

func TestRemoveBGFailureIs500(t *testing.T) {
	router := newRouter(t, failingRemover{err: capability.Failed("out of memory")})
	req := httptest.NewRequest(http.MethodPost, "/remove-bg", bytes.NewReader(productPhoto(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp capability.FunctionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "out of memory" {
		t.Fatalf("error = %q", resp.Error)
	}
}

func TestDownloadImageFromDataURI(t *testing.T) {
	router := newRouter(t, embedded())
	img := asset.Image{Data: productPhoto(t), MIME: "image/png"}
	payload, _ := json.Marshal(map[string]string{"image": img.DataURI()})
	req := httptest.NewRequest(http.MethodPost, "/download-image", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); got != "attachment; filename=background-removed.png" {
		t.Fatalf("content-disposition = %q", got)
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("content-type = %q", rec.Header().Get("Content-Type"))
	}
	if !bytes.Equal(rec.Body.Bytes(), img.Data) {
		t.Fatalf("downloaded bytes differ")
	}
}

func TestDownloadImageRejectsUnlistedHost(t *testing.T) {
	router := newRouter(t, embedded())
	payload := strings.NewReader(`{"image":"https://cdn.example.net/result.png"}`)
	req := httptest.NewRequest(http.MethodPost, "/download-image", payload)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestDownloadImageRejectsBadPayload(t *testing.T) {
	router := newRouter(t, embedded())
	for _, body := range []string{`not json`, `{"image":""}`, `{"image":"ftp://host/x.png"}`} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/download-image", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, rec.Code)
		}
	}
}

// The remote variants and the encoder talk to the real router over HTTP.
func TestRemoteVariantsAgainstRouter(t *testing.T) {
	srv := httptest.NewServer(newRouter(t, embedded()))
	defer srv.Close()

	upload := asset.Image{Data: productPhoto(t), MIME: "image/png", Source: asset.SourceUpload, Name: "shoe.png"}

	httpRemover, err := capability.NewHTTPRemover(capability.HTTPOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new http remover: %v", err)
	}
	out, err := httpRemover.RemoveBackground(context.Background(), upload)
	if err != nil {
		t.Fatalf("http variant: %v", err)
	}
	if out.MIME != "image/png" || out.Source != asset.SourceResult {
		t.Fatalf("http variant result %+v", out.MIME)
	}

	fnRemover, err := capability.NewFunctionRemover(capability.HTTPOptions{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new function remover: %v", err)
	}
	fnOut, err := fnRemover.RemoveBackground(context.Background(), upload)
	if err != nil {
		t.Fatalf("function variant: %v", err)
	}
	if !bytes.Equal(fnOut.Data, out.Data) {
		t.Fatalf("variants disagree on the same input")
	}
}

func TestEncoderResolvesRemoteURLThroughRouter(t *testing.T) {
	want := productPhoto(t)
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(want)
	}))
	defer cdn.Close()

	srv := httptest.NewServer(newRouter(t, embedded()))
	defer srv.Close()

	enc := transfer.NewEncoder(transfer.EncoderOptions{DownloadEndpoint: srv.URL + "/download-image"})
	dl, err := enc.EncodeForDownload(context.Background(), cdn.URL+"/result.png")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if dl.Filename != transfer.DownloadFilename || !bytes.Equal(dl.Data, want) {
		t.Fatalf("unexpected download %s (%d bytes)", dl.Filename, len(dl.Data))
	}
}

func TestProcessImageRejectsOversizeUpload(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 64
	router := httpapi.NewRouter(handlers.NewApp(cfg, embedded(), zerolog.Nop()))
	body, ct := multipartBody(t, "image", "big.png", "image/png", productPhoto(t))
	req := httptest.NewRequest(http.MethodPost, "/process-image", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	raw, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, raw)
	}
}

func TestDownloadImageRejectsOversizeRemote(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{0x89}, 4096))
	}))
	defer cdn.Close()

	// The download limit is four times the upload cap.
	cfg := testConfig()
	cfg.MaxUploadBytes = 16
	router := httpapi.NewRouter(handlers.NewApp(cfg, embedded(), zerolog.Nop()))
	payload := strings.NewReader(`{"image":"` + cdn.URL + `/result.png"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/download-image", payload))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
