package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"bgremover/internal/asset"
	"bgremover/internal/capability"
	"bgremover/internal/middleware"
	"bgremover/internal/transfer"
)

// multipartOverhead is the slack allowed on top of the image size for form
// boundaries and headers.
const multipartOverhead = 1 << 20

type downloadImageRequest struct {
	Image string `json:"image"`
}

// ProcessImage handles POST /process-image with multipart field "image".
func (a *App) ProcessImage(w http.ResponseWriter, r *http.Request) {
	img, status, err := a.readUpload(w, r, true)
	if err != nil {
		if status == http.StatusOK {
			a.json(w, status, capability.ProcessResponse{Success: false, Error: err.Error()})
			return
		}
		a.error(w, status, err.Error())
		return
	}
	out, err := a.remove(r.Context(), img)
	if err != nil {
		a.json(w, http.StatusOK, capability.ProcessResponse{Success: false, Error: err.Error()})
		return
	}
	a.json(w, http.StatusOK, capability.ProcessResponse{Success: true, Image: out.DataURI()})
}

// RemoveBG handles POST /remove-bg, the server-function variant. It accepts
// the raw image as the body or as multipart field "image".
func (a *App) RemoveBG(w http.ResponseWriter, r *http.Request) {
	img, _, err := a.readUpload(w, r, false)
	if err != nil {
		a.json(w, http.StatusInternalServerError, capability.FunctionResponse{Error: err.Error()})
		return
	}
	out, err := a.remove(r.Context(), img)
	if err != nil {
		a.json(w, http.StatusInternalServerError, capability.FunctionResponse{Error: err.Error()})
		return
	}
	a.json(w, http.StatusOK, capability.FunctionResponse{Result: base64.StdEncoding.EncodeToString(out.Data)})
}

// DownloadImage handles POST /download-image and returns the referenced
// image as an attachment named background-removed.png.
func (a *App) DownloadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4*a.maxUploadBytes()+multipartOverhead)
	var req downloadImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid payload")
		return
	}
	ref := strings.TrimSpace(req.Image)
	if ref == "" {
		a.error(w, http.StatusBadRequest, "image is required")
		return
	}
	if !asset.IsDataURI(ref) {
		parsed, err := url.Parse(ref)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			a.error(w, http.StatusBadRequest, "image must be a data uri or an http(s) url")
			return
		}
		if !a.Config.HostAllowed(parsed.Hostname()) {
			a.error(w, http.StatusForbidden, "image host is not allowed")
			return
		}
	}
	dl, err := a.Encoder.EncodeForDownload(r.Context(), ref)
	if err != nil {
		a.Logger.Warn().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("download-image: resolve failed")
		if errors.Is(err, asset.ErrInvalidDataURI) {
			a.error(w, http.StatusBadRequest, "invalid data uri")
			return
		}
		if errors.Is(err, transfer.ErrTooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "image is too large")
			return
		}
		a.error(w, http.StatusBadGateway, "could not retrieve image")
		return
	}
	w.Header().Set("Content-Type", dl.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dl.Data)
}

func (a *App) remove(ctx context.Context, img asset.Image) (asset.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, a.processTimeout())
	defer cancel()
	out, err := a.Remover.RemoveBackground(ctx, img)
	if err != nil {
		err = capability.Classify(err)
		a.Logger.Warn().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(ctx)).
			Str("name", img.Name).
			Str("outcome", capability.Outcome(err)).
			Msg("background removal failed")
		return asset.Image{}, err
	}
	return out, nil
}

// readUpload extracts the image from a multipart form or, when requireForm is
// false, from the raw body. The returned status is the HTTP code to use on
// error; unsupported types map to 200 for the envelope endpoint.
func (a *App) readUpload(w http.ResponseWriter, r *http.Request, requireForm bool) (asset.Image, int, error) {
	limit := a.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var file transfer.File
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(limit + multipartOverhead); err != nil {
			return asset.Image{}, http.StatusBadRequest, uploadError(err)
		}
		_, header, err := r.FormFile(capability.FormField)
		if err != nil {
			return asset.Image{}, http.StatusBadRequest, errors.New("image field is required")
		}
		file = formFile{header: header}
	} else {
		if requireForm {
			return asset.Image{}, http.StatusBadRequest, errors.New("expected multipart/form-data with an image field")
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return asset.Image{}, http.StatusBadRequest, uploadError(err)
		}
		declared := mediaType
		if declared == "" || declared == "application/octet-stream" {
			declared = http.DetectContentType(data)
		}
		file = transfer.BytesFile{Filename: "upload", Type: declared, Data: data}
	}

	img, err := transfer.Decode(file, limit)
	if err != nil {
		if transfer.IsUnsupportedType(err) {
			return asset.Image{}, http.StatusOK, err
		}
		return asset.Image{}, http.StatusBadRequest, err
	}
	return img, 0, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit)
	}
	return errors.New("could not read upload")
}

// formFile adapts a multipart header to transfer.File.
type formFile struct {
	header *multipart.FileHeader
}

func (f formFile) Name() string        { return f.header.Filename }
func (f formFile) ContentType() string { return f.header.Header.Get("Content-Type") }

func (f formFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}
