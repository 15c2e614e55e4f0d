package http

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"carrent-backend/internal/apperr"
	"carrent-backend/internal/logger"
	"carrent-backend/internal/service"
	"carrent-backend/internal/storage"

	"github.com/gorilla/mux"
)

// fileReader is implemented by backends that serve objects through the API
// instead of a presigned URL.
type fileReader interface {
	ReadFile(key string) (io.ReadCloser, error)
}

// ConfirmCarReturn accepts the return photos as multipart "photos" parts.
func (h *Handler) ConfirmCarReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		writeError(w, r, apperr.Validation("invalid multipart upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["photos"]
	photos := make([]service.Photo, 0, len(headers))
	for _, fh := range headers {
		photo, f, err := h.openPhoto(fh)
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer f.Close()
		photos = append(photos, photo)
	}

	b, err := h.bookings.ConfirmCarReturn(r.Context(), callerOf(r), service.ConfirmReturnRequest{BookingID: id, Photos: photos})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) openPhoto(fh *multipart.FileHeader) (service.Photo, multipart.File, error) {
	contentType := fh.Header.Get("Content-Type")
	if !h.allowedType(contentType) {
		return service.Photo{}, nil, apperr.Validation("photo %q has unsupported content type %q", fh.Filename, contentType)
	}
	f, err := fh.Open()
	if err != nil {
		return service.Photo{}, nil, apperr.Validation("cannot read photo %q", fh.Filename)
	}
	return service.Photo{Name: fh.Filename, ContentType: contentType, Body: f}, f, nil
}

func (h *Handler) allowedType(contentType string) bool {
	if len(h.opts.AllowedTypes) == 0 {
		return contentType == "image/jpeg" || contentType == "image/png"
	}
	for _, t := range h.opts.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// Download serves /download/{token}?key=... links. The filesystem backend is
// streamed; other backends are redirected to a short-lived URL.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "Missing key parameter", http.StatusBadRequest)
		return
	}
	if mux.Vars(r)["token"] != storage.KeyToken(key) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	reader, ok := h.objects.(fileReader)
	if !ok {
		url, err := h.objects.DownloadURL(r.Context(), key, h.opts.DownloadTTL)
		if err != nil {
			logger.Error("Failed to presign download", "key", key, "error", err)
			http.Error(w, "Failed to create download link", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	file, err := reader.ReadFile(key)
	if err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	contentType := "application/octet-stream"
	switch filepath.Ext(key) {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".webp":
		contentType = "image/webp"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := io.Copy(w, file); err != nil {
		logger.Warn("Download interrupted", "key", key, "error", err)
	}
}
