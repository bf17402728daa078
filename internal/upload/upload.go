// Package upload stores chat image attachments on local disk and serves them
// back under /uploads/.
package upload

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anirudhms/chatrelay/internal/httpserver"
	"github.com/anirudhms/chatrelay/internal/metrics"
)

type Handler struct {
	dir      string
	baseURL  string
	maxBytes int64
	log      *slog.Logger
	mtx      *metrics.Metrics
}

// New prepares the upload directory. baseURL is the public prefix put in
// front of /uploads/ in returned URLs; empty means relative URLs.
func New(dir, baseURL string, maxBytes int64, logger *slog.Logger, m *metrics.Metrics) (*Handler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Handler{
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		log:      logger,
		mtx:      m,
	}, nil
}

// Register mounts the upload endpoint and the static file route.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload", h.store)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.dir))))
}

func (h *Handler) store(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, header, err := r.FormFile("image")
	if err != nil {
		if isBodyTooLarge(err) {
			httpserver.WriteError(w, http.StatusRequestEntityTooLarge,
				"too_large", fmt.Sprintf("upload exceeds %d bytes", h.maxBytes))
			return
		}
		httpserver.WriteError(w, http.StatusBadRequest, "no_file", "no file uploaded")
		return
	}
	defer file.Close()

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), sanitizeFilename(header.Filename))
	dst, err := os.Create(filepath.Join(h.dir, name))
	if err != nil {
		h.log.Error("create upload file", "name", name, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(dst.Name())
		if isBodyTooLarge(err) {
			httpserver.WriteError(w, http.StatusRequestEntityTooLarge,
				"too_large", fmt.Sprintf("upload exceeds %d bytes", h.maxBytes))
			return
		}
		h.log.Error("write upload file", "name", name, "err", err)
		httpserver.WriteError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}

	h.mtx.Inc(metrics.UploadStored)
	h.log.Info("stored upload", "name", name, "bytes", header.Size)
	httpserver.WriteJSON(w, http.StatusOK, map[string]string{
		"imageUrl": h.baseURL + "/uploads/" + name,
	})
}

// isBodyTooLarge matches the MaxBytesReader error even when the multipart
// reader has rewrapped it without %w.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

// sanitizeFilename strips any path components and characters that are unsafe
// in a URL path segment, keeping the extension intact.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if strings.Trim(out, "._") == "" {
		return "upload"
	}
	return out
}
