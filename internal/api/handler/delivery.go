package handler

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/clipgrab/internal/domain"
	"github.com/iconidentify/clipgrab/internal/progress"
	"github.com/iconidentify/clipgrab/pkg/ui"
)

// streamChunkSize bounds the memory used per download.
const streamChunkSize = 512 * 1024

// FileStore is the part of the file registry the delivery routes need.
type FileStore interface {
	Get(token string) (domain.FileEntry, bool)
	Consume(token string)
}

// DeliveryHandler serves hosted files.
type DeliveryHandler struct {
	files  FileStore
	logger *slog.Logger
}

// NewDeliveryHandler creates a new delivery handler.
func NewDeliveryHandler(files FileStore, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		files:  files,
		logger: logger,
	}
}

// Page handles GET /download/{token} - landing page with preview and
// download buttons. It never changes registry state.
func (h *DeliveryHandler) Page(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	entry, ok := h.files.Get(token)
	if !ok {
		writeHTML(w, http.StatusNotFound, ui.ExpiredHTML)
		return
	}
	if entry.Consumed {
		writeHTML(w, http.StatusGone, ui.ConsumedHTML)
		return
	}

	page := ui.DownloadPage{
		Token:        token,
		Filename:     entry.Filename,
		Size:         progress.FormatSize(entry.FileSize),
		ContentLabel: entry.ContentType.Label(),
		MIMEType:     entry.ContentType.MIMEType(),
		IsVideo:      entry.ContentType == domain.ContentVideo,
		Expires:      entry.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC"),
	}
	if page.IsVideo && entry.AudioToken != "" {
		if audio, ok := h.files.Get(entry.AudioToken); ok && !audio.Consumed {
			page.Audio = &ui.AudioLink{
				Token:    audio.Token,
				Filename: audio.Filename,
				Size:     progress.FormatSize(audio.FileSize),
			}
		}
	}

	var buf bytes.Buffer
	if err := ui.DownloadTemplate.Execute(&buf, page); err != nil {
		h.logger.Error("render download page failed", "error", err, "token_prefix", domain.ShortToken(token))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeHTML(w, http.StatusOK, buf.Bytes())
}

// Preview handles GET /preview/{token} - range-capable inline stream.
// Preview never consumes the entry.
func (h *DeliveryHandler) Preview(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	entry, ok := h.files.Get(token)
	if !ok || entry.Consumed {
		http.Error(w, "Not available.", http.StatusNotFound)
		return
	}

	f, info, ok := h.open(w, entry)
	if !ok {
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", entry.ContentType.MIMEType())
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, entry.Filename, info.ModTime(), f)
}

// File handles GET /files/{token} - the one-time download. The entry is
// consumed only after the whole file was written to the client.
func (h *DeliveryHandler) File(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	logger := h.logger.With("token_prefix", domain.ShortToken(token))

	entry, ok := h.files.Get(token)
	if !ok {
		writeHTML(w, http.StatusNotFound, ui.ExpiredHTML)
		return
	}
	if entry.Consumed {
		writeHTML(w, http.StatusGone, ui.ConsumedHTML)
		return
	}

	f, info, ok := h.open(w, entry)
	if !ok {
		return
	}
	defer f.Close()

	size := info.Size()
	if size != entry.FileSize {
		logger.Warn("hosted file size changed since registration",
			"registered", entry.FileSize,
			"on_disk", size,
		)
	}

	w.Header().Set("Content-Disposition", attachment(entry.Filename))
	w.Header().Set("Content-Type", entry.ContentType.MIMEType())
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	written, err := copyChunked(w, f)
	if err == nil {
		err = http.NewResponseController(w).Flush()
		if errors.Is(err, http.ErrNotSupported) {
			err = nil
		}
	}
	if err == nil {
		err = r.Context().Err()
	}
	if err != nil || written != size {
		logger.Info("download interrupted, keeping file",
			"written", written,
			"size", size,
			"error", err,
		)
		return
	}

	h.files.Consume(token)
	logger.Info("file downloaded", "filename", entry.Filename, "size", written)
}

// open opens the backing file, writing a 404 when it is gone.
func (h *DeliveryHandler) open(w http.ResponseWriter, entry domain.FileEntry) (*os.File, fs.FileInfo, bool) {
	f, err := os.Open(entry.FilePath)
	if err == nil {
		info, statErr := f.Stat()
		if statErr == nil {
			return f, info, true
		}
		f.Close()
		err = statErr
	}

	if errors.Is(err, fs.ErrNotExist) {
		h.logger.Warn("hosted file missing on disk", "token_prefix", domain.ShortToken(entry.Token))
	} else {
		h.logger.Error("open hosted file failed", "token_prefix", domain.ShortToken(entry.Token), "error", err)
	}
	http.Error(w, "File no longer available.", http.StatusNotFound)
	return nil, nil, false
}

// copyChunked copies src to w one streamChunkSize write at a time.
func copyChunked(w io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, streamChunkSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, err := w.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, err
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// attachment builds a Content-Disposition value. Non-ASCII names are
// encoded per RFC 2231 by mime.FormatMediaType.
func attachment(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(body)
}
