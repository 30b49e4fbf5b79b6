package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pavel-fokin/grayavatar/internal/avatar"
)

// Multipart framing around the file part is not counted against the upload ceiling.
const multipartOverhead = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func convert(maxSize int64, converter *avatar.Converter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

		if err := r.ParseMultipartForm(maxSize); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "file too large")
				return
			}
			writeError(w, http.StatusBadRequest, "please choose an avatar file")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "please choose an avatar file")
			return
		}
		defer file.Close()

		result, err := converter.Convert(r.Context(), &avatar.UploadRequest{
			Name:    header.Filename,
			Size:    header.Size,
			Content: file,
		})
		if err != nil {
			status, message := classify(err)
			if status == http.StatusInternalServerError {
				slog.Error("Conversion failed", "error", err, "filename", header.Filename)
			} else {
				slog.Info("Conversion rejected", "error", err, "filename", header.Filename)
			}
			writeError(w, status, message)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func download(trustProxy bool, retriever *avatar.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fileID := r.URL.Query().Get("fileId")
		if fileID == "" {
			writeError(w, http.StatusBadRequest, "missing file id")
			return
		}

		result, err := retriever.Retrieve(r.Context(), clientKey(r, trustProxy), fileID)
		if err != nil {
			status, message := classify(err)
			if status == http.StatusInternalServerError {
				slog.Error("Download failed", "error", err, "file_id", fileID)
			}
			writeError(w, status, message)
			return
		}

		// Set response headers
		w.Header().Set("Content-Type", result.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Content)))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(result.Content); err != nil {
			slog.Error("Failed to write artifact", "error", err, "file_id", fileID)
		}
	}
}

// classify maps service errors to a status code and a user-facing message
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, avatar.ErrEmptyUpload):
		return http.StatusBadRequest, "please choose an avatar file"
	case errors.Is(err, avatar.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, avatar.ErrInvalidImage):
		return http.StatusUnsupportedMediaType, "unsupported or corrupt image"
	case errors.Is(err, avatar.ErrPathTraversal):
		return http.StatusBadRequest, "bad file id"
	case errors.Is(err, avatar.ErrNotFound):
		return http.StatusNotFound, "file not found"
	case errors.Is(err, avatar.ErrRateLimited):
		return http.StatusTooManyRequests, "too many attempts"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// clientKey identifies the caller for rate limiting. X-Forwarded-For is only
// honoured behind a trusted proxy.
func clientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
