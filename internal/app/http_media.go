package app

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"canvas/api/internal/completion"
	"canvas/api/internal/media"
)

const multipartOverhead = 1 << 20

func (s *HTTPServer) handleCompletion(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	var body struct {
		Action  completion.Action `json:"action"`
		Payload json.RawMessage   `json:"payload"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.Complete(r.Context(), identity.UserID, body.Action, body.Payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

// handleUploadImage accepts a multipart "file" field or a JSON {url} to
// import.
func (s *HTTPServer) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		upload Upload
		err    error
	)
	if mediaType == "multipart/form-data" {
		var data []byte
		data, err = readMultipartImage(w, r)
		if err == nil {
			upload, err = s.service.UploadImage(r.Context(), identity.UserID, data)
		}
	} else {
		var body struct {
			URL string `json:"url"`
		}
		if err := decodeBody(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		upload, err = s.service.ImportImage(r.Context(), identity.UserID, body.URL)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"src":      upload.Src,
		"mimeType": upload.MimeType,
	})
}

func readMultipartImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxImageBytes+multipartOverhead)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, media.ErrTooLarge
		}
		return nil, validationError("file", "file is required")
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, media.MaxImageBytes+1))
	if err != nil {
		return nil, validationError("file", "file could not be read")
	}
	return data, nil
}

func (s *HTTPServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	obj, err := s.service.OpenMedia(r.Context(), identity.UserID, chi.URLParam(r, "*"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		s.log.Warn().Err(err).Msg("stream media")
	}
}
