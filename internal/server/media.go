package server

import (
	"errors"
	"mime"
	"net/http"

	"github.com/tendant/simple-transcoder/internal/store"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		respondError(w, r, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	up, err := s.cfg.Media.Save(header.Filename, file)
	switch {
	case errors.Is(err, store.ErrInvalidName):
		respondError(w, r, http.StatusBadRequest, "Invalid filename")
		return
	case err != nil:
		s.logger.Error("save upload failed", "filename", header.Filename, "err", err)
		respondError(w, r, http.StatusInternalServerError, "Could not save file")
		return
	}
	s.logger.Info("media uploaded", "file_id", up.FileID, "filename", up.Filename, "size", up.Size)
	respond(w, r, http.StatusOK, up)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileID")
	filename := r.URL.Query().Get("filename")

	f, contentType, err := s.cfg.Media.Open(fileID, filename)
	switch {
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, store.ErrInvalidName):
		respondError(w, r, http.StatusBadRequest, "Invalid fileID or filename")
		return
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "File not found")
		return
	case err != nil:
		s.logger.Error("open media failed", "file_id", fileID, "filename", filename, "err", err)
		respondError(w, r, http.StatusInternalServerError, "Could not read file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Could not read file")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("fileID")
	err := s.cfg.Media.Delete(fileID)
	switch {
	case errors.Is(err, store.ErrInvalidID):
		respondError(w, r, http.StatusBadRequest, "Invalid fileID")
		return
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "File not found")
		return
	case err != nil:
		s.logger.Error("delete media failed", "file_id", fileID, "err", err)
		respondError(w, r, http.StatusInternalServerError, "Could not delete file")
		return
	}
	s.logger.Info("media deleted", "file_id", fileID)
	respond(w, r, http.StatusOK, response{Status: "success", Message: "File deleted successfully"})
}
