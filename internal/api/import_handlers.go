package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	iduuid "github.com/JakeFAU/catalog-importer/internal/id/uuid"
	"github.com/JakeFAU/catalog-importer/internal/orchestrator"
	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/store"
)

const (
	uploadField      = "file"
	msgNotMultipart  = "Expected a multipart/form-data upload."
	msgNoFile        = "No file uploaded."
	msgUploadFailed  = "Unable to accept upload."
	msgInvalidJobID  = "invalid job_id"
	msgJobNotFound   = "Import job not found"
	msgProgressError = "Unable to stream progress."
)

// uploadProducts handles POST /api/products/upload. The "file" part is
// streamed straight into the orchestrator without buffering the whole body.
func (s *Server) uploadProducts(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		writeError(w, http.StatusBadRequest, msgNotMultipart)
		return
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, msgNotMultipart)
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, msgNoFile)
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, msgNotMultipart)
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}

		job, err := s.deps.Submitter.Submit(r.Context(), orchestrator.Upload{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Body:        part,
		})
		_ = part.Close()
		if err != nil {
			var inputErr *pipeline.InputError
			if errors.As(err, &inputErr) {
				writeError(w, http.StatusBadRequest, inputErr.Detail)
				return
			}
			s.logger.Error("upload failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgUploadFailed)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}
}

// streamProgress handles GET /api/progress/{job_id}.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !iduuid.Valid(jobID) {
		writeError(w, http.StatusBadRequest, msgInvalidJobID)
		return
	}
	if err := s.deps.Progress.Stream(w, r, jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgJobNotFound)
			return
		}
		s.logger.Error("progress stream failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgProgressError)
	}
}

// getJob handles GET /api/jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !iduuid.Valid(jobID) {
		writeError(w, http.StatusBadRequest, msgInvalidJobID)
		return
	}
	job, err := s.deps.Progress.Snapshot(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgJobNotFound)
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
