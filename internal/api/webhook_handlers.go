package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/pipeline"
	"github.com/JakeFAU/catalog-importer/internal/store"
	"github.com/JakeFAU/catalog-importer/internal/webhook"
)

const (
	msgInvalidWebhookID = "invalid webhook_id"
	msgWebhookNotFound  = "Webhook not found"
	msgInvalidJSON      = "invalid JSON"
	maxWebhookBody      = 64 << 10
)

type testResponse struct {
	StatusCode     int    `json:"status_code"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Succeeded      bool   `json:"succeeded"`
	Body           string `json:"body"`
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.deps.Webhooks.ListWebhooks(r.Context())
	if err != nil {
		s.internalError(w, r, "list webhooks failed", err)
		return
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (s *Server) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in pipeline.WebhookInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if err := webhook.Validate(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hook, err := s.deps.Webhooks.CreateWebhook(r.Context(), in)
	if err != nil {
		s.internalError(w, r, "create webhook failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, hook)
}

func (s *Server) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	var patch pipeline.WebhookPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidJSON)
		return
	}
	if err := webhook.ValidatePatch(patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hook, err := s.deps.Webhooks.UpdateWebhook(r.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgWebhookNotFound)
			return
		}
		s.internalError(w, r, "update webhook failed", err)
		return
	}
	writeJSON(w, http.StatusOK, hook)
}

func (s *Server) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Webhooks.DeleteWebhook(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, msgWebhookNotFound)
			return
		}
		s.internalError(w, r, "delete webhook failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testWebhook handles POST /api/webhooks/{webhook_id}/test. An unreachable
// endpoint is a 502; an endpoint that answers with an error status is still a
// 200 carrying that status.
func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := webhookID(w, r)
	if !ok {
		return
	}
	attempt, err := s.deps.Tester.Test(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgWebhookNotFound)
		return
	case errors.Is(err, webhook.ErrUnreachable):
		writeError(w, http.StatusBadGateway, "Request failed: "+err.Error())
		return
	case err != nil:
		s.internalError(w, r, "test webhook failed", err)
		return
	}
	writeJSON(w, http.StatusOK, testResponse{
		StatusCode:     attempt.StatusCode,
		ResponseTimeMs: attempt.ResponseTimeMs,
		Succeeded:      attempt.Succeeded,
		Body:           attempt.Body,
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg, zap.String("request_id", RequestID(r.Context())), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func webhookID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "webhook_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, msgInvalidWebhookID)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	return dec.Decode(dst)
}
