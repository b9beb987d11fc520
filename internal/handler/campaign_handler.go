// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/nthuku/mailpacer-backend/internal/errors"
	"github.com/nthuku/mailpacer-backend/internal/service"
)

// CampaignHandler holds the dependencies for campaign-related HTTP handlers
type CampaignHandler struct {
	Service *service.CampaignService
}

func NewCampaignHandler(svc *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{Service: svc}
}

// writeError maps the service error taxonomy onto HTTP statuses:
// precondition violations are 409, missing resources 404.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var notFoundCampaign *apperrors.ErrCampaignNotFound
	var notFoundRun *apperrors.ErrRunNotFound
	var notFoundRecipient *apperrors.ErrRecipientNotFound
	var invalid *apperrors.ErrInvalidTransition
	var lockHeld *apperrors.ErrLockHeld
	var noPending *apperrors.ErrNoPendingRecipients

	switch {
	case errors.As(err, &notFoundCampaign), errors.As(err, &notFoundRun), errors.As(err, &notFoundRecipient):
		status = http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &lockHeld), errors.As(err, &noPending):
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func urlID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	return id, err == nil
}

func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name            string `json:"name"`
		SubjectTemplate string `json:"subject_template"`
		BodyTemplate    string `json:"body_template"`
		SenderAlias     string `json:"sender_alias"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	campaign, err := h.Service.CreateCampaign(body.Name, body.SubjectTemplate, body.BodyTemplate, body.SenderAlias)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, campaign)
}

func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(page, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := h.Service.GetCampaignDetails(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, details)
}

func (h *CampaignHandler) MaterializeRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		Recipients []service.RecipientInput `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.MaterializeRecipients(id, body.Recipients)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *CampaignHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	state := r.URL.Query().Get("state")

	items, pagination, err := h.Service.ListRecipients(id, page, pageSize, state)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"data":       items,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	run, err := h.Service.Start(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"campaign_id": id,
		"run_id":      run.ID,
		"status":      "sending",
	})
}

func (h *CampaignHandler) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.Service.Pause, "paused")
}

func (h *CampaignHandler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.Service.Resume, "sending")
}

func (h *CampaignHandler) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.Service.Cancel, "cancelled")
}

func (h *CampaignHandler) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(int) error, status string) {
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if err := op(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"campaign_id": id, "status": status})
}

func (h *CampaignHandler) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		Fields       map[string]string `json:"fields"`
		OverrideBody *string           `json:"override_body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	subject, rendered, err := h.Service.RenderPreview(id, body.Fields, body.OverrideBody)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"subject": subject,
		"body":    rendered,
	})
}

func (h *CampaignHandler) ExcludeRecipient(w http.ResponseWriter, r *http.Request) {
	h.recipientOp(w, r, h.Service.ExcludeRecipient, "excluded")
}

func (h *CampaignHandler) IncludeRecipient(w http.ResponseWriter, r *http.Request) {
	h.recipientOp(w, r, h.Service.IncludeRecipient, "pending")
}

func (h *CampaignHandler) recipientOp(w http.ResponseWriter, r *http.Request, op func(int) error, state string) {
	id, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid recipient id", http.StatusBadRequest)
		return
	}

	if err := op(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"recipient_id": id, "state": state})
}
