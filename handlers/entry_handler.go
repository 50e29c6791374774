package handlers

import (
	"net/http"

	"github.com/Dosada05/skill-tournaments/middleware"
	"github.com/Dosada05/skill-tournaments/services"
	"go.uber.org/zap"
)

type EntryHandler struct {
	responder
	admissionService services.AdmissionService
}

func NewEntryHandler(as services.AdmissionService, logger *zap.Logger) *EntryHandler {
	return &EntryHandler{
		responder:        responder{logger: logger},
		admissionService: as,
	}
}

type paymentProofInput struct {
	PaymentProof string `json:"payment_proof"`
}

// JoinHandler godoc
// @Summary Войти в турнир
// @Tags entries
// @Description Без подтверждения оплаты заявка создаётся в PENDING и держит место до старта.
// @Accept json
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Param input body paymentProofInput false "Payment proof"
// @Success 201 {object} map[string]interface{} "Заявка создана"
// @Failure 402 {object} map[string]string "Оплата не подтверждена"
// @Failure 404 {object} map[string]string "Турнир не найден"
// @Failure 409 {object} map[string]string "Турнир полон / закрыт / уже участвует"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/entries [post]
func (h *EntryHandler) JoinHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorized(w, r, "authentication required")
		return
	}

	var input paymentProofInput
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &input); err != nil {
			h.badRequest(w, r, err)
			return
		}
	}

	entry, err := h.admissionService.Join(r.Context(), tournamentID, userID, input.PaymentProof)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusCreated, jsonResponse{"entry": entry})
}

// LeaveHandler godoc
// @Summary Выйти из турнира до старта
// @Tags entries
// @Param tournamentID path string true "Tournament ID"
// @Success 204 "Заявка отозвана"
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "Турнир уже начался"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/entries/me [delete]
func (h *EntryHandler) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorized(w, r, "authentication required")
		return
	}

	if err := h.admissionService.Leave(r.Context(), tournamentID, userID); err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmPaymentHandler godoc
// @Summary Подтвердить оплату заявки
// @Tags entries
// @Accept json
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Param input body paymentProofInput true "Payment proof"
// @Success 200 {object} map[string]interface{}
// @Failure 402 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/entries/me/payment [post]
func (h *EntryHandler) ConfirmPaymentHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorized(w, r, "authentication required")
		return
	}

	var input paymentProofInput
	if err := readJSON(w, r, &input); err != nil {
		h.badRequest(w, r, err)
		return
	}

	entry, err := h.admissionService.ConfirmPayment(r.Context(), tournamentID, userID, input.PaymentProof)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"entry": entry})
}

// MyEntryHandler godoc
// @Summary Моя заявка в турнире
// @Tags entries
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/entries/me [get]
func (h *EntryHandler) MyEntryHandler(w http.ResponseWriter, r *http.Request) {
	tournamentID, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorized(w, r, "authentication required")
		return
	}

	entry, err := h.admissionService.GetEntry(r.Context(), tournamentID, userID)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"entry": entry})
}

// MyEntriesHandler godoc
// @Summary Все мои заявки
// @Tags entries
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /users/me/entries [get]
func (h *EntryHandler) MyEntriesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorized(w, r, "authentication required")
		return
	}

	entries, err := h.admissionService.ListUserEntries(r.Context(), userID)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"entries": entries})
}
