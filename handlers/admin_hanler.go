package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Dosada05/skill-tournaments/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminJobHandler: операторские эндпоинты очереди задач.
type AdminJobHandler struct {
	responder
	jobAdminService services.JobAdminService
}

func NewAdminJobHandler(s services.JobAdminService, logger *zap.Logger) *AdminJobHandler {
	return &AdminJobHandler{responder: responder{logger: logger}, jobAdminService: s}
}

func toInt(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// ListDeadJobs godoc
// @Summary Задачи в dead-letter
// @Tags admin
// @Produce json
// @Param limit query int false "Limit"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/jobs/dead [get]
func (h *AdminJobHandler) ListDeadJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobAdminService.ListDead(r.Context(), toInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"jobs": jobs})
}

// ListTournamentJobs godoc
// @Summary Задачи турнира
// @Tags admin
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /admin/tournaments/{tournamentID}/jobs [get]
func (h *AdminJobHandler) ListTournamentJobs(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	jobs, err := h.jobAdminService.ListByTournament(r.Context(), id)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"jobs": jobs})
}

// RequeueJob godoc
// @Summary Вернуть задачу из dead-letter в очередь
// @Tags admin
// @Produce json
// @Param jobID path string true "Job ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string "Уже есть активная задача того же типа"
// @Security BearerAuth
// @Router /admin/jobs/{jobID}/requeue [post]
func (h *AdminJobHandler) RequeueJob(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "jobID")
	if err != nil {
		h.badRequest(w, r, errors.New("invalid job id"))
		return
	}
	if id == uuid.Nil {
		h.badRequest(w, r, errors.New("invalid job id"))
		return
	}

	job, err := h.jobAdminService.Requeue(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"job": job})
}
