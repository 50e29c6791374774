package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Dosada05/skill-tournaments/middleware"
	"github.com/Dosada05/skill-tournaments/models"
	"github.com/Dosada05/skill-tournaments/repositories"
	"github.com/Dosada05/skill-tournaments/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TournamentHandler struct {
	responder
	tournamentService services.TournamentService
	lifecycleService  services.LifecycleService
	scoreService      services.ScoreService
	settlementService services.SettlementService
}

func NewTournamentHandler(
	ts services.TournamentService,
	ls services.LifecycleService,
	ss services.ScoreService,
	st services.SettlementService,
	logger *zap.Logger,
) *TournamentHandler {
	return &TournamentHandler{
		responder:         responder{logger: logger},
		tournamentService: ts,
		lifecycleService:  ls,
		scoreService:      ss,
		settlementService: st,
	}
}

// CreateHandler godoc
// @Summary Создать турнир
// @Tags tournaments
// @Accept json
// @Produce json
// @Param input body services.CreateTournamentInput true "Tournament"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]interface{}
// @Security BearerAuth
// @Router /tournaments [post]
func (h *TournamentHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var input services.CreateTournamentInput
	if err := readJSON(w, r, &input); err != nil {
		h.badRequest(w, r, err)
		return
	}

	tournament, err := h.tournamentService.Create(r.Context(), input)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusCreated, jsonResponse{"tournament": tournament})
}

// GetByIDHandler godoc
// @Summary Получить турнир
// @Tags tournaments
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /tournaments/{tournamentID} [get]
func (h *TournamentHandler) GetByIDHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	tournament, err := h.tournamentService.Get(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}

func parseListFilter(r *http.Request) (repositories.ListTournamentsFilter, error) {
	var filter repositories.ListTournamentsFilter
	query := r.URL.Query()

	if statusStr := query.Get("status"); statusStr != "" {
		status := models.TournamentStatus(statusStr)
		if !status.IsValid() {
			return filter, errors.New("invalid status query parameter")
		}
		filter.Status = &status
	}
	if modeStr := query.Get("mode"); modeStr != "" {
		mode := models.TournamentMode(modeStr)
		if !mode.IsValid() {
			return filter, errors.New("invalid mode query parameter")
		}
		filter.Mode = &mode
	}
	if gameID := query.Get("game_id"); gameID != "" {
		filter.GameID = &gameID
	}
	if currencyStr := query.Get("currency"); currencyStr != "" {
		currency := models.Currency(currencyStr)
		if !currency.IsValid() {
			return filter, errors.New("invalid currency query parameter")
		}
		filter.Currency = &currency
	}
	if minStr := query.Get("min_entry_fee"); minStr != "" {
		v, err := decimal.NewFromString(minStr)
		if err != nil {
			return filter, errors.New("invalid min_entry_fee query parameter")
		}
		filter.MinEntryFee = &v
	}
	if maxStr := query.Get("max_entry_fee"); maxStr != "" {
		v, err := decimal.NewFromString(maxStr)
		if err != nil {
			return filter, errors.New("invalid max_entry_fee query parameter")
		}
		filter.MaxEntryFee = &v
	}
	filter.SortBy = query.Get("sort_by")
	switch query.Get("order") {
	case "", "asc":
	case "desc":
		filter.SortDesc = true
	default:
		return filter, errors.New("invalid order query parameter")
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return filter, errors.New("invalid limit query parameter")
		}
		filter.Limit = limit
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, errors.New("invalid offset query parameter")
		}
		filter.Offset = offset
	}
	return filter, nil
}

// ListHandler godoc
// @Summary Список турниров
// @Tags tournaments
// @Produce json
// @Param status query string false "Status"
// @Param mode query string false "SYNC | ASYNC"
// @Param game_id query string false "Game"
// @Param currency query string false "Currency"
// @Param min_entry_fee query string false "Min entry fee"
// @Param max_entry_fee query string false "Max entry fee"
// @Param sort_by query string false "scheduled_start | created_at | entry_fee | prize_pool"
// @Param order query string false "asc | desc"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} map[string]interface{}
// @Router /tournaments [get]
func (h *TournamentHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	tournaments, err := h.tournamentService.List(r.Context(), filter)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"tournaments": tournaments})
}

// ListByGameHandler godoc
// @Summary Активные турниры игры
// @Tags tournaments
// @Produce json
// @Param gameID path string true "Game ID"
// @Success 200 {object} map[string]interface{}
// @Router /games/{gameID}/tournaments [get]
func (h *TournamentHandler) ListByGameHandler(w http.ResponseWriter, r *http.Request) {
	tournaments, err := h.tournamentService.ListActiveByGame(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"tournaments": tournaments})
}

// OpenHandler godoc
// @Summary Открыть регистрацию (SCHEDULED -> OPEN)
// @Tags tournaments
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/open [post]
func (h *TournamentHandler) OpenHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	tournament, err := h.lifecycleService.Open(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}

type cancelTournamentInput struct {
	Reason string `json:"reason"`
}

// CancelHandler godoc
// @Summary Отменить турнир с возвратом взносов
// @Tags tournaments
// @Accept json
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Param input body cancelTournamentInput false "Reason"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/cancel [post]
func (h *TournamentHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var input cancelTournamentInput
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &input); err != nil {
			h.badRequest(w, r, err)
			return
		}
	}

	tournament, err := h.lifecycleService.Cancel(r.Context(), id, input.Reason)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"tournament": tournament})
}

// LeaderboardHandler godoc
// @Summary Таблица лидеров
// @Tags scores
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /tournaments/{tournamentID}/leaderboard [get]
func (h *TournamentHandler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	rows, err := h.scoreService.GetLeaderboard(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"leaderboard": rows})
}

// SubmitScoreHandler godoc
// @Summary Отправить результат раунда
// @Tags scores
// @Accept json
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Param input body services.SubmitScoreInput true "Score"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]string "Турнир не принимает результаты"
// @Failure 422 {object} map[string]string "Неверный результат или подпись"
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/scores [post]
func (h *TournamentHandler) SubmitScoreHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		h.unauthorized(w, r, "authentication required")
		return
	}

	var input services.SubmitScoreInput
	if err := readJSON(w, r, &input); err != nil {
		h.badRequest(w, r, err)
		return
	}

	entry, err := h.scoreService.SubmitScore(r.Context(), id, userID, input)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"entry": entry})
}

// InstructionsHandler godoc
// @Summary Выплаты и возвраты турнира
// @Tags settlement
// @Produce json
// @Param tournamentID path string true "Tournament ID"
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /tournaments/{tournamentID}/instructions [get]
func (h *TournamentHandler) InstructionsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := getUUIDFromURL(r, "tournamentID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	instructions, err := h.settlementService.ListInstructions(r.Context(), id)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"instructions": instructions})
}

// PlayerStatsHandler godoc
// @Summary Статистика игрока
// @Tags players
// @Produce json
// @Param userID path int true "User ID"
// @Success 200 {object} map[string]interface{}
// @Router /users/{userID}/stats [get]
func (h *TournamentHandler) PlayerStatsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := getIntFromURL(r, "userID")
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	stats, err := h.tournamentService.PlayerStats(r.Context(), userID)
	if err != nil {
		h.mapServiceErrorToHTTP(w, r, err)
		return
	}
	h.ok(w, r, http.StatusOK, jsonResponse{"stats": stats})
}
