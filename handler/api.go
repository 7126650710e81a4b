package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"chrono-battle/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// QueueSizer источник размера очереди подбора
type QueueSizer interface {
	QueueSize(ctx context.Context) (int64, error)
}

// Counter источник счетчика (онлайн, живые бои)
type Counter interface {
	Count() int
}

// ReportReader читает кэшированные отчеты боев
type ReportReader interface {
	GetReport(ctx context.Context, battleID string) (*models.BattleReport, error)
	ReportExists(ctx context.Context, battleID string) (bool, error)
}

// HistoryReader читает сохраненные записи боев игрока
type HistoryReader interface {
	ListBattleRecords(ctx context.Context, accountID int64, limit int) ([]models.BattleRecord, error)
}

// Reloader перезагружает скрипт формул
type Reloader interface {
	Reload() error
}

// Refresher перечитывает справочники
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ChatStore хранит чат боя
type ChatStore interface {
	AppendChat(ctx context.Context, battleID, line string) error
	ListChat(ctx context.Context, battleID string) ([]string, error)
}

// TokenVerifier проверяет токен входа игрока
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// AccountReader читает аккаунт игрока
type AccountReader interface {
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
}

const maxChatContent = 200

type ctxKey int

const accountIDKey ctxKey = iota

// APIDeps зависимости HTTP API
type APIDeps struct {
	Queue      QueueSizer
	Online     Counter
	Battles    Counter
	Reports    ReportReader
	History    HistoryReader
	Formulas   Reloader
	Catalog    Refresher
	Chat       ChatStore
	Tokens     TokenVerifier
	Accounts   AccountReader
	AdminToken string
	Logger     *zap.Logger
}

// APIHandler обрабатывает HTTP запросы чтения и администрирования
type APIHandler struct {
	deps   APIDeps
	logger *zap.Logger
}

// NewAPIHandler создает обработчик HTTP API
func NewAPIHandler(deps APIDeps) *APIHandler {
	return &APIHandler{
		deps:   deps,
		logger: deps.Logger,
	}
}

// Register регистрирует маршруты API на роутере
func (h *APIHandler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/queue/status", h.GetQueueStatus).Methods("GET")
	api.HandleFunc("/battle/report/{battle_id}", h.GetReport).Methods("GET")
	api.HandleFunc("/battle/report/{battle_id}/exists", h.ReportExists).Methods("GET")
	api.HandleFunc("/battle/history/{account_id}", h.GetHistory).Methods("GET")

	chat := api.PathPrefix("/battle/chat").Subrouter()
	chat.Use(h.requirePlayer)
	chat.HandleFunc("/send", h.SendChat).Methods("POST")
	chat.HandleFunc("/list", h.ListChat).Methods("GET")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(h.requireAdmin)
	admin.HandleFunc("/formula/reload", h.ReloadFormulas).Methods("POST")
	admin.HandleFunc("/catalog/refresh", h.RefreshCatalog).Methods("POST")
}

// Health отвечает на проверку живости
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// GetQueueStatus возвращает размер очереди и нагрузку сервера
func (h *APIHandler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	queueSize, err := h.deps.Queue.QueueSize(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to get queue size", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"queue_size":   queueSize,
		"online":       h.deps.Online.Count(),
		"live_battles": h.deps.Battles.Count(),
		"timestamp":    time.Now().Unix(),
	})
}

// GetReport возвращает отчет завершенного боя
func (h *APIHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["battle_id"]

	report, err := h.deps.Reports.GetReport(r.Context(), battleID)
	if errors.Is(err, models.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "Report not found", nil)
		return
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to load report", err)
		return
	}

	h.respondJSON(w, http.StatusOK, report)
}

// ReportExists сообщает, есть ли отчет боя в кэше
func (h *APIHandler) ReportExists(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["battle_id"]

	exists, err := h.deps.Reports.ReportExists(r.Context(), battleID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to check report", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"battle_id": battleID,
		"exists":    exists,
	})
}

// GetHistory возвращает последние бои игрока
func (h *APIHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(mux.Vars(r)["account_id"], 10, 64)
	if err != nil || accountID <= 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid account ID", err)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 100 {
			h.respondError(w, http.StatusBadRequest, "Limit must be between 1 and 100", err)
			return
		}
	}

	records, err := h.deps.History.ListBattleRecords(r.Context(), accountID, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}
	if records == nil {
		records = []models.BattleRecord{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"battles":    records,
	})
}

// SendChat добавляет реплику игрока в чат боя в формате "Nickname: content"
func (h *APIHandler) SendChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BattleID string `json:"battle_id"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	content := strings.TrimSpace(req.Content)
	if req.BattleID == "" || content == "" {
		h.respondError(w, http.StatusBadRequest, "battle_id and content are required", nil)
		return
	}
	if utf8.RuneCountInString(content) > maxChatContent {
		h.respondError(w, http.StatusBadRequest, "Message is too long", nil)
		return
	}

	accountID := r.Context().Value(accountIDKey).(int64)
	account, err := h.deps.Accounts.GetAccount(r.Context(), accountID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		h.respondError(w, http.StatusUnauthorized, "Account not found", nil)
		return
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	case account.Banned():
		h.respondError(w, http.StatusForbidden, "Account is banned", nil)
		return
	}

	if err := h.deps.Chat.AppendChat(r.Context(), req.BattleID, account.Nickname+": "+content); err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to send message", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListChat возвращает последние реплики чата боя
func (h *APIHandler) ListChat(w http.ResponseWriter, r *http.Request) {
	battleID := r.URL.Query().Get("battle_id")
	if battleID == "" {
		h.respondError(w, http.StatusBadRequest, "battle_id is required", nil)
		return
	}

	lines, err := h.deps.Chat.ListChat(r.Context(), battleID)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to list chat", err)
		return
	}
	if lines == nil {
		lines = []string{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"battle_id": battleID,
		"messages":  lines,
	})
}

// ReloadFormulas перечитывает скрипт формул без перезапуска
func (h *APIHandler) ReloadFormulas(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Formulas.Reload(); err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to reload formulas", err)
		return
	}

	h.logger.Info("Formula script reloaded")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "reloaded"})
}

// RefreshCatalog перечитывает навыки и предметы
func (h *APIHandler) RefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Catalog.Refresh(r.Context()); err != nil {
		h.respondError(w, http.StatusInternalServerError, "Failed to refresh catalog", err)
		return
	}

	h.logger.Info("Catalog refreshed")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "refreshed"})
}

// requireAdmin пропускает запросы с заголовком Authorization: Bearer <ADMIN_TOKEN>.
// Пустой токен отключает административные маршруты.
func (h *APIHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.AdminToken == "" {
			h.respondError(w, http.StatusForbidden, "Admin API disabled", nil)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.deps.AdminToken)) != 1 {
			h.respondError(w, http.StatusUnauthorized, "Invalid admin token", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requirePlayer пропускает запросы с действующим токеном входа и кладет аккаунт в контекст
func (h *APIHandler) requirePlayer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			h.respondError(w, http.StatusUnauthorized, "Missing token", nil)
			return
		}
		accountID, err := h.deps.Tokens.Verify(token)
		if err != nil {
			h.respondError(w, http.StatusUnauthorized, "Invalid token", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountIDKey, accountID)))
	})
}

// respondJSON отправляет JSON ответ
func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// respondError отправляет ошибку в формате JSON
func (h *APIHandler) respondError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Warn("Request error",
		zap.Int("status", status),
		zap.String("message", message),
		zap.Error(err),
	)

	errorResp := map[string]interface{}{
		"error": message,
	}
	if err != nil {
		errorResp["details"] = err.Error()
	}
	h.respondJSON(w, status, errorResp)
}
