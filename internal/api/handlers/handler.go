// handler.go — основной обработчик REST API sciencerepo.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/sciencerepo/internal/api/errors"
	"github.com/bigkaa/sciencerepo/internal/api/middleware"
	"github.com/bigkaa/sciencerepo/internal/deposit"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/indexer"
	"github.com/bigkaa/sciencerepo/internal/minter"
	"github.com/bigkaa/sciencerepo/internal/repository"
	"github.com/bigkaa/sciencerepo/internal/sdclient"
	"github.com/bigkaa/sciencerepo/internal/service"
)

// RecordIndex — поиск по индексу записей и депозитов.
type RecordIndex interface {
	Search(opts indexer.SearchOptions) ([]*indexer.Document, int)
	Get(id uuid.UUID) *indexer.Document
}

// ScienceDataProxy — пересылка запросов в ScienceData.
type ScienceDataProxy interface {
	Proxy(ctx context.Context, pr sdclient.ProxyRequest) (*http.Response, error)
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	objects  *service.ObjectService
	releases *service.ReleaseService
	users    *service.UserService
	records  RecordIndex
	proxy    ScienceDataProxy
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	objects *service.ObjectService,
	releases *service.ReleaseService,
	users *service.UserService,
	records RecordIndex,
	proxy ScienceDataProxy,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		objects:  objects,
		releases: releases,
		users:    users,
		records:  records,
		proxy:    proxy,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты /api/v1. Аутентификация и валидация
// подключаются снаружи.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/me", h.GetMe)

	r.Route("/sciencedata", func(r chi.Router) {
		r.Get("/groups", h.ListGroups)

		r.Get("/objects", h.ListObjects)
		r.Post("/objects", h.EnableObject)
		r.Get("/objects/{id}", h.GetObject)
		r.Delete("/objects/{id}", h.DeleteObject)
		r.Get("/objects/{id}/releases", h.ListReleases)
		r.Post("/objects/{id}/releases", h.CreateRelease)

		r.Get("/releases/{id}", h.GetRelease)
		r.Delete("/releases/{id}", h.DeleteRelease)
		r.Post("/releases/{id}/process", h.ProcessRelease)

		r.HandleFunc("/proxy/*", h.ProxyScienceData)
	})

	r.Get("/records", h.SearchRecords)
	r.Get("/records/{id}", h.GetRecord)
	r.Patch("/records/{id}", h.EditRecord)
	r.Post("/records/{id}/versions", h.NewRecordVersion)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// listResponse — ответ со списком.
type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// principal возвращает пользователя запроса или пишет 401.
func principal(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	p := middleware.PrincipalFromContext(r.Context())
	if p == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return nil, false
	}
	return p, true
}

// pathID разбирает UUID из параметра пути {id}.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный идентификатор: "+chi.URLParam(r, "id"))
		return uuid.Nil, false
	}
	return id, true
}

// queryInt читает целочисленный query-параметр с ограничениями.
func queryInt(r *http.Request, name string, def, lo, hi int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return min(max(v, lo), hi)
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и возвращаются как 500 с сообщением msg.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	writeServiceError(w, h.logger, err, msg)
}

func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error, msg string) {
	switch {
	case errors.Is(err, minter.ErrPIDValueConflict):
		apierrors.PIDConflict(w, err.Error())
	case errors.Is(err, service.ErrNoORCID),
		errors.Is(err, sdclient.ErrNoORCIDAccount),
		errors.Is(err, sdclient.ErrMultipleORCIDAccounts):
		apierrors.NoORCID(w, err.Error())
	case errors.Is(err, service.ErrAccessDenied):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, sdclient.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, minter.ErrValidation),
		errors.Is(err, deposit.ErrValidation),
		errors.Is(err, deposit.ErrNoFiles):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, deposit.ErrNotLatest),
		errors.Is(err, deposit.ErrNotPublished),
		errors.Is(err, deposit.ErrNotDraft),
		errors.Is(err, repository.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrScienceDataUnavailable),
		errors.Is(err, sdclient.ErrUpstream):
		apierrors.ScienceDataUnavailable(w, err.Error())
	default:
		logger.Error(msg, slog.String("error", err.Error()))
		apierrors.InternalError(w, msg)
	}
}
