// releases.go — обработчики релизов объектов ScienceData.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/sciencerepo/internal/api/errors"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

// releaseCreateRequest — тело POST /objects/{id}/releases.
type releaseCreateRequest struct {
	Version string `json:"version"`
	Body    string `json:"body"`
}

// releaseResponse — релиз в ответах API.
type releaseResponse struct {
	ID        uuid.UUID       `json:"id"`
	ObjectID  uuid.UUID       `json:"object_id"`
	Version   string          `json:"version"`
	Body      string          `json:"body,omitempty"`
	Status    string          `json:"status"`
	Errors    json.RawMessage `json:"errors,omitempty"`
	RecordID  *uuid.UUID      `json:"record_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func mapRelease(rel *model.Release) releaseResponse {
	return releaseResponse{
		ID:        rel.ID,
		ObjectID:  rel.ObjectID,
		Version:   rel.Version,
		Body:      rel.Body,
		Status:    rel.Status.Title(),
		Errors:    rel.Errors,
		RecordID:  rel.RecordID,
		CreatedAt: rel.CreatedAt,
		UpdatedAt: rel.UpdatedAt,
	}
}

// ListReleases — GET /api/v1/sciencedata/objects/{id}/releases.
func (h *APIHandler) ListReleases(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	objectID, ok := pathID(w, r)
	if !ok {
		return
	}
	releases, err := h.releases.List(r.Context(), p, objectID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения релизов")
		return
	}
	resp := listResponse[releaseResponse]{Items: make([]releaseResponse, 0, len(releases)), Total: len(releases)}
	for _, rel := range releases {
		resp.Items = append(resp.Items, mapRelease(rel))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateRelease — POST /api/v1/sciencedata/objects/{id}/releases.
// Релиз создаётся в статусе received, публикация — через /process.
func (h *APIHandler) CreateRelease(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	objectID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req releaseCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	rel, err := h.releases.Create(r.Context(), p, objectID, req.Version, req.Body)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания релиза")
		return
	}
	writeJSON(w, http.StatusCreated, mapRelease(rel))
}

// GetRelease — GET /api/v1/sciencedata/releases/{id}.
func (h *APIHandler) GetRelease(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rel, err := h.releases.Get(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения релиза")
		return
	}
	writeJSON(w, http.StatusOK, mapRelease(rel))
}

// DeleteRelease — DELETE /api/v1/sciencedata/releases/{id}.
func (h *APIHandler) DeleteRelease(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rel, err := h.releases.Delete(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка удаления релиза")
		return
	}
	writeJSON(w, http.StatusOK, mapRelease(rel))
}

// ProcessRelease — POST /api/v1/sciencedata/releases/{id}/process.
// Синхронно публикует релиз. При ошибке релиз остаётся в статусе failed
// и может быть обработан повторно.
func (h *APIHandler) ProcessRelease(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rel, err := h.releases.Process(r.Context(), p, id)
	if err != nil {
		if rel != nil {
			h.logger.Warn("Релиз не опубликован",
				slog.String("release_id", id.String()),
				slog.String("status", rel.Status.Title()),
			)
		}
		h.writeServiceError(w, err, "Ошибка публикации релиза")
		return
	}
	writeJSON(w, http.StatusOK, mapRelease(rel))
}
