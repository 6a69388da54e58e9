// objects.go — обработчики /api/v1/sciencedata/objects.
// Включение объектов ScienceData для публикации.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/bigkaa/sciencerepo/internal/api/errors"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/service"
)

// objectEnableRequest — тело POST /objects.
type objectEnableRequest struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Group       string `json:"group"`
	Description string `json:"description"`
}

// objectResponse — объект ScienceData в ответах API.
type objectResponse struct {
	ID          uuid.UUID `json:"id"`
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Group       string    `json:"group,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func mapObject(o *model.ScienceDataObject) objectResponse {
	return objectResponse{
		ID:          o.ID,
		Path:        o.Path,
		Name:        o.Name,
		Kind:        o.Kind,
		Group:       o.Group,
		Description: o.Description,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// ListObjects — GET /api/v1/sciencedata/objects.
func (h *APIHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	objects, err := h.objects.List(r.Context(), p.ID)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения объектов")
		return
	}
	resp := listResponse[objectResponse]{Items: make([]objectResponse, 0, len(objects)), Total: len(objects)}
	for _, o := range objects {
		resp.Items = append(resp.Items, mapObject(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

// EnableObject — POST /api/v1/sciencedata/objects.
// Повторное включение того же объекта возвращает 200 и существующий объект.
func (h *APIHandler) EnableObject(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req objectEnableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	obj, created, err := h.objects.Enable(r.Context(), p.ID, service.EnableParams{
		Path:        req.Path,
		Name:        req.Name,
		Kind:        req.Kind,
		Group:       req.Group,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка включения объекта")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, mapObject(obj))
}

// GetObject — GET /api/v1/sciencedata/objects/{id}.
func (h *APIHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	obj, err := h.objects.Get(r.Context(), p.ID, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения объекта")
		return
	}
	writeJSON(w, http.StatusOK, mapObject(obj))
}

// DeleteObject — DELETE /api/v1/sciencedata/objects/{id}.
// Опубликованные записи объекта сохраняются.
func (h *APIHandler) DeleteObject(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.objects.Delete(r.Context(), p.ID, id); err != nil {
		h.writeServiceError(w, err, "Ошибка удаления объекта")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
