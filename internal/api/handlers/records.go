// records.go — поиск и изменение записей, новые версии, бейдж последнего DOI.
package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/sciencerepo/internal/api/errors"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/indexer"
	"github.com/bigkaa/sciencerepo/internal/service"
)

// DOIResolver — адрес резолвера DOI для редиректа бейджа.
const DOIResolver = "https://doi.org/"

// documentResponse — документ индекса в ответах API.
type documentResponse struct {
	ID        uuid.UUID            `json:"id"`
	Kind      string               `json:"kind"`
	Metadata  model.RecordMetadata `json:"metadata"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// recordEditRequest — тело PATCH /records/{id}. Отсутствующие поля не меняются.
type recordEditRequest struct {
	Title              *string                   `json:"title"`
	Description        *string                   `json:"description"`
	DOI                *string                   `json:"doi"`
	PublicationDate    *string                   `json:"publication_date"`
	AccessRight        *string                   `json:"access_right"`
	License            *string                   `json:"license"`
	Creators           []model.Creator           `json:"creators"`
	Keywords           []string                  `json:"keywords"`
	Communities        []string                  `json:"communities"`
	RelatedIdentifiers []model.RelatedIdentifier `json:"related_identifiers"`
}

// searchResponse — ответ GET /records.
type searchResponse struct {
	Items  []documentResponse `json:"items"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

func mapDocument(d *indexer.Document) documentResponse {
	return documentResponse{ID: d.ID, Kind: d.Kind, Metadata: d.Metadata, UpdatedAt: d.UpdatedAt}
}

// visible сообщает, может ли пользователь видеть документ: опубликованные
// записи видны всем, депозиты только владельцам.
func visible(doc *indexer.Document, user string) bool {
	return doc.Kind == indexer.KindRecord || doc.OwnedBy(user)
}

// SearchRecords — GET /api/v1/records.
// Поиск по заголовку, DOI и recid; по умолчанию 100 результатов.
// Без параметра kind ищутся только опубликованные записи, kind=deposit
// возвращает депозиты текущего пользователя.
func (h *APIHandler) SearchRecords(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = indexer.KindRecord
	}
	limit := queryInt(r, "limit", 100, 1, 1000)
	offset := queryInt(r, "offset", 0, 0, 1<<31-1)

	docs, total := h.records.Search(indexer.SearchOptions{
		Query:  r.URL.Query().Get("q"),
		Kind:   kind,
		Owner:  p.ID,
		Limit:  limit,
		Offset: offset,
	})

	resp := searchResponse{Items: make([]documentResponse, 0, len(docs)), Total: total, Limit: limit, Offset: offset}
	for _, d := range docs {
		resp.Items = append(resp.Items, mapDocument(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRecord — GET /api/v1/records/{id}.
// Чужой депозит неотличим от отсутствующего документа.
func (h *APIHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc := h.records.Get(id)
	if doc == nil || !visible(doc, p.ID) {
		apierrors.NotFound(w, "Запись не найдена: "+id.String())
		return
	}
	writeJSON(w, http.StatusOK, mapDocument(doc))
}

// EditRecord — PATCH /api/v1/records/{id}.
// Изменяет метаданные опубликованной записи; доступно владельцам депозита.
func (h *APIHandler) EditRecord(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req recordEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	rec, err := h.releases.EditRecord(r.Context(), p, id, service.RecordEdit{
		Title:              req.Title,
		Description:        req.Description,
		DOI:                req.DOI,
		PublicationDate:    req.PublicationDate,
		AccessRight:        req.AccessRight,
		License:            req.License,
		Creators:           req.Creators,
		Keywords:           req.Keywords,
		Communities:        req.Communities,
		RelatedIdentifiers: req.RelatedIdentifiers,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка изменения записи")
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{
		ID:        rec.ID,
		Kind:      indexer.KindRecord,
		Metadata:  rec.Metadata,
		UpdatedAt: rec.UpdatedAt,
	})
}

// NewRecordVersion — POST /api/v1/records/{id}/versions.
// Повторный вызов возвращает тот же черновик.
func (h *APIHandler) NewRecordVersion(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	draft, err := h.releases.NewVersion(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка создания новой версии")
		return
	}
	writeJSON(w, http.StatusCreated, documentResponse{
		ID:        draft.ID,
		Kind:      indexer.KindDeposit,
		Metadata:  draft.Metadata,
		UpdatedAt: draft.UpdatedAt,
	})
}

// LatestDOIBadge — GET /badge/latestdoi/{user_id}/*.
// Публичный endpoint: редирект на DOI последней опубликованной версии
// объекта пользователя.
func (h *APIHandler) LatestDOIBadge(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	objectPath, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil || userID == "" || objectPath == "" {
		apierrors.ValidationError(w, "Некорректный путь объекта")
		return
	}

	doiValue, err := h.objects.LatestDOI(r.Context(), userID, objectPath)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения DOI")
		return
	}
	http.Redirect(w, r, DOIResolver+doiValue, http.StatusFound)
}
