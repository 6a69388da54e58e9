// sciencedata.go — пользователь ScienceData, его группы и прокси к ScienceData.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/sciencerepo/internal/api/errors"
	"github.com/bigkaa/sciencerepo/internal/sdclient"
	"github.com/bigkaa/sciencerepo/internal/service"
)

// ProxyPrefix — префикс маршрута прокси, подставляется в ссылки страниц.
const ProxyPrefix = "/api/v1/sciencedata/proxy"

// maxProxyBody — предельный размер тела запроса, пересылаемого в ScienceData.
const maxProxyBody = 32 << 20

// meResponse — ответ GET /me.
type meResponse struct {
	ID              string `json:"id"`
	Username        string `json:"username,omitempty"`
	Email           string `json:"email,omitempty"`
	ORCID           string `json:"orcid,omitempty"`
	ScienceDataUser string `json:"sciencedata_user,omitempty"`
}

// GetMe — GET /api/v1/me.
// Отсутствие ORCID или аккаунта ScienceData не считается ошибкой:
// поле sciencedata_user остаётся пустым.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	resp := meResponse{ID: p.ID, Username: p.Username, Email: p.Email, ORCID: p.ORCID}

	user, err := h.users.ScienceDataUser(r.Context(), p)
	switch {
	case err == nil:
		resp.ScienceDataUser = user
	case errors.Is(err, service.ErrNoORCID), errors.Is(err, sdclient.ErrNoORCIDAccount):
	default:
		h.writeServiceError(w, err, "Ошибка определения пользователя ScienceData")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListGroups — GET /api/v1/sciencedata/groups.
func (h *APIHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	groups, err := h.users.Groups(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения групп ScienceData")
		return
	}
	if groups == nil {
		groups = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"groups": groups})
}

// ProxyScienceData — /api/v1/sciencedata/proxy/*.
// Пересылает запрос в ScienceData от имени пользователя ScienceData,
// определённого по ORCID текущего запроса. Ссылки HTML-страниц
// переписываются на префикс прокси.
func (h *APIHandler) ProxyScienceData(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	user, err := h.users.ScienceDataUser(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка определения пользователя ScienceData")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
	if err != nil {
		apierrors.ValidationError(w, "Слишком большое тело запроса")
		return
	}

	resp, err := h.proxy.Proxy(r.Context(), sdclient.ProxyRequest{
		User:   user,
		Method: r.Method,
		Path:   "/" + chi.URLParam(r, "*"),
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	if err != nil {
		h.writeServiceError(w, err, "Ошибка запроса к ScienceData")
		return
	}
	defer resp.Body.Close()

	for k, vv := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/html" {
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			h.logger.Warn("Прокси: ответ передан не полностью", slog.String("error", err.Error()))
		}
		return
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		apierrors.ScienceDataUnavailable(w, "Ошибка чтения ответа ScienceData")
		return
	}
	content = sdclient.RewriteLinks(content, ProxyPrefix)
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(content)
}
