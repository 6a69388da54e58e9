package openapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	doc, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Paths.Find("/api/v1/sciencedata/objects/{id}/releases") == nil {
		t.Error("в контракте нет пути релизов объекта")
	}
}

func TestValidator(t *testing.T) {
	v, err := NewValidator(context.Background())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	called := false
	handler := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	const id = "6f1c2d1e-7a0b-4c55-9a34-2b8a1c0e9f11"
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"корректное включение", http.MethodPost, "/api/v1/sciencedata/objects", `{"path":"/data.csv","kind":"file"}`, http.StatusNoContent},
		{"нет path", http.MethodPost, "/api/v1/sciencedata/objects", `{"kind":"file"}`, http.StatusBadRequest},
		{"неизвестный kind", http.MethodPost, "/api/v1/sciencedata/objects", `{"path":"/x","kind":"link"}`, http.StatusBadRequest},
		{"лишнее поле", http.MethodPost, "/api/v1/sciencedata/objects/" + id + "/releases", `{"version":"v1","doi":"10.1/x"}`, http.StatusBadRequest},
		{"id не UUID", http.MethodGet, "/api/v1/sciencedata/objects/42", "", http.StatusBadRequest},
		{"limit вне диапазона", http.MethodGet, "/api/v1/records?limit=5000", "", http.StatusBadRequest},
		{"корректный поиск", http.MethodGet, "/api/v1/records?q=survey&limit=10", "", http.StatusNoContent},
		{"изменение записи", http.MethodPatch, "/api/v1/records/" + id, `{"title":"T","doi":"10.1234/x"}`, http.StatusNoContent},
		{"изменение служебного поля", http.MethodPatch, "/api/v1/records/" + id, `{"recid":7}`, http.StatusBadRequest},
		{"пустой список авторов", http.MethodPatch, "/api/v1/records/" + id, `{"creators":[]}`, http.StatusBadRequest},
		{"новая версия", http.MethodPost, "/api/v1/records/" + id + "/versions", "", http.StatusNoContent},
		{"путь вне контракта", http.MethodGet, "/health/live", "", http.StatusNoContent},
		{"прокси вне контракта", http.MethodGet, "/api/v1/sciencedata/proxy/files/a.csv", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидался %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if called != (tt.wantStatus == http.StatusNoContent) {
				t.Errorf("вызов обработчика=%v", called)
			}
			if tt.wantStatus == http.StatusBadRequest && !strings.Contains(rec.Body.String(), "VALIDATION_ERROR") {
				t.Errorf("тело ответа: %s", rec.Body.String())
			}
		})
	}
}
