// health.go — обработчики health endpoints sciencerepo.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (зависимости из dephealth и поисковый индекс)
// /metrics — Prometheus метрики
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/sciencerepo/internal/config"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"

	serviceName = "sciencerepo"
)

// ReadinessChecker — интерфейс проверки готовности зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthSource — источник состояния зависимостей (DephealthService).
type HealthSource interface {
	Health() map[string]bool
}

// DependencyChecker — готовность зависимости по состоянию dephealth.
type DependencyChecker struct {
	Source HealthSource
	// Name — имя зависимости в dephealth
	Name string
	// Optional — недоступность даёт degraded вместо fail
	Optional bool
}

// CheckReady реализует ReadinessChecker.
func (c DependencyChecker) CheckReady() (string, string) {
	if c.Source == nil {
		return statusFail, "мониторинг не инициализирован"
	}
	healthy, found := findHealthByPrefix(c.Source.Health(), c.Name)
	switch {
	case !found:
		// Первая проверка ещё не выполнена
		return statusDegraded, "состояние ещё не определено"
	case healthy:
		return statusOK, ""
	case c.Optional:
		return statusDegraded, c.Name + " недоступен"
	default:
		return statusFail, c.Name + " недоступен"
	}
}

// findHealthByPrefix ищет статус зависимости по имени.
// Health() из topologymetrics SDK возвращает ключи формата "dependency:host:port",
// поэтому ищем ключ, начинающийся с имени зависимости + ":".
// Если найдено несколько — healthy только если все healthy.
func findHealthByPrefix(health map[string]bool, name string) (healthy, found bool) {
	healthy = true
	for key, ok := range health {
		if strings.HasPrefix(key, name+":") || key == name {
			found = true
			if !ok {
				healthy = false
			}
		}
	}
	return healthy && found, found
}

// CheckerFunc — функция-адаптер ReadinessChecker.
type CheckerFunc func() (string, string)

// CheckReady реализует ReadinessChecker.
func (f CheckerFunc) CheckReady() (string, string) { return f() }

// IndexChecker — готовность поискового индекса (индекс построен при старте).
func IndexChecker(ready func() bool) ReadinessChecker {
	return CheckerFunc(func() (string, string) {
		if ready() {
			return statusOK, ""
		}
		return statusFail, "индекс не построен"
	})
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	checkers    map[string]ReadinessChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// checkers — проверки по имени, попадают в поле checks ответа readiness.
func NewHealthHandler(checkers map[string]ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		checkers:    checkers,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200 если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe.
// Возвращает 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult, len(h.checkers)),
	}

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]string, 0, len(names))
	for _, name := range names {
		status, msg := h.checkers[name].CheckReady()
		resp.Checks[name] = healthCheckResult{Status: status, Message: msg}
		statuses = append(statuses, status)
	}
	resp.Status = overallStatus(statuses...)

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == statusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus определяет итоговый статус из статусов зависимостей.
// Если хотя бы одна зависимость fail — итог fail.
// Если хотя бы одна degraded — итог degraded.
// Иначе — ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
