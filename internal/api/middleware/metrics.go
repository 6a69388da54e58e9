// metrics.go — Prometheus HTTP метрики sciencerepo.
// Регистрирует метрики: sr_http_requests_total, sr_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sr_http_requests_total",
			Help: "Общее количество HTTP-запросов к sciencerepo",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sr_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к sciencerepo в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификаторы на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет идентификаторы в пути на шаблоны для предотвращения
// взрывного роста кардинальности метрик.
// /api/v1/sciencedata/objects/a1b2c3d4-... → /api/v1/sciencedata/objects/{id}
func normalizePath(path string) string {
	// Статические пути — возвращаем как есть
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/v1/me",
		"/api/v1/sciencedata/groups",
		"/api/v1/sciencedata/objects",
		"/api/v1/records":
		return path
	}

	// Пути с хвостом произвольной длины
	wildcards := []struct {
		prefix string
		result string
	}{
		{"/api/v1/sciencedata/proxy/", "/api/v1/sciencedata/proxy/*"},
		{"/badge/latestdoi/", "/badge/latestdoi/{user_id}/*"},
	}
	for _, p := range wildcards {
		if strings.HasPrefix(path, p.prefix) {
			return p.result
		}
	}

	// Пути с идентификатором и необязательным суффиксом
	prefixes := []struct {
		prefix string
		result string
	}{
		{"/api/v1/sciencedata/objects/", "/api/v1/sciencedata/objects/{id}"},
		{"/api/v1/sciencedata/releases/", "/api/v1/sciencedata/releases/{id}"},
		{"/api/v1/records/", "/api/v1/records/{id}"},
	}

	for _, p := range prefixes {
		if len(path) > len(p.prefix) && strings.HasPrefix(path, p.prefix) {
			rest := path[len(p.prefix):]
			suffix := ""
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				suffix = rest[i:]
			}
			switch suffix {
			case "/releases":
				return p.result + "/releases"
			case "/process":
				return p.result + "/process"
			default:
				return p.result
			}
		}
	}

	return "other"
}
