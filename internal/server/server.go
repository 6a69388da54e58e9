// Пакет server — HTTP-сервер sciencerepo с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/sciencerepo/internal/api/handlers"
	"github.com/bigkaa/sciencerepo/internal/api/middleware"
	"github.com/bigkaa/sciencerepo/internal/config"
)

// Server — HTTP-сервер sciencerepo.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
	onShutdown []func(ctx context.Context)
}

// Deps — обработчики и middleware сервера.
type Deps struct {
	API    *handlers.APIHandler
	Health *handlers.HealthHandler
	// Auth — middleware аутентификации (JWTAuth или DevAuth)
	Auth func(http.Handler) http.Handler
	// Validate — middleware проверки запросов по OpenAPI (может быть nil)
	Validate func(http.Handler) http.Handler
}

// NewRouter собирает маршруты. Health, metrics и бейдж DOI доступны без
// аутентификации, /api/v1 — только с ней.
func NewRouter(logger *slog.Logger, deps Deps) chi.Router {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics проверяются Kubernetes напрямую, без API Gateway.
	router.Get("/health/live", deps.Health.HealthLive)
	router.Get("/health/ready", deps.Health.HealthReady)
	router.Get("/metrics", deps.Health.GetMetrics)

	router.Get("/badge/latestdoi/{user_id}/*", deps.API.LatestDOIBadge)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Auth)
		if deps.Validate != nil {
			r.Use(deps.Validate)
		}
		deps.API.Routes(r)
	})

	return router
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Публикация релиза синхронна и загружает файлы из ScienceData
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// OnShutdown добавляет действие, выполняемое после остановки HTTP-сервера
// (ожидание фоновых регистраций DOI и т.п.).
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}
	for _, fn := range s.onShutdown {
		fn(ctx)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
