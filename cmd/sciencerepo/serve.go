package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/sciencerepo/internal/api/handlers"
	"github.com/bigkaa/sciencerepo/internal/api/middleware"
	"github.com/bigkaa/sciencerepo/internal/api/openapi"
	"github.com/bigkaa/sciencerepo/internal/config"
	"github.com/bigkaa/sciencerepo/internal/database"
	"github.com/bigkaa/sciencerepo/internal/datacite"
	"github.com/bigkaa/sciencerepo/internal/deposit"
	"github.com/bigkaa/sciencerepo/internal/doi"
	"github.com/bigkaa/sciencerepo/internal/indexer"
	"github.com/bigkaa/sciencerepo/internal/minter"
	"github.com/bigkaa/sciencerepo/internal/repository"
	"github.com/bigkaa/sciencerepo/internal/sdclient"
	"github.com/bigkaa/sciencerepo/internal/server"
	"github.com/bigkaa/sciencerepo/internal/service"
	"github.com/bigkaa/sciencerepo/internal/storage"
	"github.com/bigkaa/sciencerepo/internal/tracing"
)

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "не применять миграции при старте")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Конфигурация и логирование
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("sciencerepo запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("deposit_strategy", cfg.DepositStrategy),
	)
	if os.Getenv("SR_DEPHEALTH_GROUP") == "" {
		logger.Warn("SR_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// 2. Трассировка
	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SampleRate:   cfg.TracingSampleRate,
		ServiceName:  "sciencerepo",
		Version:      config.Version,
	})
	if err != nil {
		return fmt.Errorf("ошибка инициализации трассировки: %w", err)
	}

	// 3. Миграции и PostgreSQL
	if skipMigrations {
		logger.Warn("Миграции БД пропущены (--skip-migrations)")
	} else {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			return fmt.Errorf("ошибка миграций БД: %w", err)
		}
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}
	defer pool.Close()

	// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	store := repository.NewTxRunner(pool)

	// 4. Хранилище файлов, индекс, DOI и стратегия депозита
	blobs, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	ix := indexer.New(store.Repositories(), logger)
	if err := ix.Rebuild(ctx); err != nil {
		return fmt.Errorf("ошибка построения индекса: %w", err)
	}

	provider := doi.NewProvider(cfg.DOIPrefix, cfg.DOISuffix, cfg.DOILocalPrefixes, cfg.DOIRecidRemap)
	m := minter.New(provider, cfg.OAIIDPrefix, logger)

	strategy, err := deposit.New(cfg.DepositStrategy, deposit.Deps{
		Minter:     m,
		Storage:    blobs,
		Indexer:    ix,
		PIDFetcher: cfg.PIDFetcher,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("ошибка создания стратегии депозита: %w", err)
	}

	// 5. ScienceData и сервисный слой
	sd, err := sdclient.New(sdclient.Options{
		BaseURL:    cfg.ScienceDataURL,
		CACertPath: cfg.ScienceDataCACertPath,
		Insecure:   cfg.ScienceDataInsecure,
		Timeout:    cfg.ScienceDataTimeout,
		MaxRetries: cfg.ScienceDataMaxRetries,
		RateLimit:  cfg.ScienceDataRateLimit,
		RateBurst:  cfg.ScienceDataRateBurst,
	}, logger)
	if err != nil {
		return fmt.Errorf("ошибка создания клиента ScienceData: %w", err)
	}

	// registrar остаётся nil-интерфейсом, если DataCite выключен
	var registrar service.Registrar
	var dcRegistrar *datacite.Registrar
	if cfg.DataCiteEnabled {
		dcClient := datacite.NewClient(cfg.DataCiteURL, cfg.DataCiteUser, cfg.DataCitePassword, cfg.DataCiteTimeout)
		dcRegistrar = datacite.NewRegistrar(dcClient, store, cfg.DataCitePublisher, cfg.PublicURL, cfg.DataCiteTimeout, logger)
		registrar = dcRegistrar
		logger.Info("Регистрация DOI в DataCite включена", slog.String("url", cfg.DataCiteURL))
	} else {
		logger.Info("Регистрация DOI в DataCite отключена (SR_DATACITE_ENABLED=false)")
	}

	users := service.NewUserService(sd, cfg.UserCacheSize, cfg.UserCacheTTL, logger)
	objects := service.NewObjectService(store, logger)
	releases := service.NewReleaseService(store, strategy, sd, users, ix, registrar, blobs, service.ReleaseConfig{
		ScienceDataPublicURL:   cfg.ScienceDataPublicURL,
		UseScienceDataMetadata: cfg.UseScienceDataMetadata,
	}, logger)

	// 6. topologymetrics и readiness
	dephealthCfg := service.DephealthConfig{
		ServiceID:           "sciencerepo",
		Group:               cfg.DephealthGroup,
		DB:                  pgDB,
		PostgresURL:         cfg.DatabaseURL(),
		ScienceDataURL:      cfg.ScienceDataURL,
		ScienceDataInsecure: cfg.ScienceDataInsecure,
		CheckInterval:       cfg.DephealthCheckInterval,
	}
	if cfg.AuthEnabled {
		dephealthCfg.JWKSURL = cfg.JWTJWKSURL
	}
	if cfg.DataCiteEnabled {
		dephealthCfg.DataCiteURL = cfg.DataCiteURL
	}

	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(dephealthCfg, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	checkers := map[string]handlers.ReadinessChecker{
		"postgresql": database.NewReadinessChecker(pool),
		"index":      handlers.IndexChecker(ix.IsReady),
	}
	if dephealthSvc != nil {
		checkers["sciencedata"] = handlers.DependencyChecker{Source: dephealthSvc, Name: "sciencedata"}
		if cfg.AuthEnabled {
			checkers["keycloak"] = handlers.DependencyChecker{Source: dephealthSvc, Name: "keycloak-jwks"}
		}
		if cfg.DataCiteEnabled {
			checkers["datacite"] = handlers.DependencyChecker{Source: dephealthSvc, Name: "datacite", Optional: true}
		}
	}

	// 7. Аутентификация и валидация запросов
	var auth func(http.Handler) http.Handler
	if cfg.AuthEnabled {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWKSCACertPath,
			cfg.JWTIssuer,
			cfg.JWTORCIDClaim,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			return fmt.Errorf("ошибка создания JWT middleware: %w", err)
		}
		defer jwtAuth.Close()
		auth = jwtAuth.Middleware()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		auth = middleware.DevAuth()
		logger.Warn("Проверка JWT отключена (SR_AUTH_ENABLED=false), пользователь берётся из заголовков X-User-*")
	}

	validator, err := openapi.NewValidator(ctx)
	if err != nil {
		return fmt.Errorf("ошибка загрузки OpenAPI: %w", err)
	}

	// 8. HTTP-сервер
	srv := server.New(cfg, logger, server.Deps{
		API:      handlers.NewAPIHandler(objects, releases, users, ix, sd, logger),
		Health:   handlers.NewHealthHandler(checkers),
		Auth:     auth,
		Validate: validator.Middleware(),
	})
	if dcRegistrar != nil {
		srv.OnShutdown(func(context.Context) { dcRegistrar.Wait() })
	}
	if dephealthSvc != nil {
		srv.OnShutdown(func(context.Context) { dephealthSvc.Stop() })
	}
	srv.OnShutdown(func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Ошибка остановки трассировки", slog.String("error", err.Error()))
		}
	})

	if err := srv.Run(); err != nil {
		return err
	}
	logger.Info("sciencerepo остановлен")
	return nil
}
