// Пакет testutil — общие помощники интеграционных тестов.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/sciencerepo/internal/config"
)

// PostgresConfig запускает PostgreSQL в Docker-контейнере через testcontainers
// и возвращает конфигурацию, указывающую на него.
// Пропускает тест, если не установлена TEST_INTEGRATION.
func PostgresConfig(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("sciencerepo_test"),
		postgres.WithUsername("sciencerepo"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("SR_DB_HOST", host)
	t.Setenv("SR_DB_PORT", port.Port())
	t.Setenv("SR_DB_NAME", "sciencerepo_test")
	t.Setenv("SR_DB_USER", "sciencerepo")
	t.Setenv("SR_DB_PASSWORD", "test-password")
	t.Setenv("SR_DB_SSL_MODE", "disable")
	t.Setenv("SR_AUTH_ENABLED", "false")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}
