package database

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/bigkaa/sciencerepo/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestConnect проверяет подключение к PostgreSQL через pgxpool.
func TestConnect(t *testing.T) {
	cfg := testutil.PostgresConfig(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pool.Ping() вернул ошибку: %v", err)
	}
}

// TestMigrate проверяет применение и откат миграций.
func TestMigrate(t *testing.T) {
	cfg := testutil.PostgresConfig(t)
	logger := testLogger()

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	// Повторное применение — без ошибки (ErrNoChange)
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	version, dirty, err := MigrationVersion(cfg)
	if err != nil {
		t.Fatalf("MigrationVersion() ошибка: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("версия схемы = %d (dirty=%v), ожидали 1", version, dirty)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	tables := []string{
		"pidstore_pid",
		"pidrelations_pidrelation",
		"records_metadata",
		"deposits",
		"files_object",
		"sipstore_sip",
		"sciencedata_objects",
		"sciencedata_releases",
	}
	for _, table := range tables {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	var next int64
	if err := pool.QueryRow(ctx, `SELECT nextval('pidstore_recid_seq')`).Scan(&next); err != nil {
		t.Fatalf("Последовательность recid недоступна: %v", err)
	}
	if next != 1 {
		t.Errorf("первый recid = %d, ожидали 1", next)
	}

	if err := MigrateDown(cfg, 1, logger); err != nil {
		t.Fatalf("MigrateDown() вернул ошибку: %v", err)
	}
	if version, _, _ := MigrationVersion(cfg); version != 0 {
		t.Errorf("после отката версия = %d, ожидали 0", version)
	}
}

func TestMigrateDown_InvalidSteps(t *testing.T) {
	if err := MigrateDown(nil, 0, testLogger()); err == nil {
		t.Error("MigrateDown(0): ожидалась ошибка")
	}
}

// TestReadinessChecker проверяет ReadinessChecker.
func TestReadinessChecker(t *testing.T) {
	cfg := testutil.PostgresConfig(t)
	ctx := context.Background()

	pool, err := Connect(ctx, cfg, testLogger())
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() status = %q, message = %q; ожидали %q", status, msg, "ok")
	}
}
