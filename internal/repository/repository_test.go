package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/sciencerepo/internal/database"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/testutil"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции
// и возвращает пул подключений.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	cfg := testutil.PostgresConfig(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- Тесты PIDRepository ---

func TestPIDLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewPIDRepository(pool)

	recid, err := repo.NextRecid(ctx)
	if err != nil {
		t.Fatalf("NextRecid() ошибка: %v", err)
	}

	value := strconv.FormatInt(recid, 10)
	pid := &model.PID{Type: model.PIDTypeRecid, Value: value, Status: model.PIDReserved}
	if err := repo.Create(ctx, pid); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if pid.ID == 0 || pid.CreatedAt.IsZero() {
		t.Error("ID или CreatedAt не установлены")
	}

	// Дубликат (type, value)
	dup := &model.PID{Type: model.PIDTypeRecid, Value: value, Status: model.PIDReserved}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат: ожидали ErrConflict, получили %v", err)
	}

	// Assign
	recA, recB := uuid.New(), uuid.New()
	if err := repo.Assign(ctx, pid, model.ObjectTypeRecord, recA, false); err != nil {
		t.Fatalf("Assign() ошибка: %v", err)
	}
	if err := repo.Assign(ctx, pid, model.ObjectTypeRecord, recB, false); !errors.Is(err, ErrAlreadyAssigned) {
		t.Errorf("повторное назначение: ожидали ErrAlreadyAssigned, получили %v", err)
	}
	if err := repo.Assign(ctx, pid, model.ObjectTypeRecord, recB, true); err != nil {
		t.Fatalf("Assign(overwrite) ошибка: %v", err)
	}

	// Register
	if err := repo.Register(ctx, pid); err != nil {
		t.Fatalf("Register() ошибка: %v", err)
	}
	if err := repo.Register(ctx, pid); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("повторная регистрация: ожидали ErrInvalidAction, получили %v", err)
	}

	assigned, err := repo.ListByObject(ctx, model.ObjectTypeRecord, recB)
	if err != nil {
		t.Fatalf("ListByObject() ошибка: %v", err)
	}
	if len(assigned) != 1 || assigned[0].Status != model.PIDRegistered || assigned[0].Value != value {
		t.Errorf("ListByObject: %+v", assigned)
	}

	// Delete
	if err := repo.Delete(ctx, pid); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	if _, err := repo.Get(ctx, model.PIDTypeRecid, value); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Delete ожидали ErrNotFound, получили %v", err)
	}
}

func TestPIDSavepoint_RollsBackInnerOnly(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	err := runner.Run(ctx, func(repos *Repositories) error {
		outer := &model.PID{Type: model.PIDTypeDOI, Value: "10.5072/outer", Status: model.PIDReserved}
		if err := repos.PIDs.Create(ctx, outer); err != nil {
			return err
		}

		innerErr := repos.PIDs.Savepoint(ctx, func(pids PIDRepository) error {
			if err := pids.Delete(ctx, outer); err != nil {
				return err
			}
			return errors.New("сбой внутри savepoint")
		})
		if innerErr == nil {
			t.Error("ожидалась ошибка savepoint")
		}

		if _, err := repos.PIDs.Get(ctx, model.PIDTypeDOI, "10.5072/outer"); err != nil {
			t.Errorf("PID должен сохраниться после отката savepoint: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() ошибка: %v", err)
	}
}

func TestTxRunner_Rollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	wantErr := errors.New("откат")
	err := runner.Run(ctx, func(repos *Repositories) error {
		p := &model.PID{Type: model.PIDTypeRecid, Value: "42", Status: model.PIDReserved}
		if err := repos.PIDs.Create(ctx, p); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() вернул %v, ожидали %v", err, wantErr)
	}

	if _, err := NewPIDRepository(pool).Get(ctx, model.PIDTypeRecid, "42"); !errors.Is(err, ErrNotFound) {
		t.Errorf("после отката ожидали ErrNotFound, получили %v", err)
	}
}

// --- Тесты PIDRelationRepository ---

func TestPIDRelations(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	pids := NewPIDRepository(pool)
	rels := NewPIDRelationRepository(pool)

	parent := &model.PID{Type: model.PIDTypeRecid, Value: "100", Status: model.PIDRedirected}
	child1 := &model.PID{Type: model.PIDTypeRecid, Value: "101", Status: model.PIDRegistered}
	child2 := &model.PID{Type: model.PIDTypeRecid, Value: "102", Status: model.PIDReserved}
	for _, p := range []*model.PID{parent, child1, child2} {
		if err := pids.Create(ctx, p); err != nil {
			t.Fatalf("Create(%s) ошибка: %v", p.Value, err)
		}
	}

	for i, c := range []*model.PID{child2, child1} {
		rel := &model.PIDRelation{ParentID: parent.ID, ChildID: c.ID, RelationType: model.RelationVersion, Index: 1 - i}
		if err := rels.Create(ctx, rel); err != nil {
			t.Fatalf("Create(relation) ошибка: %v", err)
		}
	}

	children, err := rels.Children(ctx, parent.ID, model.RelationVersion)
	if err != nil {
		t.Fatalf("Children() ошибка: %v", err)
	}
	if len(children) != 2 || children[0].ChildID != child1.ID || children[1].ChildID != child2.ID {
		t.Errorf("Children() порядок нарушен: %+v", children)
	}

	rel, err := rels.Parent(ctx, child2.ID, model.RelationVersion)
	if err != nil {
		t.Fatalf("Parent() ошибка: %v", err)
	}
	if rel.ParentID != parent.ID {
		t.Errorf("Parent() = %d, ожидали %d", rel.ParentID, parent.ID)
	}

	if err := rels.Delete(ctx, parent.ID, child2.ID, model.RelationVersion); err != nil {
		t.Fatalf("Delete(relation) ошибка: %v", err)
	}
	if _, err := rels.Parent(ctx, child2.ID, model.RelationVersion); !errors.Is(err, ErrNotFound) {
		t.Errorf("после Delete ожидали ErrNotFound, получили %v", err)
	}
}

// --- Тесты RecordRepository и DepositRepository ---

func TestRecordAndDeposit(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	records := NewRecordRepository(pool)
	deposits := NewDepositRepository(pool)

	rec := &model.Record{Metadata: model.RecordMetadata{Recid: 5, ConceptRecid: 4, Title: "Dataset"}}
	if err := records.Create(ctx, rec); err != nil {
		t.Fatalf("Create(record) ошибка: %v", err)
	}
	if rec.VersionID != 1 {
		t.Errorf("VersionID = %d, хотели 1", rec.VersionID)
	}

	rec.Metadata.DOI = "10.5072/sciencerepo.5"
	if err := records.Update(ctx, rec); err != nil {
		t.Fatalf("Update(record) ошибка: %v", err)
	}
	got, err := records.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get(record) ошибка: %v", err)
	}
	if got.VersionID != 2 || got.Metadata.DOI != "10.5072/sciencerepo.5" || got.Metadata.ConceptRecid != 4 {
		t.Errorf("после Update: %+v", got)
	}

	dep := &model.Deposit{
		ID:        uuid.New(),
		Metadata:  model.RecordMetadata{Title: "Draft"},
		Status:    model.DepositDraft,
		BucketID:  uuid.New(),
		CreatedBy: "user-1",
		Owners:    []string{"user-1"},
	}
	if err := deposits.Create(ctx, dep); err != nil {
		t.Fatalf("Create(deposit) ошибка: %v", err)
	}

	dep.Status = model.DepositPublished
	dep.RecordID = &rec.ID
	if err := deposits.Update(ctx, dep); err != nil {
		t.Fatalf("Update(deposit) ошибка: %v", err)
	}

	byRecord, err := deposits.GetByRecordID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByRecordID() ошибка: %v", err)
	}
	if byRecord.ID != dep.ID || !byRecord.IsPublished() || len(byRecord.Owners) != 1 {
		t.Errorf("GetByRecordID: %+v", byRecord)
	}
}

// --- Тесты ObjectRepository и ReleaseRepository ---

func TestObjectsAndReleases(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	objects := NewObjectRepository(pool)
	releases := NewReleaseRepository(pool)

	obj := &model.ScienceDataObject{UserID: "u1", Path: "/data/set", Name: "set", Kind: model.KindDir}
	if err := objects.Create(ctx, obj); err != nil {
		t.Fatalf("Create(object) ошибка: %v", err)
	}
	dup := &model.ScienceDataObject{UserID: "u1", Path: "/data/set", Name: "set", Kind: model.KindDir}
	if err := objects.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат объекта: ожидали ErrConflict, получили %v", err)
	}

	got, err := objects.Get(ctx, "u1", "/data/set", "")
	if err != nil {
		t.Fatalf("Get(object) ошибка: %v", err)
	}
	if got.ID != obj.ID {
		t.Errorf("Get(object) вернул %s, ожидали %s", got.ID, obj.ID)
	}
	if _, err := objects.Get(ctx, "u2", "/data/set", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("чужой объект: ожидали ErrNotFound, получили %v", err)
	}

	first := &model.Release{ObjectID: obj.ID, Version: "v1", Status: model.ReleasePublished}
	if err := releases.Create(ctx, first); err != nil {
		t.Fatalf("Create(release v1) ошибка: %v", err)
	}
	second := &model.Release{ObjectID: obj.ID, Version: "v2", Status: model.ReleaseReceived}
	if err := releases.Create(ctx, second); err != nil {
		t.Fatalf("Create(release v2) ошибка: %v", err)
	}

	latest, err := releases.LatestByObject(ctx, obj.ID, nil)
	if err != nil {
		t.Fatalf("LatestByObject() ошибка: %v", err)
	}
	if latest.Version != "v2" {
		t.Errorf("последний релиз = %q, ожидали v2", latest.Version)
	}

	published := model.ReleasePublished
	latestPublished, err := releases.LatestByObject(ctx, obj.ID, &published)
	if err != nil {
		t.Fatalf("LatestByObject(D) ошибка: %v", err)
	}
	if latestPublished.Version != "v1" {
		t.Errorf("последний опубликованный = %q, ожидали v1", latestPublished.Version)
	}

	second.Status = model.ReleaseFailed
	second.Errors = []byte(`{"errors": "boom"}`)
	if err := releases.Update(ctx, second); err != nil {
		t.Fatalf("Update(release) ошибка: %v", err)
	}
	reloaded, _ := releases.Get(ctx, second.ID)
	if reloaded.Status != model.ReleaseFailed || len(reloaded.Errors) == 0 {
		t.Errorf("после Update: status=%q errors=%s", reloaded.Status, reloaded.Errors)
	}

	// Удаление объекта каскадно удаляет релизы
	if err := objects.Delete(ctx, obj.ID); err != nil {
		t.Fatalf("Delete(object) ошибка: %v", err)
	}
	if _, err := releases.Get(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("релиз должен быть удалён каскадно, получили %v", err)
	}
}

func TestLockObject(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	err := runner.Run(ctx, func(repos *Repositories) error {
		return repos.Locks.LockObject(ctx, uuid.New())
	})
	if err != nil {
		t.Fatalf("LockObject() ошибка: %v", err)
	}
}
