package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

// Компиляционная проверка интерфейса.
var _ repository.Transactor = (*Store)(nil)

func TestRun_RollbackRestoresState(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	wantErr := errors.New("откат")
	err := store.Run(ctx, func(repos *repository.Repositories) error {
		if err := repos.PIDs.Create(ctx, &model.PID{Type: model.PIDTypeRecid, Value: "1", Status: model.PIDReserved}); err != nil {
			return err
		}
		if err := repos.Records.Create(ctx, &model.Record{Metadata: model.RecordMetadata{Recid: 1}}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() = %v, ожидали %v", err, wantErr)
	}

	repos := store.Repositories()
	if _, err := repos.PIDs.Get(ctx, model.PIDTypeRecid, "1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("PID должен быть откачен, получили %v", err)
	}
	if list, _ := repos.Records.List(ctx, 10, 0); len(list) != 0 {
		t.Errorf("записи должны быть откачены, осталось %d", len(list))
	}
}

func TestRun_CommitKeepsState(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.Run(ctx, func(repos *repository.Repositories) error {
		return repos.PIDs.Create(ctx, &model.PID{Type: model.PIDTypeDOI, Value: "10.5072/x", Status: model.PIDReserved})
	})
	if err != nil {
		t.Fatalf("Run() ошибка: %v", err)
	}
	if _, err := store.Repositories().PIDs.Get(ctx, model.PIDTypeDOI, "10.5072/x"); err != nil {
		t.Errorf("PID должен сохраниться: %v", err)
	}
}

func TestSavepoint_InnerRollback(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	pids := store.Repositories().PIDs

	p := &model.PID{Type: model.PIDTypeDOI, Value: "10.5072/old", Status: model.PIDReserved}
	if err := pids.Create(ctx, p); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	err := pids.Savepoint(ctx, func(sp repository.PIDRepository) error {
		if err := sp.Delete(ctx, p); err != nil {
			return err
		}
		if err := sp.Create(ctx, &model.PID{Type: model.PIDTypeDOI, Value: "10.5072/new", Status: model.PIDReserved}); err != nil {
			return err
		}
		return errors.New("сбой")
	})
	if err == nil {
		t.Fatal("ожидалась ошибка savepoint")
	}

	if _, err := pids.Get(ctx, model.PIDTypeDOI, "10.5072/old"); err != nil {
		t.Errorf("старый PID должен остаться: %v", err)
	}
	if _, err := pids.Get(ctx, model.PIDTypeDOI, "10.5072/new"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("новый PID должен быть откачен, получили %v", err)
	}
}

func TestPIDs_AssignAndRegister(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	pids := store.Repositories().PIDs

	p := &model.PID{Type: model.PIDTypeRecid, Value: "7", Status: model.PIDReserved}
	if err := pids.Create(ctx, p); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if err := pids.Create(ctx, &model.PID{Type: model.PIDTypeRecid, Value: "7"}); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("дубликат: ожидали ErrConflict, получили %v", err)
	}

	a, b := uuid.New(), uuid.New()
	if err := pids.Assign(ctx, p, model.ObjectTypeRecord, a, false); err != nil {
		t.Fatalf("Assign() ошибка: %v", err)
	}
	// Повторное назначение тому же объекту — no-op
	if err := pids.Assign(ctx, p, model.ObjectTypeRecord, a, false); err != nil {
		t.Errorf("повторное назначение тому же объекту: %v", err)
	}
	if err := pids.Assign(ctx, p, model.ObjectTypeRecord, b, false); !errors.Is(err, repository.ErrAlreadyAssigned) {
		t.Errorf("ожидали ErrAlreadyAssigned, получили %v", err)
	}
	if err := pids.Register(ctx, p); err != nil {
		t.Fatalf("Register() ошибка: %v", err)
	}

	got, err := pids.ListByObject(ctx, model.ObjectTypeRecord, a)
	if err != nil {
		t.Fatalf("ListByObject() ошибка: %v", err)
	}
	if len(got) != 1 || got[0].Status != model.PIDRegistered {
		t.Errorf("PID объекта: %+v, ожидали один со статусом R", got)
	}

	// Последовательность продолжается после явно созданного recid
	next, _ := pids.NextRecid(ctx)
	if next != 8 {
		t.Errorf("NextRecid() = %d, ожидали 8", next)
	}
}

func TestReleases_LatestByObject(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repos := store.Repositories()

	obj := &model.ScienceDataObject{UserID: "u1", Path: "/a", Name: "a", Kind: model.KindFile}
	if err := repos.Objects.Create(ctx, obj); err != nil {
		t.Fatalf("Create(object) ошибка: %v", err)
	}
	for _, v := range []struct {
		version string
		status  model.ReleaseStatus
	}{{"v1", model.ReleasePublished}, {"v2", model.ReleasePublished}, {"v3", model.ReleaseFailed}} {
		if err := repos.Releases.Create(ctx, &model.Release{ObjectID: obj.ID, Version: v.version, Status: v.status}); err != nil {
			t.Fatalf("Create(release) ошибка: %v", err)
		}
	}

	published := model.ReleasePublished
	latest, err := repos.Releases.LatestByObject(ctx, obj.ID, &published)
	if err != nil {
		t.Fatalf("LatestByObject() ошибка: %v", err)
	}
	if latest.Version != "v2" {
		t.Errorf("последний опубликованный = %q, ожидали v2", latest.Version)
	}

	all, _ := repos.Releases.ListByObject(ctx, obj.ID)
	if len(all) != 3 || all[0].Version != "v3" {
		t.Errorf("ListByObject() порядок нарушен")
	}

	if err := repos.Objects.Delete(ctx, obj.ID); err != nil {
		t.Fatalf("Delete(object) ошибка: %v", err)
	}
	if _, err := repos.Releases.LatestByObject(ctx, obj.ID, nil); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("релизы должны удаляться вместе с объектом, получили %v", err)
	}
}

func TestDeposits_IsolatedCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repos := store.Repositories()

	d := &model.Deposit{ID: uuid.New(), BucketID: uuid.New(), Status: model.DepositDraft,
		Metadata: model.RecordMetadata{Title: "t"}, Owners: []string{"u1"}}
	if err := repos.Deposits.Create(ctx, d); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Изменение переданной структуры не влияет на хранимую копию
	d.Metadata.Title = "changed"
	d.Owners[0] = "u2"

	got, err := repos.Deposits.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.Metadata.Title != "t" || got.Owners[0] != "u1" {
		t.Errorf("хранимая копия изменилась: %+v", got)
	}
}
