package indexer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIndexer_RebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	for i, title := range []string{"Ocean temperature", "Arctic ice", "Ocean salinity"} {
		rec := &model.Record{Metadata: model.RecordMetadata{
			Recid: int64(i + 2), ConceptRecid: 1, Title: title, DOI: "10.5072/sciencerepo." + string(rune('2'+i)),
		}}
		if err := repos.Records.Create(ctx, rec); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	ix := New(repos, testLogger())
	if ix.IsReady() {
		t.Fatal("индекс не должен быть готов до Rebuild")
	}
	if err := ix.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild() ошибка: %v", err)
	}
	if !ix.IsReady() || ix.Count() != 3 {
		t.Fatalf("после Rebuild: ready=%v count=%d", ix.IsReady(), ix.Count())
	}

	docs, total := ix.Search(SearchOptions{Query: "OCEAN"})
	if total != 2 || len(docs) != 2 {
		t.Errorf("поиск по заголовку: total=%d", total)
	}

	docs, total = ix.Search(SearchOptions{Query: "3"})
	if total != 1 || docs[0].Metadata.Title != "Arctic ice" {
		t.Errorf("поиск по recid: total=%d docs=%v", total, docs)
	}

	docs, total = ix.Search(SearchOptions{Limit: 2, Offset: 2})
	if total != 3 || len(docs) != 1 {
		t.Errorf("пагинация: total=%d len=%d", total, len(docs))
	}
}

func TestIndexer_RebuildIncludesDeposits(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()

	rec := &model.Record{Metadata: model.RecordMetadata{Recid: 2, Title: "Ocean temperature"}}
	if err := repos.Records.Create(ctx, rec); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	mine := &model.Deposit{ID: uuid.New(), BucketID: uuid.New(), Status: model.DepositDraft,
		Owners: []string{"user-1"}, Metadata: model.RecordMetadata{Title: "Ocean draft"}}
	theirs := &model.Deposit{ID: uuid.New(), BucketID: uuid.New(), Status: model.DepositDraft,
		Owners: []string{"user-2"}, Metadata: model.RecordMetadata{Title: "Ocean notes"}}
	for _, d := range []*model.Deposit{mine, theirs} {
		if err := repos.Deposits.Create(ctx, d); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	ix := New(repos, testLogger())
	if err := ix.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild() ошибка: %v", err)
	}
	if ix.Count() != 3 {
		t.Fatalf("после Rebuild: count=%d, ожидали 3", ix.Count())
	}
	doc := ix.Get(mine.ID)
	if doc == nil || doc.Kind != KindDeposit || !doc.OwnedBy("user-1") || doc.OwnedBy("user-2") {
		t.Fatalf("депозит после Rebuild: %+v", doc)
	}

	docs, total := ix.Search(SearchOptions{Query: "ocean", Kind: KindDeposit, Owner: "user-1"})
	if total != 1 || docs[0].ID != mine.ID {
		t.Errorf("депозиты владельца: total=%d docs=%v", total, docs)
	}
	_, total = ix.Search(SearchOptions{Query: "ocean", Owner: "user-3"})
	if total != 1 {
		t.Errorf("посторонний видит только записи: total=%d", total)
	}
	_, total = ix.Search(SearchOptions{Query: "ocean"})
	if total != 3 {
		t.Errorf("без владельца фильтр не применяется: total=%d", total)
	}
}

func TestIndexer_IndexByIDFallsBackToDeposit(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().Repositories()
	ix := New(repos, testLogger())

	dep := &model.Deposit{ID: uuid.New(), BucketID: uuid.New(), Status: model.DepositDraft,
		Metadata: model.RecordMetadata{Title: "Черновик"}}
	if err := repos.Deposits.Create(ctx, dep); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	if err := ix.IndexByID(ctx, dep.ID); err != nil {
		t.Fatalf("IndexByID() ошибка: %v", err)
	}
	doc := ix.Get(dep.ID)
	if doc == nil || doc.Kind != KindDeposit {
		t.Fatalf("документ депозита: %+v", doc)
	}

	if err := ix.IndexByID(ctx, uuid.New()); err == nil {
		t.Error("ожидали ошибку для несуществующего объекта")
	}
}

func TestIndexer_DeleteAndKindFilter(t *testing.T) {
	ix := New(memory.NewStore().Repositories(), testLogger())
	now := time.Now()

	rec := &model.Record{ID: uuid.New(), UpdatedAt: now, Metadata: model.RecordMetadata{Title: "A"}}
	dep := &model.Deposit{ID: uuid.New(), UpdatedAt: now.Add(time.Second), Metadata: model.RecordMetadata{Title: "A"}}
	ix.IndexRecord(rec)
	ix.IndexDeposit(dep)

	docs, total := ix.Search(SearchOptions{Kind: KindRecord})
	if total != 1 || docs[0].ID != rec.ID {
		t.Errorf("фильтр по виду: total=%d", total)
	}

	if !ix.Delete(dep.ID) {
		t.Error("Delete() должен вернуть true для существующего документа")
	}
	if ix.Delete(dep.ID) {
		t.Error("повторный Delete() должен вернуть false")
	}
	if ix.Get(dep.ID) != nil {
		t.Error("документ должен быть удалён")
	}
}
