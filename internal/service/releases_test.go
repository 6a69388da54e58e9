package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/deposit"
	"github.com/bigkaa/sciencerepo/internal/doi"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/indexer"
	"github.com/bigkaa/sciencerepo/internal/minter"
	"github.com/bigkaa/sciencerepo/internal/repository"
	"github.com/bigkaa/sciencerepo/internal/repository/memory"
	"github.com/bigkaa/sciencerepo/internal/sdclient"
	"github.com/bigkaa/sciencerepo/internal/storage"
	"github.com/bigkaa/sciencerepo/internal/versioning"
)

// fakeScienceData — ScienceData в памяти.
type fakeScienceData struct {
	mu           sync.Mutex
	users        map[string]string
	content      map[string]string
	metadata     map[string]json.RawMessage
	downloadErr  error
	resolveCalls int
	downloads    []string
}

func newFakeScienceData() *fakeScienceData {
	return &fakeScienceData{
		users:   map[string]string{"0000-0002-1825-0097": "jane@sciencedata.dk"},
		content: map[string]string{},
	}
}

func (f *fakeScienceData) ResolveUser(_ context.Context, orcid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	user, ok := f.users[orcid]
	if !ok {
		return "", sdclient.ErrNoORCIDAccount
	}
	return user, nil
}

func (f *fakeScienceData) Groups(_ context.Context, user string) ([]string, error) {
	return []string{"lab"}, nil
}

func (f *fakeScienceData) DownloadURL(path string) string {
	return "https://sd.test/download?files=" + path
}

func (f *fakeScienceData) Head(_ context.Context, user, rawURL string) (*sdclient.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.content[rawURL]
	if !ok {
		return nil, sdclient.ErrNotFound
	}
	size := int64(len(c))
	return &sdclient.FileInfo{Size: &size}, nil
}

func (f *fakeScienceData) Download(_ context.Context, user, rawURL string) (io.ReadCloser, *sdclient.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, nil, f.downloadErr
	}
	f.downloads = append(f.downloads, user+" "+rawURL)
	c := f.content[rawURL]
	size := int64(len(c))
	return io.NopCloser(strings.NewReader(c)), &sdclient.FileInfo{Size: &size}, nil
}

func (f *fakeScienceData) Metadata(_ context.Context, user, path string) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metadata, nil
}

type fakeRegistrar struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeRegistrar) RegisterAsync(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
}

type releaseFixture struct {
	ctx       context.Context
	store     *memory.Store
	sd        *fakeScienceData
	blobs     *storage.Memory
	index     *indexer.Indexer
	registrar *fakeRegistrar
	strategy  deposit.Strategy
	objects   *ObjectService
	releases  *ReleaseService
	owner     *model.Principal
}

func newReleaseFixture(t *testing.T, useRemote bool) *releaseFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	sd := newFakeScienceData()
	blobs := storage.NewMemory()
	ix := indexer.New(store.Repositories(), logger)
	reg := &fakeRegistrar{}

	m := minter.New(doi.NewProvider("10.5072", "sciencerepo", nil, nil), "sciencerepo.org", logger)
	strategy, err := deposit.New("zenodo", deposit.Deps{Minter: m, Storage: blobs, Indexer: ix, Logger: logger})
	if err != nil {
		t.Fatalf("deposit.New: %v", err)
	}
	users := NewUserService(sd, 10, time.Minute, logger)

	return &releaseFixture{
		ctx:       context.Background(),
		store:     store,
		sd:        sd,
		blobs:     blobs,
		index:     ix,
		registrar: reg,
		strategy:  strategy,
		objects:   NewObjectService(store, logger),
		releases: NewReleaseService(store, strategy, sd, users, ix, reg, blobs, ReleaseConfig{
			ScienceDataPublicURL:   "https://sciencedata.dk",
			UseScienceDataMetadata: useRemote,
		}, logger),
		owner: &model.Principal{ID: "user-1", Username: "Doe, Jane", Email: "jane@example.org", ORCID: "0000-0002-1825-0097"},
	}
}

// enable включает объект и кладёт его содержимое в ScienceData.
func (f *releaseFixture) enable(t *testing.T, path, kind string) *model.ScienceDataObject {
	t.Helper()
	obj, _, err := f.objects.Enable(f.ctx, f.owner.ID, EnableParams{Path: path, Kind: kind})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	f.sd.content[f.sd.DownloadURL(obj.Path)] = "a,b\n1,2\n"
	return obj
}

func (f *releaseFixture) process(t *testing.T, obj *model.ScienceDataObject, version, body string) (*model.Release, *model.Record) {
	t.Helper()
	rel, err := f.releases.Create(f.ctx, f.owner, obj.ID, version, body)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	rel, err = f.releases.Process(f.ctx, f.owner, rel.ID)
	if err != nil {
		t.Fatalf("Process(%s): %v", version, err)
	}
	if rel.Status != model.ReleasePublished || rel.RecordID == nil {
		t.Fatalf("релиз %s: статус %s, record %v", version, rel.Status, rel.RecordID)
	}
	rec, err := f.store.Repositories().Records.Get(f.ctx, *rel.RecordID)
	if err != nil {
		t.Fatalf("Records.Get: %v", err)
	}
	return rel, rec
}

func TestProcess_FirstVersion(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data/measurements.csv", model.KindFile)

	_, rec := f.process(t, obj, "v1", "# Первая версия\n\nОписание **данных**.")

	md := rec.Metadata
	if md.ConceptRecid != 1 || md.Recid != 2 {
		t.Errorf("conceptrecid=%d recid=%d, ожидались 1 и 2", md.ConceptRecid, md.Recid)
	}
	if md.DOI != "10.5072/sciencerepo.2" || md.ConceptDOI != "10.5072/sciencerepo.1" {
		t.Errorf("doi=%q conceptdoi=%q", md.DOI, md.ConceptDOI)
	}
	if md.Title != "measurements.csv: v1" {
		t.Errorf("title=%q", md.Title)
	}
	if !strings.Contains(md.Description, "<strong>данных</strong>") {
		t.Errorf("описание не преобразовано из Markdown: %q", md.Description)
	}
	if md.AccessRight != "open" || md.License != "other-open" || md.UploadType != "dataset" {
		t.Errorf("значения по умолчанию: %+v", md)
	}
	if len(md.RelatedIdentifiers) != 1 || md.RelatedIdentifiers[0].Identifier != "https://sciencedata.dk/files/data/measurements.csv" {
		t.Errorf("related_identifiers=%+v", md.RelatedIdentifiers)
	}
	if len(md.Creators) != 1 || md.Creators[0].ORCID != f.owner.ORCID {
		t.Errorf("creators=%+v", md.Creators)
	}

	dep, err := f.store.Repositories().Deposits.GetByRecordID(f.ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByRecordID: %v", err)
	}
	if dep.CreatedBy != f.owner.ID {
		t.Errorf("created_by=%q", dep.CreatedBy)
	}
	files, _ := f.store.Repositories().Files.ListByBucket(f.ctx, dep.BucketID)
	if len(files) != 1 || files[0].Key != "measurements.csv-v1" {
		t.Fatalf("файлы депозита: %+v", files)
	}
	if files[0].Size == nil || *files[0].Size != 8 {
		t.Errorf("размер файла: %v", files[0].Size)
	}
	if len(f.sd.downloads) != 1 || !strings.HasPrefix(f.sd.downloads[0], "jane@sciencedata.dk ") {
		t.Errorf("загрузки: %v", f.sd.downloads)
	}

	if f.index.Get(rec.ID) == nil {
		t.Error("запись не проиндексирована")
	}
	if len(f.registrar.ids) != 1 || f.registrar.ids[0] != rec.ID {
		t.Errorf("регистрация DOI: %v", f.registrar.ids)
	}
	sips, _ := f.store.Repositories().SIPs.ListByRecord(f.ctx, rec.ID)
	if len(sips) != 1 || !strings.Contains(string(sips[0].Agent), f.owner.Email) {
		t.Errorf("SIP: %+v", sips)
	}
}

func TestProcess_DirectoryArchiveName(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "/projects/survey", model.KindDir)

	_, rec := f.process(t, obj, "2.0", "")

	dep, _ := f.store.Repositories().Deposits.GetByRecordID(f.ctx, rec.ID)
	files, _ := f.store.Repositories().Files.ListByBucket(f.ctx, dep.BucketID)
	if len(files) != 1 || files[0].Key != "survey-2.0.zip" {
		t.Errorf("файлы: %+v", files)
	}
	if rec.Metadata.Description != noDescription {
		t.Errorf("описание по умолчанию: %q", rec.Metadata.Description)
	}
}

func TestProcess_SecondVersionInherits(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)

	_, v1 := f.process(t, obj, "v1", "")

	// Сообщества задаются у первой версии и наследуются второй
	repos := f.store.Repositories()
	v1.Metadata.Communities = []string{"ocean"}
	if err := repos.Records.Update(f.ctx, v1); err != nil {
		t.Fatalf("Records.Update: %v", err)
	}

	_, v2 := f.process(t, obj, "v2", "")
	if v2.Metadata.ConceptRecid != v1.Metadata.ConceptRecid {
		t.Errorf("conceptrecid v2=%d, v1=%d", v2.Metadata.ConceptRecid, v1.Metadata.ConceptRecid)
	}
	if v2.Metadata.ConceptDOI != v1.Metadata.ConceptDOI {
		t.Errorf("conceptdoi v2=%q, v1=%q", v2.Metadata.ConceptDOI, v1.Metadata.ConceptDOI)
	}
	if v2.Metadata.Recid != 3 || v2.Metadata.DOI != "10.5072/sciencerepo.3" {
		t.Errorf("recid=%d doi=%q", v2.Metadata.Recid, v2.Metadata.DOI)
	}
	if len(v2.Metadata.Communities) != 1 || v2.Metadata.Communities[0] != "ocean" {
		t.Errorf("communities=%v", v2.Metadata.Communities)
	}

	// Концептуальный DOI указывает на последнюю версию
	concept, err := repos.PIDs.Get(f.ctx, model.PIDTypeDOI, v1.Metadata.ConceptDOI)
	if err != nil {
		t.Fatalf("PIDs.Get: %v", err)
	}
	if concept.ObjectUUID == nil || *concept.ObjectUUID != v2.ID {
		t.Errorf("концептуальный DOI назначен %v, ожидалась запись %s", concept.ObjectUUID, v2.ID)
	}

	chain, err := versioning.ForConceptRecid(f.ctx, repos, v1.Metadata.ConceptRecid)
	if err != nil {
		t.Fatalf("ForConceptRecid: %v", err)
	}
	children, _ := chain.Children(f.ctx)
	if len(children) != 2 || children[0].Value != "2" || children[1].Value != "3" {
		t.Errorf("цепочка версий: %+v", children)
	}
}

func TestProcess_RegistersMissingConceptDOI(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)
	_, v1 := f.process(t, obj, "v1", "")

	// Запись, опубликованная до появления концептуальных DOI
	repos := f.store.Repositories()
	conceptDOI := v1.Metadata.ConceptDOI
	v1.Metadata.ConceptDOI = ""
	if err := repos.Records.Update(f.ctx, v1); err != nil {
		t.Fatalf("Records.Update: %v", err)
	}

	_, v2 := f.process(t, obj, "v2", "")

	healed, err := repos.Records.Get(f.ctx, v1.ID)
	if err != nil {
		t.Fatalf("Records.Get: %v", err)
	}
	if healed.Metadata.ConceptDOI != conceptDOI {
		t.Errorf("v1 conceptdoi=%q, ожидался %q", healed.Metadata.ConceptDOI, conceptDOI)
	}
	if v2.Metadata.ConceptDOI != conceptDOI {
		t.Errorf("v2 conceptdoi=%q, ожидался %q", v2.Metadata.ConceptDOI, conceptDOI)
	}
}

func TestProcess_KeepsDraftVersion(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)
	_, v1 := f.process(t, obj, "v1", "")

	// Пользователь начал новую версию вручную
	draft, err := f.releases.NewVersion(f.ctx, f.owner, v1.ID)
	if err != nil {
		t.Fatalf("NewVersion: %v", err)
	}

	_, v2 := f.process(t, obj, "v2", "")

	chain, err := versioning.ForConceptRecid(f.ctx, f.store.Repositories(), v1.Metadata.ConceptRecid)
	if err != nil {
		t.Fatalf("ForConceptRecid: %v", err)
	}
	children, _ := chain.Children(f.ctx)
	if len(children) != 2 || children[1].Value != "4" || v2.Metadata.Recid != 4 {
		t.Errorf("цепочка версий: %+v, recid v2=%d", children, v2.Metadata.Recid)
	}
	kept, err := chain.DraftChild(f.ctx)
	if err != nil {
		t.Fatalf("DraftChild: %v", err)
	}
	if kept == nil || kept.Value != "3" || draft.Metadata.Recid != 3 {
		t.Errorf("черновик версии не сохранён: %+v", kept)
	}
}

func TestProcess_RemoteMetadataOverlay(t *testing.T) {
	f := newReleaseFixture(t, true)
	obj := f.enable(t, "data.csv", model.KindFile)
	f.sd.metadata = map[string]json.RawMessage{
		"title":    json.RawMessage(`"Ocean temperature"`),
		"keywords": json.RawMessage(`["ocean","temperature"]`),
		"recid":    json.RawMessage(`999`),
		"grants":   json.RawMessage(`[{"id":"123"}]`),
	}

	_, rec := f.process(t, obj, "v1", "")
	if rec.Metadata.Title != "Ocean temperature" {
		t.Errorf("title=%q", rec.Metadata.Title)
	}
	if len(rec.Metadata.Keywords) != 2 {
		t.Errorf("keywords=%v", rec.Metadata.Keywords)
	}
	if rec.Metadata.Recid == 999 {
		t.Error("метаданные ScienceData не должны задавать recid")
	}
	if _, ok := rec.Metadata.Extra["grants"]; !ok {
		t.Error("дополнительные поля ScienceData потеряны")
	}
	if rec.Metadata.License != "other-open" {
		t.Errorf("значение по умолчанию перезаписано: %q", rec.Metadata.License)
	}
}

// assertUnchanged проверяет, что неудачная публикация не оставила следов.
func assertUnchanged(t *testing.T, f *releaseFixture) {
	t.Helper()
	repos := f.store.Repositories()
	records, _ := repos.Records.List(f.ctx, 0, 0)
	if len(records) != 0 {
		t.Errorf("после отката осталось записей: %d", len(records))
	}
	deposits, _ := repos.Deposits.List(f.ctx, 0, 0)
	if len(deposits) != 0 {
		t.Errorf("после отката осталось депозитов: %d", len(deposits))
	}
	if _, err := repos.PIDs.Get(f.ctx, model.PIDTypeRecid, "1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("после отката остался PID recid:1 (%v)", err)
	}
	if n := f.index.Count(); n != 0 {
		t.Errorf("в индексе осталось документов: %d", n)
	}
	if n := f.blobs.Len(); n != 0 {
		t.Errorf("в хранилище осталось файлов: %d", n)
	}
	if len(f.registrar.ids) != 0 {
		t.Errorf("регистрация DOI после отката: %v", f.registrar.ids)
	}
}

func TestProcess_DownloadFailureRollsBack(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)
	f.sd.downloadErr = sdclient.ErrUpstream

	rel, err := f.releases.Create(f.ctx, f.owner, obj.ID, "v1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	failed, err := f.releases.Process(f.ctx, f.owner, rel.ID)
	if !errors.Is(err, ErrScienceDataUnavailable) {
		t.Fatalf("ожидалась ErrScienceDataUnavailable, получено %v", err)
	}
	if failed == nil || failed.Status != model.ReleaseFailed || failed.RecordID != nil {
		t.Fatalf("релиз после ошибки: %+v", failed)
	}
	var errs map[string]string
	if jerr := json.Unmarshal(failed.Errors, &errs); jerr != nil || errs["errors"] == "" {
		t.Errorf("errors релиза: %s", failed.Errors)
	}
	assertUnchanged(t, f)
}

func TestProcess_PublishFailureRemovesStoredFiles(t *testing.T) {
	f := newReleaseFixture(t, true)
	obj := f.enable(t, "data.csv", model.KindFile)
	// Пустой заголовок проходит загрузку файла, но не валидацию публикации
	f.sd.metadata = map[string]json.RawMessage{"title": json.RawMessage(`""`)}

	rel, _ := f.releases.Create(f.ctx, f.owner, obj.ID, "v1", "")
	_, err := f.releases.Process(f.ctx, f.owner, rel.ID)
	if !errors.Is(err, deposit.ErrValidation) {
		t.Fatalf("ожидалась deposit.ErrValidation, получено %v", err)
	}
	assertUnchanged(t, f)

	// Повторная обработка после исправления метаданных
	f.sd.metadata = nil
	again, err := f.releases.Process(f.ctx, f.owner, rel.ID)
	if err != nil {
		t.Fatalf("повторный Process: %v", err)
	}
	if again.Status != model.ReleasePublished {
		t.Errorf("статус после повтора: %s", again.Status)
	}
}

func TestProcess_MissingFile(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj, _, _ := f.objects.Enable(f.ctx, f.owner.ID, EnableParams{Path: "/missing.csv"})

	rel, _ := f.releases.Create(f.ctx, f.owner, obj.ID, "v1", "")
	_, err := f.releases.Process(f.ctx, f.owner, rel.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
	assertUnchanged(t, f)
}

func TestProcess_InvalidTransition(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)
	rel, _ := f.process(t, obj, "v1", "")

	if _, err := f.releases.Process(f.ctx, f.owner, rel.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("повторная обработка опубликованного релиза: %v", err)
	}
	if _, err := f.releases.Delete(f.ctx, f.owner, rel.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("удаление опубликованного релиза: %v", err)
	}
}

func TestReleases_AccessControl(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)
	stranger := &model.Principal{ID: "user-2", ORCID: "0000-0001-0000-0000"}

	if _, err := f.releases.Create(f.ctx, stranger, obj.ID, "v1", ""); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Create чужим пользователем: %v", err)
	}
	if _, err := f.releases.Create(f.ctx, f.owner, uuid.New(), "v1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Create для несуществующего объекта: %v", err)
	}
	if _, err := f.releases.Create(f.ctx, f.owner, obj.ID, "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("Create без версии: %v", err)
	}

	rel, _ := f.releases.Create(f.ctx, f.owner, obj.ID, "v1", "")
	if _, err := f.releases.Get(f.ctx, stranger, rel.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Get чужим пользователем: %v", err)
	}
	list, err := f.releases.List(f.ctx, f.owner, obj.ID)
	if err != nil || len(list) != 1 {
		t.Errorf("List: %v, %d", err, len(list))
	}
	deleted, err := f.releases.Delete(f.ctx, f.owner, rel.ID)
	if err != nil || deleted.Status != model.ReleaseDeleted {
		t.Errorf("Delete: %v, %+v", err, deleted)
	}
}

func TestProcess_NoORCID(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)
	f.owner.ORCID = ""

	rel, _ := f.releases.Create(f.ctx, f.owner, obj.ID, "v1", "")
	failed, err := f.releases.Process(f.ctx, f.owner, rel.ID)
	if !errors.Is(err, ErrNoORCID) {
		t.Fatalf("ожидалась ErrNoORCID, получено %v", err)
	}
	if failed.Status != model.ReleaseFailed {
		t.Errorf("статус: %s", failed.Status)
	}
}
