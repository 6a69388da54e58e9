package datacite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository/memory"
)

type mdsRequest struct {
	method string
	path   string
	body   string
	user   string
}

type fakeMDS struct {
	mu       sync.Mutex
	requests []mdsRequest
	status   int
}

func (f *fakeMDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, _, _ := r.BasicAuth()
	f.mu.Lock()
	f.requests = append(f.requests, mdsRequest{method: r.Method, path: r.URL.EscapedPath(), body: string(body), user: user})
	status := f.status
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
}

func testMetadata() model.RecordMetadata {
	return model.RecordMetadata{
		Recid:           2,
		ConceptRecid:    1,
		DOI:             "10.5072/sciencerepo.2",
		ConceptDOI:      "10.5072/sciencerepo.1",
		Title:           "Измерения: v1",
		Description:     "<p>Описание</p>",
		Version:         "v1",
		PublicationDate: "2024-03-01",
		UploadType:      "dataset",
		License:         "other-open",
		Creators:        []model.Creator{{Name: "Иванов", ORCID: "0000-0002-1825-0097"}},
		RelatedIdentifiers: []model.RelatedIdentifier{
			{Identifier: "https://sciencedata.dk/files/data", Relation: "isSupplementTo", Scheme: "url"},
		},
	}
}

func seedRecord(t *testing.T, store *memory.Store, pids ...*model.PID) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	repos := store.Repositories()

	rec := &model.Record{Metadata: testMetadata()}
	if err := repos.Records.Create(ctx, rec); err != nil {
		t.Fatalf("создание записи: %v", err)
	}
	for _, p := range pids {
		p.ObjectType = model.ObjectTypeRecord
		id := rec.ID
		p.ObjectUUID = &id
		if err := repos.PIDs.Create(ctx, p); err != nil {
			t.Fatalf("создание PID %s: %v", p.Value, err)
		}
	}
	return rec.ID
}

func TestBuildXML(t *testing.T) {
	md := testMetadata()

	doc, err := BuildXML(md.DOI, "ScienceRepo", &md)
	if err != nil {
		t.Fatalf("BuildXML: %v", err)
	}
	s := string(doc)
	for _, want := range []string{
		`xmlns="http://datacite.org/schema/kernel-4"`,
		`<identifier identifierType="DOI">10.5072/sciencerepo.2</identifier>`,
		`<creatorName>Иванов</creatorName>`,
		`nameIdentifierScheme="ORCID"`,
		`<publicationYear>2024</publicationYear>`,
		`<resourceType resourceTypeGeneral="Dataset">dataset</resourceType>`,
		`relationType="IsSupplementTo"`,
		`relatedIdentifierType="URL"`,
		`relationType="IsVersionOf">10.5072/sciencerepo.1<`,
		`&lt;p&gt;Описание&lt;/p&gt;`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("XML не содержит %q:\n%s", want, s)
		}
	}

	concept, err := BuildXML(md.ConceptDOI, "ScienceRepo", &md)
	if err != nil {
		t.Fatalf("BuildXML (concept): %v", err)
	}
	if !strings.Contains(string(concept), `relationType="HasVersion">10.5072/sciencerepo.2<`) {
		t.Errorf("концептуальный DOI без HasVersion:\n%s", concept)
	}
}

func TestBuildXML_Errors(t *testing.T) {
	md := testMetadata()
	if _, err := BuildXML("", "p", &md); err == nil {
		t.Error("ожидалась ошибка для пустого DOI")
	}
	md.Title = ""
	if _, err := BuildXML("10.5072/x", "p", &md); err == nil {
		t.Error("ожидалась ошибка для записи без заголовка")
	}
}

func TestRegister(t *testing.T) {
	mds := &fakeMDS{}
	srv := httptest.NewServer(mds)
	defer srv.Close()

	store := memory.NewStore()
	recordID := seedRecord(t, store,
		&model.PID{Type: model.PIDTypeDOI, Value: "10.5072/sciencerepo.2", Provider: model.ProviderDataCite, Status: model.PIDReserved},
		&model.PID{Type: model.PIDTypeDOI, Value: "10.5072/sciencerepo.1", Provider: model.ProviderDataCite, Status: model.PIDReserved},
		&model.PID{Type: model.PIDTypeOAI, Value: "oai:sciencerepo.org:2", Provider: model.ProviderOAI, Status: model.PIDRegistered},
	)

	reg := NewRegistrar(NewClient(srv.URL, "user", "secret", 5*time.Second), store,
		"ScienceRepo", "https://repo.example.org", 5*time.Second, slog.Default())

	if err := reg.Register(context.Background(), recordID); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if len(mds.requests) != 4 {
		t.Fatalf("ожидалось 4 запроса к MDS, получено %d", len(mds.requests))
	}
	var urls []string
	for _, r := range mds.requests {
		if r.user != "user" {
			t.Errorf("basic auth: пользователь %q", r.user)
		}
		if r.method == http.MethodPut {
			urls = append(urls, r.body)
			if !strings.HasPrefix(r.path, "/doi/10.5072") {
				t.Errorf("неожиданный путь PUT %q", r.path)
			}
		}
	}
	joined := strings.Join(urls, "\n")
	for _, want := range []string{
		"doi=10.5072/sciencerepo.2\nurl=https://repo.example.org/records/2",
		"doi=10.5072/sciencerepo.1\nurl=https://repo.example.org/records/1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("нет регистрации %q среди:\n%s", want, joined)
		}
	}

	for _, value := range []string{"10.5072/sciencerepo.2", "10.5072/sciencerepo.1"} {
		p, err := store.Repositories().PIDs.Get(context.Background(), model.PIDTypeDOI, value)
		if err != nil {
			t.Fatalf("Get %s: %v", value, err)
		}
		if p.Status != model.PIDRegistered {
			t.Errorf("PID %s: статус %s, ожидался R", value, p.Status)
		}
	}

	// Повторная регистрация обновляет DataCite, но не падает на смене статуса
	if err := reg.Register(context.Background(), recordID); err != nil {
		t.Fatalf("повторный Register: %v", err)
	}
}

func TestRegister_SkipsExternalDOI(t *testing.T) {
	mds := &fakeMDS{}
	srv := httptest.NewServer(mds)
	defer srv.Close()

	store := memory.NewStore()
	recordID := seedRecord(t, store,
		&model.PID{Type: model.PIDTypeDOI, Value: "10.1234/external", Status: model.PIDReserved},
	)
	reg := NewRegistrar(NewClient(srv.URL, "u", "p", time.Second), store, "ScienceRepo", "https://repo", time.Second, slog.Default())

	if err := reg.Register(context.Background(), recordID); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(mds.requests) != 0 {
		t.Errorf("внешний DOI не должен регистрироваться, запросов: %d", len(mds.requests))
	}
}

func TestRegister_Rejected(t *testing.T) {
	mds := &fakeMDS{status: http.StatusUnauthorized}
	srv := httptest.NewServer(mds)
	defer srv.Close()

	store := memory.NewStore()
	recordID := seedRecord(t, store,
		&model.PID{Type: model.PIDTypeDOI, Value: "10.5072/sciencerepo.2", Provider: model.ProviderDataCite, Status: model.PIDReserved},
	)
	reg := NewRegistrar(NewClient(srv.URL, "u", "p", time.Second), store, "ScienceRepo", "https://repo", time.Second, slog.Default())

	err := reg.Register(context.Background(), recordID)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("ожидалась ErrRejected, получено %v", err)
	}
	p, _ := store.Repositories().PIDs.Get(context.Background(), model.PIDTypeDOI, "10.5072/sciencerepo.2")
	if p.Status != model.PIDReserved {
		t.Errorf("после отказа статус %s, ожидался K", p.Status)
	}
}

func TestRegisterAsync(t *testing.T) {
	mds := &fakeMDS{}
	srv := httptest.NewServer(mds)
	defer srv.Close()

	store := memory.NewStore()
	recordID := seedRecord(t, store,
		&model.PID{Type: model.PIDTypeDOI, Value: "10.5072/sciencerepo.2", Provider: model.ProviderDataCite, Status: model.PIDReserved},
	)
	reg := NewRegistrar(NewClient(srv.URL, "u", "p", time.Second), store, "ScienceRepo", "https://repo", time.Second, slog.Default())

	reg.RegisterAsync(recordID)
	reg.RegisterAsync(uuid.New()) // несуществующая запись: ошибка только логируется
	reg.Wait()

	p, _ := store.Repositories().PIDs.Get(context.Background(), model.PIDTypeDOI, "10.5072/sciencerepo.2")
	if p.Status != model.PIDRegistered {
		t.Errorf("статус %s, ожидался R", p.Status)
	}
}
