package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository/memory"
	"github.com/bigkaa/sciencerepo/internal/sdclient"
)

func newObjectService() *ObjectService {
	return NewObjectService(memory.NewStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnable(t *testing.T) {
	tests := []struct {
		name     string
		params   EnableParams
		wantPath string
		wantName string
		wantErr  error
	}{
		{"путь без слеша", EnableParams{Path: "data/file.csv"}, "/data/file.csv", "file.csv", nil},
		{"каталог с именем", EnableParams{Path: "/projects/survey/", Name: "Survey", Kind: model.KindDir}, "/projects/survey", "Survey", nil},
		{"пустой путь", EnableParams{Path: "  "}, "", "", ErrValidation},
		{"корень", EnableParams{Path: "/"}, "", "", ErrValidation},
		{"недопустимый вид", EnableParams{Path: "/x", Kind: "link"}, "", "", ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newObjectService()
			obj, created, err := s.Enable(context.Background(), "user-1", tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ожидалась %v, получено %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Enable: %v", err)
			}
			if !created || obj.Path != tt.wantPath || obj.Name != tt.wantName {
				t.Errorf("created=%v path=%q name=%q", created, obj.Path, obj.Name)
			}
		})
	}
}

func TestEnable_Idempotent(t *testing.T) {
	s := newObjectService()
	ctx := context.Background()

	first, _, err := s.Enable(ctx, "user-1", EnableParams{Path: "/a.csv"})
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	again, created, err := s.Enable(ctx, "user-1", EnableParams{Path: "a.csv"})
	if err != nil {
		t.Fatalf("повторный Enable: %v", err)
	}
	if created || again.ID != first.ID {
		t.Errorf("повторное включение создало новый объект")
	}
	grouped, created, _ := s.Enable(ctx, "user-1", EnableParams{Path: "/a.csv", Group: "lab"})
	if !created || grouped.ID == first.ID {
		t.Errorf("объект группы должен быть отдельным")
	}

	list, _ := s.List(ctx, "user-1")
	if len(list) != 2 {
		t.Errorf("List: %d объектов, ожидалось 2", len(list))
	}
}

func TestObjects_GetDelete(t *testing.T) {
	s := newObjectService()
	ctx := context.Background()
	obj, _, _ := s.Enable(ctx, "user-1", EnableParams{Path: "/a.csv"})

	if _, err := s.Get(ctx, "user-2", obj.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Get чужим пользователем: %v", err)
	}
	if _, err := s.Get(ctx, "user-1", uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get несуществующего: %v", err)
	}
	if err := s.Delete(ctx, "user-2", obj.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Delete чужим пользователем: %v", err)
	}
	if err := s.Delete(ctx, "user-1", obj.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "user-1", obj.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("после удаления: %v", err)
	}
}

func TestLatestReleaseAndDOI(t *testing.T) {
	f := newReleaseFixture(t, false)
	obj := f.enable(t, "data.csv", model.KindFile)

	if _, err := f.objects.LatestRelease(f.ctx, obj.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestRelease без релизов: %v", err)
	}
	if _, err := f.objects.LatestDOI(f.ctx, f.owner.ID, "/data.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestDOI без публикаций: %v", err)
	}

	f.process(t, obj, "v1", "")
	_, v2 := f.process(t, obj, "v2", "")
	pending, _ := f.releases.Create(f.ctx, f.owner, obj.ID, "v3", "")

	latest, err := f.objects.LatestRelease(f.ctx, obj.ID, nil)
	if err != nil || latest.ID != pending.ID {
		t.Errorf("LatestRelease: %v, %+v", err, latest)
	}
	published := model.ReleasePublished
	latestPublished, err := f.objects.LatestRelease(f.ctx, obj.ID, &published)
	if err != nil || latestPublished.RecordID == nil || *latestPublished.RecordID != v2.ID {
		t.Errorf("LatestRelease(published): %v, %+v", err, latestPublished)
	}

	got, err := f.objects.LatestDOI(f.ctx, f.owner.ID, "data.csv")
	if err != nil {
		t.Fatalf("LatestDOI: %v", err)
	}
	if got != v2.Metadata.DOI {
		t.Errorf("LatestDOI=%q, ожидался %q", got, v2.Metadata.DOI)
	}
}

func TestUserService_Cache(t *testing.T) {
	sd := newFakeScienceData()
	s := NewUserService(sd, 10, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p := &model.Principal{ID: "user-1", ORCID: "0000-0002-1825-0097"}

	for range 3 {
		user, err := s.ScienceDataUser(context.Background(), p)
		if err != nil {
			t.Fatalf("ScienceDataUser: %v", err)
		}
		if user != "jane@sciencedata.dk" {
			t.Errorf("user=%q", user)
		}
	}
	if sd.resolveCalls != 1 {
		t.Errorf("ResolveUser вызван %d раз, ожидался 1", sd.resolveCalls)
	}

	s.Forget(p.ORCID)
	if _, err := s.ScienceDataUser(context.Background(), p); err != nil {
		t.Fatalf("ScienceDataUser: %v", err)
	}
	if sd.resolveCalls != 2 {
		t.Errorf("после Forget ResolveUser вызван %d раз, ожидалось 2", sd.resolveCalls)
	}

	groups, err := s.Groups(context.Background(), p)
	if err != nil || len(groups) != 1 || groups[0] != "lab" {
		t.Errorf("Groups: %v, %v", groups, err)
	}
}

func TestUserService_Errors(t *testing.T) {
	s := NewUserService(newFakeScienceData(), 10, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := s.ScienceDataUser(context.Background(), &model.Principal{ID: "u"}); !errors.Is(err, ErrNoORCID) {
		t.Errorf("без ORCID: %v", err)
	}
	if _, err := s.ScienceDataUser(context.Background(), &model.Principal{ID: "u", ORCID: "0000-0000-0000-0001"}); !errors.Is(err, sdclient.ErrNoORCIDAccount) {
		t.Errorf("ORCID без аккаунта: %v", err)
	}
}

func TestMapScienceDataError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{sdclient.ErrNotFound, ErrNotFound},
		{sdclient.ErrUpstream, ErrScienceDataUnavailable},
		{sdclient.ErrMultipleORCIDAccounts, sdclient.ErrMultipleORCIDAccounts},
		{context.Canceled, context.Canceled},
	}
	for _, tt := range tests {
		if got := mapScienceDataError(tt.in); !errors.Is(got, tt.want) {
			t.Errorf("mapScienceDataError(%v)=%v, ожидалась %v", tt.in, got, tt.want)
		}
	}
}
