// objects.go — сервис объектов ScienceData, включённых для публикации.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

// EnableParams — параметры включения объекта.
type EnableParams struct {
	Path        string
	Name        string
	Kind        string
	Group       string
	Description string
}

// ObjectService управляет объектами ScienceData пользователя.
type ObjectService struct {
	store  Store
	logger *slog.Logger
}

// NewObjectService создаёт сервис объектов.
func NewObjectService(store Store, logger *slog.Logger) *ObjectService {
	return &ObjectService{
		store:  store,
		logger: logger.With(slog.String("component", "object_service")),
	}
}

// normalizePath приводит путь к виду с ведущим "/" без завершающего.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return ""
	}
	return cleaned
}

// Enable включает объект для публикации. Повторное включение того же
// (пользователь, путь, группа) возвращает существующий объект с created=false.
func (s *ObjectService) Enable(ctx context.Context, userID string, params EnableParams) (*model.ScienceDataObject, bool, error) {
	p := normalizePath(params.Path)
	if p == "" {
		return nil, false, fmt.Errorf("%w: путь объекта не задан", ErrValidation)
	}
	kind := params.Kind
	if kind == "" {
		kind = model.KindFile
	}
	if kind != model.KindFile && kind != model.KindDir {
		return nil, false, fmt.Errorf("%w: недопустимый вид объекта %q (допустимы file, dir)", ErrValidation, kind)
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = path.Base(p)
	}

	repos := s.store.Repositories()
	existing, err := repos.Objects.Get(ctx, userID, p, params.Group)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("ошибка поиска объекта: %w", err)
	}

	obj := &model.ScienceDataObject{
		ID:          uuid.New(),
		UserID:      userID,
		Path:        p,
		Name:        name,
		Kind:        kind,
		Group:       params.Group,
		Description: params.Description,
	}
	if err := repos.Objects.Create(ctx, obj); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Параллельное включение того же объекта
			existing, getErr := repos.Objects.Get(ctx, userID, p, params.Group)
			if getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("ошибка создания объекта: %w", err)
	}

	s.logger.Info("Объект ScienceData включён",
		slog.String("object_id", obj.ID.String()),
		slog.String("user_id", userID),
		slog.String("path", p),
		slog.String("group", params.Group),
	)
	return obj, true, nil
}

// Get возвращает объект пользователя.
func (s *ObjectService) Get(ctx context.Context, userID string, id uuid.UUID) (*model.ScienceDataObject, error) {
	obj, err := s.store.Repositories().Objects.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: объект %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения объекта: %w", err)
	}
	if obj.UserID != userID {
		return nil, fmt.Errorf("%w: объект %s", ErrAccessDenied, id)
	}
	return obj, nil
}

// List возвращает объекты пользователя.
func (s *ObjectService) List(ctx context.Context, userID string) ([]*model.ScienceDataObject, error) {
	objects, err := s.store.Repositories().Objects.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка объектов: %w", err)
	}
	return objects, nil
}

// Delete выключает объект. Релизы объекта удаляются вместе с ним,
// опубликованные записи остаются.
func (s *ObjectService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.store.Repositories().Objects.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: объект %s", ErrNotFound, id)
		}
		return fmt.Errorf("ошибка удаления объекта: %w", err)
	}
	s.logger.Info("Объект ScienceData выключен",
		slog.String("object_id", id.String()),
		slog.String("user_id", userID),
	)
	return nil
}

// LatestRelease возвращает последний релиз объекта, при status != nil —
// последний релиз в этом статусе.
func (s *ObjectService) LatestRelease(ctx context.Context, objectID uuid.UUID, status *model.ReleaseStatus) (*model.Release, error) {
	rel, err := s.store.Repositories().Releases.LatestByObject(ctx, objectID, status)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: релизов объекта %s нет", ErrNotFound, objectID)
		}
		return nil, fmt.Errorf("ошибка получения релиза: %w", err)
	}
	return rel, nil
}

// LatestDOI возвращает DOI последней опубликованной версии объекта
// пользователя по пути (для бейджа latestdoi).
func (s *ObjectService) LatestDOI(ctx context.Context, userID, objectPath string) (string, error) {
	p := normalizePath(objectPath)
	repos := s.store.Repositories()

	objects, err := repos.Objects.ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("ошибка получения списка объектов: %w", err)
	}
	published := model.ReleasePublished
	var latest *model.Release
	for _, obj := range objects {
		if obj.Path != p {
			continue
		}
		rel, err := repos.Releases.LatestByObject(ctx, obj.ID, &published)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return "", fmt.Errorf("ошибка получения релиза: %w", err)
		}
		if latest == nil || rel.CreatedAt.After(latest.CreatedAt) {
			latest = rel
		}
	}
	if latest == nil || latest.RecordID == nil {
		return "", fmt.Errorf("%w: опубликованных версий %s нет", ErrNotFound, p)
	}

	rec, err := repos.Records.Get(ctx, *latest.RecordID)
	if err != nil {
		return "", fmt.Errorf("ошибка получения записи: %w", err)
	}
	if rec.Metadata.DOI == "" {
		return "", fmt.Errorf("%w: у записи %s нет DOI", ErrNotFound, rec.ID)
	}
	return rec.Metadata.DOI, nil
}
