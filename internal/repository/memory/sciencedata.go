package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

type objectRepo struct {
	s *Store
}

func (r *objectRepo) Create(_ context.Context, obj *model.ScienceDataObject) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, other := range r.s.data.objects {
		if other.UserID == obj.UserID && other.Path == obj.Path && other.Group == obj.Group {
			return fmt.Errorf("%w: объект %s (группа %q)", repository.ErrConflict, obj.Path, obj.Group)
		}
	}
	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	obj.CreatedAt = r.s.now()
	obj.UpdatedAt = obj.CreatedAt
	c := *obj
	r.s.data.objects[obj.ID] = &c
	r.s.data.stamp(obj.ID)
	return nil
}

func (r *objectRepo) GetByID(_ context.Context, id uuid.UUID) (*model.ScienceDataObject, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	obj, ok := r.s.data.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: объект %s", repository.ErrNotFound, id)
	}
	c := *obj
	return &c, nil
}

func (r *objectRepo) Get(_ context.Context, userID, path, group string) (*model.ScienceDataObject, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, obj := range r.s.data.objects {
		if obj.UserID == userID && obj.Path == path && obj.Group == group {
			c := *obj
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: объект %s (группа %q)", repository.ErrNotFound, path, group)
}

func (r *objectRepo) ListByUser(_ context.Context, userID string) ([]*model.ScienceDataObject, error) {
	return r.list(func(obj *model.ScienceDataObject) bool { return obj.UserID == userID }), nil
}

func (r *objectRepo) List(_ context.Context) ([]*model.ScienceDataObject, error) {
	return r.list(func(*model.ScienceDataObject) bool { return true }), nil
}

func (r *objectRepo) list(match func(*model.ScienceDataObject) bool) []*model.ScienceDataObject {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*model.ScienceDataObject
	for _, obj := range r.s.data.objects {
		if match(obj) {
			c := *obj
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Group < b.Group
	})
	return result
}

func (r *objectRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.objects[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.objects, id)
	for relID, rel := range r.s.data.releases {
		if rel.ObjectID == id {
			delete(r.s.data.releases, relID)
		}
	}
	return nil
}

func copyRelease(rel *model.Release) *model.Release {
	c := *rel
	c.Errors = append([]byte(nil), rel.Errors...)
	if len(rel.Errors) == 0 {
		c.Errors = nil
	}
	if rel.RecordID != nil {
		id := *rel.RecordID
		c.RecordID = &id
	}
	return &c
}

type releaseRepo struct {
	s *Store
}

func (r *releaseRepo) Create(_ context.Context, rel *model.Release) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.objects[rel.ObjectID]; !ok {
		return fmt.Errorf("релиз ссылается на несуществующий объект %s: %w", rel.ObjectID, repository.ErrNotFound)
	}
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	rel.CreatedAt = r.s.now()
	rel.UpdatedAt = rel.CreatedAt
	r.s.data.releases[rel.ID] = copyRelease(rel)
	r.s.data.stamp(rel.ID)
	return nil
}

func (r *releaseRepo) Get(_ context.Context, id uuid.UUID) (*model.Release, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rel, ok := r.s.data.releases[id]
	if !ok {
		return nil, fmt.Errorf("%w: релиз %s", repository.ErrNotFound, id)
	}
	return copyRelease(rel), nil
}

func (r *releaseRepo) Update(_ context.Context, rel *model.Release) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.releases[rel.ID]
	if !ok {
		return fmt.Errorf("%w: релиз %s", repository.ErrNotFound, rel.ID)
	}
	next := copyRelease(stored)
	next.Status = rel.Status
	next.Errors = append([]byte(nil), rel.Errors...)
	if len(rel.Errors) == 0 {
		next.Errors = nil
	}
	next.RecordID = copyRelease(rel).RecordID
	next.UpdatedAt = r.s.now()
	r.s.data.releases[rel.ID] = next
	rel.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *releaseRepo) byObject(objectID uuid.UUID, status *model.ReleaseStatus) []*model.Release {
	var result []*model.Release
	for _, rel := range r.s.data.releases {
		if rel.ObjectID != objectID {
			continue
		}
		if status != nil && rel.Status != *status {
			continue
		}
		result = append(result, copyRelease(rel))
	}
	sortByOrder(result, func(rel *model.Release) uuid.UUID { return rel.ID }, r.s.data.order, true)
	return result
}

func (r *releaseRepo) LatestByObject(_ context.Context, objectID uuid.UUID, status *model.ReleaseStatus) (*model.Release, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := r.byObject(objectID, status)
	if len(result) == 0 {
		return nil, repository.ErrNotFound
	}
	return result[0], nil
}

func (r *releaseRepo) ListByObject(_ context.Context, objectID uuid.UUID) ([]*model.Release, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.byObject(objectID, nil), nil
}
