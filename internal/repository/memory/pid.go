package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

func copyPID(p *model.PID) *model.PID {
	c := *p
	if p.ObjectUUID != nil {
		id := *p.ObjectUUID
		c.ObjectUUID = &id
	}
	return &c
}

type pidRepo struct {
	s *Store
}

func (r *pidRepo) Create(_ context.Context, p *model.PID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.data.pids {
		if existing.Type == p.Type && existing.Value == p.Value {
			return fmt.Errorf("%w: PID %s:%s", repository.ErrConflict, p.Type, p.Value)
		}
	}

	r.s.data.pidSeq++
	p.ID = r.s.data.pidSeq
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.data.pids[p.ID] = copyPID(p)

	// Явно заданные числовые recid продвигают последовательность
	if p.Type == model.PIDTypeRecid {
		if n, err := strconv.ParseInt(p.Value, 10, 64); err == nil && n > r.s.data.recidSeq {
			r.s.data.recidSeq = n
		}
	}
	return nil
}

func (r *pidRepo) Get(_ context.Context, pidType, value string) (*model.PID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.data.pids {
		if p.Type == pidType && p.Value == value {
			return copyPID(p), nil
		}
	}
	return nil, fmt.Errorf("%w: PID %s:%s", repository.ErrNotFound, pidType, value)
}

func (r *pidRepo) GetByID(_ context.Context, id int64) (*model.PID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.data.pids[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyPID(p), nil
}

func (r *pidRepo) ListByObject(_ context.Context, objectType string, objectUUID uuid.UUID) ([]*model.PID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*model.PID
	for _, p := range r.s.data.pids {
		if p.ObjectType == objectType && p.ObjectUUID != nil && *p.ObjectUUID == objectUUID {
			result = append(result, copyPID(p))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// update применяет mutate к копии хранимого PID и сохраняет её.
func (r *pidRepo) update(p *model.PID, mutate func(stored *model.PID)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.pids[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	next := copyPID(stored)
	mutate(next)
	next.UpdatedAt = r.s.now()
	r.s.data.pids[p.ID] = next
	*p = *copyPID(next)
	return nil
}

func (r *pidRepo) Assign(_ context.Context, p *model.PID, objectType string, objectUUID uuid.UUID, overwrite bool) error {
	changed, err := repository.CheckAssign(p, objectType, objectUUID, overwrite)
	if err != nil || !changed {
		return err
	}
	return r.update(p, func(stored *model.PID) {
		id := objectUUID
		stored.ObjectType = objectType
		stored.ObjectUUID = &id
	})
}

func (r *pidRepo) Register(_ context.Context, p *model.PID) error {
	if err := repository.CheckRegister(p); err != nil {
		return err
	}
	return r.update(p, func(stored *model.PID) {
		stored.Status = model.PIDRegistered
	})
}

func (r *pidRepo) Redirect(ctx context.Context, p *model.PID, objectType string, objectUUID uuid.UUID) error {
	if err := r.Assign(ctx, p, objectType, objectUUID, true); err != nil {
		return err
	}
	return r.update(p, func(stored *model.PID) {
		stored.Status = model.PIDRedirected
	})
}

func (r *pidRepo) Delete(_ context.Context, p *model.PID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.pids[p.ID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.pids, p.ID)
	for key := range r.s.data.relations {
		if key[0] == p.ID || key[1] == p.ID {
			delete(r.s.data.relations, key)
		}
	}
	return nil
}

func (r *pidRepo) NextRecid(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.data.recidSeq++
	return r.s.data.recidSeq, nil
}

func (r *pidRepo) Savepoint(_ context.Context, fn func(pids repository.PIDRepository) error) error {
	return r.s.withSnapshot(func() error {
		return fn(r)
	})
}

type relationRepo struct {
	s *Store
}

func (r *relationRepo) Create(_ context.Context, rel *model.PIDRelation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := [2]int64{rel.ParentID, rel.ChildID}
	if _, ok := r.s.data.relations[key]; ok {
		return fmt.Errorf("%w: связь %d → %d", repository.ErrConflict, rel.ParentID, rel.ChildID)
	}
	if _, ok := r.s.data.pids[rel.ParentID]; !ok {
		return fmt.Errorf("родительский PID %d не найден: %w", rel.ParentID, repository.ErrNotFound)
	}
	if _, ok := r.s.data.pids[rel.ChildID]; !ok {
		return fmt.Errorf("дочерний PID %d не найден: %w", rel.ChildID, repository.ErrNotFound)
	}
	c := *rel
	r.s.data.relations[key] = &c
	return nil
}

func (r *relationRepo) Delete(_ context.Context, parentID, childID int64, relationType string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := [2]int64{parentID, childID}
	rel, ok := r.s.data.relations[key]
	if !ok || rel.RelationType != relationType {
		return repository.ErrNotFound
	}
	delete(r.s.data.relations, key)
	return nil
}

func (r *relationRepo) Children(_ context.Context, parentID int64, relationType string) ([]*model.PIDRelation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*model.PIDRelation
	for _, rel := range r.s.data.relations {
		if rel.ParentID == parentID && rel.RelationType == relationType {
			c := *rel
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Index != result[j].Index {
			return result[i].Index < result[j].Index
		}
		return result[i].ChildID < result[j].ChildID
	})
	return result, nil
}

func (r *relationRepo) Parent(_ context.Context, childID int64, relationType string) (*model.PIDRelation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, rel := range r.s.data.relations {
		if rel.ChildID == childID && rel.RelationType == relationType {
			c := *rel
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}
