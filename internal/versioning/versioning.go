// Пакет versioning — цепочка версий логической работы.
//
// Родитель цепочки — концептуальный recid, потомки — recid версий,
// упорядоченные по индексу. Зарегистрированные потомки — опубликованные
// версии; потомок в статусе RESERVED — черновик новой версии (draft child),
// в цепочке он не более чем один и всегда последний.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

// Ошибки цепочки версий.
var (
	// ErrDraftExists — в цепочке уже есть черновик новой версии.
	ErrDraftExists = errors.New("в цепочке версий уже есть черновик")
	// ErrNotDraft — PID не может быть черновиком (статус не RESERVED).
	ErrNotDraft = errors.New("PID не в статусе RESERVED")
)

// Chain — цепочка версий одного концептуального recid.
type Chain struct {
	pids   repository.PIDRepository
	rels   repository.PIDRelationRepository
	parent *model.PID
}

// New создаёт цепочку для концептуального recid parent.
func New(repos *repository.Repositories, parent *model.PID) *Chain {
	return &Chain{pids: repos.PIDs, rels: repos.Relations, parent: parent}
}

// ForConceptRecid загружает концептуальный recid и возвращает его цепочку.
func ForConceptRecid(ctx context.Context, repos *repository.Repositories, conceptRecid int64) (*Chain, error) {
	parent, err := repos.PIDs.Get(ctx, model.PIDTypeRecid, strconv.FormatInt(conceptRecid, 10))
	if err != nil {
		return nil, fmt.Errorf("концептуальный recid %d: %w", conceptRecid, err)
	}
	return New(repos, parent), nil
}

// Parent возвращает концептуальный recid.
func (c *Chain) Parent() *model.PID {
	return c.parent
}

// all возвращает всех потомков (включая черновик) по порядку.
func (c *Chain) all(ctx context.Context) ([]*model.PID, []*model.PIDRelation, error) {
	rels, err := c.rels.Children(ctx, c.parent.ID, model.RelationVersion)
	if err != nil {
		return nil, nil, err
	}
	children := make([]*model.PID, 0, len(rels))
	for _, rel := range rels {
		child, err := c.pids.GetByID(ctx, rel.ChildID)
		if err != nil {
			return nil, nil, fmt.Errorf("потомок %d цепочки %s: %w", rel.ChildID, c.parent.Value, err)
		}
		children = append(children, child)
	}
	return children, rels, nil
}

// Children возвращает опубликованные версии (REGISTERED) по порядку.
func (c *Chain) Children(ctx context.Context) ([]*model.PID, error) {
	all, _, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*model.PID, 0, len(all))
	for _, child := range all {
		if child.IsRegistered() {
			result = append(result, child)
		}
	}
	return result, nil
}

// LastChild возвращает последнюю опубликованную версию или nil.
func (c *Chain) LastChild(ctx context.Context) (*model.PID, error) {
	children, err := c.Children(ctx)
	if err != nil || len(children) == 0 {
		return nil, err
	}
	return children[len(children)-1], nil
}

// DraftChild возвращает черновик новой версии или nil.
func (c *Chain) DraftChild(ctx context.Context) (*model.PID, error) {
	all, _, err := c.all(ctx)
	if err != nil {
		return nil, err
	}
	for _, child := range all {
		if child.Status == model.PIDReserved {
			return child, nil
		}
	}
	return nil, nil
}

// nextIndex возвращает индекс для добавления в конец цепочки.
func nextIndex(rels []*model.PIDRelation) int {
	next := 0
	for _, rel := range rels {
		if rel.Index >= next {
			next = rel.Index + 1
		}
	}
	return next
}

// InsertChild добавляет версию в конец цепочки. Повторная вставка
// того же потомка — no-op. Пока в цепочке есть черновик, вставка другого
// потомка запрещена (ErrDraftExists): черновик должен оставаться последним.
func (c *Chain) InsertChild(ctx context.Context, child *model.PID) error {
	all, rels, err := c.all(ctx)
	if err != nil {
		return err
	}
	for _, existing := range all {
		if existing.ID == child.ID {
			return nil
		}
		if existing.Status == model.PIDReserved {
			return fmt.Errorf("%w: %s (вставка %s)", ErrDraftExists, existing.Value, child.Value)
		}
	}
	return c.rels.Create(ctx, &model.PIDRelation{
		ParentID:     c.parent.ID,
		ChildID:      child.ID,
		RelationType: model.RelationVersion,
		Index:        nextIndex(rels),
	})
}

// InsertDraftChild добавляет черновик новой версии в конец цепочки.
func (c *Chain) InsertDraftChild(ctx context.Context, child *model.PID) error {
	if child.Status != model.PIDReserved {
		return fmt.Errorf("%w: %s:%s (%s)", ErrNotDraft, child.Type, child.Value, child.Status)
	}
	draft, err := c.DraftChild(ctx)
	if err != nil {
		return err
	}
	if draft != nil {
		if draft.ID == child.ID {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDraftExists, draft.Value)
	}
	_, rels, err := c.all(ctx)
	if err != nil {
		return err
	}
	return c.rels.Create(ctx, &model.PIDRelation{
		ParentID:     c.parent.ID,
		ChildID:      child.ID,
		RelationType: model.RelationVersion,
		Index:        nextIndex(rels),
	})
}

// RemoveChild удаляет версию из цепочки.
func (c *Chain) RemoveChild(ctx context.Context, child *model.PID) error {
	return c.rels.Delete(ctx, c.parent.ID, child.ID, model.RelationVersion)
}

// RemoveDraftChild отсоединяет черновик и возвращает его (nil, если черновика нет).
func (c *Chain) RemoveDraftChild(ctx context.Context) (*model.PID, error) {
	draft, err := c.DraftChild(ctx)
	if err != nil || draft == nil {
		return nil, err
	}
	if err := c.RemoveChild(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// UpdateRedirect перенаправляет концептуальный recid на запись последней
// опубликованной версии. Без опубликованных версий ничего не делает.
func (c *Chain) UpdateRedirect(ctx context.Context) error {
	last, err := c.LastChild(ctx)
	if err != nil || last == nil {
		return err
	}
	if !last.IsAssigned() {
		return fmt.Errorf("последняя версия %s не назначена записи", last.Value)
	}
	return c.pids.Redirect(ctx, c.parent, last.ObjectType, *last.ObjectUUID)
}
