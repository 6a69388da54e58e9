package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

// PIDRelationRepository — рёбра графа версий (таблица pidrelations_pidrelation).
type PIDRelationRepository interface {
	// Create добавляет ребро. ErrConflict, если ребро уже существует.
	Create(ctx context.Context, rel *model.PIDRelation) error
	// Delete удаляет ребро parent → child.
	Delete(ctx context.Context, parentID, childID int64, relationType string) error
	// Children возвращает рёбра родителя, упорядоченные по Index.
	Children(ctx context.Context, parentID int64, relationType string) ([]*model.PIDRelation, error)
	// Parent возвращает ребро, ведущее к потомку.
	Parent(ctx context.Context, childID int64, relationType string) (*model.PIDRelation, error)
}

// pidRelationRepo — реализация PIDRelationRepository.
type pidRelationRepo struct {
	db DBTX
}

// NewPIDRelationRepository создаёт репозиторий связей PID.
func NewPIDRelationRepository(db DBTX) PIDRelationRepository {
	return &pidRelationRepo{db: db}
}

func (r *pidRelationRepo) Create(ctx context.Context, rel *model.PIDRelation) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO pidrelations_pidrelation (parent_id, child_id, relation_type, index)
		VALUES ($1, $2, $3, $4)`,
		rel.ParentID, rel.ChildID, rel.RelationType, rel.Index)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: связь %d → %d", ErrConflict, rel.ParentID, rel.ChildID)
		}
		return fmt.Errorf("ошибка создания связи PID: %w", err)
	}
	return nil
}

func (r *pidRelationRepo) Delete(ctx context.Context, parentID, childID int64, relationType string) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM pidrelations_pidrelation
		WHERE parent_id = $1 AND child_id = $2 AND relation_type = $3`,
		parentID, childID, relationType)
	if err != nil {
		return fmt.Errorf("ошибка удаления связи PID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pidRelationRepo) Children(ctx context.Context, parentID int64, relationType string) ([]*model.PIDRelation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT parent_id, child_id, relation_type, index
		FROM pidrelations_pidrelation
		WHERE parent_id = $1 AND relation_type = $2
		ORDER BY index, child_id`, parentID, relationType)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения потомков PID: %w", err)
	}
	defer rows.Close()

	var result []*model.PIDRelation
	for rows.Next() {
		rel := &model.PIDRelation{}
		if err := rows.Scan(&rel.ParentID, &rel.ChildID, &rel.RelationType, &rel.Index); err != nil {
			return nil, fmt.Errorf("ошибка сканирования связи PID: %w", err)
		}
		result = append(result, rel)
	}
	return result, rows.Err()
}

func (r *pidRelationRepo) Parent(ctx context.Context, childID int64, relationType string) (*model.PIDRelation, error) {
	rel := &model.PIDRelation{}
	err := r.db.QueryRow(ctx, `
		SELECT parent_id, child_id, relation_type, index
		FROM pidrelations_pidrelation
		WHERE child_id = $1 AND relation_type = $2`, childID, relationType).
		Scan(&rel.ParentID, &rel.ChildID, &rel.RelationType, &rel.Index)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения родителя PID: %w", err)
	}
	return rel, nil
}
