package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

// RecordRepository — опубликованные записи (таблица records_metadata).
type RecordRepository interface {
	// Create сохраняет новую запись с version_id = 1.
	Create(ctx context.Context, rec *model.Record) error
	// Get возвращает запись по UUID.
	Get(ctx context.Context, id uuid.UUID) (*model.Record, error)
	// Update сохраняет метаданные и увеличивает version_id.
	Update(ctx context.Context, rec *model.Record) error
	// List возвращает записи, новые первыми.
	List(ctx context.Context, limit, offset int) ([]*model.Record, error)
}

// recordRepo — реализация RecordRepository.
type recordRepo struct {
	db DBTX
}

// NewRecordRepository создаёт репозиторий записей.
func NewRecordRepository(db DBTX) RecordRepository {
	return &recordRepo{db: db}
}

func (r *recordRepo) Create(ctx context.Context, rec *model.Record) error {
	doc, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных записи: %w", err)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO records_metadata (id, json, version_id)
		VALUES ($1, $2, 1)
		RETURNING version_id, created_at, updated_at`, rec.ID, doc).
		Scan(&rec.VersionID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись %s", ErrConflict, rec.ID)
		}
		return fmt.Errorf("ошибка создания записи: %w", err)
	}
	return nil
}

func (r *recordRepo) Get(ctx context.Context, id uuid.UUID) (*model.Record, error) {
	rec := &model.Record{}
	var doc []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, json, version_id, created_at, updated_at
		FROM records_metadata WHERE id = $1`, id).
		Scan(&rec.ID, &doc, &rec.VersionID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: запись %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	if err := json.Unmarshal(doc, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("ошибка разбора метаданных записи %s: %w", id, err)
	}
	return rec, nil
}

func (r *recordRepo) Update(ctx context.Context, rec *model.Record) error {
	doc, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных записи: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		UPDATE records_metadata
		SET json = $2, version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version_id, updated_at`, rec.ID, doc).
		Scan(&rec.VersionID, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: запись %s", ErrNotFound, rec.ID)
		}
		return fmt.Errorf("ошибка обновления записи: %w", err)
	}
	return nil
}

func (r *recordRepo) List(ctx context.Context, limit, offset int) ([]*model.Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, json, version_id, created_at, updated_at
		FROM records_metadata
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	var result []*model.Record
	for rows.Next() {
		rec := &model.Record{}
		var doc []byte
		if err := rows.Scan(&rec.ID, &doc, &rec.VersionID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		if err := json.Unmarshal(doc, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("ошибка разбора метаданных записи %s: %w", rec.ID, err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
