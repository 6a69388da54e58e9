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

// DepositRepository — депозиты (таблица deposits).
type DepositRepository interface {
	Create(ctx context.Context, d *model.Deposit) error
	Get(ctx context.Context, id uuid.UUID) (*model.Deposit, error)
	// GetByRecordID возвращает депозит, опубликовавший запись.
	GetByRecordID(ctx context.Context, recordID uuid.UUID) (*model.Deposit, error)
	Update(ctx context.Context, d *model.Deposit) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List возвращает депозиты, новые первыми.
	List(ctx context.Context, limit, offset int) ([]*model.Deposit, error)
}

// depositRepo — реализация DepositRepository.
type depositRepo struct {
	db DBTX
}

// NewDepositRepository создаёт репозиторий депозитов.
func NewDepositRepository(db DBTX) DepositRepository {
	return &depositRepo{db: db}
}

const depositColumns = `id, json, status, bucket_id, record_id,
	created_by, owners, created_at, updated_at`

func scanDeposit(row pgx.Row) (*model.Deposit, error) {
	d := &model.Deposit{}
	var doc []byte
	err := row.Scan(
		&d.ID, &doc, &d.Status, &d.BucketID, &d.RecordID,
		&d.CreatedBy, &d.Owners, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, &d.Metadata); err != nil {
		return nil, fmt.Errorf("ошибка разбора метаданных депозита %s: %w", d.ID, err)
	}
	return d, nil
}

func (r *depositRepo) Create(ctx context.Context, d *model.Deposit) error {
	doc, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных депозита: %w", err)
	}
	if d.Owners == nil {
		d.Owners = []string{}
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO deposits (id, json, status, bucket_id, record_id, created_by, owners)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		d.ID, doc, d.Status, d.BucketID, d.RecordID, d.CreatedBy, d.Owners,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: депозит %s", ErrConflict, d.ID)
		}
		return fmt.Errorf("ошибка создания депозита: %w", err)
	}
	return nil
}

func (r *depositRepo) Get(ctx context.Context, id uuid.UUID) (*model.Deposit, error) {
	d, err := scanDeposit(r.db.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: депозит %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения депозита: %w", err)
	}
	return d, nil
}

func (r *depositRepo) GetByRecordID(ctx context.Context, recordID uuid.UUID) (*model.Deposit, error) {
	d, err := scanDeposit(r.db.QueryRow(ctx,
		`SELECT `+depositColumns+` FROM deposits WHERE record_id = $1`, recordID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: депозит записи %s", ErrNotFound, recordID)
		}
		return nil, fmt.Errorf("ошибка получения депозита записи: %w", err)
	}
	return d, nil
}

func (r *depositRepo) Update(ctx context.Context, d *model.Deposit) error {
	doc, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных депозита: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		UPDATE deposits
		SET json = $2, status = $3, record_id = $4, owners = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, doc, d.Status, d.RecordID, d.Owners,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: депозит %s", ErrNotFound, d.ID)
		}
		return fmt.Errorf("ошибка обновления депозита: %w", err)
	}
	return nil
}

func (r *depositRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM deposits WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления депозита: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *depositRepo) List(ctx context.Context, limit, offset int) ([]*model.Deposit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+depositColumns+` FROM deposits
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка депозитов: %w", err)
	}
	defer rows.Close()

	var result []*model.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования депозита: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
