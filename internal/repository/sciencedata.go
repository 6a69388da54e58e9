package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

// ObjectRepository — объекты ScienceData (таблица sciencedata_objects).
type ObjectRepository interface {
	// Create сохраняет объект. ErrConflict для дубликата (user, path, group).
	Create(ctx context.Context, obj *model.ScienceDataObject) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ScienceDataObject, error)
	// Get возвращает объект пользователя по пути и группе.
	Get(ctx context.Context, userID, path, group string) (*model.ScienceDataObject, error)
	// ListByUser возвращает объекты пользователя по пути.
	ListByUser(ctx context.Context, userID string) ([]*model.ScienceDataObject, error)
	// List возвращает все объекты (для обхода при перестроении индекса и в CLI).
	List(ctx context.Context) ([]*model.ScienceDataObject, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// objectRepo — реализация ObjectRepository.
type objectRepo struct {
	db DBTX
}

// NewObjectRepository создаёт репозиторий объектов ScienceData.
func NewObjectRepository(db DBTX) ObjectRepository {
	return &objectRepo{db: db}
}

const objectColumns = `id, user_id, path, name, kind, group_name, description, created_at, updated_at`

func scanObject(row pgx.Row) (*model.ScienceDataObject, error) {
	obj := &model.ScienceDataObject{}
	err := row.Scan(&obj.ID, &obj.UserID, &obj.Path, &obj.Name, &obj.Kind,
		&obj.Group, &obj.Description, &obj.CreatedAt, &obj.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (r *objectRepo) Create(ctx context.Context, obj *model.ScienceDataObject) error {
	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO sciencedata_objects (id, user_id, path, name, kind, group_name, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		obj.ID, obj.UserID, obj.Path, obj.Name, obj.Kind, obj.Group, obj.Description,
	).Scan(&obj.CreatedAt, &obj.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: объект %s (группа %q)", ErrConflict, obj.Path, obj.Group)
		}
		return fmt.Errorf("ошибка создания объекта ScienceData: %w", err)
	}
	return nil
}

func (r *objectRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.ScienceDataObject, error) {
	obj, err := scanObject(r.db.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM sciencedata_objects WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: объект %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения объекта ScienceData: %w", err)
	}
	return obj, nil
}

func (r *objectRepo) Get(ctx context.Context, userID, path, group string) (*model.ScienceDataObject, error) {
	obj, err := scanObject(r.db.QueryRow(ctx,
		`SELECT `+objectColumns+` FROM sciencedata_objects
		WHERE user_id = $1 AND path = $2 AND group_name = $3`, userID, path, group))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: объект %s (группа %q)", ErrNotFound, path, group)
		}
		return nil, fmt.Errorf("ошибка получения объекта ScienceData: %w", err)
	}
	return obj, nil
}

func (r *objectRepo) ListByUser(ctx context.Context, userID string) ([]*model.ScienceDataObject, error) {
	return r.list(ctx, `SELECT `+objectColumns+` FROM sciencedata_objects
		WHERE user_id = $1 ORDER BY path, group_name`, userID)
}

func (r *objectRepo) List(ctx context.Context) ([]*model.ScienceDataObject, error) {
	return r.list(ctx, `SELECT `+objectColumns+` FROM sciencedata_objects
		ORDER BY user_id, path, group_name`)
}

func (r *objectRepo) list(ctx context.Context, query string, args ...any) ([]*model.ScienceDataObject, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения объектов ScienceData: %w", err)
	}
	defer rows.Close()

	var result []*model.ScienceDataObject
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования объекта ScienceData: %w", err)
		}
		result = append(result, obj)
	}
	return result, rows.Err()
}

func (r *objectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sciencedata_objects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления объекта ScienceData: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseRepository — релизы объектов ScienceData (таблица sciencedata_releases).
type ReleaseRepository interface {
	Create(ctx context.Context, rel *model.Release) error
	Get(ctx context.Context, id uuid.UUID) (*model.Release, error)
	// Update сохраняет статус, ошибки и ссылку на запись.
	Update(ctx context.Context, rel *model.Release) error
	// LatestByObject возвращает самый новый по created_at релиз объекта,
	// при status != nil — только с этим статусом.
	LatestByObject(ctx context.Context, objectID uuid.UUID, status *model.ReleaseStatus) (*model.Release, error)
	// ListByObject возвращает релизы объекта, новые первыми.
	ListByObject(ctx context.Context, objectID uuid.UUID) ([]*model.Release, error)
}

// releaseRepo — реализация ReleaseRepository.
type releaseRepo struct {
	db DBTX
}

// NewReleaseRepository создаёт репозиторий релизов.
func NewReleaseRepository(db DBTX) ReleaseRepository {
	return &releaseRepo{db: db}
}

const releaseColumns = `id, object_id, version, body, status, errors, record_id, created_at, updated_at`

func scanRelease(row pgx.Row) (*model.Release, error) {
	rel := &model.Release{}
	var status string
	var errs []byte
	err := row.Scan(&rel.ID, &rel.ObjectID, &rel.Version, &rel.Body, &status,
		&errs, &rel.RecordID, &rel.CreatedAt, &rel.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rel.Status = model.ReleaseStatus(status)
	if len(errs) > 0 {
		rel.Errors = errs
	}
	return rel, nil
}

// nullableJSON преобразует пустой документ в SQL NULL.
func nullableJSON(doc []byte) any {
	if len(doc) == 0 {
		return nil
	}
	return doc
}

func (r *releaseRepo) Create(ctx context.Context, rel *model.Release) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO sciencedata_releases (id, object_id, version, body, status, errors, record_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		rel.ID, rel.ObjectID, rel.Version, rel.Body, string(rel.Status),
		nullableJSON(rel.Errors), rel.RecordID,
	).Scan(&rel.CreatedAt, &rel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания релиза: %w", err)
	}
	return nil
}

func (r *releaseRepo) Get(ctx context.Context, id uuid.UUID) (*model.Release, error) {
	rel, err := scanRelease(r.db.QueryRow(ctx,
		`SELECT `+releaseColumns+` FROM sciencedata_releases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: релиз %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("ошибка получения релиза: %w", err)
	}
	return rel, nil
}

func (r *releaseRepo) Update(ctx context.Context, rel *model.Release) error {
	err := r.db.QueryRow(ctx, `
		UPDATE sciencedata_releases
		SET status = $2, errors = $3, record_id = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rel.ID, string(rel.Status), nullableJSON(rel.Errors), rel.RecordID,
	).Scan(&rel.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: релиз %s", ErrNotFound, rel.ID)
		}
		return fmt.Errorf("ошибка обновления релиза: %w", err)
	}
	return nil
}

func (r *releaseRepo) LatestByObject(ctx context.Context, objectID uuid.UUID, status *model.ReleaseStatus) (*model.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM sciencedata_releases WHERE object_id = $1`
	args := []any{objectID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	rel, err := scanRelease(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения последнего релиза: %w", err)
	}
	return rel, nil
}

func (r *releaseRepo) ListByObject(ctx context.Context, objectID uuid.UUID) ([]*model.Release, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+releaseColumns+` FROM sciencedata_releases
		WHERE object_id = $1 ORDER BY created_at DESC`, objectID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения релизов объекта: %w", err)
	}
	defer rows.Close()

	var result []*model.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования релиза: %w", err)
		}
		result = append(result, rel)
	}
	return result, rows.Err()
}

// LockRepository — транзакционные advisory-блокировки PostgreSQL.
type LockRepository interface {
	// LockObject блокирует объект ScienceData до конца текущей транзакции.
	LockObject(ctx context.Context, objectID uuid.UUID) error
}

// lockRepo — реализация LockRepository.
type lockRepo struct {
	db DBTX
}

// NewLockRepository создаёт репозиторий блокировок.
func NewLockRepository(db DBTX) LockRepository {
	return &lockRepo{db: db}
}

func (r *lockRepo) LockObject(ctx context.Context, objectID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, objectID.String())
	if err != nil {
		return fmt.Errorf("ошибка блокировки объекта %s: %w", objectID, err)
	}
	return nil
}
