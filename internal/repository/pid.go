package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

// PIDRepository — хранилище персистентных идентификаторов (таблица pidstore_pid).
type PIDRepository interface {
	// Create создаёт PID. ErrConflict, если пара (Type, Value) уже существует.
	Create(ctx context.Context, p *model.PID) error
	// Get возвращает PID по типу и значению.
	Get(ctx context.Context, pidType, value string) (*model.PID, error)
	// GetByID возвращает PID по суррогатному ключу.
	GetByID(ctx context.Context, id int64) (*model.PID, error)
	// ListByObject возвращает все PID объекта.
	ListByObject(ctx context.Context, objectType string, objectUUID uuid.UUID) ([]*model.PID, error)
	// Assign назначает PID объекту. Без overwrite назначение другому
	// объекту возвращает ErrAlreadyAssigned.
	Assign(ctx context.Context, p *model.PID, objectType string, objectUUID uuid.UUID, overwrite bool) error
	// Register переводит PID в статус REGISTERED.
	Register(ctx context.Context, p *model.PID) error
	// Redirect назначает PID объекту с перезаписью и переводит в REDIRECTED.
	Redirect(ctx context.Context, p *model.PID, objectType string, objectUUID uuid.UUID) error
	// Delete удаляет строку PID.
	Delete(ctx context.Context, p *model.PID) error
	// NextRecid возвращает следующее значение последовательности recid.
	NextRecid(ctx context.Context) (int64, error)
	// Savepoint выполняет fn во вложенной транзакции: при ошибке fn
	// изменения внутри неё откатываются, внешняя транзакция продолжается.
	Savepoint(ctx context.Context, fn func(pids PIDRepository) error) error
}

// CheckAssign проверяет допустимость назначения PID объекту.
// Возвращает changed=false, если PID уже назначен этому же объекту.
func CheckAssign(p *model.PID, objectType string, objectUUID uuid.UUID, overwrite bool) (changed bool, err error) {
	if objectType == "" || objectUUID == uuid.Nil {
		return false, fmt.Errorf("%w: пустой тип или UUID объекта", ErrInvalidAction)
	}
	if p.Status == model.PIDDeleted {
		return false, fmt.Errorf("%w: PID %s:%s удалён", ErrInvalidAction, p.Type, p.Value)
	}
	if p.IsAssigned() {
		if p.ObjectType == objectType && *p.ObjectUUID == objectUUID {
			return false, nil
		}
		if !overwrite {
			return false, fmt.Errorf("%w: %s:%s → %s:%s",
				ErrAlreadyAssigned, p.Type, p.Value, p.ObjectType, p.ObjectUUID)
		}
	}
	return true, nil
}

// CheckRegister проверяет допустимость регистрации PID.
func CheckRegister(p *model.PID) error {
	switch p.Status {
	case model.PIDRegistered, model.PIDDeleted, model.PIDRedirected:
		return fmt.Errorf("%w: регистрация PID %s:%s в статусе %s",
			ErrInvalidAction, p.Type, p.Value, p.Status)
	}
	return nil
}

// pidRepo — реализация PIDRepository.
type pidRepo struct {
	db DBTX
}

// NewPIDRepository создаёт репозиторий PID.
func NewPIDRepository(db DBTX) PIDRepository {
	return &pidRepo{db: db}
}

const pidColumns = `id, pid_type, pid_value, pid_provider, status,
	object_type, object_uuid, created_at, updated_at`

func scanPID(row pgx.Row) (*model.PID, error) {
	p := &model.PID{}
	var status string
	err := row.Scan(
		&p.ID, &p.Type, &p.Value, &p.Provider, &status,
		&p.ObjectType, &p.ObjectUUID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = model.PIDStatus(status)
	return p, nil
}

func (r *pidRepo) Create(ctx context.Context, p *model.PID) error {
	query := `
		INSERT INTO pidstore_pid (pid_type, pid_value, pid_provider, status, object_type, object_uuid)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.Type, p.Value, p.Provider, string(p.Status), p.ObjectType, p.ObjectUUID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: PID %s:%s", ErrConflict, p.Type, p.Value)
		}
		return fmt.Errorf("ошибка создания PID: %w", err)
	}
	return nil
}

func (r *pidRepo) Get(ctx context.Context, pidType, value string) (*model.PID, error) {
	p, err := scanPID(r.db.QueryRow(ctx,
		`SELECT `+pidColumns+` FROM pidstore_pid WHERE pid_type = $1 AND pid_value = $2`,
		pidType, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: PID %s:%s", ErrNotFound, pidType, value)
		}
		return nil, fmt.Errorf("ошибка получения PID: %w", err)
	}
	return p, nil
}

func (r *pidRepo) GetByID(ctx context.Context, id int64) (*model.PID, error) {
	p, err := scanPID(r.db.QueryRow(ctx,
		`SELECT `+pidColumns+` FROM pidstore_pid WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения PID: %w", err)
	}
	return p, nil
}

func (r *pidRepo) ListByObject(ctx context.Context, objectType string, objectUUID uuid.UUID) ([]*model.PID, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+pidColumns+` FROM pidstore_pid
		WHERE object_type = $1 AND object_uuid = $2
		ORDER BY id`, objectType, objectUUID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения PID объекта: %w", err)
	}
	defer rows.Close()

	var result []*model.PID
	for rows.Next() {
		p, err := scanPID(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования PID: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *pidRepo) Assign(ctx context.Context, p *model.PID, objectType string, objectUUID uuid.UUID, overwrite bool) error {
	changed, err := CheckAssign(p, objectType, objectUUID, overwrite)
	if err != nil || !changed {
		return err
	}

	id := objectUUID
	err = r.db.QueryRow(ctx, `
		UPDATE pidstore_pid
		SET object_type = $2, object_uuid = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, p.ID, objectType, id).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка назначения PID: %w", err)
	}
	p.ObjectType = objectType
	p.ObjectUUID = &id
	return nil
}

func (r *pidRepo) Register(ctx context.Context, p *model.PID) error {
	if err := CheckRegister(p); err != nil {
		return err
	}
	return r.setStatus(ctx, p, model.PIDRegistered)
}

func (r *pidRepo) Redirect(ctx context.Context, p *model.PID, objectType string, objectUUID uuid.UUID) error {
	if err := r.Assign(ctx, p, objectType, objectUUID, true); err != nil {
		return err
	}
	return r.setStatus(ctx, p, model.PIDRedirected)
}

func (r *pidRepo) setStatus(ctx context.Context, p *model.PID, status model.PIDStatus) error {
	err := r.db.QueryRow(ctx, `
		UPDATE pidstore_pid SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`, p.ID, string(status)).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления статуса PID: %w", err)
	}
	p.Status = status
	return nil
}

func (r *pidRepo) Delete(ctx context.Context, p *model.PID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM pidstore_pid WHERE id = $1`, p.ID)
	if err != nil {
		return fmt.Errorf("ошибка удаления PID: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pidRepo) NextRecid(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT nextval('pidstore_recid_seq')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка получения следующего recid: %w", err)
	}
	return n, nil
}

func (r *pidRepo) Savepoint(ctx context.Context, fn func(pids PIDRepository) error) error {
	return savepoint(ctx, r.db, func(tx pgx.Tx) error {
		return fn(NewPIDRepository(tx))
	})
}
