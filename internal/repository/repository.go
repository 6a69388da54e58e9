// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrAlreadyAssigned — PID уже назначен другому объекту.
	ErrAlreadyAssigned = errors.New("PID уже назначен другому объекту")
	// ErrInvalidAction — действие недопустимо в текущем статусе PID.
	ErrInvalidAction = errors.New("действие недопустимо для PID в текущем статусе")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
// Begin внутри pgx.Tx открывает savepoint.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repositories — набор репозиториев, работающих через одно подключение
// или одну транзакцию.
type Repositories struct {
	PIDs      PIDRepository
	Relations PIDRelationRepository
	Records   RecordRepository
	Deposits  DepositRepository
	Files     FileRepository
	SIPs      SIPRepository
	Objects   ObjectRepository
	Releases  ReleaseRepository
	Locks     LockRepository
}

// NewRepositories создаёт набор PostgreSQL-репозиториев поверх db.
func NewRepositories(db DBTX) *Repositories {
	return &Repositories{
		PIDs:      NewPIDRepository(db),
		Relations: NewPIDRelationRepository(db),
		Records:   NewRecordRepository(db),
		Deposits:  NewDepositRepository(db),
		Files:     NewFileRepository(db),
		SIPs:      NewSIPRepository(db),
		Objects:   NewObjectRepository(db),
		Releases:  NewReleaseRepository(db),
		Locks:     NewLockRepository(db),
	}
}

// Transactor выполняет функцию в единой транзакции.
// Если fn возвращает ошибку, все изменения откатываются.
type Transactor interface {
	Run(ctx context.Context, fn func(repos *Repositories) error) error
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Run реализует Transactor поверх RunInTx.
func (r *TxRunner) Run(ctx context.Context, fn func(repos *Repositories) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepositories(tx))
	})
}

// Repositories возвращает набор репозиториев вне транзакции.
func (r *TxRunner) Repositories() *Repositories {
	return NewRepositories(r.pool)
}

// savepoint выполняет fn во вложенной транзакции (savepoint) поверх db.
func savepoint(ctx context.Context, db DBTX, fn func(tx pgx.Tx) error) error {
	sp, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка создания savepoint: %w", err)
	}
	defer sp.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(sp); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
