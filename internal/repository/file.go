package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
)

// FileRepository — файлы бакетов (таблица files_object).
type FileRepository interface {
	// Create регистрирует файл. ErrConflict, если ключ в бакете занят.
	Create(ctx context.Context, f *model.FileObject) error
	// ListByBucket возвращает файлы бакета по ключу.
	ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]*model.FileObject, error)
}

// fileRepo — реализация FileRepository.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileObject) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO files_object (bucket_id, key, storage_uri, size, checksum, mimetype)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		f.BucketID, f.Key, f.StorageURI, f.Size, f.Checksum, f.MimeType,
	).Scan(&f.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл %s в бакете %s", ErrConflict, f.Key, f.BucketID)
		}
		return fmt.Errorf("ошибка регистрации файла: %w", err)
	}
	return nil
}

func (r *fileRepo) ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]*model.FileObject, error) {
	rows, err := r.db.Query(ctx, `
		SELECT bucket_id, key, storage_uri, size, checksum, mimetype, created_at
		FROM files_object WHERE bucket_id = $1
		ORDER BY key`, bucketID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов бакета: %w", err)
	}
	defer rows.Close()

	var result []*model.FileObject
	for rows.Next() {
		f := &model.FileObject{}
		if err := rows.Scan(&f.BucketID, &f.Key, &f.StorageURI, &f.Size,
			&f.Checksum, &f.MimeType, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// SIPRepository — пакеты поступления (таблица sipstore_sip).
type SIPRepository interface {
	Create(ctx context.Context, sip *model.SIP) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*model.SIP, error)
}

// sipRepo — реализация SIPRepository.
type sipRepo struct {
	db DBTX
}

// NewSIPRepository создаёт репозиторий SIP.
func NewSIPRepository(db DBTX) SIPRepository {
	return &sipRepo{db: db}
}

func (r *sipRepo) Create(ctx context.Context, sip *model.SIP) error {
	if sip.ID == uuid.Nil {
		sip.ID = uuid.New()
	}
	agent := []byte(sip.Agent)
	if len(agent) == 0 {
		agent = []byte("{}")
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO sipstore_sip (id, record_id, user_id, agent)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		sip.ID, sip.RecordID, sip.UserID, agent,
	).Scan(&sip.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания SIP: %w", err)
	}
	return nil
}

func (r *sipRepo) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*model.SIP, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, record_id, user_id, agent, created_at
		FROM sipstore_sip WHERE record_id = $1
		ORDER BY created_at`, recordID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения SIP записи: %w", err)
	}
	defer rows.Close()

	var result []*model.SIP
	for rows.Next() {
		sip := &model.SIP{}
		var agent []byte
		if err := rows.Scan(&sip.ID, &sip.RecordID, &sip.UserID, &agent, &sip.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования SIP: %w", err)
		}
		sip.Agent = agent
		result = append(result, sip)
	}
	return result, rows.Err()
}
