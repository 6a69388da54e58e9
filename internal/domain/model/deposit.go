package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Статусы депозита.
const (
	DepositDraft     = "draft"
	DepositPublished = "published"
)

// Deposit — изменяемый черновик записи (таблица deposits).
// После публикации ссылается на созданную запись через RecordID.
type Deposit struct {
	ID       uuid.UUID
	Metadata RecordMetadata
	// Status — draft или published
	Status string
	// BucketID — бакет файлов депозита
	BucketID uuid.UUID
	// RecordID — опубликованная запись (nil для черновика)
	RecordID  *uuid.UUID
	CreatedBy string
	Owners    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPublished сообщает, опубликован ли депозит.
func (d *Deposit) IsPublished() bool {
	return d.Status == DepositPublished
}

// FileObject — файл в бакете депозита (таблица files_object).
type FileObject struct {
	BucketID uuid.UUID
	// Key — имя файла в бакете
	Key string
	// StorageURI — адрес содержимого в хранилище (file://, s3://, mem://)
	StorageURI string
	// Size — размер в байтах, nil если неизвестен
	Size *int64
	// Checksum — sha256:<hex>
	Checksum  string
	MimeType  string
	CreatedAt time.Time
}

// SIP — пакет поступления (Submission Information Package) при публикации.
type SIP struct {
	ID       uuid.UUID
	RecordID uuid.UUID
	UserID   string
	// Agent — сведения об агенте публикации (email, orcid, ip)
	Agent     json.RawMessage
	CreatedAt time.Time
}
