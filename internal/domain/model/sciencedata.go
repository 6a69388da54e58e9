package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Виды объектов ScienceData.
const (
	KindFile = "file"
	KindDir  = "dir"
)

// ScienceDataObject — файл или каталог ScienceData, включённый пользователем
// для публикации (таблица sciencedata_objects). Идентифицируется тройкой
// (пользователь, путь, группа).
type ScienceDataObject struct {
	ID uuid.UUID
	// UserID — локальный пользователь (sub из JWT)
	UserID string
	// Path — полный путь в ScienceData, всегда начинается с "/"
	Path string
	// Name — отображаемое имя
	Name string
	// Kind — file или dir
	Kind string
	// Group — группа ScienceData, пустая строка для личных файлов
	Group       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReleaseStatus — статус релиза (однобуквенный код в БД).
type ReleaseStatus string

const (
	// ReleaseReceived — принят, ожидает обработки.
	ReleaseReceived ReleaseStatus = "R"
	// ReleaseProcessing — обрабатывается.
	ReleaseProcessing ReleaseStatus = "P"
	// ReleasePublished — успешно опубликован.
	ReleasePublished ReleaseStatus = "D"
	// ReleaseFailed — обработка завершилась ошибкой.
	ReleaseFailed ReleaseStatus = "F"
	// ReleaseDeleted — удалён.
	ReleaseDeleted ReleaseStatus = "E"
)

// Title возвращает человекочитаемое название статуса.
func (s ReleaseStatus) Title() string {
	switch s {
	case ReleaseReceived:
		return "received"
	case ReleaseProcessing:
		return "processing"
	case ReleasePublished:
		return "published"
	case ReleaseFailed:
		return "failed"
	case ReleaseDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Release — одна попытка публикации версии объекта ScienceData
// (таблица sciencedata_releases).
type Release struct {
	ID       uuid.UUID
	ObjectID uuid.UUID
	Version  string
	// Body — описание релиза в Markdown
	Body   string
	Status ReleaseStatus
	// Errors — сведения об ошибке обработки ({"errors": "..."})
	Errors json.RawMessage
	// RecordID — опубликованная запись (nil до публикации)
	RecordID  *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}
