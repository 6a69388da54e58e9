// Пакет model — доменные модели репозитория: персистентные идентификаторы,
// записи, депозиты, файлы и объекты интеграции ScienceData.
package model

import (
	"time"

	"github.com/google/uuid"
)

// PIDStatus — статус персистентного идентификатора (однобуквенный код в БД).
type PIDStatus string

const (
	// PIDNew — создан, но не зарезервирован.
	PIDNew PIDStatus = "N"
	// PIDReserved — зарезервирован, ещё не зарегистрирован во внешней системе.
	PIDReserved PIDStatus = "K"
	// PIDRegistered — зарегистрирован.
	PIDRegistered PIDStatus = "R"
	// PIDRedirected — перенаправлен на другой объект (концептуальный recid).
	PIDRedirected PIDStatus = "M"
	// PIDDeleted — удалён.
	PIDDeleted PIDStatus = "D"
)

// Типы PID.
const (
	PIDTypeRecid = "recid"
	PIDTypeDOI   = "doi"
	PIDTypeOAI   = "oai"
	PIDTypeDepid = "depid"
)

// Типы объектов, на которые указывает PID.
const (
	ObjectTypeRecord  = "rec"
	ObjectTypeDeposit = "dep"
)

// Провайдеры PID.
const (
	ProviderDataCite = "datacite"
	ProviderOAI      = "oai"
)

// PID — персистентный идентификатор.
// Хранится в таблице pidstore_pid, пара (Type, Value) уникальна.
type PID struct {
	// ID — суррогатный ключ
	ID int64
	// Type — тип идентификатора (recid, doi, oai, depid)
	Type string
	// Value — значение идентификатора
	Value string
	// Provider — провайдер (datacite, oai или пусто для внешних)
	Provider string
	// Status — текущий статус
	Status PIDStatus
	// ObjectType — тип объекта (rec, dep) или пусто, если не назначен
	ObjectType string
	// ObjectUUID — UUID объекта или nil, если не назначен
	ObjectUUID *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsAssigned сообщает, назначен ли PID какому-либо объекту.
func (p *PID) IsAssigned() bool {
	return p.ObjectUUID != nil && p.ObjectType != ""
}

// IsRegistered сообщает, зарегистрирован ли PID.
func (p *PID) IsRegistered() bool {
	return p.Status == PIDRegistered
}

// RelationVersion — тип связи «концептуальный recid → версия».
const RelationVersion = "version"

// PIDRelation — ребро графа версий: родитель (концептуальный recid) → потомок (recid версии).
type PIDRelation struct {
	ParentID     int64
	ChildID      int64
	RelationType string
	// Index — порядковый номер версии в цепочке
	Index int
}
