// Пакет deposit — API депозитов: создание черновика, загрузка файлов,
// публикация в запись, новые версии.
//
// Реализация выбирается по имени (SR_DEPOSIT_STRATEGY) из реестра
// стратегий и внедряется в сервисы при старте. Все операции принимают
// набор репозиториев, поэтому транзакционные границы задаёт вызывающий код.
package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/minter"
	"github.com/bigkaa/sciencerepo/internal/repository"
	"github.com/bigkaa/sciencerepo/internal/storage"
)

// Ошибки депозитов.
var (
	// ErrNotDraft — операция допустима только для черновика.
	ErrNotDraft = errors.New("депозит уже опубликован")
	// ErrNotPublished — операция допустима только для опубликованного депозита.
	ErrNotPublished = errors.New("депозит не опубликован")
	// ErrNoFiles — публикация без файлов.
	ErrNoFiles = errors.New("для публикации нужен хотя бы один файл")
	// ErrValidation — метаданные депозита неполны.
	ErrValidation = errors.New("некорректные метаданные депозита")
	// ErrNotLatest — новая версия создаётся только из последней опубликованной.
	ErrNotLatest = errors.New("депозит не является последней версией")
	// ErrSpam — публикация отклонена проверкой на спам.
	ErrSpam = errors.New("публикация отклонена проверкой на спам")
	// ErrUnknownStrategy — стратегия с таким именем не зарегистрирована.
	ErrUnknownStrategy = errors.New("неизвестная стратегия депозита")
)

// PublishOptions — параметры публикации.
type PublishOptions struct {
	// UserID — пользователь, от имени которого выполняется публикация
	UserID string
	// SIPAgent — сведения об агенте для пакета поступления (SIP)
	SIPAgent json.RawMessage
	// SpamCheck — выполнять ли проверку на спам
	SpamCheck bool
}

// Strategy — реализация API депозитов.
type Strategy interface {
	// Create создаёт черновик с метаданными data. Нулевой id заменяется новым.
	Create(ctx context.Context, repos *repository.Repositories, data model.RecordMetadata, id uuid.UUID) (*model.Deposit, error)
	// AddFile сохраняет содержимое файла key в бакет черновика.
	// size — объявленный размер или nil, если неизвестен.
	AddFile(ctx context.Context, repos *repository.Repositories, d *model.Deposit, key string, r io.Reader, size *int64) (*model.FileObject, error)
	// Publish выпускает PID и создаёт запись из черновика.
	Publish(ctx context.Context, repos *repository.Repositories, d *model.Deposit, opts PublishOptions) (*model.Deposit, error)
	// FetchPublished возвращает PID (по настроенному fetcher) и запись.
	FetchPublished(ctx context.Context, repos *repository.Repositories, d *model.Deposit) (*model.PID, *model.Record, error)
	// RegisterConceptDOI выпускает концептуальный DOI для опубликованной
	// работы, у которой его нет, и проставляет его всем версиям.
	RegisterConceptDOI(ctx context.Context, repos *repository.Repositories, d *model.Deposit) (*model.Deposit, error)
	// Edit заменяет описательные метаданные опубликованной записи.
	// Внешний DOI может быть заменён; recid, концептуальные идентификаторы
	// и служебные блоки сохраняются.
	Edit(ctx context.Context, repos *repository.Repositories, d *model.Deposit, data model.RecordMetadata) (*model.Deposit, *model.Record, error)
	// NewVersion создаёт черновик следующей версии опубликованной работы.
	NewVersion(ctx context.Context, repos *repository.Repositories, d *model.Deposit) (*model.Deposit, error)
}

// Indexer — индексация черновиков.
type Indexer interface {
	IndexDeposit(d *model.Deposit)
}

// SpamChecker — проверка метаданных на спам.
type SpamChecker interface {
	IsSpam(ctx context.Context, data *model.RecordMetadata) (bool, error)
}

// Deps — зависимости стратегий.
type Deps struct {
	Minter  *minter.Minter
	Storage storage.Backend
	Indexer Indexer
	// PIDFetcher — тип PID, возвращаемого FetchPublished (recid или doi)
	PIDFetcher string
	// SpamChecker — опционально
	SpamChecker SpamChecker
	Logger      *slog.Logger
}

// Factory создаёт стратегию из зависимостей.
type Factory func(deps Deps) (Strategy, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"zenodo": NewZenodo,
	}
)

// Register регистрирует стратегию под именем, заменяя существующую.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Names возвращает имена зарегистрированных стратегий.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New создаёт стратегию по имени.
func New(name string, deps Deps) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (доступны: %v)", ErrUnknownStrategy, name, Names())
	}
	return f(deps)
}
