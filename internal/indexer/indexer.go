// Пакет indexer — потокобезопасный in-memory поисковый индекс записей
// и депозитов.
//
// Индекс строится при старте из таблиц записей и депозитов (Rebuild) и обновляется
// синхронно: IndexRecord/IndexDeposit при изменениях внутри транзакции,
// IndexByID после коммита, Delete при компенсации неудачной публикации.
// Не персистентный: при рестарте пересобирается из БД.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

// Виды документов индекса.
const (
	KindRecord  = "record"
	KindDeposit = "deposit"
)

// rebuildPageSize — размер страницы при обходе записей в Rebuild.
const rebuildPageSize = 500

var indexedDocuments = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sr_index_documents",
	Help: "Количество документов в поисковом индексе",
}, []string{"kind"})

// Document — документ индекса.
type Document struct {
	ID       uuid.UUID
	Kind     string
	Metadata model.RecordMetadata
	// Owners — владельцы депозита (для записей пусто)
	Owners    []string
	UpdatedAt time.Time
}

// OwnedBy сообщает, входит ли user во владельцы документа.
func (d *Document) OwnedBy(user string) bool {
	return slices.Contains(d.Owners, user)
}

// Indexer — in-memory индекс документов.
type Indexer struct {
	mu     sync.RWMutex
	docs   map[uuid.UUID]*Document
	ready  bool
	repos  *repository.Repositories
	logger *slog.Logger
}

// New создаёт пустой индекс. repos используется IndexByID и Rebuild
// для чтения закоммиченных данных.
func New(repos *repository.Repositories, logger *slog.Logger) *Indexer {
	return &Indexer{
		docs:   make(map[uuid.UUID]*Document),
		repos:  repos,
		logger: logger.With(slog.String("component", "indexer")),
	}
}

// Rebuild полностью пересобирает индекс из записей и депозитов.
func (ix *Indexer) Rebuild(ctx context.Context) error {
	docs := make(map[uuid.UUID]*Document)
	for offset := 0; ; offset += rebuildPageSize {
		deposits, err := ix.repos.Deposits.List(ctx, rebuildPageSize, offset)
		if err != nil {
			return fmt.Errorf("ошибка обхода депозитов: %w", err)
		}
		for _, d := range deposits {
			docs[d.ID] = depositDocument(d)
		}
		if len(deposits) < rebuildPageSize {
			break
		}
	}
	for offset := 0; ; offset += rebuildPageSize {
		records, err := ix.repos.Records.List(ctx, rebuildPageSize, offset)
		if err != nil {
			return fmt.Errorf("ошибка обхода записей: %w", err)
		}
		for _, rec := range records {
			docs[rec.ID] = recordDocument(rec)
		}
		if len(records) < rebuildPageSize {
			break
		}
	}

	ix.mu.Lock()
	ix.docs = docs
	ix.ready = true
	ix.updateGauge()
	ix.mu.Unlock()

	ix.logger.Info("Поисковый индекс построен", slog.Int("documents", len(docs)))
	return nil
}

// IsReady возвращает true после первого успешного Rebuild.
func (ix *Indexer) IsReady() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.ready
}

func recordDocument(rec *model.Record) *Document {
	return &Document{ID: rec.ID, Kind: KindRecord, Metadata: rec.Metadata.Clone(), UpdatedAt: rec.UpdatedAt}
}

// IndexRecord индексирует запись.
func (ix *Indexer) IndexRecord(rec *model.Record) {
	ix.put(recordDocument(rec))
}

func depositDocument(d *model.Deposit) *Document {
	return &Document{
		ID:        d.ID,
		Kind:      KindDeposit,
		Metadata:  d.Metadata.Clone(),
		Owners:    append([]string(nil), d.Owners...),
		UpdatedAt: d.UpdatedAt,
	}
}

// IndexDeposit индексирует депозит.
func (ix *Indexer) IndexDeposit(d *model.Deposit) {
	ix.put(depositDocument(d))
}

// IndexByID загружает закоммиченную запись (или депозит) и индексирует её.
func (ix *Indexer) IndexByID(ctx context.Context, id uuid.UUID) error {
	rec, err := ix.repos.Records.Get(ctx, id)
	if err == nil {
		ix.IndexRecord(rec)
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	dep, err := ix.repos.Deposits.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("индексация %s: %w", id, err)
	}
	ix.IndexDeposit(dep)
	return nil
}

func (ix *Indexer) put(doc *Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs[doc.ID] = doc
	ix.updateGauge()
}

// Delete удаляет документ. Возвращает true, если документ был в индексе.
func (ix *Indexer) Delete(id uuid.UUID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.docs[id]; !ok {
		return false
	}
	delete(ix.docs, id)
	ix.updateGauge()
	return true
}

// Get возвращает копию документа или nil.
func (ix *Indexer) Get(id uuid.UUID) *Document {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	doc, ok := ix.docs[id]
	if !ok {
		return nil
	}
	copied := *doc
	copied.Metadata = doc.Metadata.Clone()
	copied.Owners = append([]string(nil), doc.Owners...)
	return &copied
}

// SearchOptions — параметры поиска.
type SearchOptions struct {
	// Query — подстрока заголовка, DOI, концептуального DOI или точный recid
	// (пусто — все документы)
	Query string
	// Kind — фильтр по виду документа ("" — любой)
	Kind string
	// Owner — если задан, депозиты других пользователей исключаются
	Owner  string
	Limit  int
	Offset int
}

// Search возвращает документы, подходящие под запрос, и их общее число.
// Результаты отсортированы по времени изменения (новые первыми).
func (ix *Indexer) Search(opts SearchOptions) ([]*Document, int) {
	q := strings.ToLower(strings.TrimSpace(opts.Query))

	ix.mu.RLock()
	var matched []*Document
	for _, doc := range ix.docs {
		if opts.Kind != "" && doc.Kind != opts.Kind {
			continue
		}
		if opts.Owner != "" && doc.Kind == KindDeposit && !doc.OwnedBy(opts.Owner) {
			continue
		}
		if q != "" && !matches(doc, q) {
			continue
		}
		copied := *doc
		matched = append(matched, &copied)
	}
	ix.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	total := len(matched)
	if opts.Offset >= total {
		return nil, total
	}
	end := total
	if opts.Limit > 0 && opts.Offset+opts.Limit < total {
		end = opts.Offset + opts.Limit
	}
	return matched[opts.Offset:end], total
}

func matches(doc *Document, q string) bool {
	m := doc.Metadata
	if strings.Contains(strings.ToLower(m.Title), q) ||
		strings.Contains(strings.ToLower(m.DOI), q) ||
		strings.Contains(strings.ToLower(m.ConceptDOI), q) {
		return true
	}
	return q == strconv.FormatInt(m.Recid, 10) || q == strconv.FormatInt(m.ConceptRecid, 10)
}

// Count возвращает общее число документов.
func (ix *Indexer) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

// updateGauge пересчитывает метрику. Вызывается под блокировкой записи.
func (ix *Indexer) updateGauge() {
	counts := map[string]int{KindRecord: 0, KindDeposit: 0}
	for _, doc := range ix.docs {
		counts[doc.Kind]++
	}
	for kind, n := range counts {
		indexedDocuments.WithLabelValues(kind).Set(float64(n))
	}
}
