// Пакет memory — реализация репозиториев в памяти.
// Используется в тестах сервисов, API и HTTP-сервера.
//
// Транзакции сериализуются: Run держит эксклюзивную блокировку,
// при ошибке состояние восстанавливается из снимка.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

type fileKey struct {
	bucket uuid.UUID
	key    string
}

// state — содержимое хранилища. Значения в картах не изменяются
// на месте: обновление заменяет указатель копией, поэтому снимок —
// поверхностная копия карт.
type state struct {
	pids      map[int64]*model.PID
	pidSeq    int64
	recidSeq  int64
	relations map[[2]int64]*model.PIDRelation
	records   map[uuid.UUID]*model.Record
	deposits  map[uuid.UUID]*model.Deposit
	files     map[fileKey]*model.FileObject
	sips      map[uuid.UUID]*model.SIP
	objects   map[uuid.UUID]*model.ScienceDataObject
	releases  map[uuid.UUID]*model.Release
	// order — порядковый номер вставки для стабильной сортировки по времени создания
	order map[uuid.UUID]int64
	seq   int64
}

func newState() *state {
	return &state{
		pids:      make(map[int64]*model.PID),
		relations: make(map[[2]int64]*model.PIDRelation),
		records:   make(map[uuid.UUID]*model.Record),
		deposits:  make(map[uuid.UUID]*model.Deposit),
		files:     make(map[fileKey]*model.FileObject),
		sips:      make(map[uuid.UUID]*model.SIP),
		objects:   make(map[uuid.UUID]*model.ScienceDataObject),
		releases:  make(map[uuid.UUID]*model.Release),
		order:     make(map[uuid.UUID]int64),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		pids:      cloneMap(s.pids),
		pidSeq:    s.pidSeq,
		recidSeq:  s.recidSeq,
		relations: cloneMap(s.relations),
		records:   cloneMap(s.records),
		deposits:  cloneMap(s.deposits),
		files:     cloneMap(s.files),
		sips:      cloneMap(s.sips),
		objects:   cloneMap(s.objects),
		releases:  cloneMap(s.releases),
		order:     cloneMap(s.order),
		seq:       s.seq,
	}
}

// stamp фиксирует порядок вставки сущности.
func (s *state) stamp(id uuid.UUID) {
	s.seq++
	s.order[id] = s.seq
}

// Store — хранилище в памяти, реализующее repository.Transactor.
// Безопасно для конкурентного использования.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		data: newState(),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Repositories возвращает набор репозиториев поверх хранилища (вне транзакции).
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		PIDs:      &pidRepo{s: s},
		Relations: &relationRepo{s: s},
		Records:   &recordRepo{s: s},
		Deposits:  &depositRepo{s: s},
		Files:     &fileRepo{s: s},
		SIPs:      &sipRepo{s: s},
		Objects:   &objectRepo{s: s},
		Releases:  &releaseRepo{s: s},
		Locks:     lockRepo{},
	}
}

// Run выполняет fn в транзакции: при ошибке все изменения откатываются.
func (s *Store) Run(ctx context.Context, fn func(repos *repository.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	return s.withSnapshot(func() error {
		return fn(s.Repositories())
	})
}

// withSnapshot выполняет fn и восстанавливает состояние при ошибке.
func (s *Store) withSnapshot(fn func() error) error {
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// sortByOrder упорядочивает сущности по порядку вставки.
// desc=true — новые первыми.
func sortByOrder[T any](items []T, id func(T) uuid.UUID, order map[uuid.UUID]int64, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := order[id(items[i])], order[id(items[j])]
		if desc {
			return a > b
		}
		return a < b
	})
}

// page применяет limit/offset к срезу.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type lockRepo struct{}

// LockObject в памяти не требуется: транзакции уже сериализованы.
func (lockRepo) LockObject(context.Context, uuid.UUID) error { return nil }
