// Пакет minter — выпуск персистентных идентификаторов записей:
// recid, концептуальный recid, DOI, концептуальный DOI, OAI ID и depid.
//
// Все операции выполняются через переданный PIDRepository, поэтому
// вызывающий код определяет транзакционные границы.
package minter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bigkaa/sciencerepo/internal/doi"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

// Ошибки выпуска PID.
var (
	// ErrPIDValueConflict — пользователь указал локальный DOI, не совпадающий с каноническим.
	ErrPIDValueConflict = errors.New("DOI с локальным префиксом не совпадает с каноническим")
	// ErrValidation — в метаданных отсутствует обязательное поле или значение некорректно.
	ErrValidation = errors.New("некорректные метаданные для выпуска PID")
)

var mintedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sr_pids_minted_total",
	Help: "Количество выпущенных персистентных идентификаторов",
}, []string{"type"})

var tracer = otel.Tracer("github.com/bigkaa/sciencerepo/internal/minter")

// Minter выпускает PID записей и депозитов.
type Minter struct {
	provider  *doi.Provider
	oaiPrefix string
	logger    *slog.Logger
}

// New создаёт Minter. oaiPrefix — пространство имён OAI ID (oai:<prefix>:<recid>).
func New(provider *doi.Provider, oaiPrefix string, logger *slog.Logger) *Minter {
	return &Minter{
		provider:  provider,
		oaiPrefix: oaiPrefix,
		logger:    logger.With(slog.String("component", "minter")),
	}
}

// Provider возвращает генератор DOI.
func (m *Minter) Provider() *doi.Provider {
	return m.provider
}

// MintRecord выпускает все PID публикуемой записи и дописывает их в data:
//   - концептуальный recid, если conceptrecid не задан;
//   - recid: существующий (зарезервированный депозитом) назначается записи
//     и регистрируется, иначе создаётся новый REGISTERED;
//   - DOI и OAI ID;
//   - концептуальный DOI, если conceptdoi не задан.
//
// Возвращает PID recid.
func (m *Minter) MintRecord(ctx context.Context, pids repository.PIDRepository, recordID uuid.UUID, data *model.RecordMetadata) (*model.PID, error) {
	ctx, span := tracer.Start(ctx, "minter.MintRecord")
	defer span.End()

	if data.ConceptRecid == 0 {
		if _, err := m.MintConceptRecid(ctx, pids, data); err != nil {
			return nil, err
		}
	}

	var recid *model.PID
	if data.Recid != 0 {
		var err error
		recid, err = pids.Get(ctx, model.PIDTypeRecid, strconv.FormatInt(data.Recid, 10))
		if err != nil {
			return nil, fmt.Errorf("recid %d: %w", data.Recid, err)
		}
		if err := pids.Assign(ctx, recid, model.ObjectTypeRecord, recordID, false); err != nil {
			return nil, fmt.Errorf("назначение recid %d: %w", data.Recid, err)
		}
		if err := pids.Register(ctx, recid); err != nil {
			return nil, fmt.Errorf("регистрация recid %d: %w", data.Recid, err)
		}
	} else {
		n, err := pids.NextRecid(ctx)
		if err != nil {
			return nil, err
		}
		id := recordID
		recid = &model.PID{
			Type:       model.PIDTypeRecid,
			Value:      strconv.FormatInt(n, 10),
			Status:     model.PIDRegistered,
			ObjectType: model.ObjectTypeRecord,
			ObjectUUID: &id,
		}
		if err := pids.Create(ctx, recid); err != nil {
			return nil, err
		}
		data.Recid = n
		mintedTotal.WithLabelValues(model.PIDTypeRecid).Inc()
	}
	span.SetAttributes(attribute.Int64("recid", data.Recid))

	if _, err := m.MintDOI(ctx, pids, recordID, data); err != nil {
		return nil, err
	}
	if _, err := m.MintOAIID(ctx, pids, recordID, data); err != nil {
		return nil, err
	}
	if data.ConceptDOI == "" {
		if _, err := m.MintConceptDOI(ctx, pids, recordID, data); err != nil {
			return nil, err
		}
	}

	m.logger.Info("PID записи выпущены",
		slog.String("record_id", recordID.String()),
		slog.Int64("recid", data.Recid),
		slog.Int64("conceptrecid", data.ConceptRecid),
		slog.String("doi", data.DOI),
		slog.String("conceptdoi", data.ConceptDOI),
	)
	return recid, nil
}

// MintConceptRecid резервирует концептуальный recid (без назначения объекту)
// и записывает его в data.ConceptRecid.
func (m *Minter) MintConceptRecid(ctx context.Context, pids repository.PIDRepository, data *model.RecordMetadata) (*model.PID, error) {
	n, err := pids.NextRecid(ctx)
	if err != nil {
		return nil, err
	}
	pid := &model.PID{
		Type:   model.PIDTypeRecid,
		Value:  strconv.FormatInt(n, 10),
		Status: model.PIDReserved,
	}
	if err := pids.Create(ctx, pid); err != nil {
		return nil, err
	}
	data.ConceptRecid = n
	mintedTotal.WithLabelValues("conceptrecid").Inc()
	return pid, nil
}

// MintDOI выпускает DOI записи.
//
// Без DOI в data генерируется канонический. DOI пользователя, отличный
// от канонического, допустим только с внешним префиксом и создаётся
// без провайдера. Канонический DOI резервируется у провайдера datacite.
func (m *Minter) MintDOI(ctx context.Context, pids repository.PIDRepository, recordID uuid.UUID, data *model.RecordMetadata) (*model.PID, error) {
	if data.Recid == 0 {
		return nil, fmt.Errorf("%w: выпуск DOI без recid", ErrValidation)
	}

	value := strings.TrimSpace(data.DOI)
	if value == "" {
		value = m.provider.Generate(data.Recid)
		data.DOI = value
	}
	if !doi.IsDOI(value) {
		return nil, fmt.Errorf("%w: %q не является DOI", ErrValidation, value)
	}

	provider := model.ProviderDataCite
	if !m.provider.IsCanonical(value, data.Recid) {
		if m.provider.IsLocal(value) {
			return nil, fmt.Errorf("%w: %s", ErrPIDValueConflict, value)
		}
		provider = ""
	}

	id := recordID
	pid := &model.PID{
		Type:       model.PIDTypeDOI,
		Value:      value,
		Provider:   provider,
		Status:     model.PIDReserved,
		ObjectType: model.ObjectTypeRecord,
		ObjectUUID: &id,
	}
	if err := pids.Create(ctx, pid); err != nil {
		return nil, err
	}
	mintedTotal.WithLabelValues(model.PIDTypeDOI).Inc()
	return pid, nil
}

// MintConceptDOI выпускает или перенаправляет концептуальный DOI.
// Только для локальных DOI: для внешних возвращает (nil, nil).
// Существующий PID назначается записи с перезаписью, иначе создаётся
// новый RESERVED у провайдера datacite.
func (m *Minter) MintConceptDOI(ctx context.Context, pids repository.PIDRepository, recordID uuid.UUID, data *model.RecordMetadata) (*model.PID, error) {
	if data.ConceptRecid == 0 {
		return nil, fmt.Errorf("%w: выпуск концептуального DOI без conceptrecid", ErrValidation)
	}
	if !m.provider.IsLocal(data.DOI) {
		return nil, nil
	}

	if data.ConceptDOI == "" {
		data.ConceptDOI = m.provider.Generate(data.ConceptRecid)
	}

	existing, err := pids.Get(ctx, model.PIDTypeDOI, data.ConceptDOI)
	switch {
	case err == nil:
		if err := pids.Assign(ctx, existing, model.ObjectTypeRecord, recordID, true); err != nil {
			return nil, fmt.Errorf("перенаправление концептуального DOI %s: %w", data.ConceptDOI, err)
		}
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	id := recordID
	pid := &model.PID{
		Type:       model.PIDTypeDOI,
		Value:      data.ConceptDOI,
		Provider:   model.ProviderDataCite,
		Status:     model.PIDReserved,
		ObjectType: model.ObjectTypeRecord,
		ObjectUUID: &id,
	}
	if err := pids.Create(ctx, pid); err != nil {
		return nil, err
	}
	mintedTotal.WithLabelValues("conceptdoi").Inc()
	return pid, nil
}

// MintOAIID выпускает OAI ID записи (oai:<prefix>:<recid>) в статусе REGISTERED.
// Значение из data._oai.id используется, если задано.
func (m *Minter) MintOAIID(ctx context.Context, pids repository.PIDRepository, recordID uuid.UUID, data *model.RecordMetadata) (*model.PID, error) {
	if data.OAI == nil || data.OAI.ID == "" {
		if data.Recid == 0 {
			return nil, fmt.Errorf("%w: выпуск OAI ID без recid", ErrValidation)
		}
		data.OAI = &model.OAIInfo{ID: fmt.Sprintf("oai:%s:%d", m.oaiPrefix, data.Recid)}
	}

	id := recordID
	pid := &model.PID{
		Type:       model.PIDTypeOAI,
		Value:      data.OAI.ID,
		Provider:   model.ProviderOAI,
		Status:     model.PIDRegistered,
		ObjectType: model.ObjectTypeRecord,
		ObjectUUID: &id,
	}
	if err := pids.Create(ctx, pid); err != nil {
		return nil, err
	}
	mintedTotal.WithLabelValues(model.PIDTypeOAI).Inc()
	return pid, nil
}

// MintDeposit выпускает PID нового депозита: при необходимости концептуальный
// recid, зарезервированный recid будущей записи и REGISTERED depid с тем же
// значением, указывающий на депозит. Заполняет data.Recid и data.Deposit.
func (m *Minter) MintDeposit(ctx context.Context, pids repository.PIDRepository, depositID uuid.UUID, data *model.RecordMetadata) (*model.PID, error) {
	if data.ConceptRecid == 0 {
		if _, err := m.MintConceptRecid(ctx, pids, data); err != nil {
			return nil, err
		}
	}

	n, err := pids.NextRecid(ctx)
	if err != nil {
		return nil, err
	}
	value := strconv.FormatInt(n, 10)
	recid := &model.PID{Type: model.PIDTypeRecid, Value: value, Status: model.PIDReserved}
	if err := pids.Create(ctx, recid); err != nil {
		return nil, err
	}
	data.Recid = n

	id := depositID
	depid := &model.PID{
		Type:       model.PIDTypeDepid,
		Value:      value,
		Status:     model.PIDRegistered,
		ObjectType: model.ObjectTypeDeposit,
		ObjectUUID: &id,
	}
	if err := pids.Create(ctx, depid); err != nil {
		return nil, err
	}
	if data.Deposit == nil {
		data.Deposit = &model.DepositInfo{}
	}
	data.Deposit.ID = value
	data.Deposit.Status = model.DepositDraft
	mintedTotal.WithLabelValues(model.PIDTypeDepid).Inc()
	return depid, nil
}

// UpdateDOI заменяет внешний DOI опубликованной записи.
//
// Канонический DOI не меняется (no-op). Локальный DOI, отличный от
// канонического, — ErrPIDValueConflict. Если значение отличается от
// текущего PID, старый PID удаляется и создаётся новый RESERVED в одном
// savepoint: при ошибке старый PID остаётся на месте.
// Возвращает новый PID или nil, если замена не потребовалась.
func (m *Minter) UpdateDOI(ctx context.Context, pids repository.PIDRepository, recordID uuid.UUID, data *model.RecordMetadata) (*model.PID, error) {
	if data.Recid == 0 {
		return nil, fmt.Errorf("%w: обновление DOI без recid", ErrValidation)
	}
	value := strings.TrimSpace(data.DOI)
	if value == "" || !doi.IsDOI(value) {
		return nil, fmt.Errorf("%w: %q не является DOI", ErrValidation, value)
	}

	if m.provider.IsCanonical(value, data.Recid) {
		return nil, nil
	}
	if m.provider.IsLocal(value) {
		return nil, fmt.Errorf("%w: %s", ErrPIDValueConflict, value)
	}

	current, err := versionDOI(ctx, pids, recordID, data.ConceptDOI)
	if err != nil {
		return nil, err
	}
	if current.Value == value {
		return nil, nil
	}

	var created *model.PID
	err = pids.Savepoint(ctx, func(sp repository.PIDRepository) error {
		if err := sp.Delete(ctx, current); err != nil {
			return err
		}
		id := recordID
		created = &model.PID{
			Type:       model.PIDTypeDOI,
			Value:      value,
			Status:     model.PIDReserved,
			ObjectType: model.ObjectTypeRecord,
			ObjectUUID: &id,
		}
		return sp.Create(ctx, created)
	})
	if err != nil {
		return nil, fmt.Errorf("замена DOI %s → %s: %w", current.Value, value, err)
	}

	m.logger.Info("DOI записи заменён",
		slog.String("record_id", recordID.String()),
		slog.String("old", current.Value),
		slog.String("new", value),
	)
	mintedTotal.WithLabelValues(model.PIDTypeDOI).Inc()
	return created, nil
}

// versionDOI возвращает DOI версии, назначенный записи. Концептуальный DOI
// тоже указывает на последнюю версию, поэтому исключается по значению.
func versionDOI(ctx context.Context, pids repository.PIDRepository, recordID uuid.UUID, conceptDOI string) (*model.PID, error) {
	all, err := pids.ListByObject(ctx, model.ObjectTypeRecord, recordID)
	if err != nil {
		return nil, err
	}
	var found *model.PID
	for _, p := range all {
		if p.Type == model.PIDTypeDOI && p.Value != conceptDOI {
			found = p
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: DOI записи %s", repository.ErrNotFound, recordID)
	}
	return found, nil
}
