// releases.go — релизы объектов ScienceData и их публикация в записи.
//
// Publish выполняется в одной транзакции: депозит, файлы, PID, запись и
// статус релиза либо фиксируются вместе, либо не остаются вовсе.
// Побочные эффекты вне БД (индекс, содержимое файлов) при ошибке
// компенсируются по возможности.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bigkaa/sciencerepo/internal/deposit"
	"github.com/bigkaa/sciencerepo/internal/domain/lifecycle"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
	"github.com/bigkaa/sciencerepo/internal/storage"
	"github.com/bigkaa/sciencerepo/internal/versioning"
)

var tracer = otel.Tracer("github.com/bigkaa/sciencerepo/internal/service")

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sr_release_publish_total",
	Help: "Количество публикаций релизов по результату (success, error).",
}, []string{"outcome"})

// ReleaseConfig — параметры публикации релизов.
type ReleaseConfig struct {
	// ScienceDataPublicURL — публичный адрес ScienceData для ссылок на объект
	ScienceDataPublicURL string
	// UseScienceDataMetadata — накладывать метаданные ScienceData
	UseScienceDataMetadata bool
	// CompensationTimeout — таймаут компенсирующих действий после отката
	CompensationTimeout time.Duration
}

// ReleaseService — жизненный цикл релизов и оркестрация публикации.
type ReleaseService struct {
	store     Store
	deposits  deposit.Strategy
	sd        ScienceData
	users     *UserService
	indexer   Indexer
	registrar Registrar
	blobs     storage.Backend
	cfg       ReleaseConfig
	logger    *slog.Logger
}

// NewReleaseService создаёт сервис релизов. registrar может быть nil
// (регистрация DOI выключена).
func NewReleaseService(
	store Store,
	deposits deposit.Strategy,
	sd ScienceData,
	users *UserService,
	indexer Indexer,
	registrar Registrar,
	blobs storage.Backend,
	cfg ReleaseConfig,
	logger *slog.Logger,
) *ReleaseService {
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = 30 * time.Second
	}
	return &ReleaseService{
		store:     store,
		deposits:  deposits,
		sd:        sd,
		users:     users,
		indexer:   indexer,
		registrar: registrar,
		blobs:     blobs,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "release_service")),
	}
}

// ownedObject загружает объект и проверяет владельца.
func (s *ReleaseService) ownedObject(ctx context.Context, repos *repository.Repositories, p *model.Principal, objectID uuid.UUID) (*model.ScienceDataObject, error) {
	obj, err := repos.Objects.GetByID(ctx, objectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: объект %s", ErrNotFound, objectID)
		}
		return nil, fmt.Errorf("ошибка получения объекта: %w", err)
	}
	if obj.UserID != p.ID {
		return nil, fmt.Errorf("%w: объект %s", ErrAccessDenied, objectID)
	}
	return obj, nil
}

// Create регистрирует новый релиз объекта в статусе RECEIVED.
func (s *ReleaseService) Create(ctx context.Context, p *model.Principal, objectID uuid.UUID, version, body string) (*model.Release, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: версия релиза не задана", ErrValidation)
	}
	repos := s.store.Repositories()
	if _, err := s.ownedObject(ctx, repos, p, objectID); err != nil {
		return nil, err
	}

	rel := &model.Release{
		ID:       uuid.New(),
		ObjectID: objectID,
		Version:  version,
		Body:     body,
		Status:   model.ReleaseReceived,
	}
	if err := repos.Releases.Create(ctx, rel); err != nil {
		return nil, fmt.Errorf("ошибка создания релиза: %w", err)
	}
	s.logger.Info("Релиз принят",
		slog.String("release_id", rel.ID.String()),
		slog.String("object_id", objectID.String()),
		slog.String("version", version),
	)
	return rel, nil
}

// Get возвращает релиз, доступный пользователю.
func (s *ReleaseService) Get(ctx context.Context, p *model.Principal, releaseID uuid.UUID) (*model.Release, error) {
	repos := s.store.Repositories()
	rel, err := repos.Releases.Get(ctx, releaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: релиз %s", ErrNotFound, releaseID)
		}
		return nil, fmt.Errorf("ошибка получения релиза: %w", err)
	}
	if _, err := s.ownedObject(ctx, repos, p, rel.ObjectID); err != nil {
		return nil, err
	}
	return rel, nil
}

// List возвращает релизы объекта, новые первыми.
func (s *ReleaseService) List(ctx context.Context, p *model.Principal, objectID uuid.UUID) ([]*model.Release, error) {
	repos := s.store.Repositories()
	if _, err := s.ownedObject(ctx, repos, p, objectID); err != nil {
		return nil, err
	}
	releases, err := repos.Releases.ListByObject(ctx, objectID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения релизов: %w", err)
	}
	return releases, nil
}

// transition переводит релиз в статус target в отдельной транзакции.
func (s *ReleaseService) transition(ctx context.Context, releaseID uuid.UUID, target model.ReleaseStatus, errMsg string) (*model.Release, error) {
	var rel *model.Release
	err := s.store.Run(ctx, func(repos *repository.Repositories) error {
		var err error
		rel, err = repos.Releases.Get(ctx, releaseID)
		if err != nil {
			return err
		}
		if err := lifecycle.Transition(rel, target, errMsg); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, err) //nolint:errorlint // намеренный двойной wrap
		}
		return repos.Releases.Update(ctx, rel)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: релиз %s", ErrNotFound, releaseID)
		}
		return nil, err
	}
	return rel, nil
}

// Delete переводит релиз в статус DELETED. Опубликованный релиз не удаляется.
func (s *ReleaseService) Delete(ctx context.Context, p *model.Principal, releaseID uuid.UUID) (*model.Release, error) {
	if _, err := s.Get(ctx, p, releaseID); err != nil {
		return nil, err
	}
	return s.transition(ctx, releaseID, model.ReleaseDeleted, "")
}

// Process обрабатывает релиз: RECEIVED (или FAILED) → PROCESSING → публикация.
// При ошибке публикации релиз переводится в FAILED с текстом ошибки,
// возвращается и релиз, и исходная ошибка.
func (s *ReleaseService) Process(ctx context.Context, p *model.Principal, releaseID uuid.UUID) (*model.Release, error) {
	if _, err := s.Get(ctx, p, releaseID); err != nil {
		return nil, err
	}
	if _, err := s.transition(ctx, releaseID, model.ReleaseProcessing, ""); err != nil {
		return nil, err
	}

	if _, err := s.Publish(ctx, p, releaseID); err != nil {
		publishTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка публикации релиза",
			slog.String("release_id", releaseID.String()),
			slog.String("error", err.Error()),
		)
		// Отметка FAILED не должна зависеть от отменённого контекста запроса
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
		defer cancel()
		failed, markErr := s.transition(markCtx, releaseID, model.ReleaseFailed, err.Error())
		if markErr != nil {
			s.logger.Error("Ошибка отметки релиза как FAILED",
				slog.String("release_id", releaseID.String()),
				slog.String("error", markErr.Error()),
			)
		}
		return failed, err
	}
	publishTotal.WithLabelValues("success").Inc()

	return s.store.Repositories().Releases.Get(ctx, releaseID)
}

// publishState — побочные эффекты публикации для компенсации при откате.
type publishState struct {
	depositID   uuid.UUID
	storageURIs []string
}

// Publish публикует релиз в статусе PROCESSING как новую версию записи.
//
// Порядок: последний опубликованный релиз объекта → наследование
// conceptrecid и conceptdoi (с выпуском концептуального DOI, если у
// предыдущей версии его нет) и communities → снятие черновика версии →
// депозит и файлы → публикация → возврат черновика → статус PUBLISHED.
// После коммита: регистрация DOI и индексация записи.
func (s *ReleaseService) Publish(ctx context.Context, p *model.Principal, releaseID uuid.UUID) (*model.Record, error) {
	ctx, span := tracer.Start(ctx, "release.Publish")
	defer span.End()
	span.SetAttributes(attribute.String("release_id", releaseID.String()))

	user, err := s.users.ScienceDataUser(ctx, p)
	if err != nil {
		return nil, err
	}

	// Метаданные ScienceData запрашиваются до транзакции
	repos := s.store.Repositories()
	rel, err := repos.Releases.Get(ctx, releaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: релиз %s", ErrNotFound, releaseID)
		}
		return nil, fmt.Errorf("ошибка получения релиза: %w", err)
	}
	obj, err := s.ownedObject(ctx, repos, p, rel.ObjectID)
	if err != nil {
		return nil, err
	}
	md, err := s.metadata(ctx, user, p, obj, rel)
	if err != nil {
		return nil, err
	}

	state := &publishState{}
	var record *model.Record
	err = s.store.Run(ctx, func(repos *repository.Repositories) error {
		var err error
		record, err = s.publish(ctx, repos, p, user, obj, releaseID, md, state)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.compensate(ctx, state)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("record_id", record.ID.String()),
		attribute.Int64("recid", record.Metadata.Recid),
	)
	s.logger.Info("Релиз опубликован",
		slog.String("release_id", releaseID.String()),
		slog.String("record_id", record.ID.String()),
		slog.Int64("recid", record.Metadata.Recid),
		slog.Int64("conceptrecid", record.Metadata.ConceptRecid),
		slog.String("doi", record.Metadata.DOI),
	)

	if s.registrar != nil {
		s.registrar.RegisterAsync(record.ID)
	}
	if err := s.indexer.IndexByID(ctx, record.ID); err != nil {
		s.logger.Warn("Ошибка индексации записи",
			slog.String("record_id", record.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return record, nil
}

// metadata формирует метаданные записи: значения по умолчанию,
// поверх — метаданные ScienceData (если включено).
func (s *ReleaseService) metadata(ctx context.Context, user string, p *model.Principal, obj *model.ScienceDataObject, rel *model.Release) (model.RecordMetadata, error) {
	md, err := defaultMetadata(obj, rel, p, s.cfg.ScienceDataPublicURL)
	if err != nil {
		return md, err
	}
	if !s.cfg.UseScienceDataMetadata {
		return md, nil
	}
	remote, err := s.sd.Metadata(ctx, user, obj.Path)
	if err != nil {
		return md, mapScienceDataError(err)
	}
	if err := overlayMetadata(&md, remote); err != nil {
		return md, err
	}
	return md, nil
}

// publish — шаги публикации внутри транзакции.
func (s *ReleaseService) publish(
	ctx context.Context,
	repos *repository.Repositories,
	p *model.Principal,
	user string,
	obj *model.ScienceDataObject,
	releaseID uuid.UUID,
	md model.RecordMetadata,
	state *publishState,
) (*model.Record, error) {
	if err := repos.Locks.LockObject(ctx, obj.ID); err != nil {
		return nil, err
	}
	rel, err := repos.Releases.Get(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	if rel.Status != model.ReleaseProcessing {
		return nil, fmt.Errorf("%w: релиз %s в статусе %s", ErrInvalidTransition, rel.ID, rel.Status.Title())
	}

	chain, err := s.inherit(ctx, repos, obj, &md)
	if err != nil {
		return nil, err
	}

	// Черновик следующей версии мешает добавлению опубликованной версии
	var draft *model.PID
	if chain != nil {
		draft, err = chain.RemoveDraftChild(ctx)
		if err != nil {
			return nil, fmt.Errorf("снятие черновика версии: %w", err)
		}
	}

	md.Deposit = &model.DepositInfo{CreatedBy: p.ID, Owners: []string{p.ID}}
	dep, err := s.deposits.Create(ctx, repos, md, uuid.Nil)
	if err != nil {
		return nil, fmt.Errorf("создание депозита: %w", err)
	}
	state.depositID = dep.ID

	if err := s.addFiles(ctx, repos, user, obj, rel, dep, state); err != nil {
		return nil, err
	}

	dep, err = s.deposits.Publish(ctx, repos, dep, deposit.PublishOptions{
		UserID:   p.ID,
		SIPAgent: sipAgent(p),
	})
	if err != nil {
		return nil, fmt.Errorf("публикация депозита: %w", err)
	}
	pid, record, err := s.deposits.FetchPublished(ctx, repos, dep)
	if err != nil {
		return nil, err
	}

	if draft != nil {
		if err := chain.InsertDraftChild(ctx, draft); err != nil {
			return nil, fmt.Errorf("возврат черновика версии: %w", err)
		}
	}

	rel.RecordID = &record.ID
	if err := lifecycle.Transition(rel, model.ReleasePublished, ""); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransition, err) //nolint:errorlint // намеренный двойной wrap
	}
	if err := repos.Releases.Update(ctx, rel); err != nil {
		return nil, err
	}

	s.logger.Debug("Запись релиза получена",
		slog.String("pid_type", pid.Type),
		slog.String("pid_value", pid.Value),
	)
	return record, nil
}

// inherit переносит в md идентификаторы работы из последней опубликованной
// версии объекта. Возвращает цепочку версий или nil для первой версии.
func (s *ReleaseService) inherit(ctx context.Context, repos *repository.Repositories, obj *model.ScienceDataObject, md *model.RecordMetadata) (*versioning.Chain, error) {
	published := model.ReleasePublished
	prev, err := repos.Releases.LatestByObject(ctx, obj.ID, &published)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if prev.RecordID == nil {
		return nil, nil
	}

	prevRec, err := repos.Records.Get(ctx, *prev.RecordID)
	if err != nil {
		return nil, fmt.Errorf("предыдущая версия: %w", err)
	}
	if prevRec.Metadata.ConceptDOI == "" {
		prevDep, err := repos.Deposits.GetByRecordID(ctx, prevRec.ID)
		if err != nil {
			return nil, fmt.Errorf("депозит предыдущей версии: %w", err)
		}
		if _, err := s.deposits.RegisterConceptDOI(ctx, repos, prevDep); err != nil {
			return nil, fmt.Errorf("концептуальный DOI предыдущей версии: %w", err)
		}
		if prevRec, err = repos.Records.Get(ctx, prevRec.ID); err != nil {
			return nil, err
		}
	}

	md.ConceptRecid = prevRec.Metadata.ConceptRecid
	md.ConceptDOI = prevRec.Metadata.ConceptDOI
	if len(md.Communities) == 0 {
		md.Communities = append([]string(nil), prevRec.Metadata.Communities...)
	}
	return versioning.ForConceptRecid(ctx, repos, md.ConceptRecid)
}

// addFiles загружает файлы релиза из ScienceData в бакет депозита.
// Размер берётся из Content-Length, если он известен.
func (s *ReleaseService) addFiles(
	ctx context.Context,
	repos *repository.Repositories,
	user string,
	obj *model.ScienceDataObject,
	rel *model.Release,
	dep *model.Deposit,
	state *publishState,
) error {
	files := []releaseFile{{
		Key: releaseFileName(obj, rel.Version),
		URL: s.sd.DownloadURL(obj.Path),
	}}
	for _, f := range files {
		info, err := s.sd.Head(ctx, user, f.URL)
		if err != nil {
			return fmt.Errorf("файл %s недоступен в ScienceData: %w", f.URL, mapScienceDataError(err))
		}
		body, dinfo, err := s.sd.Download(ctx, user, f.URL)
		if err != nil {
			return fmt.Errorf("загрузка %s: %w", f.URL, mapScienceDataError(err))
		}
		size := dinfo.Size
		if size == nil {
			size = info.Size
		}
		fo, err := s.deposits.AddFile(ctx, repos, dep, f.Key, body, size)
		body.Close() //nolint:errcheck // тело прочитано
		if err != nil {
			return fmt.Errorf("сохранение файла %s: %w", f.Key, err)
		}
		state.storageURIs = append(state.storageURIs, fo.StorageURI)
	}
	return nil
}

// compensate отменяет побочные эффекты вне БД после отката транзакции.
// Ошибки только логируются.
func (s *ReleaseService) compensate(ctx context.Context, state *publishState) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensationTimeout)
	defer cancel()

	if state.depositID != uuid.Nil {
		s.indexer.Delete(state.depositID)
	}
	for _, uri := range state.storageURIs {
		if err := s.blobs.Delete(ctx, uri); err != nil {
			s.logger.Warn("Ошибка удаления файла после отката",
				slog.String("uri", uri),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sipAgent — сведения об агенте публикации для SIP.
func sipAgent(p *model.Principal) json.RawMessage {
	agent := map[string]string{}
	if p.Email != "" {
		agent["email"] = p.Email
	}
	if p.ORCID != "" {
		agent["orcid"] = p.ORCID
	}
	if p.RemoteIP != "" {
		agent["ip_address"] = p.RemoteIP
	}
	data, err := json.Marshal(agent)
	if err != nil {
		return nil
	}
	return data
}
