package deposit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bigkaa/sciencerepo/internal/config"
	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/minter"
	"github.com/bigkaa/sciencerepo/internal/repository"
	"github.com/bigkaa/sciencerepo/internal/storage"
	"github.com/bigkaa/sciencerepo/internal/versioning"
)

var tracer = otel.Tracer("github.com/bigkaa/sciencerepo/internal/deposit")

// Zenodo — стратегия депозитов с версионированием через концептуальный
// recid и концептуальный DOI.
type Zenodo struct {
	minter  *minter.Minter
	storage storage.Backend
	indexer Indexer
	fetcher string
	spam    SpamChecker
	logger  *slog.Logger
}

// NewZenodo создаёт стратегию. Minter и Storage обязательны.
func NewZenodo(deps Deps) (Strategy, error) {
	if deps.Minter == nil || deps.Storage == nil {
		return nil, fmt.Errorf("стратегия zenodo: не заданы minter или storage")
	}
	fetcher := deps.PIDFetcher
	if fetcher == "" {
		fetcher = config.FetcherRecid
	}
	if fetcher != config.FetcherRecid && fetcher != config.FetcherDOI {
		return nil, fmt.Errorf("стратегия zenodo: неизвестный fetcher %q", fetcher)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Zenodo{
		minter:  deps.Minter,
		storage: deps.Storage,
		indexer: deps.Indexer,
		fetcher: fetcher,
		spam:    deps.SpamChecker,
		logger:  logger.With(slog.String("component", "deposit")),
	}, nil
}

func (z *Zenodo) index(d *model.Deposit) {
	if z.indexer != nil {
		z.indexer.IndexDeposit(d)
	}
}

// Create реализует Strategy. Черновик сразу попадает в индекс.
func (z *Zenodo) Create(ctx context.Context, repos *repository.Repositories, data model.RecordMetadata, id uuid.UUID) (*model.Deposit, error) {
	ctx, span := tracer.Start(ctx, "deposit.Create")
	defer span.End()

	if id == uuid.Nil {
		id = uuid.New()
	}
	data = data.Clone()
	if _, err := z.minter.MintDeposit(ctx, repos.PIDs, id, &data); err != nil {
		return nil, fmt.Errorf("выпуск PID депозита: %w", err)
	}

	d := &model.Deposit{
		ID:       id,
		Metadata: data,
		Status:   model.DepositDraft,
		BucketID: uuid.New(),
	}
	if data.Deposit != nil {
		d.CreatedBy = data.Deposit.CreatedBy
		d.Owners = append([]string(nil), data.Deposit.Owners...)
	}
	if err := repos.Deposits.Create(ctx, d); err != nil {
		return nil, err
	}
	z.index(d)

	span.SetAttributes(attribute.String("deposit_id", id.String()), attribute.Int64("recid", data.Recid))
	z.logger.Debug("Черновик создан",
		slog.String("deposit_id", id.String()),
		slog.Int64("recid", data.Recid),
		slog.Int64("conceptrecid", data.ConceptRecid),
	)
	return d, nil
}

// AddFile реализует Strategy. Если регистрация файла не удалась,
// сохранённое содержимое удаляется.
func (z *Zenodo) AddFile(ctx context.Context, repos *repository.Repositories, d *model.Deposit, key string, r io.Reader, size *int64) (*model.FileObject, error) {
	if d.IsPublished() {
		return nil, fmt.Errorf("%w: %s", ErrNotDraft, d.ID)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: пустое имя файла", ErrValidation)
	}

	obj, err := z.storage.Put(ctx, d.BucketID, key, r, size)
	if err != nil {
		return nil, fmt.Errorf("сохранение файла %s: %w", key, err)
	}

	f := &model.FileObject{
		BucketID:   d.BucketID,
		Key:        key,
		StorageURI: obj.URI,
		Checksum:   obj.Checksum,
		MimeType:   mimeType(key),
	}
	if size != nil {
		declared := *size
		f.Size = &declared
	}
	if err := repos.Files.Create(ctx, f); err != nil {
		if derr := z.storage.Delete(ctx, obj.URI); derr != nil {
			z.logger.Warn("Не удалось удалить содержимое файла",
				slog.String("uri", obj.URI),
				slog.String("error", derr.Error()),
			)
		}
		return nil, err
	}

	z.logger.Info("Файл добавлен в депозит",
		slog.String("deposit_id", d.ID.String()),
		slog.String("key", key),
		slog.String("size", humanize.Bytes(uint64(obj.Size))),
		slog.String("backend", z.storage.Name()),
	)
	return f, nil
}

// mimeType определяет тип содержимого по расширению.
func mimeType(key string) string {
	if t := mime.TypeByExtension(filepath.Ext(key)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// validate проверяет обязательные поля публикуемых метаданных.
func validate(data *model.RecordMetadata) error {
	var missing []string
	if strings.TrimSpace(data.Title) == "" {
		missing = append(missing, "title")
	}
	if data.UploadType == "" {
		missing = append(missing, "upload_type")
	}
	if len(data.Creators) == 0 {
		missing = append(missing, "creators")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: не заданы %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// Publish реализует Strategy:
//   - выпуск PID записи (recid, DOI, OAI ID, концептуальный DOI);
//   - унаследованный концептуальный DOI переназначается новой версии;
//   - recid добавляется в цепочку версий, концептуальный recid
//     перенаправляется на новую запись;
//   - создание записи, SIP и перевод депозита в published.
func (z *Zenodo) Publish(ctx context.Context, repos *repository.Repositories, d *model.Deposit, opts PublishOptions) (*model.Deposit, error) {
	ctx, span := tracer.Start(ctx, "deposit.Publish")
	defer span.End()

	if d.IsPublished() {
		return nil, fmt.Errorf("%w: %s", ErrNotDraft, d.ID)
	}
	files, err := repos.Files.ListByBucket(ctx, d.BucketID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: депозит %s", ErrNoFiles, d.ID)
	}

	data := d.Metadata.Clone()
	if err := validate(&data); err != nil {
		return nil, err
	}
	if opts.SpamCheck && z.spam != nil {
		spam, err := z.spam.IsSpam(ctx, &data)
		if err != nil {
			return nil, fmt.Errorf("проверка на спам: %w", err)
		}
		if spam {
			return nil, fmt.Errorf("%w: депозит %s", ErrSpam, d.ID)
		}
	}

	recordID := uuid.New()
	inheritedConceptDOI := data.ConceptDOI != ""
	recid, err := z.minter.MintRecord(ctx, repos.PIDs, recordID, &data)
	if err != nil {
		return nil, err
	}
	if inheritedConceptDOI {
		if _, err := z.minter.MintConceptDOI(ctx, repos.PIDs, recordID, &data); err != nil {
			return nil, err
		}
	}

	chain, err := versioning.ForConceptRecid(ctx, repos, data.ConceptRecid)
	if err != nil {
		return nil, err
	}
	if err := chain.InsertChild(ctx, recid); err != nil {
		return nil, fmt.Errorf("добавление версии %s: %w", recid.Value, err)
	}
	if err := chain.UpdateRedirect(ctx); err != nil {
		return nil, fmt.Errorf("перенаправление концептуального recid: %w", err)
	}

	if data.Deposit == nil {
		data.Deposit = &model.DepositInfo{}
	}
	data.Deposit.Status = model.DepositPublished
	data.Deposit.PID = &model.DepositPID{Type: model.PIDTypeRecid, Value: recid.Value}

	record := &model.Record{ID: recordID, Metadata: data}
	if err := repos.Records.Create(ctx, record); err != nil {
		return nil, err
	}

	published := *d
	published.Metadata = data
	published.Status = model.DepositPublished
	published.RecordID = &recordID
	if err := repos.Deposits.Update(ctx, &published); err != nil {
		return nil, err
	}

	sip := &model.SIP{RecordID: recordID, UserID: opts.UserID, Agent: opts.SIPAgent}
	if err := repos.SIPs.Create(ctx, sip); err != nil {
		return nil, fmt.Errorf("создание SIP: %w", err)
	}
	z.index(&published)

	span.SetAttributes(attribute.Int64("recid", data.Recid), attribute.String("doi", data.DOI))
	z.logger.Info("Депозит опубликован",
		slog.String("deposit_id", d.ID.String()),
		slog.String("record_id", recordID.String()),
		slog.Int64("recid", data.Recid),
		slog.String("doi", data.DOI),
		slog.Int("files", len(files)),
	)
	return &published, nil
}

// FetchPublished реализует Strategy.
func (z *Zenodo) FetchPublished(ctx context.Context, repos *repository.Repositories, d *model.Deposit) (*model.PID, *model.Record, error) {
	if !d.IsPublished() || d.RecordID == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotPublished, d.ID)
	}
	rec, err := repos.Records.Get(ctx, *d.RecordID)
	if err != nil {
		return nil, nil, err
	}

	var pid *model.PID
	switch z.fetcher {
	case config.FetcherDOI:
		pid, err = repos.PIDs.Get(ctx, model.PIDTypeDOI, rec.Metadata.DOI)
	default:
		pid, err = repos.PIDs.Get(ctx, model.PIDTypeRecid, strconv.FormatInt(rec.Metadata.Recid, 10))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("PID записи %s: %w", rec.ID, err)
	}
	return pid, rec, nil
}

// Edit реализует Strategy. Пустой DOI оставляет текущий. Изменённый DOI
// заменяется через minter.UpdateDOI: канонический DOI назначить взамен
// внешнего нельзя, чужой локальный — ErrPIDValueConflict.
func (z *Zenodo) Edit(ctx context.Context, repos *repository.Repositories, d *model.Deposit, data model.RecordMetadata) (*model.Deposit, *model.Record, error) {
	ctx, span := tracer.Start(ctx, "deposit.Edit")
	defer span.End()

	_, rec, err := z.FetchPublished(ctx, repos, d)
	if err != nil {
		return nil, nil, err
	}

	current := rec.Metadata
	next := data.Clone()
	next.Recid = current.Recid
	next.ConceptRecid = current.ConceptRecid
	next.ConceptDOI = current.ConceptDOI
	kept := current.Clone()
	next.OAI = kept.OAI
	next.Deposit = kept.Deposit
	next.DOI = strings.TrimSpace(next.DOI)
	if next.DOI == "" {
		next.DOI = current.DOI
	}
	if err := validate(&next); err != nil {
		return nil, nil, err
	}

	if next.DOI != current.DOI {
		pid, err := z.minter.UpdateDOI(ctx, repos.PIDs, rec.ID, &next)
		if err != nil {
			return nil, nil, err
		}
		if pid == nil {
			return nil, nil, fmt.Errorf("%w: DOI %s не может заменить %s", ErrValidation, next.DOI, current.DOI)
		}
	}

	rec.Metadata = next
	if err := repos.Records.Update(ctx, rec); err != nil {
		return nil, nil, err
	}
	edited := *d
	edited.Metadata = next.Clone()
	if err := repos.Deposits.Update(ctx, &edited); err != nil {
		return nil, nil, err
	}
	z.index(&edited)

	span.SetAttributes(attribute.Int64("recid", next.Recid), attribute.String("doi", next.DOI))
	z.logger.Info("Метаданные записи изменены",
		slog.String("deposit_id", d.ID.String()),
		slog.String("record_id", rec.ID.String()),
		slog.String("doi", next.DOI),
	)
	return &edited, rec, nil
}

// RegisterConceptDOI реализует Strategy. Концептуальный DOI назначается
// записи последней версии. Для внешних DOI ничего не делает.
func (z *Zenodo) RegisterConceptDOI(ctx context.Context, repos *repository.Repositories, d *model.Deposit) (*model.Deposit, error) {
	_, rec, err := z.FetchPublished(ctx, repos, d)
	if err != nil {
		return nil, err
	}
	if rec.Metadata.ConceptDOI != "" {
		return d, nil
	}

	chain, err := versioning.ForConceptRecid(ctx, repos, rec.Metadata.ConceptRecid)
	if err != nil {
		return nil, err
	}
	last, err := chain.LastChild(ctx)
	if err != nil {
		return nil, err
	}
	target := rec.ID
	if last != nil && last.IsAssigned() {
		target = *last.ObjectUUID
	}

	data := rec.Metadata.Clone()
	pid, err := z.minter.MintConceptDOI(ctx, repos.PIDs, target, &data)
	if err != nil {
		return nil, err
	}
	if pid == nil {
		return d, nil
	}

	children, err := chain.Children(ctx)
	if err != nil {
		return nil, err
	}
	var updated *model.Deposit
	for _, child := range children {
		if !child.IsAssigned() {
			continue
		}
		dep, err := z.setConceptDOI(ctx, repos, *child.ObjectUUID, data.ConceptDOI)
		if err != nil {
			return nil, err
		}
		if dep != nil && dep.ID == d.ID {
			updated = dep
		}
	}
	if updated == nil {
		updated = d
	}

	z.logger.Info("Концептуальный DOI зарегистрирован",
		slog.String("conceptdoi", data.ConceptDOI),
		slog.Int64("conceptrecid", data.ConceptRecid),
		slog.Int("versions", len(children)),
	)
	return updated, nil
}

// setConceptDOI проставляет концептуальный DOI записи и её депозиту.
func (z *Zenodo) setConceptDOI(ctx context.Context, repos *repository.Repositories, recordID uuid.UUID, conceptDOI string) (*model.Deposit, error) {
	rec, err := repos.Records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	rec.Metadata.ConceptDOI = conceptDOI
	if err := repos.Records.Update(ctx, rec); err != nil {
		return nil, err
	}

	dep, err := repos.Deposits.GetByRecordID(ctx, recordID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dep.Metadata.ConceptDOI = conceptDOI
	if err := repos.Deposits.Update(ctx, dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// NewVersion реализует Strategy. Если черновик новой версии уже есть,
// возвращается он. Файлы последней версии переносятся в новый бакет
// ссылками на то же содержимое.
func (z *Zenodo) NewVersion(ctx context.Context, repos *repository.Repositories, d *model.Deposit) (*model.Deposit, error) {
	_, rec, err := z.FetchPublished(ctx, repos, d)
	if err != nil {
		return nil, err
	}
	chain, err := versioning.ForConceptRecid(ctx, repos, rec.Metadata.ConceptRecid)
	if err != nil {
		return nil, err
	}

	last, err := chain.LastChild(ctx)
	if err != nil {
		return nil, err
	}
	if last == nil || !last.IsAssigned() || *last.ObjectUUID != rec.ID {
		return nil, fmt.Errorf("%w: %s", ErrNotLatest, d.ID)
	}

	draft, err := chain.DraftChild(ctx)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		depid, err := repos.PIDs.Get(ctx, model.PIDTypeDepid, draft.Value)
		if err != nil {
			return nil, fmt.Errorf("депозит черновика %s: %w", draft.Value, err)
		}
		return repos.Deposits.Get(ctx, *depid.ObjectUUID)
	}

	data := rec.Metadata.Clone()
	data.Recid = 0
	data.DOI = ""
	data.OAI = nil
	data.Version = ""
	data.Deposit = &model.DepositInfo{CreatedBy: d.CreatedBy, Owners: d.Owners}

	next, err := z.Create(ctx, repos, data, uuid.Nil)
	if err != nil {
		return nil, err
	}
	recid, err := repos.PIDs.Get(ctx, model.PIDTypeRecid, strconv.FormatInt(next.Metadata.Recid, 10))
	if err != nil {
		return nil, err
	}
	if err := chain.InsertDraftChild(ctx, recid); err != nil {
		return nil, err
	}

	files, err := repos.Files.ListByBucket(ctx, d.BucketID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		copied := *f
		copied.BucketID = next.BucketID
		if err := repos.Files.Create(ctx, &copied); err != nil {
			return nil, err
		}
	}

	z.logger.Info("Создан черновик новой версии",
		slog.String("deposit_id", next.ID.String()),
		slog.Int64("recid", next.Metadata.Recid),
		slog.Int64("conceptrecid", next.Metadata.ConceptRecid),
	)
	return next, nil
}
