// records.go — изменение опубликованных записей и новые версии.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

// RecordEdit — изменяемые поля записи. nil-поле оставляет текущее значение.
type RecordEdit struct {
	Title              *string
	Description        *string
	DOI                *string
	PublicationDate    *string
	AccessRight        *string
	License            *string
	Creators           []model.Creator
	Keywords           []string
	Communities        []string
	RelatedIdentifiers []model.RelatedIdentifier
}

// apply накладывает изменения на копию метаданных.
func (e RecordEdit) apply(md model.RecordMetadata) model.RecordMetadata {
	out := md.Clone()
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&out.Title, e.Title)
	set(&out.Description, e.Description)
	set(&out.DOI, e.DOI)
	set(&out.PublicationDate, e.PublicationDate)
	set(&out.AccessRight, e.AccessRight)
	set(&out.License, e.License)
	if e.Creators != nil {
		out.Creators = e.Creators
	}
	if e.Keywords != nil {
		out.Keywords = e.Keywords
	}
	if e.Communities != nil {
		out.Communities = e.Communities
	}
	if e.RelatedIdentifiers != nil {
		out.RelatedIdentifiers = e.RelatedIdentifiers
	}
	return out
}

// ownedDeposit возвращает депозит опубликованной записи, если p — его владелец.
func (s *ReleaseService) ownedDeposit(ctx context.Context, repos *repository.Repositories, p *model.Principal, recordID uuid.UUID) (*model.Deposit, error) {
	dep, err := repos.Deposits.GetByRecordID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: запись %s", ErrNotFound, recordID)
		}
		return nil, fmt.Errorf("ошибка получения депозита записи: %w", err)
	}
	if !slices.Contains(dep.Owners, p.ID) {
		return nil, fmt.Errorf("%w: запись %s", ErrAccessDenied, recordID)
	}
	return dep, nil
}

// EditRecord изменяет метаданные опубликованной записи владельцем.
// Внешний DOI может быть заменён другим внешним. После коммита запись
// переиндексируется и её DOI перерегистрируются.
func (s *ReleaseService) EditRecord(ctx context.Context, p *model.Principal, recordID uuid.UUID, edit RecordEdit) (*model.Record, error) {
	ctx, span := tracer.Start(ctx, "record.Edit")
	defer span.End()

	var record *model.Record
	err := s.store.Run(ctx, func(repos *repository.Repositories) error {
		dep, err := s.ownedDeposit(ctx, repos, p, recordID)
		if err != nil {
			return err
		}
		current, err := repos.Records.Get(ctx, recordID)
		if err != nil {
			return fmt.Errorf("ошибка получения записи: %w", err)
		}
		_, record, err = s.deposits.Edit(ctx, repos, dep, edit.apply(current.Metadata))
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Запись изменена",
		slog.String("record_id", recordID.String()),
		slog.String("user_id", p.ID),
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

// NewVersion создаёт (или возвращает существующий) черновик следующей
// версии записи. Запись должна быть последней версией работы.
// Следующая публикация релиза объекта сохраняет этот черновик.
func (s *ReleaseService) NewVersion(ctx context.Context, p *model.Principal, recordID uuid.UUID) (*model.Deposit, error) {
	ctx, span := tracer.Start(ctx, "record.NewVersion")
	defer span.End()

	var draft *model.Deposit
	err := s.store.Run(ctx, func(repos *repository.Repositories) error {
		dep, err := s.ownedDeposit(ctx, repos, p, recordID)
		if err != nil {
			return err
		}
		draft, err = s.deposits.NewVersion(ctx, repos, dep)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Черновик новой версии",
		slog.String("record_id", recordID.String()),
		slog.String("deposit_id", draft.ID.String()),
		slog.Int64("recid", draft.Metadata.Recid),
	)
	if err := s.indexer.IndexByID(ctx, draft.ID); err != nil {
		s.logger.Warn("Ошибка индексации черновика",
			slog.String("deposit_id", draft.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return draft, nil
}
