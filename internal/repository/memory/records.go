package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/domain/model"
	"github.com/bigkaa/sciencerepo/internal/repository"
)

func copyRecord(rec *model.Record) *model.Record {
	c := *rec
	c.Metadata = rec.Metadata.Clone()
	return &c
}

type recordRepo struct {
	s *Store
}

func (r *recordRepo) Create(_ context.Context, rec *model.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, ok := r.s.data.records[rec.ID]; ok {
		return fmt.Errorf("%w: запись %s", repository.ErrConflict, rec.ID)
	}
	rec.VersionID = 1
	rec.CreatedAt = r.s.now()
	rec.UpdatedAt = rec.CreatedAt
	r.s.data.records[rec.ID] = copyRecord(rec)
	r.s.data.stamp(rec.ID)
	return nil
}

func (r *recordRepo) Get(_ context.Context, id uuid.UUID) (*model.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.data.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: запись %s", repository.ErrNotFound, id)
	}
	return copyRecord(rec), nil
}

func (r *recordRepo) Update(_ context.Context, rec *model.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: запись %s", repository.ErrNotFound, rec.ID)
	}
	rec.VersionID = stored.VersionID + 1
	rec.CreatedAt = stored.CreatedAt
	rec.UpdatedAt = r.s.now()
	r.s.data.records[rec.ID] = copyRecord(rec)
	return nil
}

func (r *recordRepo) List(_ context.Context, limit, offset int) ([]*model.Record, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*model.Record, 0, len(r.s.data.records))
	for _, rec := range r.s.data.records {
		result = append(result, copyRecord(rec))
	}
	sortByOrder(result, func(rec *model.Record) uuid.UUID { return rec.ID }, r.s.data.order, true)
	return page(result, limit, offset), nil
}

func copyDeposit(d *model.Deposit) *model.Deposit {
	c := *d
	c.Metadata = d.Metadata.Clone()
	c.Owners = append([]string(nil), d.Owners...)
	if d.RecordID != nil {
		id := *d.RecordID
		c.RecordID = &id
	}
	return &c
}

type depositRepo struct {
	s *Store
}

func (r *depositRepo) Create(_ context.Context, d *model.Deposit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.deposits[d.ID]; ok {
		return fmt.Errorf("%w: депозит %s", repository.ErrConflict, d.ID)
	}
	for _, other := range r.s.data.deposits {
		if other.BucketID == d.BucketID {
			return fmt.Errorf("%w: бакет %s уже занят", repository.ErrConflict, d.BucketID)
		}
	}
	d.CreatedAt = r.s.now()
	d.UpdatedAt = d.CreatedAt
	r.s.data.deposits[d.ID] = copyDeposit(d)
	r.s.data.stamp(d.ID)
	return nil
}

func (r *depositRepo) Get(_ context.Context, id uuid.UUID) (*model.Deposit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.data.deposits[id]
	if !ok {
		return nil, fmt.Errorf("%w: депозит %s", repository.ErrNotFound, id)
	}
	return copyDeposit(d), nil
}

func (r *depositRepo) GetByRecordID(_ context.Context, recordID uuid.UUID) (*model.Deposit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, d := range r.s.data.deposits {
		if d.RecordID != nil && *d.RecordID == recordID {
			return copyDeposit(d), nil
		}
	}
	return nil, fmt.Errorf("%w: депозит записи %s", repository.ErrNotFound, recordID)
}

func (r *depositRepo) Update(_ context.Context, d *model.Deposit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.data.deposits[d.ID]
	if !ok {
		return fmt.Errorf("%w: депозит %s", repository.ErrNotFound, d.ID)
	}
	next := copyDeposit(d)
	next.BucketID = stored.BucketID
	next.CreatedBy = stored.CreatedBy
	next.CreatedAt = stored.CreatedAt
	next.UpdatedAt = r.s.now()
	r.s.data.deposits[d.ID] = next
	d.UpdatedAt = next.UpdatedAt
	return nil
}

func (r *depositRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.deposits[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.deposits, id)
	return nil
}

func (r *depositRepo) List(_ context.Context, limit, offset int) ([]*model.Deposit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]*model.Deposit, 0, len(r.s.data.deposits))
	for _, d := range r.s.data.deposits {
		result = append(result, copyDeposit(d))
	}
	sortByOrder(result, func(d *model.Deposit) uuid.UUID { return d.ID }, r.s.data.order, true)
	return page(result, limit, offset), nil
}

type fileRepo struct {
	s *Store
}

func (r *fileRepo) Create(_ context.Context, f *model.FileObject) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := fileKey{bucket: f.BucketID, key: f.Key}
	if _, ok := r.s.data.files[key]; ok {
		return fmt.Errorf("%w: файл %s в бакете %s", repository.ErrConflict, f.Key, f.BucketID)
	}
	f.CreatedAt = r.s.now()
	c := *f
	r.s.data.files[key] = &c
	return nil
}

func (r *fileRepo) ListByBucket(_ context.Context, bucketID uuid.UUID) ([]*model.FileObject, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*model.FileObject
	for k, f := range r.s.data.files {
		if k.bucket == bucketID {
			c := *f
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

type sipRepo struct {
	s *Store
}

func (r *sipRepo) Create(_ context.Context, sip *model.SIP) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.records[sip.RecordID]; !ok {
		return fmt.Errorf("SIP ссылается на несуществующую запись %s: %w", sip.RecordID, repository.ErrNotFound)
	}
	if sip.ID == uuid.Nil {
		sip.ID = uuid.New()
	}
	sip.CreatedAt = r.s.now()
	c := *sip
	r.s.data.sips[sip.ID] = &c
	r.s.data.stamp(sip.ID)
	return nil
}

func (r *sipRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*model.SIP, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*model.SIP
	for _, sip := range r.s.data.sips {
		if sip.RecordID == recordID {
			c := *sip
			result = append(result, &c)
		}
	}
	sortByOrder(result, func(s *model.SIP) uuid.UUID { return s.ID }, r.s.data.order, false)
	return result, nil
}
