// deps.go — зависимости сервисного слоя.
package service

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/bigkaa/sciencerepo/internal/repository"
	"github.com/bigkaa/sciencerepo/internal/sdclient"
)

// Store — доступ к данным вне транзакции и в транзакции.
// Реализуется repository.TxRunner и memory.Store.
type Store interface {
	repository.Transactor
	Repositories() *repository.Repositories
}

// ScienceData — операции удалённого файлового сервиса.
// Реализуется *sdclient.Client.
type ScienceData interface {
	ResolveUser(ctx context.Context, orcid string) (string, error)
	Groups(ctx context.Context, user string) ([]string, error)
	DownloadURL(path string) string
	Head(ctx context.Context, user, rawURL string) (*sdclient.FileInfo, error)
	Download(ctx context.Context, user, rawURL string) (io.ReadCloser, *sdclient.FileInfo, error)
	Metadata(ctx context.Context, user, path string) (map[string]json.RawMessage, error)
}

// Indexer — индекс записей и депозитов.
type Indexer interface {
	IndexByID(ctx context.Context, id uuid.UUID) error
	Delete(id uuid.UUID) bool
}

// Registrar — фоновая регистрация DOI (DataCite).
type Registrar interface {
	RegisterAsync(recordID uuid.UUID)
}
