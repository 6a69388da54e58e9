// Пакет storage — хранилище содержимого файлов депозитов (бакеты).
//
// Backend сохраняет поток с подсчётом SHA-256 на лету и возвращает URI,
// по которому содержимое читается и удаляется. Реализации: файловая
// система, память (тесты) и S3.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки хранилища.
var (
	// ErrNotFound — содержимое по URI не найдено.
	ErrNotFound = errors.New("содержимое не найдено")
	// ErrSizeMismatch — записано байт меньше или больше объявленного размера.
	ErrSizeMismatch = errors.New("размер содержимого не совпадает с объявленным")
	// ErrInvalidURI — URI не принадлежит данному хранилищу.
	ErrInvalidURI = errors.New("некорректный URI хранилища")
)

// Object — результат сохранения содержимого.
type Object struct {
	// URI — адрес содержимого (file:, mem:, s3://)
	URI string
	// Size — фактический размер в байтах
	Size int64
	// Checksum — sha256:<hex>
	Checksum string
}

// Backend — хранилище содержимого файлов.
type Backend interface {
	// Put сохраняет содержимое файла key бакета bucketID. Если size не nil,
	// число прочитанных байт должно совпасть с *size (иначе ErrSizeMismatch).
	Put(ctx context.Context, bucketID uuid.UUID, key string, r io.Reader, size *int64) (*Object, error)
	// Open открывает содержимое по URI. Вызывающий код закрывает ReadCloser.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	// Delete удаляет содержимое. Отсутствующее содержимое — не ошибка.
	Delete(ctx context.Context, uri string) error
	// Name возвращает имя реализации (filesystem, memory, s3).
	Name() string
}

// hashingReader считает SHA-256 и число байт прочитанного потока.
type hashingReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r, h: sha256.New()}
}

func (hr *hashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		hr.h.Write(p[:n])
		hr.n += int64(n)
	}
	return n, err
}

// checksum возвращает sha256:<hex> прочитанных данных.
func (hr *hashingReader) checksum() string {
	return "sha256:" + hex.EncodeToString(hr.h.Sum(nil))
}

// checkSize сверяет фактический размер с объявленным.
func checkSize(declared *int64, actual int64) error {
	if declared != nil && *declared != actual {
		return fmt.Errorf("%w: объявлено %d, получено %d", ErrSizeMismatch, *declared, actual)
	}
	return nil
}

// objectName генерирует имя объекта внутри бакета.
// Формат: {bucket}/{name}_{timestamp}_{uuid}{ext}
// Пример: 0f1e.../dataset-1.0_20260221150405_a1b2c3d4.zip
func objectName(bucketID uuid.UUID, key string) string {
	base := filepath.Base(key)
	ext := filepath.Ext(base)
	name := sanitize(strings.TrimSuffix(base, ext))
	if len(name) > 50 {
		name = name[:50]
	}
	ext = sanitizeExt(ext)

	ts := time.Now().UTC().Format("20060102150405")
	uid := uuid.New().String()[:8]
	return fmt.Sprintf("%s/%s_%s_%s%s", bucketID, name, ts, uid, ext)
}

// sanitize оставляет в строке буквы, цифры, дефис, точку и подчёркивание.
func sanitize(s string) string {
	if clean := filterName(s); clean != "" {
		return clean
	}
	return "file"
}

func sanitizeExt(ext string) string {
	if clean := filterName(strings.TrimPrefix(ext, ".")); clean != "" {
		return "." + clean
	}
	return ""
}

func filterName(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			return r
		}
		return -1
	}, s)
}
