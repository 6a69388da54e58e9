package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const fileScheme = "file:"

// FileSystem — хранилище в директории на диске.
// Запись: temp файл → запись + SHA-256 → fsync → atomic rename.
type FileSystem struct {
	dataDir string
}

// NewFileSystem создаёт хранилище. Директория создаётся при отсутствии.
func NewFileSystem(dataDir string) (*FileSystem, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileSystem{dataDir: dataDir}, nil
}

// Name реализует Backend.
func (fs *FileSystem) Name() string { return "filesystem" }

// DataDir возвращает путь к директории данных.
func (fs *FileSystem) DataDir() string { return fs.dataDir }

// Put реализует Backend.
func (fs *FileSystem) Put(_ context.Context, bucketID uuid.UUID, key string, r io.Reader, size *int64) (*Object, error) {
	name := objectName(bucketID, key)
	fullPath := filepath.Join(fs.dataDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории бакета: %w", err)
	}
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hr := newHashingReader(r)
	if _, err := io.Copy(f, hr); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if err := checkSize(size, hr.n); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &Object{URI: fileScheme + name, Size: hr.n, Checksum: hr.checksum()}, nil
}

// path преобразует URI в путь на диске, не выходящий за dataDir.
func (fs *FileSystem) path(uri string) (string, error) {
	rel, ok := strings.CutPrefix(uri, fileScheme)
	if !ok || rel == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return filepath.Join(fs.dataDir, clean), nil
}

// Open реализует Backend.
func (fs *FileSystem) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	p, err := fs.path(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", uri, err)
	}
	return f, nil
}

// Delete реализует Backend.
func (fs *FileSystem) Delete(_ context.Context, uri string) error {
	p, err := fs.path(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", uri, err)
	}
	return nil
}
