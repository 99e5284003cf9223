package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/frno10/ExpenseTracker-sub000/internal/core"
)

// LocalStorage keeps uploaded statements in a directory on local disk.
type LocalStorage struct {
	basePath string
}

var _ core.FileStorage = (*LocalStorage)(nil)

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes r to basePath/name, hashing the content on the way. Content
// over maxSize bytes, or no content at all, leaves no file behind.
func (l *LocalStorage) Save(ctx context.Context, name string, r io.Reader, maxSize int64) (string, int64, string, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, "", err
	}

	path := filepath.Join(l.basePath, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", 0, "", fmt.Errorf("creating file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(r, maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	switch {
	case err != nil:
		err = fmt.Errorf("writing file: %w", err)
	case n > maxSize:
		err = fmt.Errorf("%w: exceeds the %d byte limit", core.ErrFileTooLarge, maxSize)
	case n == 0:
		err = core.ErrEmptyFile
	default:
		err = ctx.Err()
	}
	if err != nil {
		os.Remove(path)
		return "", 0, "", err
	}

	return path, n, hex.EncodeToString(h.Sum(nil)), nil
}

// Remove deletes a stored file. A missing file is not an error.
func (l *LocalStorage) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
