package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tendant/artisan-nft/pkg/artisan"
	"github.com/tendant/artisan-nft/pkg/artisan/contentid"
)

// Backend is a filesystem implementation of the artisan.ContentStore interface.
// Content lives at <base>/<first two hex digits>/<content id>, with an
// optional <content id>.type file holding the declared MIME type.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}
	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Backend{baseDir: config.BaseDir}, nil
}

func (b *Backend) path(contentID string) string {
	return filepath.Join(b.baseDir, contentID[2:4], contentID)
}

func storageErr(id, op string, err error) error {
	return &artisan.StorageError{Backend: "fs", ContentID: id, Op: op, Err: err}
}

// Put writes content to a temporary file while hashing it, then moves it
// under its content identifier
func (b *Backend) Put(ctx context.Context, reader io.Reader, params artisan.PutParams) (string, error) {
	tmp, err := os.CreateTemp(b.baseDir, ".upload-*")
	if err != nil {
		return "", storageErr("", "put", fmt.Errorf("%w: %w", artisan.ErrStorageUnavailable, err))
	}
	defer os.Remove(tmp.Name())

	id, err := contentid.ComputeReader(io.TeeReader(reader, tmp))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", storageErr("", "put", fmt.Errorf("failed to write file: %w", err))
	}

	target := b.path(id)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", storageErr(id, "put", fmt.Errorf("failed to create directory: %w", err))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", storageErr(id, "put", fmt.Errorf("failed to move file: %w", err))
	}
	if params.MimeType != "" {
		if err := os.WriteFile(target+".type", []byte(params.MimeType), 0644); err != nil {
			return "", storageErr(id, "put", fmt.Errorf("failed to write type: %w", err))
		}
	}
	return id, nil
}

// Get opens the content stored under contentID
func (b *Backend) Get(ctx context.Context, contentID string) (io.ReadCloser, error) {
	if !contentid.Derived(contentID) {
		return nil, storageErr(contentID, "get", artisan.ErrNotFound)
	}
	file, err := os.Open(b.path(contentID))
	if os.IsNotExist(err) {
		return nil, storageErr(contentID, "get", artisan.ErrNotFound)
	} else if err != nil {
		return nil, storageErr(contentID, "get", fmt.Errorf("failed to open file: %w", err))
	}
	return file, nil
}

// Stat returns metadata for the content stored under contentID
func (b *Backend) Stat(ctx context.Context, contentID string) (*artisan.ContentMeta, error) {
	if !contentid.Derived(contentID) {
		return nil, storageErr(contentID, "stat", artisan.ErrNotFound)
	}
	filePath := b.path(contentID)

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, storageErr(contentID, "stat", artisan.ErrNotFound)
	} else if err != nil {
		return nil, storageErr(contentID, "stat", fmt.Errorf("failed to get file info: %w", err))
	}

	mimeType := "application/octet-stream"
	if declared, err := os.ReadFile(filePath + ".type"); err == nil && len(declared) > 0 {
		mimeType = string(declared)
	} else if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			mimeType = http.DetectContentType(buffer[:n])
		}
	}

	return &artisan.ContentMeta{
		ContentID: contentID,
		Size:      info.Size(),
		MimeType:  mimeType,
		UpdatedAt: info.ModTime(),
	}, nil
}
