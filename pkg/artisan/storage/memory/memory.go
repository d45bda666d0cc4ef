package memory

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/tendant/artisan-nft/pkg/artisan"
	"github.com/tendant/artisan-nft/pkg/artisan/contentid"
)

// Backend is an in-memory implementation of the artisan.ContentStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

type object struct {
	data      []byte
	mimeType  string
	updatedAt time.Time
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Put stores content under its derived content identifier
func (b *Backend) Put(ctx context.Context, reader io.Reader, params artisan.PutParams) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", &artisan.StorageError{Backend: "memory", Op: "put", Err: err}
	}
	id := contentid.Compute(data)

	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[id] = object{data: data, mimeType: mimeType, updatedAt: b.now()}
	return id, nil
}

// Get returns the content stored under contentID
func (b *Backend) Get(ctx context.Context, contentID string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[contentID]
	if !exists {
		return nil, &artisan.StorageError{Backend: "memory", ContentID: contentID, Op: "get", Err: artisan.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Stat returns metadata for the content stored under contentID
func (b *Backend) Stat(ctx context.Context, contentID string) (*artisan.ContentMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[contentID]
	if !exists {
		return nil, &artisan.StorageError{Backend: "memory", ContentID: contentID, Op: "stat", Err: artisan.ErrNotFound}
	}
	return &artisan.ContentMeta{
		ContentID: contentID,
		Size:      int64(len(obj.data)),
		MimeType:  obj.mimeType,
		UpdatedAt: obj.updatedAt,
	}, nil
}
