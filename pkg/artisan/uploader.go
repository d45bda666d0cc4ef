package artisan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Uploader writes images and metadata documents to a content store.
type Uploader struct {
	store ContentStore
	now   func() time.Time
}

// UploaderOption configures an Uploader
type UploaderOption func(*Uploader)

// WithClock sets the clock used for the creation timestamp attribute
func WithClock(now func() time.Time) UploaderOption {
	return func(u *Uploader) {
		u.now = now
	}
}

// NewUploader creates an Uploader writing to store
func NewUploader(store ContentStore, opts ...UploaderOption) (*Uploader, error) {
	if store == nil {
		return nil, errors.New("content store is required")
	}
	u := &Uploader{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// MetadataInput holds the user-supplied fields of a metadata document
type MetadataInput struct {
	Name           string
	Description    string
	Image          string
	Materials      string
	CreatorDetails string
}

// NewMetadataDescriptor builds the canonical descriptor. Attribute order is
// fixed: materials, creator details, creation timestamp.
func NewMetadataDescriptor(in MetadataInput, createdAt time.Time) MetadataDescriptor {
	return MetadataDescriptor{
		Name:        in.Name,
		Description: in.Description,
		Image:       in.Image,
		Attributes: []Attribute{
			{TraitType: TraitMaterials, Value: in.Materials},
			{TraitType: TraitArtisan, Value: in.CreatorDetails},
			{TraitType: TraitCreationDate, Value: createdAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")},
		},
	}
}

// UploadBlob writes raw bytes and returns their content identifier.
func (u *Uploader) UploadBlob(ctx context.Context, data []byte, mimeType string) (string, error) {
	id, err := u.store.Put(ctx, bytes.NewReader(data), PutParams{MimeType: mimeType})
	if err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}
	return id, nil
}

// UploadMetadata builds the descriptor for in, stamping the creation time at
// upload, writes it as JSON and returns the descriptor and its content id.
func (u *Uploader) UploadMetadata(ctx context.Context, in MetadataInput) (string, MetadataDescriptor, error) {
	d := NewMetadataDescriptor(in, u.now())
	id, err := u.UploadDescriptor(ctx, d)
	return id, d, err
}

// UploadDescriptor serializes an already-built descriptor and writes it.
func (u *Uploader) UploadDescriptor(ctx context.Context, d MetadataDescriptor) (string, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	id, err := u.store.Put(ctx, bytes.NewReader(payload), PutParams{MimeType: "application/json", Name: "metadata.json"})
	if err != nil {
		return "", fmt.Errorf("upload metadata: %w", err)
	}
	return id, nil
}
