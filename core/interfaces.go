package core

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// AppStore is the App Registry's persistence boundary.
type AppStore interface {
	GetApp(ctx context.Context, slug string) (*App, error)
	ListApps(ctx context.Context) ([]App, error)
	CreateApp(ctx context.Context, app App) error
	UpdateApp(ctx context.Context, app App) error
	DeleteApp(ctx context.Context, slug string) error
}

// UploadStore is the Upload Registry & State Machine's persistence
// boundary.
type UploadStore interface {
	GetUpload(ctx context.Context, id uuid.UUID) (*Upload, error)
	ListUploads(ctx context.Context) ([]Upload, error)
	ListUploadsByChannel(ctx context.Context, project, channel string) ([]Upload, error)
	// FindReleasedUpload returns the currently released upload for a
	// (project, channel), or nil if none is released.
	FindReleasedUpload(ctx context.Context, project, channel string) (*Upload, error)
	CreateUpload(ctx context.Context, upload Upload) error
	// SetUploadStatus transitions a single upload's status, stamping
	// releasedAt when transitioning into StatusReleased.
	SetUploadStatus(ctx context.Context, id uuid.UUID, status UploadStatus, releasedAt *time.Time) error
	DeleteUpload(ctx context.Context, id uuid.UUID) error
	UploadStats(ctx context.Context, project string) (AppStats, error)
}

// MetaStore is the aggregate relational store: apps and uploads. A single
// implementation backs both halves so that release transitions (which
// touch only the uploads table) and app lookups share one connection
// pool.
type MetaStore interface {
	AppStore
	UploadStore
}

// BlobStore is the object-storage boundary for archives and their
// extracted assets (spec §2, §4.3).
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get returns a ReadCloser for key's contents; callers must Close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object whose key has the given prefix,
	// used by the Cleanup Coordinator (§4.10) to remove an obsolete
	// upload's extracted assets in one call.
	DeletePrefix(ctx context.Context, prefix string) error
	Exists(ctx context.Context, key string) (bool, error)
	// PrefixSize sums the byte size of every object under prefix, used by
	// the Cleanup Coordinator to report freedSpace.
	PrefixSize(ctx context.Context, prefix string) (int64, error)
}

// CacheStore is the synthesized-manifest cache boundary (spec §4.6).
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
