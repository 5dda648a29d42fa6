// Package mocks provides in-memory fakes of core.MetaStore, core.BlobStore,
// and core.CacheStore for tests, in the shape of the teacher's mocks
// package: a small struct implementing the real interface, constructed
// with a clock.
package mocks

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
)

// MetaStore is an in-memory core.MetaStore.
type MetaStore struct {
	clk clock.Clock

	mu      sync.Mutex
	apps    map[string]core.App
	uploads map[uuid.UUID]core.Upload
}

func NewMetaStore(clk clock.Clock) *MetaStore {
	return &MetaStore{
		clk:     clk,
		apps:    make(map[string]core.App),
		uploads: make(map[uuid.UUID]core.Upload),
	}
}

func (m *MetaStore) GetApp(_ context.Context, slug string) (*core.App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[slug]
	if !ok {
		return nil, berrors.NotFoundError("mocks: app %q not found", slug)
	}
	return &a, nil
}

func (m *MetaStore) ListApps(context.Context) ([]core.App, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.App, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *MetaStore) CreateApp(_ context.Context, app core.App) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.Slug]; ok {
		return berrors.ConflictError("mocks: app %q already exists", app.Slug)
	}
	m.apps[app.Slug] = app
	return nil
}

func (m *MetaStore) UpdateApp(_ context.Context, app core.App) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.Slug]; !ok {
		return berrors.NotFoundError("mocks: app %q not found", app.Slug)
	}
	m.apps[app.Slug] = app
	return nil
}

func (m *MetaStore) DeleteApp(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.apps, slug)
	return nil
}

func (m *MetaStore) GetUpload(_ context.Context, id uuid.UUID) (*core.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, berrors.NotFoundError("mocks: upload %q not found", id)
	}
	return &u, nil
}

func (m *MetaStore) ListUploads(context.Context) ([]core.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Upload, 0, len(m.uploads))
	for _, u := range m.uploads {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MetaStore) ListUploadsByChannel(_ context.Context, project, channel string) ([]core.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Upload
	for _, u := range m.uploads {
		if u.Project == project && u.ReleaseChannel == channel {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MetaStore) FindReleasedUpload(_ context.Context, project, channel string) (*core.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *core.Upload
	for i := range m.uploads {
		u := m.uploads[i]
		if u.Project != project || u.ReleaseChannel != channel || u.Status != core.StatusReleased {
			continue
		}
		if best == nil || u.CreatedAt.After(best.CreatedAt) {
			uCopy := u
			best = &uCopy
		}
	}
	return best, nil
}

func (m *MetaStore) CreateUpload(_ context.Context, upload core.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[upload.ID]; ok {
		return berrors.ConflictError("mocks: upload %q already exists", upload.ID)
	}
	m.uploads[upload.ID] = upload
	return nil
}

func (m *MetaStore) SetUploadStatus(_ context.Context, id uuid.UUID, status core.UploadStatus, releasedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return berrors.NotFoundError("mocks: upload %q not found", id)
	}
	u.Status = status
	u.ReleasedAt = releasedAt
	m.uploads[id] = u
	return nil
}

func (m *MetaStore) DeleteUpload(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, id)
	return nil
}

func (m *MetaStore) UploadStats(_ context.Context, project string) (core.AppStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats core.AppStats
	for _, u := range m.uploads {
		if u.Project != project {
			continue
		}
		stats.TotalUploads++
		if u.Status == core.StatusReleased {
			stats.ReleasedUploads++
		}
		if stats.LastUpdate == nil || u.CreatedAt.After(*stats.LastUpdate) {
			t := u.CreatedAt
			stats.LastUpdate = &t
		}
		if u.ReleasedAt != nil && (stats.LastRelease == nil || u.ReleasedAt.After(*stats.LastRelease)) {
			t := *u.ReleasedAt
			stats.LastRelease = &t
		}
	}
	return stats, nil
}

// BlobStore is an in-memory core.BlobStore.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string][]byte)}
}

func (b *BlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return berrors.InternalError("mocks: reading blob body for %q: %s", key, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *BlobStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, berrors.NotFoundError("mocks: blob %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *BlobStore) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *BlobStore) DeletePrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			delete(b.objects, k)
		}
	}
	return nil
}

func (b *BlobStore) PrefixSize(_ context.Context, prefix string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for k, v := range b.objects {
		if strings.HasPrefix(k, prefix) {
			total += int64(len(v))
		}
	}
	return total, nil
}

func (b *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

// HasPrefix reports whether any stored key begins with prefix; a test
// helper for asserting cascade deletion left no orphaned keys.
func (b *BlobStore) HasPrefix(prefix string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// CacheStore is an in-memory core.CacheStore with no TTL expiry (tests
// assert on presence/absence of keys directly, not timing).
type CacheStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

func NewCacheStore() *CacheStore {
	return &CacheStore{values: make(map[string][]byte)}
}

func (c *CacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *CacheStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *CacheStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}
