// Package uploads implements the Upload Registry & State Machine: upload
// ingestion, release transitions with rollback support, and the per-
// (project,channel) serialization required for release atomicity (spec
// §4.5, §5).
package uploads

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"

	"github.com/ota-server/updateserver/archive"
	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/log"
)

// IngestInput is the parsed request shape for POST /upload (spec §4.9).
type IngestInput struct {
	Project          string
	Version          string
	ReleaseChannel   string
	OriginalFilename string
	GitBranch        *string
	GitCommit        *string
}

// Registry implements the Upload Registry & State Machine against an
// injected MetaStore, BlobStore, and CacheStore.
type Registry struct {
	meta  core.MetaStore
	blob  core.BlobStore
	cache core.CacheStore
	clk   clock.Clock
	log   log.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(meta core.MetaStore, blob core.BlobStore, cache core.CacheStore, clk clock.Clock, logger log.Logger) *Registry {
	return &Registry{
		meta:  meta,
		blob:  blob,
		cache: cache,
		clk:   clk,
		log:   logger,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing release transitions for
// (project, channel). Implementations of MetaStore without multi-row
// transactions rely on this in-process mutex instead (spec §5).
func (r *Registry) lockFor(project, channel string) *sync.Mutex {
	key := project + "\x00" + channel
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// Ingest stores the archive, runs the Archive Extractor, and inserts the
// upload row in state ready (spec §4.9). The Extractor runs to full
// success before any Meta row is written; archive.Extract itself leaves
// no partial Meta state on failure.
func (r *Registry) Ingest(ctx context.Context, in IngestInput, archiveBody io.ReaderAt, size int64) (*core.Upload, error) {
	uploadID := uuid.New()
	archiveKey := fmt.Sprintf("uploads/%s/%s", uploadID, in.OriginalFilename)

	sectionReader, ok := archiveBody.(io.Reader)
	if !ok {
		return nil, berrors.InternalError("uploads: archive body does not support sequential read")
	}
	if err := r.blob.Put(ctx, archiveKey, sectionReader, size, "application/zip"); err != nil {
		return nil, err
	}

	result, err := archive.Extract(ctx, r.blob, archiveBody, size)
	if err != nil {
		return nil, err
	}

	now := r.clk.Now()
	upload := core.Upload{
		ID:                   uploadID,
		Project:              in.Project,
		Version:              in.Version,
		ReleaseChannel:       in.ReleaseChannel,
		Status:               core.StatusReady,
		Path:                 archiveKey,
		UpdateID:             result.UpdateID,
		AppDescriptor:        result.AppDescriptor,
		DependencyDescriptor: result.DependencyDescriptor,
		AssetMetadata:        result.AssetMetadata,
		OriginalFilename:     in.OriginalFilename,
		GitBranch:            in.GitBranch,
		GitCommit:            in.GitCommit,
		CreatedAt:            now,
	}

	if err := r.meta.CreateUpload(ctx, upload); err != nil {
		return nil, err
	}
	return &upload, nil
}

// ReleaseResult is returned to the HTTP surface for inclusion in the
// release response payload (spec §4.10).
type ReleaseResult struct {
	Upload  core.Upload
	Cleanup core.CleanupResult
}

// Release performs the release transition for uploadID (spec §4.5):
// it resolves the other uploads sharing (project, channel), reassigns
// their status by createdAt ordering, marks uploadID released, and
// invalidates the ios/android manifest cache entries. If expectedProject
// is non-empty (the namespaced route), a mismatch is a not-found error.
func (r *Registry) Release(ctx context.Context, uploadID uuid.UUID, expectedProject string) (*ReleaseResult, error) {
	upload, err := r.meta.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if expectedProject != "" && upload.Project != expectedProject {
		return nil, berrors.NotFoundError("uploads: upload %s does not belong to app %q", uploadID, expectedProject)
	}

	lock := r.lockFor(upload.Project, upload.ReleaseChannel)
	lock.Lock()
	defer lock.Unlock()

	siblings, err := r.meta.ListUploadsByChannel(ctx, upload.Project, upload.ReleaseChannel)
	if err != nil {
		return nil, err
	}

	for _, x := range siblings {
		if x.ID == upload.ID {
			continue
		}
		switch {
		case x.CreatedAt.Before(upload.CreatedAt):
			if x.Status != core.StatusObsolete {
				if err := r.meta.SetUploadStatus(ctx, x.ID, core.StatusObsolete, nil); err != nil {
					return nil, err
				}
			}
		case x.CreatedAt.After(upload.CreatedAt):
			if x.Status != core.StatusReady {
				if err := r.meta.SetUploadStatus(ctx, x.ID, core.StatusReady, nil); err != nil {
					return nil, err
				}
			}
		}
	}

	releasedAt := r.clk.Now()
	if err := r.meta.SetUploadStatus(ctx, upload.ID, core.StatusReleased, &releasedAt); err != nil {
		return nil, err
	}
	upload.Status = core.StatusReleased
	upload.ReleasedAt = &releasedAt

	for _, platform := range []string{"ios", "android"} {
		key := fmt.Sprintf("manifest:%s:%s:%s:%s", upload.Project, upload.Version, upload.ReleaseChannel, platform)
		if err := r.cache.Delete(ctx, key); err != nil {
			r.log.Warning("uploads: failed to invalidate cache key %q: %s", key, err)
		}
	}

	r.log.Audit("uploads: released upload %s for %s/%s", upload.ID, upload.Project, upload.ReleaseChannel)

	app, err := r.meta.GetApp(ctx, upload.Project)
	if err != nil && berrors.TypeOf(err) != berrors.NotFound {
		return nil, err
	}

	cleanupResult, err := Cleanup(ctx, r.meta, r.blob, app, upload.Project, upload.ReleaseChannel, r.clk, r.log)
	if err != nil {
		return nil, err
	}

	return &ReleaseResult{Upload: *upload, Cleanup: cleanupResult}, nil
}

func (r *Registry) List(ctx context.Context) ([]core.Upload, error) {
	return r.meta.ListUploads(ctx)
}
