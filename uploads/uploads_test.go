package uploads

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/log"
	"github.com/ota-server/updateserver/mocks"
)

const testMetadataJSON = `{"fileMetadata":{"ios":{"assets":[],"bundle":"bundles/ios.js"}}}`

func buildArchive(t *testing.T, metadataJSON string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"app.json":      `{"expo":{"name":"demo"}}`,
		"package.json":  `{"dependencies":{}}`,
		"metadata.json": metadataJSON,
		"bundles/ios.js": "bundle-bytes",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestRegistry() (*Registry, *mocks.MetaStore, *mocks.BlobStore, clock.FakeClock) {
	clk := clock.NewFake()
	meta := mocks.NewMetaStore(clk)
	blob := mocks.NewBlobStore()
	cache := mocks.NewCacheStore()
	return New(meta, blob, cache, clk, log.NewMock()), meta, blob, clk
}

func TestIngestCreatesReadyUpload(t *testing.T) {
	r, meta, _, _ := newTestRegistry()
	ctx := context.Background()
	data := buildArchive(t, testMetadataJSON)

	upload, err := r.Ingest(ctx, IngestInput{
		Project:          "myapp",
		Version:          "1.0.0",
		ReleaseChannel:   "production",
		OriginalFilename: "archive.zip",
	}, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, upload.Status)

	stored, err := meta.GetUpload(ctx, upload.ID)
	require.NoError(t, err)
	assert.Equal(t, "myapp", stored.Project)
}

func TestIngestRejectsMalformedArchive(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	data := []byte("not a zip")
	_, err := r.Ingest(context.Background(), IngestInput{
		Project: "myapp", Version: "1.0.0", ReleaseChannel: "production", OriginalFilename: "a.zip",
	}, bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.Equal(t, berrors.Validation, berrors.TypeOf(err))
}

// ingestOne is a test helper that ingests one archive and advances the
// fake clock so consecutive uploads get distinct, increasing CreatedAt
// values (the release transition's sibling reordering depends on this).
func ingestOne(t *testing.T, r *Registry, clk clock.FakeClock, project, version, channel string) *core.Upload {
	t.Helper()
	data := buildArchive(t, testMetadataJSON)
	u, err := r.Ingest(context.Background(), IngestInput{
		Project: project, Version: version, ReleaseChannel: channel, OriginalFilename: "a.zip",
	}, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	clk.Add(time.Minute)
	return u
}

func TestReleaseEnforcesSingleReleasedPerProjectChannel(t *testing.T) {
	r, meta, _, clk := newTestRegistry()
	ctx := context.Background()

	first := ingestOne(t, r, clk, "myapp", "1.0.0", "production")
	second := ingestOne(t, r, clk, "myapp", "1.0.1", "production")

	_, err := r.Release(ctx, first.ID, "")
	require.NoError(t, err)

	result, err := r.Release(ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, core.StatusReleased, result.Upload.Status)

	reloadedFirst, err := meta.GetUpload(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusObsolete, reloadedFirst.Status)

	all, err := meta.ListUploadsByChannel(ctx, "myapp", "production")
	require.NoError(t, err)
	releasedCount := 0
	for _, u := range all {
		if u.Status == core.StatusReleased {
			releasedCount++
		}
	}
	assert.Equal(t, 1, releasedCount)
}

func TestReleaseRollbackDemotesNewerToReady(t *testing.T) {
	r, meta, _, clk := newTestRegistry()
	ctx := context.Background()

	first := ingestOne(t, r, clk, "myapp", "1.0.0", "production")
	second := ingestOne(t, r, clk, "myapp", "1.0.1", "production")

	_, err := r.Release(ctx, second.ID, "")
	require.NoError(t, err)

	// Rolling back to the older upload should demote "second" to ready,
	// not obsolete.
	_, err = r.Release(ctx, first.ID, "")
	require.NoError(t, err)

	reloadedSecond, err := meta.GetUpload(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReady, reloadedSecond.Status)

	reloadedFirst, err := meta.GetUpload(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReleased, reloadedFirst.Status)
}

func TestReleaseRejectsMismatchedProjectOnNamespacedRoute(t *testing.T) {
	r, _, _, clk := newTestRegistry()
	ctx := context.Background()
	upload := ingestOne(t, r, clk, "myapp", "1.0.0", "production")

	_, err := r.Release(ctx, upload.ID, "otherapp")
	require.Error(t, err)
	assert.Equal(t, berrors.NotFound, berrors.TypeOf(err))
}

func TestReleaseIsIsolatedPerChannel(t *testing.T) {
	r, meta, _, clk := newTestRegistry()
	ctx := context.Background()

	prod := ingestOne(t, r, clk, "myapp", "1.0.0", "production")
	staging := ingestOne(t, r, clk, "myapp", "1.0.0", "staging")

	_, err := r.Release(ctx, prod.ID, "")
	require.NoError(t, err)
	_, err = r.Release(ctx, staging.ID, "")
	require.NoError(t, err)

	reloadedProd, err := meta.GetUpload(ctx, prod.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReleased, reloadedProd.Status)

	reloadedStaging, err := meta.GetUpload(ctx, staging.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusReleased, reloadedStaging.Status)
}
