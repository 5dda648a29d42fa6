package uploads

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ota-server/updateserver/core"
	"github.com/ota-server/updateserver/log"
	"github.com/ota-server/updateserver/mocks"
)

func TestCleanupIsNoOpWithoutApp(t *testing.T) {
	clk := clock.NewFake()
	meta := mocks.NewMetaStore(clk)
	blob := mocks.NewBlobStore()

	result, err := Cleanup(context.Background(), meta, blob, nil, "myapp", "production", clk, log.NewMock())
	require.NoError(t, err)
	assert.Equal(t, core.CleanupResult{}, result)
}

func TestCleanupIsNoOpWhenDisabled(t *testing.T) {
	clk := clock.NewFake()
	meta := mocks.NewMetaStore(clk)
	blob := mocks.NewBlobStore()
	app := &core.App{Slug: "myapp", AutoCleanupEnabled: false}

	result, err := Cleanup(context.Background(), meta, blob, app, "myapp", "production", clk, log.NewMock())
	require.NoError(t, err)
	assert.Equal(t, core.CleanupResult{}, result)
}

func TestCleanupRetainsCapAndDeletesOlderObsolete(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake()
	meta := mocks.NewMetaStore(clk)
	blob := mocks.NewBlobStore()
	app := &core.App{Slug: "myapp", AutoCleanupEnabled: true}

	const total = retentionCap + 5
	ids := make([]uuid.UUID, 0, total)
	for i := 0; i < total; i++ {
		updateID := uuid.New()
		u := core.Upload{
			ID:             uuid.New(),
			Project:        "myapp",
			ReleaseChannel: "production",
			Status:         core.StatusObsolete,
			Path:           "uploads/" + updateID.String() + "/archive.zip",
			UpdateID:       updateID,
			CreatedAt:      clk.Now(),
		}
		require.NoError(t, meta.CreateUpload(ctx, u))
		require.NoError(t, blob.Put(ctx, u.Path, bytes.NewReader(nil), 3, "application/zip"))
		require.NoError(t, blob.Put(ctx, "updates/"+updateID.String()+"/bundles/ios.js", bytes.NewReader(nil), 4, "application/javascript"))
		ids = append(ids, u.ID)
		clk.Add(time.Second)
	}

	result, err := Cleanup(ctx, meta, blob, app, "myapp", "production", clk, log.NewMock())
	require.NoError(t, err)
	assert.Equal(t, 5, result.DeletedCount)

	remaining, err := meta.ListUploadsByChannel(ctx, "myapp", "production")
	require.NoError(t, err)
	assert.Len(t, remaining, retentionCap)

	// The oldest 5 (created first, before the clock advanced) must be the
	// ones deleted; the most recent retentionCap must survive.
	for i, id := range ids {
		_, err := meta.GetUpload(ctx, id)
		if i < 5 {
			assert.Error(t, err, "expected oldest upload %d to be deleted", i)
		} else {
			assert.NoError(t, err, "expected upload %d to be retained", i)
		}
	}
}
