package descriptor

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // test expects the same asset-key algorithm as the implementation
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ota-server/updateserver/assetserver"
	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/mocks"
)

func TestBuildProducesAssetsInMetadataOrder(t *testing.T) {
	ctx := context.Background()
	blob := mocks.NewBlobStore()
	updateID := uuid.New()

	assetA := []byte("asset-a-bytes")
	assetB := []byte("asset-b-bytes")
	bundle := []byte("bundle-bytes")

	require.NoError(t, blob.Put(ctx, "updates/"+updateID.String()+"/assets/a.png", bytes.NewReader(assetA), int64(len(assetA)), "image/png"))
	require.NoError(t, blob.Put(ctx, "updates/"+updateID.String()+"/assets/b.png", bytes.NewReader(assetB), int64(len(assetB)), "image/png"))
	require.NoError(t, blob.Put(ctx, "updates/"+updateID.String()+"/bundles/ios.js", bytes.NewReader(bundle), int64(len(bundle)), "application/javascript"))

	upload := core.Upload{
		UpdateID:      updateID,
		Version:       "1.0.0",
		CreatedAt:     time.Unix(0, 0).UTC(),
		AssetMetadata: []byte(`{"fileMetadata":{"ios":{"assets":[{"path":"assets/a.png","ext":"png"},{"path":"assets/b.png","ext":"png"}],"bundle":"bundles/ios.js"}}}`),
	}

	manifest, err := Build(ctx, blob, upload, core.PlatformIOS, "https://updates.example.com")
	require.NoError(t, err)

	require.Len(t, manifest.Assets, 2)
	assert.Equal(t, expectedKey(assetA), manifest.Assets[0].Key)
	assert.Equal(t, expectedKey(assetB), manifest.Assets[1].Key)
	assert.Equal(t, ".png", manifest.Assets[0].FileExtension)

	assert.Equal(t, expectedKey(bundle), manifest.LaunchAsset.Key)
	assert.Equal(t, ".bundle", manifest.LaunchAsset.FileExtension)
	assert.Equal(t, "application/javascript", manifest.LaunchAsset.ContentType)
	assert.Equal(t, expectedHash(bundle), manifest.LaunchAsset.Hash)

	assert.Equal(t, updateID, manifest.ID)
	assert.Equal(t, "1.0.0", manifest.RuntimeVersion)

	// The url's asset param must be the Blob key the Asset Server actually
	// resolves (updates/{updateID}/{path}), not the MD5 key: the two are
	// unrelated strings and only the former exists in Blob (spec §4.7, §8
	// asset-hash-agreement).
	assetABlobKey := "updates/" + updateID.String() + "/assets/a.png"
	bundleBlobKey := "updates/" + updateID.String() + "/bundles/ios.js"
	assert.Contains(t, manifest.Assets[0].URL, "asset="+url.QueryEscape(assetABlobKey))
	assert.Contains(t, manifest.LaunchAsset.URL, "asset="+url.QueryEscape(bundleBlobKey))

	// Round-trip: whatever the url's asset param resolves to via the Asset
	// Server must hash back to the descriptor's own hash.
	assertRoundTripsToHash(t, blob, manifest.Assets[0], assetA)
	assertRoundTripsToHash(t, blob, manifest.LaunchAsset, bundle)
}

// assertRoundTripsToHash parses d.URL's "asset" query parameter, resolves it
// through the Asset Server exactly as a client would, and confirms the
// returned bytes hash to d.Hash (spec §8 asset-hash-agreement invariant).
func assertRoundTripsToHash(t *testing.T, blob core.BlobStore, d core.ManifestAssetDescriptor, want []byte) {
	t.Helper()
	parsed, err := url.Parse(d.URL)
	require.NoError(t, err)
	assetParam := parsed.Query().Get("asset")
	require.NotEmpty(t, assetParam)

	s := assetserver.New(blob)
	asset, err := s.Get(context.Background(), assetParam, d.ContentType)
	require.NoError(t, err)
	defer asset.Body.Close()

	data, err := io.ReadAll(asset.Body)
	require.NoError(t, err)
	assert.Equal(t, want, data)
	assert.Equal(t, expectedHash(data), d.Hash)
}

func TestBuildReturnsNotFoundForMissingPlatform(t *testing.T) {
	ctx := context.Background()
	blob := mocks.NewBlobStore()
	upload := core.Upload{
		UpdateID:      uuid.New(),
		AssetMetadata: []byte(`{"fileMetadata":{"ios":{"assets":[],"bundle":"bundles/ios.js"}}}`),
	}

	_, err := Build(ctx, blob, upload, core.PlatformAndroid, "https://updates.example.com")
	require.Error(t, err)
	assert.Equal(t, berrors.NotFound, berrors.TypeOf(err))
}

func TestBuildReturnsNotFoundForMissingAsset(t *testing.T) {
	ctx := context.Background()
	blob := mocks.NewBlobStore()
	upload := core.Upload{
		UpdateID:      uuid.New(),
		AssetMetadata: []byte(`{"fileMetadata":{"ios":{"assets":[{"path":"assets/missing.png","ext":"png"}],"bundle":"bundles/ios.js"}}}`),
	}

	_, err := Build(ctx, blob, upload, core.PlatformIOS, "https://updates.example.com")
	require.Error(t, err)
	assert.Equal(t, berrors.NotFound, berrors.TypeOf(err))
}

func expectedKey(content []byte) string {
	sum := md5.Sum(content) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func expectedHash(content []byte) string {
	sum := sha256.Sum256(content)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
