package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/mocks"
)

const testMetadataJSON = `{"fileMetadata":{"ios":{"assets":[{"path":"assets/icon.png","ext":"png"}],"bundle":"bundles/ios.js"}}}`
const testAppJSON = `{"expo":{"name":"demo"}}`
const testPackageJSON = `{"dependencies":{"expo":"^50.0.0"}}`

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractSuccess(t *testing.T) {
	entries := map[string]string{
		appJSONName:      testAppJSON,
		packageJSONName:  testPackageJSON,
		metadataJSONName: testMetadataJSON,
		"assets/icon.png": "fake-png-bytes",
		"bundles/ios.js":  "fake-bundle-bytes",
	}
	data := buildZip(t, entries)
	blob := mocks.NewBlobStore()

	result, err := Extract(context.Background(), blob, bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	digest := sha256.Sum256([]byte(testMetadataJSON))
	wantID, err := UUIDFromSHA256(hex.EncodeToString(digest[:]))
	require.NoError(t, err)
	assert.Equal(t, wantID, result.UpdateID)

	assert.JSONEq(t, `{"name":"demo"}`, string(result.AppDescriptor))
	assert.JSONEq(t, `{"expo":"^50.0.0"}`, string(result.DependencyDescriptor))
	assert.JSONEq(t, testMetadataJSON, string(result.AssetMetadata))

	ok, err := blob.Exists(context.Background(), "updates/"+result.UpdateID.String()+"/assets/icon.png")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = blob.Exists(context.Background(), "updates/"+result.UpdateID.String()+"/bundles/ios.js")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExtractIsDeterministicForIdenticalMetadata(t *testing.T) {
	entries := map[string]string{
		appJSONName:      testAppJSON,
		packageJSONName:  testPackageJSON,
		metadataJSONName: testMetadataJSON,
		"bundles/ios.js":  "bundle-a",
	}
	data1 := buildZip(t, entries)
	data2 := buildZip(t, entries)
	blob := mocks.NewBlobStore()

	r1, err := Extract(context.Background(), blob, bytes.NewReader(data1), int64(len(data1)))
	require.NoError(t, err)
	r2, err := Extract(context.Background(), blob, bytes.NewReader(data2), int64(len(data2)))
	require.NoError(t, err)

	assert.Equal(t, r1.UpdateID, r2.UpdateID)
}

func TestExtractRejectsMissingRequiredEntry(t *testing.T) {
	entries := map[string]string{
		appJSONName:     testAppJSON,
		packageJSONName: testPackageJSON,
	}
	data := buildZip(t, entries)
	blob := mocks.NewBlobStore()

	_, err := Extract(context.Background(), blob, bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.Equal(t, berrors.Validation, berrors.TypeOf(err))
}

func TestExtractRejectsMalformedZip(t *testing.T) {
	blob := mocks.NewBlobStore()
	garbage := []byte("not a zip file")
	_, err := Extract(context.Background(), blob, bytes.NewReader(garbage), int64(len(garbage)))
	require.Error(t, err)
	assert.Equal(t, berrors.Validation, berrors.TypeOf(err))
}

func TestUUIDFromSHA256IsStableAndFormatted(t *testing.T) {
	digest := sha256.Sum256([]byte("hello"))
	id, err := UUIDFromSHA256(hex.EncodeToString(digest[:]))
	require.NoError(t, err)
	assert.Len(t, id.String(), 36)

	id2, err := UUIDFromSHA256(hex.EncodeToString(digest[:]))
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}
