package assetserver

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/mocks"
)

func TestValidateKeyRejectsEmpty(t *testing.T) {
	err := ValidateKey("")
	require.Error(t, err)
	assert.Equal(t, berrors.BadRequest, berrors.TypeOf(err))
}

func TestValidateKeyRejectsLeadingSlash(t *testing.T) {
	err := ValidateKey("/etc/passwd")
	require.Error(t, err)
	assert.Equal(t, berrors.ForbiddenPath, berrors.TypeOf(err))
}

func TestValidateKeyRejectsDotDotSegment(t *testing.T) {
	err := ValidateKey("updates/abc/../../../etc/passwd")
	require.Error(t, err)
	assert.Equal(t, berrors.ForbiddenPath, berrors.TypeOf(err))
}

func TestValidateKeyAcceptsOrdinaryKey(t *testing.T) {
	assert.NoError(t, ValidateKey("updates/abc-123/assets/a.png"))
}

func TestGetDefaultsContentType(t *testing.T) {
	ctx := context.Background()
	blob := mocks.NewBlobStore()
	require.NoError(t, blob.Put(ctx, "updates/abc/assets/a.bin", bytes.NewReader([]byte("data")), 4, ""))

	s := New(blob)
	asset, err := s.Get(ctx, "updates/abc/assets/a.bin", "")
	require.NoError(t, err)
	defer asset.Body.Close()

	assert.Equal(t, "application/octet-stream", asset.ContentType)
	data, err := io.ReadAll(asset.Body)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestGetPreservesExplicitContentType(t *testing.T) {
	ctx := context.Background()
	blob := mocks.NewBlobStore()
	require.NoError(t, blob.Put(ctx, "updates/abc/assets/a.png", bytes.NewReader([]byte("png-bytes")), 9, "image/png"))

	s := New(blob)
	asset, err := s.Get(ctx, "updates/abc/assets/a.png", "image/png")
	require.NoError(t, err)
	defer asset.Body.Close()
	assert.Equal(t, "image/png", asset.ContentType)
}

func TestGetRejectsEscapingKeyBeforeTouchingBlob(t *testing.T) {
	s := New(mocks.NewBlobStore())
	_, err := s.Get(context.Background(), "../../etc/passwd", "")
	require.Error(t, err)
	assert.Equal(t, berrors.ForbiddenPath, berrors.TypeOf(err))
}

func TestGetReturnsNotFoundForMissingKey(t *testing.T) {
	s := New(mocks.NewBlobStore())
	_, err := s.Get(context.Background(), "updates/missing/assets/a.png", "")
	require.Error(t, err)
	assert.Equal(t, berrors.NotFound, berrors.TypeOf(err))
}
