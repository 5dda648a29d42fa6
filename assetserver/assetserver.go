// Package assetserver implements the Asset Server: it streams bytes from
// Blob under a strict path policy (spec §4.7).
package assetserver

import (
	"context"
	"io"
	"strings"

	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
)

const defaultContentType = "application/octet-stream"

// Server implements the Asset Server against an injected BlobStore.
type Server struct {
	blob core.BlobStore
}

func New(blob core.BlobStore) *Server {
	return &Server{blob: blob}
}

// Asset is a resolved asset stream and the content type to serve it
// with; the caller (web) is responsible for copying Body to the response
// and closing it.
type Asset struct {
	Body        io.ReadCloser
	ContentType string
}

// CacheControl is the fixed header value for every asset response (spec
// §4.7): assets are content-addressed and never change once published.
const CacheControl = "public, max-age=31536000"

// ValidateKey rejects a blobKey that could escape the intended prefix:
// any ".." path segment, or a leading slash (spec §4.7).
func ValidateKey(blobKey string) error {
	if blobKey == "" {
		return berrors.BadRequestError("assetserver: missing asset key")
	}
	if strings.HasPrefix(blobKey, "/") {
		return berrors.ForbiddenPathError("assetserver: asset key must not be absolute")
	}
	for _, segment := range strings.Split(blobKey, "/") {
		if segment == ".." {
			return berrors.ForbiddenPathError("assetserver: asset key must not contain \"..\"")
		}
	}
	return nil
}

// Get resolves blobKey to its byte stream. contentType, if empty,
// defaults to application/octet-stream.
func (s *Server) Get(ctx context.Context, blobKey, contentType string) (*Asset, error) {
	if err := ValidateKey(blobKey); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	body, err := s.blob.Get(ctx, blobKey)
	if err != nil {
		return nil, err
	}
	return &Asset{Body: body, ContentType: contentType}, nil
}
