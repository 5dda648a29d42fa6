// Package descriptor implements the Asset Descriptor Builder: for a given
// upload and platform, it reads asset bytes from Blob and computes the
// manifest's per-asset descriptors (spec §4.4).
package descriptor

import (
	"context"
	"crypto/md5" //nolint:gosec // spec-mandated asset key algorithm, not used for security
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
)

const launchAssetContentType = "application/javascript"
const defaultAssetContentType = "application/octet-stream"

// Build assembles the manifest record for (upload, platform): reads
// fileMetadata[platform] from the upload's stored metadata.json, fans out
// concurrent Blob reads for every asset plus the launch bundle, and
// returns the manifest with assets in the same order as the stored
// metadata (spec §4.4).
//
// Absence of the platform key is a not-found condition (spec §9 — no
// cross-platform validation is performed at upload time).
func Build(ctx context.Context, blob core.BlobStore, upload core.Upload, platform core.Platform, publicURL string) (*core.Manifest, error) {
	var meta core.AssetMetadataFile
	if err := json.Unmarshal(upload.AssetMetadata, &meta); err != nil {
		return nil, berrors.InternalError("descriptor: stored metadata.json is malformed: %s", err)
	}

	platformMeta, ok := meta.FileMetadata[string(platform)]
	if !ok {
		return nil, berrors.NotFoundError("descriptor: no metadata for platform %q", platform)
	}

	assets := make([]core.ManifestAssetDescriptor, len(platformMeta.Assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range platformMeta.Assets {
		i, ref := i, ref
		g.Go(func() error {
			d, err := buildOne(gctx, blob, upload.UpdateID, ref.Path, ref.Ext, false, publicURL)
			if err != nil {
				return err
			}
			assets[i] = d
			return nil
		})
	}

	var launch core.ManifestAssetDescriptor
	g.Go(func() error {
		d, err := buildOne(gctx, blob, upload.UpdateID, platformMeta.Bundle, "", true, publicURL)
		if err != nil {
			return err
		}
		launch = d
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &core.Manifest{
		ID:             upload.UpdateID,
		CreatedAt:      upload.CreatedAt,
		RuntimeVersion: upload.Version,
		Assets:         assets,
		LaunchAsset:    launch,
	}, nil
}

func buildOne(ctx context.Context, blob core.BlobStore, updateID uuid.UUID, path, ext string, isLaunch bool, publicURL string) (core.ManifestAssetDescriptor, error) {
	key := fmt.Sprintf("updates/%s/%s", updateID, path)
	rc, err := blob.Get(ctx, key)
	if err != nil {
		return core.ManifestAssetDescriptor{}, berrors.NotFoundError("descriptor: asset %q not found in blob: %s", key, err)
	}
	defer rc.Close()

	sha := sha256.New()
	md := md5.New() //nolint:gosec
	if _, err := io.Copy(io.MultiWriter(sha, md), rc); err != nil {
		return core.ManifestAssetDescriptor{}, berrors.InternalError("descriptor: reading asset %q: %s", key, err)
	}

	hash := base64.RawURLEncoding.EncodeToString(sha.Sum(nil))
	assetKey := hex.EncodeToString(md.Sum(nil))

	fileExt := ext
	contentType := defaultAssetContentType
	if isLaunch {
		fileExt = "bundle"
		contentType = launchAssetContentType
	}

	assetURL := fmt.Sprintf("%s/assets?asset=%s&contentType=%s",
		publicURL, url.QueryEscape(key), url.QueryEscape(contentType))

	return core.ManifestAssetDescriptor{
		Hash:          hash,
		Key:           assetKey,
		FileExtension: "." + fileExt,
		ContentType:   contentType,
		URL:           assetURL,
	}, nil
}
