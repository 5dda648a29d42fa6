// Package manifest implements the Manifest Server: it resolves
// (project, version, channel, platform) to a manifest, optionally signs
// it, caches the result, and emits a multipart/mixed response (spec
// §4.6, §6).
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	"github.com/ota-server/updateserver/core"
	"github.com/ota-server/updateserver/descriptor"
	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/log"
	"github.com/ota-server/updateserver/signer"
)

// cacheTTLSeconds is the synthesized-manifest cache lifetime (spec §4.6
// step 6).
const cacheTTLSeconds = 300

// Request is the parsed set of coordinates read from query parameters or
// expo-* headers (spec §4.6).
type Request struct {
	Project         string
	Platform        core.Platform
	Version         string
	Channel         string
	ExpectSignature bool
}

// Response carries the manifest JSON bytes and, if signed, the
// structured-headers signature value to attach as a part header.
type Response struct {
	ManifestJSON    []byte
	SignatureHeader string // empty if unsigned
}

// Server implements the Manifest Server.
type Server struct {
	meta      core.MetaStore
	blob      core.BlobStore
	cache     core.CacheStore
	clk       clock.Clock
	log       log.Logger
	publicURL string
}

func New(meta core.MetaStore, blob core.BlobStore, cache core.CacheStore, clk clock.Clock, logger log.Logger, publicURL string) *Server {
	return &Server{meta: meta, blob: blob, cache: cache, clk: clk, log: logger, publicURL: publicURL}
}

// cacheEntry is the shape persisted in Cache under the manifest key.
type cacheEntry struct {
	Manifest  json.RawMessage `json:"manifest"`
	Signature string          `json:"signature,omitempty"`
}

func cacheKey(project, version, channel string, platform core.Platform) string {
	return fmt.Sprintf("manifest:%s:%s:%s:%s", project, version, channel, platform)
}

// Resolve runs the algorithm in spec §4.6: cache lookup, released-upload
// resolution, descriptor build, optional signing, cache store.
func (s *Server) Resolve(ctx context.Context, req Request) (*Response, error) {
	if !req.Platform.Valid() {
		return nil, berrors.BadRequestError("manifest: platform must be ios or android")
	}

	key := cacheKey(req.Project, req.Version, req.Channel, req.Platform)

	if cached, hit, err := s.cache.Get(ctx, key); err == nil && hit {
		var entry cacheEntry
		if err := json.Unmarshal(cached, &entry); err == nil {
			return &Response{
				ManifestJSON:    entry.Manifest,
				SignatureHeader: signatureHeaderOrEmpty(entry.Signature),
			}, nil
		}
		s.log.Warning("manifest: discarding corrupt cache entry %q", key)
	}

	upload, err := s.meta.FindReleasedUpload(ctx, req.Project, req.Channel)
	if err != nil {
		return nil, err
	}
	if upload == nil || upload.Version != req.Version {
		return nil, berrors.NotFoundError("manifest: no released upload for %s/%s/%s/%s", req.Project, req.Version, req.Channel, req.Platform)
	}

	app, err := s.meta.GetApp(ctx, req.Project)
	if err != nil {
		if berrors.TypeOf(err) != berrors.NotFound {
			return nil, err
		}
		app = nil
	}

	built, err := descriptor.Build(ctx, s.blob, *upload, req.Platform, s.publicURL)
	if err != nil {
		return nil, err
	}

	manifestJSON, err := json.Marshal(built)
	if err != nil {
		return nil, berrors.InternalError("manifest: marshaling manifest: %s", err)
	}

	var sigB64 string
	if req.ExpectSignature {
		if app == nil || app.PrivateKeyPEM == nil {
			return nil, berrors.ConfigError("manifest: signing requested but app %q has no private key configured", req.Project)
		}
		rsaKey, err := signer.ParsePKCS8RSAKey(*app.PrivateKeyPEM)
		if err != nil {
			// The stored key is server-side configuration, not client input.
			return nil, berrors.ConfigError("manifest: app %q signing key is unusable: %s", req.Project, err)
		}
		sigB64, err = signer.Sign(rsaKey, manifestJSON)
		if err != nil {
			return nil, err
		}
	}

	entry := cacheEntry{Manifest: manifestJSON, Signature: sigB64}
	if entryBytes, err := json.Marshal(entry); err == nil {
		if err := s.cache.Set(ctx, key, entryBytes, cacheTTLSeconds*time.Second); err != nil {
			s.log.Warning("manifest: failed to cache %q: %s", key, err)
		}
	}

	return &Response{ManifestJSON: manifestJSON, SignatureHeader: signatureHeaderOrEmpty(sigB64)}, nil
}

func signatureHeaderOrEmpty(sigB64 string) string {
	if sigB64 == "" {
		return ""
	}
	return signer.Header(sigB64)
}
