// Package apps implements the App Registry: app lifecycle operations
// (create, attach certificate, update settings, list, get-with-stats,
// delete-with-cascade) per spec §4.8.
package apps

import (
	"context"
	"regexp"

	validator "github.com/letsencrypt/validator/v10"

	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/log"
	"github.com/ota-server/updateserver/pemutil"

	"github.com/jmhodges/clock"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = validator.New()

// CreateInput is the request shape for registering an app.
type CreateInput struct {
	Slug        string `validate:"required"`
	Name        string
	Description string
	OwnerEmail  string `validate:"omitempty,email"`
}

// Registry implements the App Registry against an injected MetaStore,
// BlobStore (for cascade deletion of owned assets), and CacheStore (for
// invalidating cached manifests on delete).
type Registry struct {
	meta  core.MetaStore
	blob  core.BlobStore
	cache core.CacheStore
	clk   clock.Clock
	log   log.Logger
}

func New(meta core.MetaStore, blob core.BlobStore, cache core.CacheStore, clk clock.Clock, logger log.Logger) *Registry {
	return &Registry{meta: meta, blob: blob, cache: cache, clk: clk, log: logger}
}

// Create registers a new app. Rejects a malformed slug, an invalid email,
// or a duplicate slug (conflict).
func (r *Registry) Create(ctx context.Context, in CreateInput) (*core.App, error) {
	if !slugPattern.MatchString(in.Slug) {
		return nil, berrors.BadRequestError("apps: slug %q does not match ^[A-Za-z0-9_-]+$", in.Slug)
	}
	if err := validate.Struct(in); err != nil {
		return nil, berrors.BadRequestError("apps: invalid input: %s", err)
	}

	now := r.clk.Now()
	app := core.App{
		Slug:               in.Slug,
		Name:               in.Name,
		Description:        in.Description,
		OwnerEmail:         in.OwnerEmail,
		AutoCleanupEnabled: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.meta.CreateApp(ctx, app); err != nil {
		return nil, err
	}
	return &app, nil
}

// AttachCertificate runs the PEM Codec over both PEMs and stores them.
func (r *Registry) AttachCertificate(ctx context.Context, slug, certPEM, keyPEM string) (*core.App, error) {
	app, err := r.meta.GetApp(ctx, slug)
	if err != nil {
		return nil, err
	}

	normalizedCert, err := pemutil.NormalizeCertificate(certPEM)
	if err != nil {
		return nil, err
	}
	normalizedKey, err := pemutil.NormalizePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	app.CertificatePEM = &normalizedCert
	app.PrivateKeyPEM = &normalizedKey
	app.UpdatedAt = r.clk.Now()

	if err := r.meta.UpdateApp(ctx, *app); err != nil {
		return nil, err
	}
	return app, nil
}

// UpdateSettings currently covers only autoCleanupEnabled (spec §4.8).
func (r *Registry) UpdateSettings(ctx context.Context, slug string, autoCleanupEnabled bool) (*core.App, error) {
	app, err := r.meta.GetApp(ctx, slug)
	if err != nil {
		return nil, err
	}
	app.AutoCleanupEnabled = autoCleanupEnabled
	app.UpdatedAt = r.clk.Now()
	if err := r.meta.UpdateApp(ctx, *app); err != nil {
		return nil, err
	}
	return app, nil
}

// ListItem is one row of the app listing, with the derived certificate
// status.
type ListItem struct {
	core.App
	CertificateStatus core.CertificateStatus
}

func (r *Registry) List(ctx context.Context) ([]ListItem, error) {
	all, err := r.meta.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ListItem, 0, len(all))
	for _, a := range all {
		out = append(out, ListItem{App: a, CertificateStatus: a.DerivedCertificateStatus()})
	}
	return out, nil
}

// Detail is a single app plus aggregate upload statistics (spec §4.8
// Get).
type Detail struct {
	core.App
	CertificateStatus core.CertificateStatus
	Stats             core.AppStats
}

func (r *Registry) Get(ctx context.Context, slug string) (*Detail, error) {
	app, err := r.meta.GetApp(ctx, slug)
	if err != nil {
		return nil, err
	}
	stats, err := r.meta.UploadStats(ctx, slug)
	if err != nil {
		return nil, err
	}
	return &Detail{App: *app, CertificateStatus: app.DerivedCertificateStatus(), Stats: stats}, nil
}

// wellKnownChannels and platforms are invalidated on every app delete,
// since the exact set of channels an app used may no longer be
// enumerable once its upload rows are gone (spec §4.8).
var wellKnownChannels = []string{"production", "staging", "development"}
var wellKnownPlatforms = []string{"ios", "android"}

// Delete cascades: enumerates every upload for slug, best-effort deletes
// their Blob objects, removes the upload rows, invalidates the cache
// across every well-known (channel, platform) pair, then removes the app
// row. Blob deletion failures are logged but not fatal.
func (r *Registry) Delete(ctx context.Context, slug string) error {
	uploads, err := r.meta.ListUploads(ctx)
	if err != nil {
		return err
	}

	cascaded := 0
	for _, u := range uploads {
		if u.Project != slug {
			continue
		}
		if err := r.blob.Delete(ctx, u.Path); err != nil {
			r.log.Warning("apps: cascade: failed to delete archive blob %q for upload %s: %s", u.Path, u.ID, err)
		}
		if err := r.blob.DeletePrefix(ctx, "updates/"+u.UpdateID.String()+"/"); err != nil {
			r.log.Warning("apps: cascade: failed to delete asset prefix for update %s: %s", u.UpdateID, err)
		}
		if err := r.meta.DeleteUpload(ctx, u.ID); err != nil {
			return err
		}
		cascaded++
	}

	for _, version := range versionsInPlay(uploads, slug) {
		for _, ch := range wellKnownChannels {
			for _, pl := range wellKnownPlatforms {
				key := "manifest:" + slug + ":" + version + ":" + ch + ":" + pl
				if err := r.cache.Delete(ctx, key); err != nil {
					r.log.Warning("apps: cascade: failed to invalidate cache key %q: %s", key, err)
				}
			}
		}
	}

	r.log.Audit("apps: deleted app %q, cascaded %d uploads", slug, cascaded)
	return r.meta.DeleteApp(ctx, slug)
}

func versionsInPlay(uploads []core.Upload, slug string) []string {
	seen := map[string]bool{}
	var out []string
	for _, u := range uploads {
		if u.Project != slug || seen[u.Version] {
			continue
		}
		seen[u.Version] = true
		out = append(out, u.Version)
	}
	return out
}
