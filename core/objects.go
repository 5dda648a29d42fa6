// Package core holds the domain types shared across every component of the
// update-delivery engine, and the store interfaces (Meta, Blob, Cache) that
// decouple the engine from any particular database, object store, or cache
// implementation.
package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UploadStatus is the upload lifecycle state (spec §3, §4.5).
type UploadStatus string

const (
	StatusReady    UploadStatus = "ready"
	StatusReleased UploadStatus = "released"
	StatusObsolete UploadStatus = "obsolete"
)

// App is a registered project that may receive uploads and be served
// signed manifests.
type App struct {
	Slug        string
	Name        string
	Description string
	OwnerEmail  string `validate:"omitempty,email"`

	// CertificatePEM and PrivateKeyPEM are both nil or both set (spec §3
	// invariant); they hold the PEM Codec's normalized form.
	CertificatePEM *string
	PrivateKeyPEM  *string

	AutoCleanupEnabled bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CertificateConfigured reports whether both halves of the app's keypair
// are present.
func (a App) CertificateConfigured() bool {
	return a.CertificatePEM != nil && a.PrivateKeyPEM != nil
}

// CertificateStatus is the derived field returned by App Registry listings.
type CertificateStatus string

const (
	CertConfigured    CertificateStatus = "configured"
	CertNotConfigured CertificateStatus = "not_configured"
)

func (a App) DerivedCertificateStatus() CertificateStatus {
	if a.CertificateConfigured() {
		return CertConfigured
	}
	return CertNotConfigured
}

// AppStats is the aggregate upload statistics attached to a single-app Get
// (spec §4.8).
type AppStats struct {
	TotalUploads    int
	ReleasedUploads int
	LastUpdate      *time.Time
	LastRelease     *time.Time
}

// Upload is a single ingestion of an archive (spec §3).
type Upload struct {
	ID             uuid.UUID
	Project        string
	Version        string
	ReleaseChannel string
	Status         UploadStatus

	// Path is the Blob key of the original uploaded archive.
	Path string
	// UpdateID is the content-addressed identifier derived from the
	// archive's metadata.json (spec §4.3).
	UpdateID uuid.UUID

	// AppDescriptor is app.json's "expo" sub-object, verbatim.
	AppDescriptor json.RawMessage
	// DependencyDescriptor is package.json's "dependencies" sub-object,
	// verbatim.
	DependencyDescriptor json.RawMessage
	// AssetMetadata is metadata.json, retained verbatim for manifest
	// synthesis (spec §4.3, §4.4).
	AssetMetadata json.RawMessage

	OriginalFilename string
	GitBranch        *string
	GitCommit        *string

	CreatedAt  time.Time
	ReleasedAt *time.Time
}

// AssetMetadataFile is the shape of an upload's stored metadata.json,
// enough of it to drive Asset Descriptor Builder (spec §4.4). Boundary
// case: a platform key may be wholly absent (spec §9, multi-platform
// uploads are not validated at upload time).
type AssetMetadataFile struct {
	FileMetadata map[string]PlatformAssetMetadata `json:"fileMetadata"`
}

// PlatformAssetMetadata lists one platform's regular assets and its single
// launch (bundle) asset.
type PlatformAssetMetadata struct {
	Assets []AssetRef `json:"assets"`
	Bundle string     `json:"bundle"`
}

// AssetRef is one non-launch asset's relative path and file extension.
type AssetRef struct {
	Path string `json:"path"`
	Ext  string `json:"ext"`
}

// ManifestAssetDescriptor is one asset entry in a synthesized manifest
// (spec §4.4).
type ManifestAssetDescriptor struct {
	Hash          string `json:"hash"`
	Key           string `json:"key"`
	FileExtension string `json:"fileExtension"`
	ContentType   string `json:"contentType"`
	URL           string `json:"url"`
}

// Manifest is the synthesized, client-facing update manifest (spec §4.4,
// §4.6).
type Manifest struct {
	ID             uuid.UUID                 `json:"id"`
	CreatedAt      time.Time                 `json:"createdAt"`
	RuntimeVersion string                    `json:"runtimeVersion"`
	Assets         []ManifestAssetDescriptor `json:"assets"`
	LaunchAsset    ManifestAssetDescriptor   `json:"launchAsset"`
}

// Platform is the set of client platforms the Manifest Server and Asset
// Descriptor Builder recognize (spec §4.6).
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

func (p Platform) Valid() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// CleanupResult is returned by the Cleanup Coordinator (spec §4.10) for
// inclusion in the release response payload.
type CleanupResult struct {
	DeletedCount int   `json:"deletedCount"`
	FreedSpace   int64 `json:"freedSpace"`
}
