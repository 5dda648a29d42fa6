// Package archive implements the Archive Extractor: it streams a ZIP
// bundle, parses the three required JSON descriptors, derives the
// content-addressed update identifier, and fans every entry into Blob
// (spec §4.3).
package archive

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"

	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
)

func init() {
	// klauspost/compress's flate implementation is a drop-in faster
	// decompressor for the archive/zip deflate method.
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
}

const (
	appJSONName      = "app.json"
	packageJSONName  = "package.json"
	metadataJSONName = "metadata.json"
)

// Result is everything the Extractor derives from one archive, ready to
// be embedded into an Upload row.
type Result struct {
	UpdateID             uuid.UUID
	AppDescriptor        json.RawMessage
	DependencyDescriptor json.RawMessage
	AssetMetadata        json.RawMessage
}

// UUIDFromSHA256 reformats the first 32 hex characters of a hex digest
// into the canonical 8-4-4-4-12 UUID layout (spec §4.3).
func UUIDFromSHA256(hexDigest string) (uuid.UUID, error) {
	if len(hexDigest) < 32 {
		return uuid.UUID{}, berrors.InternalError("archive: digest too short for uuid derivation")
	}
	raw := hexDigest[:32]
	formatted := fmt.Sprintf("%s-%s-%s-%s-%s", raw[0:8], raw[8:12], raw[12:16], raw[16:20], raw[20:32])
	return uuid.Parse(formatted)
}

// Extract unpacks archiveReader (a size-byte ZIP), uploads every
// non-directory entry to Blob under updates/{updateId}/{relativePath},
// and returns the parsed descriptors. Required root entries: app.json,
// package.json, metadata.json; their absence or malformedness is a
// validation error and the Extractor leaves no partial Meta state (the
// caller inserts the Upload row only after Extract succeeds).
//
// Blob objects already written before a failure are not rolled back; they
// are unreferenced and left for out-of-band GC (spec §4.3).
func Extract(ctx context.Context, blob core.BlobStore, archiveReader io.ReaderAt, size int64) (*Result, error) {
	zr, err := zip.NewReader(archiveReader, size)
	if err != nil {
		return nil, berrors.ValidationError("archive: invalid or truncated zip: %s", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files[f.Name] = f
	}

	metadataBytes, err := readRequired(files, metadataJSONName)
	if err != nil {
		return nil, err
	}
	appBytes, err := readRequired(files, appJSONName)
	if err != nil {
		return nil, err
	}
	packageBytes, err := readRequired(files, packageJSONName)
	if err != nil {
		return nil, err
	}

	var appDoc struct {
		Expo json.RawMessage `json:"expo"`
	}
	if err := json.Unmarshal(appBytes, &appDoc); err != nil {
		return nil, berrors.ValidationError("archive: malformed app.json: %s", err)
	}

	var packageDoc struct {
		Dependencies json.RawMessage `json:"dependencies"`
	}
	if err := json.Unmarshal(packageBytes, &packageDoc); err != nil {
		return nil, berrors.ValidationError("archive: malformed package.json: %s", err)
	}

	var metadataProbe map[string]interface{}
	if err := json.Unmarshal(metadataBytes, &metadataProbe); err != nil {
		return nil, berrors.ValidationError("archive: malformed metadata.json: %s", err)
	}

	digest := sha256.Sum256(metadataBytes)
	updateID, err := UUIDFromSHA256(hex.EncodeToString(digest[:]))
	if err != nil {
		return nil, berrors.InternalError("archive: deriving update id: %s", err)
	}

	for name, f := range files {
		if err := putEntry(ctx, blob, updateID, name, f); err != nil {
			return nil, err
		}
	}

	return &Result{
		UpdateID:             updateID,
		AppDescriptor:        appDoc.Expo,
		DependencyDescriptor: packageDoc.Dependencies,
		AssetMetadata:        metadataBytes,
	}, nil
}

func readRequired(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, berrors.ValidationError("archive: required entry %q missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, berrors.ValidationError("archive: opening %q: %s", name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, berrors.ValidationError("archive: reading %q: %s", name, err)
	}
	return b, nil
}

func putEntry(ctx context.Context, blob core.BlobStore, updateID uuid.UUID, relativePath string, f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return berrors.ValidationError("archive: opening %q: %s", relativePath, err)
	}
	defer rc.Close()

	key := fmt.Sprintf("updates/%s/%s", updateID, strings.TrimPrefix(relativePath, "/"))
	if err := blob.Put(ctx, key, rc, int64(f.UncompressedSize64), contentTypeForName(relativePath)); err != nil {
		return berrors.InternalError("archive: writing %q to blob: %s", key, err)
	}
	return nil
}

func contentTypeForName(name string) string {
	if strings.HasSuffix(name, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
