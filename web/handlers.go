package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/ota-server/updateserver/apps"
	"github.com/ota-server/updateserver/assetserver"
	"github.com/ota-server/updateserver/core"
	berrors "github.com/ota-server/updateserver/errors"
	"github.com/ota-server/updateserver/manifest"
	"github.com/ota-server/updateserver/uploads"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return berrors.InternalError("web: marshaling response: %s", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// healthResponse is the body of GET / (spec's SUPPLEMENTED FEATURES:
// health endpoint).
type healthResponse struct {
	Service     string `json:"service"`
	Environment string `json:"environment"`
	Time        string `json:"time"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, healthResponse{
		Service:     "updateserver",
		Environment: s.environment,
		Time:        s.clk.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

type registerAppRequest struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerEmail  string `json:"ownerEmail"`
}

func (s *Server) handleRegisterApp(w http.ResponseWriter, r *http.Request) error {
	var req registerAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return berrors.BadRequestError("web: malformed JSON body: %s", err)
	}

	app, err := s.apps.Create(r.Context(), apps.CreateInput{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		OwnerEmail:  req.OwnerEmail,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, app)
}

type attachCertificateRequest struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"privateKey"`
}

func (s *Server) handleAttachCertificate(w http.ResponseWriter, r *http.Request) error {
	slug := r.PathValue("slug")
	var req attachCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return berrors.BadRequestError("web: malformed JSON body: %s", err)
	}

	app, err := s.apps.AttachCertificate(r.Context(), slug, req.Certificate, req.PrivateKey)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleCertificateDownload(w http.ResponseWriter, r *http.Request) error {
	slug := r.PathValue("slug")
	app, err := s.apps.Get(r.Context(), slug)
	if err != nil {
		return err
	}
	if app.CertificatePEM == nil {
		return berrors.NotFoundError("web: app %q has no certificate configured", slug)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pem"`, slug))
	w.WriteHeader(http.StatusOK)
	_, err = w.Write([]byte(*app.CertificatePEM))
	return err
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) error {
	list, err := s.apps.List(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) error {
	detail, err := s.apps.Get(r.Context(), r.PathValue("slug"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, detail)
}

type updateSettingsRequest struct {
	AutoCleanupEnabled bool `json:"autoCleanupEnabled"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) error {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return berrors.BadRequestError("web: malformed JSON body: %s", err)
	}
	app, err := s.apps.UpdateSettings(r.Context(), r.PathValue("slug"), req.AutoCleanupEnabled)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) error {
	slug := r.PathValue("slug")
	if err := s.apps.Delete(r.Context(), slug); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"slug": slug, "status": "deleted"})
}

const maxUploadMemory = 32 << 20 // 32 MiB held in memory before spilling to disk, matching multipart.Reader defaults

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) error {
	project := r.Header.Get("project")
	version := r.Header.Get("version")
	releaseChannel := r.Header.Get("release-channel")
	if project == "" || version == "" || releaseChannel == "" {
		return berrors.BadRequestError("web: missing required header (project, version, release-channel)")
	}

	if s.uploadSecretKey != "" && r.Header.Get("upload-key") != s.uploadSecretKey {
		return berrors.BadRequestError("web: upload-key header missing or incorrect")
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return berrors.BadRequestError("web: malformed multipart body: %s", err)
	}
	file, header, err := r.FormFile("uri")
	if err != nil {
		return berrors.BadRequestError("web: missing multipart field \"uri\": %s", err)
	}
	defer file.Close()

	readerAt, ok := file.(interface {
		ReadAt(p []byte, off int64) (n int, err error)
	})
	if !ok {
		return berrors.InternalError("web: uploaded file does not support random access")
	}

	in := uploads.IngestInput{
		Project:          project,
		Version:          version,
		ReleaseChannel:   releaseChannel,
		OriginalFilename: header.Filename,
	}
	if branch := r.Header.Get("git-branch"); branch != "" {
		in.GitBranch = &branch
	}
	if commit := r.Header.Get("git-commit"); commit != "" {
		in.GitCommit = &commit
	}

	upload, err := s.uploads.Ingest(r.Context(), in, readerAt, header.Size)
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, map[string]string{
		"uploadId": upload.ID.String(),
		"updateId": upload.UpdateID.String(),
	})
}

func (s *Server) handleLegacyRelease(w http.ResponseWriter, r *http.Request) error {
	id, err := uuid.Parse(r.PathValue("uploadId"))
	if err != nil {
		return berrors.BadRequestError("web: malformed upload id")
	}

	result, err := s.uploads.Release(r.Context(), id, "")
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err = fmt.Fprintf(w, "released %s\n", result.Upload.ID)
	return err
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) error {
	slug := r.PathValue("slug")
	id, err := uuid.Parse(r.PathValue("uploadId"))
	if err != nil {
		return berrors.BadRequestError("web: malformed upload id")
	}

	result, err := s.uploads.Release(r.Context(), id, slug)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	req := manifest.Request{
		Project:         firstNonEmpty(q.Get("project"), r.Header.Get("expo-project")),
		Platform:        core.Platform(firstNonEmpty(q.Get("platform"), r.Header.Get("expo-platform"))),
		Version:         firstNonEmpty(q.Get("version"), r.Header.Get("expo-runtime-version")),
		Channel:         firstNonEmpty(q.Get("channel"), r.Header.Get("expo-channel-name")),
		ExpectSignature: r.Header.Get("expo-expect-signature") != "",
	}
	if req.Project == "" || req.Version == "" || req.Channel == "" {
		return berrors.BadRequestError("web: missing project, version, or channel")
	}

	resp, err := s.manifest.Resolve(r.Context(), req)
	if err != nil {
		return err
	}

	boundary, err := manifest.NewBoundary()
	if err != nil {
		return berrors.InternalError("web: generating multipart boundary: %s", err)
	}

	w.Header().Set("Content-Type", manifest.ContentType(boundary))
	w.Header().Set("expo-protocol-version", "0")
	w.Header().Set("expo-sfv-version", "0")
	w.Header().Set("Cache-Control", "private, max-age=0")
	w.WriteHeader(http.StatusOK)

	return manifest.WriteMultipart(w, boundary, resp.ManifestJSON, resp.SignatureHeader)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	asset, err := s.assets.Get(r.Context(), q.Get("asset"), q.Get("contentType"))
	if err != nil {
		return err
	}
	defer asset.Body.Close()

	w.Header().Set("Cache-Control", assetserver.CacheControl)
	w.Header().Set("Content-Type", asset.ContentType)
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, asset.Body)
	return err
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) error {
	list, err := s.uploads.List(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
