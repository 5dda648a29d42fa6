// Package web is the HTTP Surface: routing, header/query parsing, and
// error-to-status mapping (spec §4.6–§4.9, §6, §7), grounded on the
// teacher's wfe2.HandleFunc wrapper and wfe.sendError pattern.
package web

import (
	"net/http"

	"github.com/jmhodges/clock"

	"github.com/ota-server/updateserver/apps"
	"github.com/ota-server/updateserver/assetserver"
	"github.com/ota-server/updateserver/core"
	"github.com/ota-server/updateserver/log"
	"github.com/ota-server/updateserver/manifest"
	"github.com/ota-server/updateserver/metrics/measuredhttp"
	"github.com/ota-server/updateserver/uploads"
)

// Server wires every component to the HTTP surface.
type Server struct {
	apps     *apps.Registry
	uploads  *uploads.Registry
	meta     core.MetaStore
	manifest *manifest.Server
	assets   *assetserver.Server

	clk clock.Clock
	log log.Logger

	environment     string
	uploadSecretKey string
}

// Config is the subset of server config the HTTP surface itself reads
// directly (spec §6).
type Config struct {
	Environment     string
	UploadSecretKey string
}

func New(
	appsRegistry *apps.Registry,
	uploadsRegistry *uploads.Registry,
	meta core.MetaStore,
	manifestServer *manifest.Server,
	assetServer *assetserver.Server,
	clk clock.Clock,
	logger log.Logger,
	cfg Config,
) *Server {
	return &Server{
		apps:            appsRegistry,
		uploads:         uploadsRegistry,
		meta:            meta,
		manifest:        manifestServer,
		assets:          assetServer,
		clk:             clk,
		log:             logger,
		environment:     cfg.Environment,
		uploadSecretKey: cfg.UploadSecretKey,
	}
}

// Handler builds the routed, metrics-wrapped http.Handler for the
// service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.wrap(s.handleIndex))
	mux.HandleFunc("POST /register-app", s.wrap(s.handleRegisterApp))
	mux.HandleFunc("PUT /apps/{slug}/certificate", s.wrap(s.handleAttachCertificate))
	mux.HandleFunc("GET /certificate/{slug}", s.wrap(s.handleCertificateDownload))
	mux.HandleFunc("GET /apps", s.wrap(s.handleListApps))
	mux.HandleFunc("GET /apps/{slug}", s.wrap(s.handleGetApp))
	mux.HandleFunc("PUT /apps/{slug}/settings", s.wrap(s.handleUpdateSettings))
	mux.HandleFunc("DELETE /apps/{slug}", s.wrap(s.handleDeleteApp))
	mux.HandleFunc("POST /upload", s.wrap(s.handleUpload))
	mux.HandleFunc("PUT /release/{uploadId}", s.wrap(s.handleLegacyRelease))
	mux.HandleFunc("PUT /apps/{slug}/release/{uploadId}", s.wrap(s.handleRelease))
	mux.HandleFunc("GET /manifest", s.wrap(s.handleManifest))
	mux.HandleFunc("GET /assets", s.wrap(s.handleAssets))
	mux.HandleFunc("GET /uploads", s.wrap(s.handleListUploads))

	return measuredhttp.New(mux, s.clk)
}

// handlerFunc is the shape every route implements; returning an error
// routes through writeError instead of every handler duplicating status
// mapping.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// wrap recovers a handler panic into a 500 plus an audit log line, and
// routes a returned error through writeError, mirroring the teacher's
// topHandler/HandleFunc wrapper.
func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Audit("web: panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()

		if err := h(w, r); err != nil {
			s.writeError(w, err)
		}
	}
}
