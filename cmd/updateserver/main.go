package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jmhodges/clock"

	"github.com/ota-server/updateserver/apps"
	"github.com/ota-server/updateserver/assetserver"
	"github.com/ota-server/updateserver/cmd"
	"github.com/ota-server/updateserver/log"
	"github.com/ota-server/updateserver/manifest"
	"github.com/ota-server/updateserver/store/blob"
	"github.com/ota-server/updateserver/store/cache"
	"github.com/ota-server/updateserver/store/meta"
	"github.com/ota-server/updateserver/uploads"
	"github.com/ota-server/updateserver/web"
)

func main() {
	c, err := cmd.LoadConfig()
	cmd.FailOnError(err, "loading configuration")

	logger := log.NewStdout("updateserver", c.Debug)
	logger.Info("starting, environment=%s", c.Environment)

	ctx := context.Background()

	metaStore, err := meta.Open(c.Meta.Driver, string(c.Meta.DSN), logger)
	cmd.FailOnError(err, "opening meta store")

	blobStore, err := blob.Open(ctx, c.Blob.Bucket, c.Blob.Region, c.Blob.Endpoint, logger)
	cmd.FailOnError(err, "opening blob store")

	cacheStore, err := cache.Open(ctx, c.Cache.Address, string(c.Cache.Password), c.Cache.DB, logger)
	cmd.FailOnError(err, "opening cache store")

	clk := clock.New()

	appsRegistry := apps.New(metaStore, blobStore, cacheStore, clk, logger)
	uploadsRegistry := uploads.New(metaStore, blobStore, cacheStore, clk, logger)
	manifestServer := manifest.New(metaStore, blobStore, cacheStore, clk, logger, c.PublicURL)
	assetServer := assetserver.New(blobStore)

	srv := web.New(appsRegistry, uploadsRegistry, metaStore, manifestServer, assetServer, clk, logger, web.Config{
		Environment:     c.Environment,
		UploadSecretKey: string(c.UploadSecretKey),
	})

	httpServer := &http.Server{
		Addr:    c.ListenAddress,
		Handler: srv.Handler(),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cmd.FailOnError(err, "running HTTP server")
		}
	}()
	logger.Info("listening on %s", c.ListenAddress)

	done := make(chan struct{})
	go cmd.CatchSignals(logger, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warning("shutdown: %s", err)
		}
		close(done)
	})

	<-done
	// give in-flight audit log lines time to flush to stdout before exit.
	time.Sleep(50 * time.Millisecond)
}
