package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/local/pagedesk/internal/api"
	"github.com/local/pagedesk/internal/assets"
	cfgpkg "github.com/local/pagedesk/internal/config"
	"github.com/local/pagedesk/internal/editor"
	"github.com/local/pagedesk/internal/imagerender"
	logpkg "github.com/local/pagedesk/internal/logger"
	"github.com/local/pagedesk/internal/metrics"
	"github.com/local/pagedesk/internal/pdfengine"
	"github.com/local/pagedesk/internal/statuscheck"
	"github.com/local/pagedesk/internal/storage"
	"github.com/local/pagedesk/internal/store"
)

func main() {
	cfg := cfgpkg.Load()

	// Init logging
	if err := logpkg.Init(logpkg.OptionsFrom(cfg.Logging, cfg.Axiom)); err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
	}
	defer logpkg.Close()
	metrics.Init()

	deps := editor.Deps{
		Engine:        pdfengine.New(pdfengine.Options{WorkDir: cfg.Render.WorkDir}),
		Rasterizer:    imagerender.NewRasterizer(),
		Stamps:        assets.NewLibrary(cfg.Assets.StampDir),
		Render:        cfg.Render,
		Storage:       cfg.Storage,
		MaxFetchBytes: int64(cfg.Server.MaxUploadMB) << 20,
	}
	var checks statuscheck.Options

	// Preview tier (optional)
	if cfg.Preview.Enabled {
		ps, err := store.NewPreviewStore(cfg.Preview.RedisURL, cfg.Preview.Prefix, cfg.Preview.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("preview tier unavailable; rendering in memory only")
		} else {
			defer ps.Close()
			deps.Preview = ps
			checks.Redis = ps
		}
	}

	// Object storage (optional)
	if cfg.Storage.S3Bucket != "" {
		s3c, err := storage.NewS3Client(context.Background(), storage.Options{
			Bucket:          cfg.Storage.S3Bucket,
			Region:          cfg.Storage.S3Region,
			Endpoint:        cfg.Storage.S3Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Password:        cfg.Storage.Password,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init s3 client")
		}
		deps.S3 = s3c
		checks.S3 = s3c
	}

	session := editor.New(deps)
	defer session.Shutdown()

	mux := http.NewServeMux()
	api.New(session, api.Options{
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		JPEGQuality:    cfg.Render.JPEGQuality,
		Status:         statuscheck.New(checks),
	}).RegisterRoutes(mux)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Msgf("HTTP server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	log.Info().Msg("shutdown complete")
}
