package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/viddl/viddl/internal/config"
	"github.com/viddl/viddl/internal/httpapi"
	"github.com/viddl/viddl/internal/jobs"
	"github.com/viddl/viddl/internal/media"
	"github.com/viddl/viddl/internal/persistence"
	"github.com/viddl/viddl/pkg/log"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found")
	}

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	var store jobs.Store
	if cfg.Jobs.DBPath != "" {
		sqliteStore, err := persistence.NewSQLiteStore(cfg.Jobs.DBPath, cfg.Jobs.Retention())
		if err != nil {
			log.Fatal("Failed to open job store: %v", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
		log.Info("Using durable job store at %s", cfg.Jobs.DBPath)
	} else {
		store = jobs.NewMemoryStore(cfg.Jobs.Retention())
	}

	registry := media.NewRegistry()
	registry.Register(jobs.KindDownload,
		media.NewYtDlp(cfg.Tools.YtDlpPath, cfg.Jobs.DownloadsDir()))
	ffmpeg := media.NewFFmpeg(cfg.Tools.FFmpegPath, cfg.Tools.FFprobePath, cfg.Jobs.DownloadsDir())
	for _, kind := range []jobs.Kind{
		jobs.KindCompress, jobs.KindConvert, jobs.KindTrim,
		jobs.KindExtractAudio, jobs.KindWatermark,
	} {
		registry.Register(kind, ffmpeg)
	}

	queue := jobs.NewQueue(cfg.Jobs.WorkerCount, store)
	queue.Start(registry)
	defer queue.Stop()

	reaper := jobs.NewReaper(store, cfg.Jobs.CleanupCron)
	if err := reaper.Start(); err != nil {
		log.Fatal("Failed to start cleanup sweep: %v", err)
	}
	defer reaper.Stop()

	server := httpapi.NewServer(store, queue,
		httpapi.WithUploads(cfg.Jobs.UploadsDir(), cfg.Server.MaxUploadMB),
		httpapi.WithReaper(reaper),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("Serving on %s", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(cfg.Server.ListenAddr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Server exited: %v", err)
		os.Exit(1)
	}
}
