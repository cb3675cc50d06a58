package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/theodorecharles/compressor/internal/bootstrap"
	"github.com/theodorecharles/compressor/internal/bus"
	"github.com/theodorecharles/compressor/internal/classifier"
	"github.com/theodorecharles/compressor/internal/config"
	"github.com/theodorecharles/compressor/internal/encoder"
	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/probe"
	"github.com/theodorecharles/compressor/internal/scanner"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
	"github.com/theodorecharles/compressor/internal/watcher"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	log.Configure(log.Config{
		Level:   config.ParseString("TRANSCODE_LOG_LEVEL", "info"),
		Service: "transcode-supervisor",
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath := config.ParseString("TRANSCODE_DB_PATH", filepath.Join(os.TempDir(), "transcode-supervisor.db"))
	ffmpegBin := config.ParseString("TRANSCODE_FFMPEG_BIN", "ffmpeg")
	ffprobeBin := config.ParseString("TRANSCODE_FFPROBE_BIN", "ffprobe")
	scratchDir := config.ParseString("TRANSCODE_SCRATCH_DIR", os.TempDir())
	scanInterval := config.ParseDuration("TRANSCODE_SCAN_INTERVAL", time.Hour)

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("db_path", dbPath).
		Str("ffmpeg_bin", ffmpegBin).
		Str("ffprobe_bin", ffprobeBin).
		Str("scratch_dir", scratchDir).
		Dur("scan_interval", scanInterval).
		Msg("starting transcode-supervisor")

	st, err := store.Open(ctx, dbPath, store.DefaultConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close store cleanly")
		}
	}()

	settingsMgr := settings.New(st)

	if seedPath := config.ParseString("TRANSCODE_SEED_FILE", ""); seedPath != "" {
		sf, err := bootstrap.Load(seedPath)
		if err != nil {
			logger.Fatal().Err(err).Str("seed_file", seedPath).Msg("failed to load seed file")
		}
		if err := bootstrap.Apply(ctx, st, settingsMgr, sf); err != nil {
			logger.Fatal().Err(err).Str("seed_file", seedPath).Msg("failed to apply seed file")
		}
		logger.Info().Str("seed_file", seedPath).Msg("seed file applied")
	}

	prober := probe.NewFFProbe(ffprobeBin)
	classifierSvc := classifier.New(st, prober)
	b := bus.NewMemoryBus()

	scan := scanner.New(st, classifierSvc, settingsMgr, b)
	worker := encoder.New(st, settingsMgr, prober, b, ffmpegBin, scratchDir)
	watch := watcher.New(st, classifierSvc, settingsMgr)

	libs, err := st.ListLibraries(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list libraries on startup")
	}
	for _, lib := range libs {
		if lib.Enabled && lib.WatchEnabled {
			watch.Start(lib)
			logger.Info().Str("library", lib.Name).Msg("watching library for new files")
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logBusEvents(ctx, b)
	}()

	logger.Info().Msg("performing initial library scan")
	if err := scan.ScanAll(ctx); err != nil {
		logger.Error().Err(err).Msg("initial scan failed")
	}

	go scan.RunScheduled(ctx, scanInterval)
	worker.Start(ctx)

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, stopping components")

	worker.Stop()
	for _, lib := range libs {
		if lib.WatchEnabled {
			watch.Stop(lib.ID)
		}
	}
	wg.Wait()

	logger.Info().Msg("transcode-supervisor exited")
}

// logBusEvents subscribes to every topic and logs each message at debug
// level. It stands in for the HTTP/SSE collaborator this module
// deliberately omits (no built-in API server).
func logBusEvents(ctx context.Context, b bus.Bus) {
	logger := log.WithComponent("bus")
	topics := []string{bus.TopicScanProgress, bus.TopicScanComplete, bus.TopicEncodingProgress, bus.TopicEncodingComplete}

	var wg sync.WaitGroup
	for _, topic := range topics {
		sub, err := b.Subscribe(ctx, topic)
		if err != nil {
			logger.Warn().Err(err).Str("topic", topic).Msg("failed to subscribe for diagnostic logging")
			continue
		}
		wg.Add(1)
		go func(topic string, sub bus.Subscriber) {
			defer wg.Done()
			defer sub.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-sub.C():
					if !ok {
						return
					}
					logger.Debug().Str("topic", topic).Interface("message", msg).Msg("bus event")
				}
			}
		}(topic, sub)
	}
	wg.Wait()
}
