// Package main wires together the comic crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/toonfeed/crawler/internal/api"
	"github.com/toonfeed/crawler/internal/archive"
	archivegcs "github.com/toonfeed/crawler/internal/archive/gcs"
	archivelocal "github.com/toonfeed/crawler/internal/archive/local"
	archivememory "github.com/toonfeed/crawler/internal/archive/memory"
	cachememory "github.com/toonfeed/crawler/internal/cache/memory"
	cacheredis "github.com/toonfeed/crawler/internal/cache/redis"
	"github.com/toonfeed/crawler/internal/comic"
	"github.com/toonfeed/crawler/internal/comic/naver"
	"github.com/toonfeed/crawler/internal/config"
	"github.com/toonfeed/crawler/internal/fetch"
	collyfetch "github.com/toonfeed/crawler/internal/fetch/colly"
	"github.com/toonfeed/crawler/internal/fetch/headless"
	"github.com/toonfeed/crawler/internal/logging"
	publishermemory "github.com/toonfeed/crawler/internal/publisher/memory"
	publisherpubsub "github.com/toonfeed/crawler/internal/publisher/pubsub"
	storememory "github.com/toonfeed/crawler/internal/store/memory"
	storepostgres "github.com/toonfeed/crawler/internal/store/postgres"
	"github.com/toonfeed/crawler/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop context.CancelFunc) error {
	cache, closeCache, err := buildCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	transport := collyfetch.New(collyfetch.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
	})
	client := fetch.New(transport,
		fetch.WithCache(cache),
		fetch.WithLogger(logger.Named("fetch")))

	var (
		renderer fetch.Transport
		detect   *headless.Detector
	)
	if cfg.Headless.Enabled {
		h, hErr := headless.New(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if hErr != nil {
			logger.Warn("headless transport init failed", zap.Error(hErr))
		} else {
			defer h.Close()
			renderer = h
			detect = headless.NewDetector(cfg.Headless.PromotionThresh)
		}
	}

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	factory := func(key string) (*comic.Series, error) {
		titleID, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("series key must be a numeric title id, got %q", key)
		}
		opts := []naver.Option{naver.WithLogger(logger.Named("naver"))}
		if renderer != nil {
			opts = append(opts, naver.WithRenderer(renderer, detect))
		}
		if blobs != nil {
			opts = append(opts, naver.WithArchive(blobs))
		}
		source, err := naver.New(client, naver.Config{
			TitleID:   titleID,
			SeriesKey: key,
			DetailTTL: cfg.DetailTTL(),
		}, opts...)
		if err != nil {
			return nil, err
		}
		return comic.NewSeries(key, source, store,
			comic.WithPublisher(publisher),
			comic.WithLogger(logger.Named("crawler")),
			comic.WithPoolSize(cfg.Crawler.PoolSize),
			comic.WithBufferSize(cfg.Crawler.BufferSize),
			comic.WithPageSize(cfg.Crawler.PageSize))
	}

	apiServer := api.NewServer(factory, store, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func buildCache(ctx context.Context, cfg config.Config) (fetch.Cache, func(), error) {
	if cfg.Cache.Backend == "redis" {
		rc, err := cacheredis.New(ctx, cacheredis.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis cache: %w", err)
		}
		return rc, func() {
			if err := rc.Close(); err != nil {
				zap.L().Warn("close redis cache", zap.Error(err))
			}
		}, nil
	}
	return cachememory.New(), func() {}, nil
}

func buildStore(ctx context.Context, cfg config.Config) (comic.EpisodeStore, func(), error) {
	if cfg.Store.Backend == "postgres" {
		pg, err := storepostgres.New(ctx, storepostgres.Config{
			DSN:      cfg.Store.DSN,
			Table:    cfg.Store.Table,
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		return pg, pg.Close, nil
	}
	return storememory.New(), func() {}, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (archive.BlobStore, error) {
	switch cfg.Archive.Backend {
	case "memory":
		return archivememory.New(), nil
	case "local":
		blobs, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return blobs, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		blobs, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return blobs, nil
	default:
		return nil, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (comic.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return publishermemory.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	closer := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			zap.L().Warn("close pubsub client", zap.Error(err))
		}
	}
	return publisherpubsub.New(topic), closer, nil
}
