// Package hlsplayer is the top-level facade over the engine's internal
// packages: it wires a blob store, an HTTP client, a bandwidth meter, and
// an optional metrics collector from a Config, then hands out Player
// instances against a chosen master playlist URL. Host applications that
// want direct access to a sub-package (e.g. to parse a manifest without
// playing it) can still import pkg/m3u8 etc. directly; this package only
// bundles the common case.
package hlsplayer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aminofox/hlsplayer/pkg/bandwidth"
	"github.com/aminofox/hlsplayer/pkg/blobstore"
	"github.com/aminofox/hlsplayer/pkg/config"
	"github.com/aminofox/hlsplayer/pkg/logger"
	"github.com/aminofox/hlsplayer/pkg/metrics"
	"github.com/aminofox/hlsplayer/pkg/player"
	"github.com/aminofox/hlsplayer/pkg/render"
)

// Engine owns the shared resources (blob store, HTTP client, bandwidth
// meter, metrics collector) a Player needs, built once from a Config and
// reused across however many Players Open creates.
type Engine struct {
	cfg     *config.Config
	log     logger.Logger
	client  *http.Client
	meter   *bandwidth.Meter
	metrics *metrics.Collector
	store   *blobstore.Store
}

// New builds an Engine from cfg. A nil cfg uses config.DefaultConfig().
func New(cfg *config.Config, log logger.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	}

	backend, err := buildBackend(cfg.BlobStore, log)
	if err != nil {
		return nil, fmt.Errorf("hlsplayer: failed to build blob store backend: %w", err)
	}

	index, err := buildIndex(cfg.BlobStore.RedisIndex)
	if err != nil {
		return nil, fmt.Errorf("hlsplayer: failed to build blob store index: %w", err)
	}

	return &Engine{
		cfg:     cfg,
		log:     log,
		client:  &http.Client{Timeout: cfg.Fetch.RequestTimeout},
		meter:   bandwidth.NewMeter(),
		metrics: metrics.NewCollector(),
		store:   blobstore.New(backend, index),
	}, nil
}

func buildBackend(cfg config.BlobStoreConfig, log logger.Logger) (blobstore.Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return blobstore.NewLocalBackend(cfg.LocalDir, log)
	case "s3":
		return blobstore.NewS3Backend(blobstore.S3BackendConfig{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		}, log)
	default:
		return nil, fmt.Errorf("unknown blob store backend %q", cfg.Backend)
	}
}

func buildIndex(cfg config.RedisConfig) (blobstore.Index, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return blobstore.NewRedisIndex(client, cfg.KeyPrefix, cfg.DefaultTTL), nil
}

// Metrics returns the Engine's metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// OpenOptions configures one Player opened against the Engine's shared
// resources.
type OpenOptions struct {
	MasterURL string
	VideoSink render.Sink
	AudioSink render.Sink

	StartTime float64

	OnStatusChange player.StatusChangeFunc
	OnError        player.ErrorFunc
	StatusStream   *player.StatusStream
}

// Open creates a Player against opts.MasterURL and starts playback at
// opts.StartTime.
func (e *Engine) Open(ctx context.Context, opts OpenOptions) (*player.Player, error) {
	p, err := player.New(player.Options{
		MasterURL:              opts.MasterURL,
		VideoSink:              opts.VideoSink,
		AudioSink:              opts.AudioSink,
		Client:                 e.client,
		Store:                  e.store,
		Meter:                  e.meter,
		Metrics:                e.metrics,
		Log:                    e.log,
		MaxConcurrentFileLoads: e.cfg.Fetch.MaxConcurrentFileLoads,
		WaitingThreshold:       e.cfg.ABR.WaitingThreshold,
		PreferredHeight:        e.cfg.ABR.PreferredHeight,
		OnStatusChange:         opts.OnStatusChange,
		OnError:                opts.OnError,
		StatusStream:           opts.StatusStream,
	})
	if err != nil {
		return nil, err
	}

	if err := p.Play(ctx, opts.StartTime); err != nil {
		return nil, err
	}
	return p, nil
}

// Close releases the Engine's blob store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// defaultShutdownTimeout is a bound for in-flight work in a host
// application's own shutdown path. Engine.Close is synchronous and does not
// use it, and cmd/hlsplayer-cli does not read it either: the CLI shuts down
// on its signal context alone.
const defaultShutdownTimeout = 10 * time.Second
