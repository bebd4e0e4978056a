// Command hlsplayer-cli drives the HLS client engine against a master
// playlist URL from the command line, logging every sample buffer and
// status transition it receives in place of real audio/video rendering.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aminofox/hlsplayer"
	"github.com/aminofox/hlsplayer/pkg/config"
	"github.com/aminofox/hlsplayer/pkg/logger"
	"github.com/aminofox/hlsplayer/pkg/metrics"
	"github.com/aminofox/hlsplayer/pkg/player"
	"github.com/aminofox/hlsplayer/pkg/render"
	"github.com/aminofox/hlsplayer/pkg/sampleproducer"
)

var (
	version = "dev"
	commit  = "none"
)

// logSink is a minimal render.Sink that always reports readiness and logs
// every sample buffer it receives instead of handing it to a real decoder
// — there is no audio/video rendering backend to target from a CLI.
type logSink struct {
	label     string
	log       logger.Logger
	startedAt time.Time
	frames    int
}

func newLogSink(label string, log logger.Logger) *logSink {
	return &logSink{label: label, log: log, startedAt: time.Now()}
}

func (s *logSink) IsReadyForMore() bool { return true }

func (s *logSink) Enqueue(buf *sampleproducer.SampleBuffer) {
	s.frames++
	s.log.Debug("sample delivered",
		logger.String("sink", s.label),
		logger.Int("frame", s.frames),
		logger.Float64("pts_seconds", buf.PTSSeconds()),
		logger.Int("bytes", len(buf.Data)))
}

func (s *logSink) Flush()                  {}
func (s *logSink) StopRequestingMediaData() {}
func (s *logSink) Timebase() render.Timebase { return s }
func (s *logSink) Now() float64              { return time.Since(s.startedAt).Seconds() }

func (s *logSink) RequestMediaDataWhenReady(queue *render.Queue, closure func()) {
	go closure()
}

func main() {
	configFile := flag.String("config", "", "Path to config file (defaults built-in if omitted)")
	masterURL := flag.String("url", "", "Master playlist URL to play")
	startTime := flag.Float64("start", 0, "Start time in seconds")
	withAudio := flag.Bool("audio", true, "Attach a separate audio sink")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hlsplayer-cli %s (commit: %s)\n", version, commit)
		return
	}
	if *masterURL == "" {
		fmt.Fprintln(os.Stderr, "-url is required")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := logger.NewDefaultLogger(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	engine, err := hlsplayer.New(cfg, log)
	if err != nil {
		log.Fatal("failed to build engine", logger.Err(err))
	}
	defer engine.Close()

	if cfg.Metrics.Enabled {
		go serveMetrics(engine, cfg.Metrics.Addr, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	videoSink := newLogSink("video", log)
	var audioSink render.Sink
	if *withAudio {
		audioSink = newLogSink("audio", log)
	}

	statusStream := player.NewStatusStream(log)

	p, err := engine.Open(ctx, hlsplayer.OpenOptions{
		MasterURL: *masterURL,
		VideoSink: videoSink,
		AudioSink: audioSink,
		StartTime: *startTime,
		OnStatusChange: func(s player.Status) {
			log.Info("player status changed", logger.String("status", s.String()))
		},
		OnError: func(err error) {
			log.Error("player error", logger.Err(err))
		},
		StatusStream: statusStream,
	})
	if err != nil {
		log.Fatal("failed to open playlist", logger.Err(err))
	}

	log.Info("playback started", logger.String("url", *masterURL), logger.Int("resolution", p.CurrentResolution()))
	log.Info("press Ctrl+C to stop")

	<-ctx.Done()
	log.Info("shutdown signal received")
	p.Stop()
}

func serveMetrics(engine *hlsplayer.Engine, addr string, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewExporter(engine.Metrics()))
	log.Info("serving metrics", logger.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server error", logger.Err(err))
	}
}
