// Package player implements the player base and ABR controller (spec
// §4.9): it loads a master playlist, selects a rendition, wires a
// download session per rendition to a pair of render drivers, and
// downshifts resolution automatically when the video driver reports a
// waiting interval past the configured threshold.
//
// It is grounded on the teacher's pkg/cluster/session.go for the
// orchestration shape (one struct owning several long-lived workers,
// torn down and rebuilt together on a state transition) and on
// pkg/streaming/hls/abr.go for the resolution-ladder/downshift idiom the
// ABR controller follows.
package player

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aminofox/hlsplayer/pkg/bandwidth"
	"github.com/aminofox/hlsplayer/pkg/blobstore"
	"github.com/aminofox/hlsplayer/pkg/errors"
	"github.com/aminofox/hlsplayer/pkg/loader"
	"github.com/aminofox/hlsplayer/pkg/logger"
	"github.com/aminofox/hlsplayer/pkg/m3u8"
	"github.com/aminofox/hlsplayer/pkg/metrics"
	"github.com/aminofox/hlsplayer/pkg/render"
	"github.com/aminofox/hlsplayer/pkg/sampleproducer"
	"github.com/aminofox/hlsplayer/pkg/session"
)

const defaultWaitingThreshold = 4 * time.Second
const defaultPreferredHeight = 720

// StatusChangeFunc is invoked whenever the player's aggregate Status
// transitions.
type StatusChangeFunc func(Status)

// ErrorFunc is invoked for player-level errors (spec §7: "Player-level
// errors surface through output.on_error").
type ErrorFunc func(error)

// Options configures a Player.
type Options struct {
	MasterURL string

	// VideoSink is required; AudioSink may be nil if the host only wants
	// video (e.g. a thumbnail preview use case).
	VideoSink render.Sink
	AudioSink render.Sink

	Client  *http.Client
	Store   *blobstore.Store
	Meter   *bandwidth.Meter
	Metrics *metrics.Collector
	Log     logger.Logger

	MaxConcurrentFileLoads int

	// WaitingThreshold is the waiting-interval duration that triggers an
	// automatic downshift. Defaults to 4s (spec §4.9).
	WaitingThreshold time.Duration
	// PreferredHeight is the default-rendition height preference. Defaults
	// to 720 (spec §4.9).
	PreferredHeight int

	OnStatusChange StatusChangeFunc
	OnError        ErrorFunc

	// StatusStream, if set, receives a push copy of every status change and
	// ABR downshift (SPEC_FULL.md §F.3/§F.4). Purely additive.
	StatusStream *StatusStream
}

// Player orchestrates playback of one master playlist: rendition
// selection, per-rendition download sessions, and the video/audio render
// drivers that consume them.
type Player struct {
	opts   Options
	loader *loader.Loader
	log    logger.Logger

	rootCtx context.Context

	mu        sync.Mutex
	master    *m3u8.MasterPlaylist
	masterURL string
	ladder    []Rendition
	current   *m3u8.Stream
	manual    bool

	clock *clock

	videoSession *session.Session
	audioSession *session.Session
	videoDriver  *render.Driver
	audioDriver  *render.Driver

	videoStatus render.Status
	audioStatus render.Status
	status      Status

	teardownCancel context.CancelFunc
}

// New creates a Player. VideoSink is required.
func New(opts Options) (*Player, error) {
	if opts.VideoSink == nil {
		return nil, errors.New(errors.ErrCodeUnsupportedPlaylistShape, "player requires a video sink")
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefaultLogger(logger.ErrorLevel, "text")
	}
	if opts.WaitingThreshold <= 0 {
		opts.WaitingThreshold = defaultWaitingThreshold
	}
	if opts.PreferredHeight <= 0 {
		opts.PreferredHeight = defaultPreferredHeight
	}

	return &Player{
		opts:   opts,
		loader: loader.New(opts.Client, opts.Log),
		log:    opts.Log,
	}, nil
}

// Play loads the master playlist at Options.MasterURL, selects the
// default rendition, and begins playback from startTime seconds.
func (p *Player) Play(ctx context.Context, startTime float64) error {
	p.rootCtx = ctx

	result, err := p.loader.Load(ctx, p.opts.MasterURL)
	if err != nil {
		return err
	}
	if result.Playlist.IsMedia() {
		return errors.NewUnsupportedPlaylistShapeError()
	}

	master := result.Playlist.Master
	stream := pickDefaultStream(master.Streams, p.opts.PreferredHeight)
	if stream == nil {
		return errors.NewMediaLoadFailedError("master playlist has no variant streams", nil)
	}

	p.mu.Lock()
	p.master = master
	p.masterURL = result.URL
	p.ladder = buildLadder(master.Streams)
	p.manual = false
	p.mu.Unlock()

	p.clock = newClock(startTime)

	return p.playFrom(ctx, stream, startTime)
}

// playFrom tears down any active sessions/drivers and rebuilds them against
// stream, starting at startTime. It is the shared path behind Play, Seek,
// SetManualResolution, and the automatic ABR downshift.
func (p *Player) playFrom(ctx context.Context, stream *m3u8.Stream, startTime float64) error {
	p.teardown()

	p.mu.Lock()
	master := p.master
	masterURL := p.masterURL
	p.mu.Unlock()

	workCtx, cancel := context.WithCancel(ctx)

	videoResult, err := p.loader.LoadMedia(workCtx, masterURL, stream.URI)
	if err != nil {
		cancel()
		return errors.NewMediaLoadFailedError("failed to load video rendition media playlist", err)
	}

	var audioTag *m3u8.MediaTag
	if stream.AudioGroupID != "" {
		audioTag = findAudioTag(master.MediaTags, stream.AudioGroupID)
	}
	separateAudio := audioTag != nil && audioTag.URI != "" && p.opts.AudioSink != nil
	muxedAudio := !separateAudio && p.opts.AudioSink != nil

	videoDriver := render.NewDriver(p.opts.VideoSink, sampleproducer.MediaTypeVideo, startTime,
		p.onVideoStatusChange, p.onWaitingEnd, p.log)

	var audioDriver *render.Driver
	if p.opts.AudioSink != nil {
		audioDriver = render.NewDriver(p.opts.AudioSink, sampleproducer.MediaTypeAudio, startTime,
			p.onAudioStatusChange, nil, p.log)
	}

	onVideoSegment := func(index int, fileURL string, offset, duration float64) {
		videoDriver.Queue().Enqueue(fileURL, offset)
		if muxedAudio {
			audioDriver.Queue().Enqueue(fileURL, offset)
		}
	}

	videoSession := session.New(session.Options{
		Playlist:               videoResult.Playlist.Media,
		BaseURL:                videoResult.URL,
		SeekTime:                startTime,
		Store:                  p.opts.Store,
		Client:                 p.opts.Client,
		Meter:                  p.opts.Meter,
		Log:                    p.log,
		MaxConcurrentFileLoads: p.opts.MaxConcurrentFileLoads,
		Metrics:                p.opts.Metrics,
		OnSegment:              onVideoSegment,
		OnError:                p.makeSegmentErrorHandler("video"),
	})

	var audioSession *session.Session
	if separateAudio {
		audioResult, err := p.loader.LoadMedia(workCtx, masterURL, audioTag.URI)
		if err != nil {
			cancel()
			return errors.NewMediaLoadFailedError("failed to load audio rendition media playlist", err)
		}
		audioSession = session.New(session.Options{
			Playlist:               audioResult.Playlist.Media,
			BaseURL:                audioResult.URL,
			SeekTime:                startTime,
			Store:                  p.opts.Store,
			Client:                 p.opts.Client,
			Meter:                  p.opts.Meter,
			Log:                    p.log,
			MaxConcurrentFileLoads: p.opts.MaxConcurrentFileLoads,
			Metrics:                p.opts.Metrics,
			OnSegment: func(index int, fileURL string, offset, duration float64) {
				audioDriver.Queue().Enqueue(fileURL, offset)
			},
			OnError: p.makeSegmentErrorHandler("audio"),
		})
	}

	p.mu.Lock()
	p.current = stream
	p.videoDriver = videoDriver
	p.audioDriver = audioDriver
	p.videoSession = videoSession
	p.audioSession = audioSession
	p.videoStatus = render.StatusIdle
	p.audioStatus = render.StatusIdle
	p.teardownCancel = cancel
	p.mu.Unlock()

	videoDriver.Start(workCtx)
	if audioDriver != nil {
		audioDriver.Start(workCtx)
	}
	videoSession.Start(workCtx)
	if audioSession != nil {
		audioSession.Start(workCtx)
	}

	// Once every planned segment has been processed (fetched or dropped),
	// mark the corresponding render queue complete so its driver can reach
	// ResultFinished once the holding queue drains (render.Queue.Complete).
	go func() {
		videoSession.Wait()
		videoDriver.Complete()
		if muxedAudio {
			audioDriver.Complete()
		}
	}()
	if audioSession != nil {
		go func() {
			audioSession.Wait()
			audioDriver.Complete()
		}()
	}

	return nil
}

// teardown cancels and stops whatever is currently playing, if anything.
func (p *Player) teardown() {
	p.mu.Lock()
	cancel := p.teardownCancel
	vs, as := p.videoSession, p.audioSession
	vd, ad := p.videoDriver, p.audioDriver
	p.videoSession, p.audioSession, p.videoDriver, p.audioDriver = nil, nil, nil, nil
	p.teardownCancel = nil
	p.mu.Unlock()

	if vs != nil {
		vs.Stop()
	}
	if as != nil {
		as.Stop()
	}
	if vd != nil {
		vd.Stop()
	}
	if ad != nil {
		ad.Stop()
	}
	if cancel != nil {
		cancel()
	}
}

// Seek tears down active sessions and re-enters the play-from path at t
// seconds (spec §4.9: "tear down active sessions, re-enter the play-from
// path with the new start time").
func (p *Player) Seek(ctx context.Context, t float64) error {
	p.mu.Lock()
	stream := p.current
	p.mu.Unlock()
	if stream == nil {
		return errors.New(errors.ErrCodeUnsupportedPlaylistShape, "seek before play")
	}
	p.clock.reset(t)
	return p.playFrom(ctx, stream, t)
}

// Pause freezes the presentation clock. Playback resumes from the same
// position on Resume.
func (p *Player) Pause() {
	if p.clock != nil {
		p.clock.pause()
	}
}

// Resume unfreezes the presentation clock.
func (p *Player) Resume() {
	if p.clock != nil {
		p.clock.resume()
	}
}

// Stop tears down active sessions and drivers without releasing cached
// blobs. Purge additionally clears the blob store.
func (p *Player) Stop() {
	p.teardown()
}

// Purge clears the blob store's cache; a subsequent Play/Seek re-fetches
// every segment (spec §6: "reissuing the same playlist request after
// purge triggers full re-fetching").
func (p *Player) Purge(ctx context.Context) error {
	if p.opts.Store == nil {
		return nil
	}
	return p.opts.Store.Purge(ctx)
}

// Status returns the player's current aggregate status.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// AvailableResolutions returns the ladder's distinct heights, descending.
func (p *Player) AvailableResolutions() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	heights := make([]int, len(p.ladder))
	for i, r := range p.ladder {
		heights[i] = r.Height
	}
	return heights
}

// CurrentResolution returns the active rendition's height, or 0 if
// playback hasn't started.
func (p *Player) CurrentResolution() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return 0
	}
	return p.current.Height()
}

// IsAutomaticResolution reports whether ABR downshifts are enabled.
func (p *Player) IsAutomaticResolution() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.manual
}

// SetManualResolution disables ABR and switches to the rendition at
// height, preserving the current clock time (spec §4.9).
func (p *Player) SetManualResolution(ctx context.Context, height int) error {
	p.mu.Lock()
	entry := findByHeight(p.ladder, height)
	p.mu.Unlock()
	if entry == nil {
		return errors.New(errors.ErrCodeUnsupportedPlaylistShape, "no rendition at requested resolution")
	}
	if p.clock == nil {
		return errors.New(errors.ErrCodeUnsupportedPlaylistShape, "set resolution before play")
	}

	p.mu.Lock()
	p.manual = true
	p.mu.Unlock()

	t := p.clock.Now()
	return p.playFrom(ctx, entry.Stream, t)
}

// SetAutomaticResolution re-enables ABR downshifts. It does not itself
// change the active rendition.
func (p *Player) SetAutomaticResolution() {
	p.mu.Lock()
	p.manual = false
	p.mu.Unlock()
}

// BufferedSeconds reports how far ahead of the current clock position the
// video queue has already produced samples.
func (p *Player) BufferedSeconds() float64 {
	p.mu.Lock()
	vd := p.videoDriver
	p.mu.Unlock()
	if vd == nil || p.clock == nil {
		return 0
	}
	buffered := vd.Queue().LastFramePTS() - p.clock.Now()
	if buffered < 0 {
		return 0
	}
	return buffered
}

func (p *Player) makeSegmentErrorHandler(label string) session.ErrorFunc {
	return func(index int, err error) {
		p.log.Warn("segment load failed",
			logger.String("rendition", label),
			logger.Int("index", index),
			logger.Err(err))
		if p.opts.OnError != nil {
			p.opts.OnError(err)
		}
	}
}

func (p *Player) onVideoStatusChange(s render.Status) {
	p.mu.Lock()
	p.videoStatus = s
	p.mu.Unlock()
	p.recomputeStatus()
}

func (p *Player) onAudioStatusChange(s render.Status) {
	p.mu.Lock()
	p.audioStatus = s
	p.mu.Unlock()
	p.recomputeStatus()
}

func (p *Player) recomputeStatus() {
	p.mu.Lock()
	hasAudio := p.audioDriver != nil
	combined := combineStatus(p.videoStatus, p.audioStatus, hasAudio)
	changed := combined != p.status
	p.status = combined
	p.mu.Unlock()

	if !changed {
		return
	}
	if p.opts.OnStatusChange != nil {
		p.opts.OnStatusChange(combined)
	}
	if p.opts.StatusStream != nil {
		p.opts.StatusStream.Broadcast(StatusEvent{
			Type:   statusEventTypeStatus,
			Status: combined.String(),
		})
	}
}

// onWaitingEnd is the video driver's waiting-interval callback: a stall
// lasting past the configured threshold requests an automatic downshift
// (spec §4.9), unless the host has selected a manual resolution.
func (p *Player) onWaitingEnd(d time.Duration) {
	if d < p.opts.WaitingThreshold {
		return
	}

	p.mu.Lock()
	manual := p.manual
	p.mu.Unlock()
	if manual {
		return
	}

	p.downshift()
}

func (p *Player) downshift() {
	p.mu.Lock()
	current := p.current
	ladder := p.ladder
	p.mu.Unlock()
	if current == nil {
		return
	}

	next := nextLowerRendition(ladder, current.Height())
	if next == nil {
		return // already at the bottom rung; no-op per spec §4.9
	}

	if p.opts.Metrics != nil {
		p.opts.Metrics.IncCounter(metrics.MetricABRDownshiftTotal, 1, nil)
	}
	if p.opts.StatusStream != nil {
		p.opts.StatusStream.Broadcast(StatusEvent{
			Type:   statusEventTypeDownshift,
			Height: next.Height,
		})
	}

	t := p.clock.Now()
	ctx := p.rootCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.playFrom(ctx, next.Stream, t); err != nil {
		p.log.Warn("ABR downshift failed", logger.Err(err), logger.Int("height", next.Height))
		if p.opts.OnError != nil {
			p.opts.OnError(err)
		}
	}
}
