// Package session implements the segment download session (spec §4.5): it
// walks a media playlist from a seek-resolved starting segment, dedups
// per-URL byte-range fetches across the initialization-section + segment
// graph, writes assembled blobs to the content-addressed store, and emits
// ordered (index, file_url, presentation_offset, duration) completions.
//
// It is grounded on the teacher's ConnectionPool admission/wait idiom
// (carried via pkg/fetch.Semaphore) for the file-load semaphore and on
// pkg/cluster/session.go's mutex-guarded-maps-around-async-work shape for
// the session's own bookkeeping.
package session

import (
	"context"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/aminofox/hlsplayer/pkg/bandwidth"
	"github.com/aminofox/hlsplayer/pkg/blobstore"
	"github.com/aminofox/hlsplayer/pkg/errors"
	"github.com/aminofox/hlsplayer/pkg/fetch"
	"github.com/aminofox/hlsplayer/pkg/loader"
	"github.com/aminofox/hlsplayer/pkg/logger"
	"github.com/aminofox/hlsplayer/pkg/m3u8"
	"github.com/aminofox/hlsplayer/pkg/metrics"
)

// CompletionFunc is invoked once per segment, in increasing index order,
// when that segment's blob is ready (spec §2: "emits ordered ... callbacks").
type CompletionFunc func(index int, fileURL string, presentationOffset, duration float64)

// ErrorFunc is invoked when a segment fails to load. Per spec §7, the
// session logs and drops — no automatic retry.
type ErrorFunc func(index int, err error)

// Options configures a Session.
type Options struct {
	Playlist *m3u8.MediaPlaylist
	// BaseURL is the media playlist's own URL, used to resolve relative
	// segment and initialization-section URIs.
	BaseURL  string
	SeekTime float64

	Store  *blobstore.Store
	Client *http.Client
	Meter  *bandwidth.Meter
	Log    logger.Logger

	// MaxConcurrentFileLoads seeds the whole-file-load admission semaphore
	// (spec §4.3: "initially 1").
	MaxConcurrentFileLoads int

	Metrics *metrics.Collector

	OnSegment CompletionFunc
	OnError   ErrorFunc
}

type sessionKey struct {
	url string
}

// fetcherHandle wraps whichever provider backs a sessionKey. Exactly one
// of streaming/file is non-nil.
type fetcherHandle struct {
	streaming *fetch.StreamingProvider
	file      *fetch.FileProvider
	started   bool
}

type initWait struct {
	once sync.Once
	done chan struct{}
	data []byte
	err  error
}

type segmentPlan struct {
	index int
	seg   *m3u8.Segment
}

// Session owns the fetchers for one media playlist from a given seek point
// onward. Construct with New, then call Start to begin issuing fetches.
type Session struct {
	id      string
	baseURL string

	client  *http.Client
	meter   *bandwidth.Meter
	log     logger.Logger
	store   *blobstore.Store
	metrics *metrics.Collector
	sem     *fetch.Semaphore

	onSegment CompletionFunc
	onError   ErrorFunc

	Durations []float64
	Offsets   []float64
	SkipCount int

	plan []segmentPlan

	mu           sync.Mutex
	fetchers     map[sessionKey]*fetcherHandle
	initWaits    map[blobstore.BytesKey]*initWait
	initSections map[blobstore.BytesKey][]byte
	loadedChunks map[blobstore.BytesKey]bool
	pending      map[int]pendingCompletion
	nextEmit     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopped bool
}

type pendingCompletion struct {
	url      string
	offset   float64
	duration float64
}

// New computes the seek-to-skip position and the per-segment duration/
// offset arrays, and plans the fetches for every segment from SkipCount
// onward. It performs no I/O; call Start to begin fetching.
func New(opts Options) *Session {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Meter == nil {
		opts.Meter = bandwidth.NewMeter()
	}
	if opts.Log == nil {
		opts.Log = logger.NewDefaultLogger(logger.ErrorLevel, "text")
	}
	maxFileLoads := opts.MaxConcurrentFileLoads
	if maxFileLoads < 1 {
		maxFileLoads = 1
	}

	durations, offsets := computeOffsets(opts.Playlist.Segments)
	skip := computeSkip(durations, opts.SeekTime)

	s := &Session{
		id:           uuid.NewString(),
		baseURL:      opts.BaseURL,
		client:       opts.Client,
		meter:        opts.Meter,
		log:          opts.Log,
		store:        opts.Store,
		metrics:      opts.Metrics,
		sem:          fetch.NewSemaphore(maxFileLoads),
		onSegment:    opts.OnSegment,
		onError:      opts.OnError,
		Durations:    durations,
		Offsets:      offsets,
		SkipCount:    skip,
		fetchers:     make(map[sessionKey]*fetcherHandle),
		initWaits:    make(map[blobstore.BytesKey]*initWait),
		initSections: make(map[blobstore.BytesKey][]byte),
		loadedChunks: make(map[blobstore.BytesKey]bool),
		pending:      make(map[int]pendingCompletion),
		nextEmit:     skip,
	}

	for i := skip; i < len(opts.Playlist.Segments); i++ {
		s.plan = append(s.plan, segmentPlan{index: i, seg: opts.Playlist.Segments[i]})
	}

	return s
}

// Start resumes every planned fetch. Per spec §4.5 ("resumes all
// registered fetchers on a private serial queue"), the launches themselves
// are issued one at a time from a single goroutine; each fetch's network
// I/O then proceeds independently and concurrently.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, p := range s.plan {
			if s.ctx.Err() != nil {
				return
			}
			plan := p
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.processSegment(s.ctx, plan.index, plan.seg)
			}()
		}
	}()
}

// Stop cancels every outstanding fetcher. In-flight callbacks may still
// fire once; they are idempotent against the loadedChunks set (spec §5).
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	handles := make([]*fetcherHandle, 0, len(s.fetchers))
	for _, h := range s.fetchers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	for _, h := range handles {
		if h.streaming != nil {
			h.streaming.Cancel()
		}
		if h.file != nil {
			h.file.Cancel()
		}
	}
}

// Wait blocks until every planned segment has finished processing
// (successfully or not). Useful in tests and for graceful shutdown.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) processSegment(ctx context.Context, index int, seg *m3u8.Segment) {
	segURL := loader.ResolveURI(s.baseURL, seg.URI)
	key := blobstore.BytesKey{
		URIBasename: basename(segURL),
		Offset:      byteRangeOffset(seg.ByteRange),
		Length:      byteRangeLength(seg.ByteRange),
	}

	if cachedURL, ok, err := s.store.Lookup(ctx, key); err == nil && ok {
		s.recordMetric("segments_cache_hit_total", 1)
		s.complete(index, cachedURL)
		return
	}

	var initData []byte
	if seg.Init != nil {
		data, err := s.loadInit(ctx, seg.Init)
		if err != nil {
			s.fail(index, err)
			return
		}
		initData = data
	}

	var br *m3u8.ByteRange
	if seg.ByteRange != nil {
		br = seg.ByteRange
	}

	data, err := s.fetchBytes(ctx, segURL, br, key)
	if err != nil {
		s.fail(index, err)
		return
	}

	blob := make([]byte, 0, len(initData)+len(data))
	blob = append(blob, initData...)
	blob = append(blob, data...)

	url, err := s.store.Put(ctx, s.id, segURL, key, index, blob)
	if err != nil {
		s.fail(index, errors.NewFetchNetworkError("failed to write blob", err))
		return
	}

	s.recordMetric("segments_fetched_total", 1)
	s.complete(index, url)
}

// loadInit fetches init's bytes, deduplicated by BytesKey across every
// segment in the session that shares the same EXT-X-MAP URI+range (spec
// §4.5: "retains one copy per distinct init section across the session").
func (s *Session) loadInit(ctx context.Context, init *m3u8.InitializationSection) ([]byte, error) {
	initURL := loader.ResolveURI(s.baseURL, init.URI)
	key := blobstore.BytesKey{
		URIBasename: basename(initURL),
		Offset:      byteRangeOffset(init.ByteRange),
		Length:      byteRangeLength(init.ByteRange),
	}

	s.mu.Lock()
	if data, ok := s.initSections[key]; ok {
		s.mu.Unlock()
		return data, nil
	}
	w, ok := s.initWaits[key]
	if !ok {
		w = &initWait{done: make(chan struct{})}
		s.initWaits[key] = w
	}
	s.mu.Unlock()

	w.once.Do(func() {
		data, err := s.fetchBytes(ctx, initURL, init.ByteRange, key)
		w.data, w.err = data, err
		if err == nil {
			s.mu.Lock()
			s.initSections[key] = data
			s.mu.Unlock()
		}
		close(w.done)
	})

	select {
	case <-w.done:
		return w.data, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type chunkResult struct {
	data []byte
	err  error
}

// fetchBytes issues (or joins an in-flight) fetch for url/br, deduplicated
// by SessionKey(url) across every caller that targets the same resource
// (spec §4.5's dedup rule), and blocks until that chunk's bytes are
// delivered or ctx is cancelled.
func (s *Session) fetchBytes(ctx context.Context, url string, br *m3u8.ByteRange, key blobstore.BytesKey) ([]byte, error) {
	sk := sessionKey{url: url}

	s.mu.Lock()
	h, ok := s.fetchers[sk]
	if !ok {
		h = &fetcherHandle{}
		if br != nil {
			h.file = fetch.NewFileProvider(s.client, s.sem, s.meter)
		} else {
			h.streaming = fetch.NewStreamingProvider(s.client, s.meter, s.log)
		}
		s.fetchers[sk] = h
	}
	s.mu.Unlock()

	result := make(chan chunkResult, 1)

	if h.file != nil {
		h.file.Register(s.fileCallback(key, result))
		h.file.SetErrorFunc(func(e *fetch.Error) {
			select {
			case result <- chunkResult{err: e}:
			default:
			}
		})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := h.file.Start(ctx, url, br); err != nil {
				select {
				case result <- chunkResult{err: err}:
				default:
				}
			}
		}()
	} else {
		h.streaming.Register(s.streamCallback(br, key, result))
		h.streaming.SetErrorFunc(func(e *fetch.Error) {
			select {
			case result <- chunkResult{err: e}:
			default:
			}
		})

		s.mu.Lock()
		start := !h.started
		h.started = true
		s.mu.Unlock()
		if start {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if err := h.streaming.Start(ctx, url, 0); err != nil {
					select {
					case result <- chunkResult{err: err}:
					default:
					}
				}
			}()
		}
	}

	select {
	case r := <-result:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) fileCallback(key blobstore.BytesKey, result chan<- chunkResult) fetch.Callback {
	return func(consume fetch.Consumer, _ int64) {
		s.mu.Lock()
		already := s.loadedChunks[key]
		s.mu.Unlock()
		if already {
			return
		}
		data, ok := consume(-1)
		if !ok {
			return
		}
		s.mu.Lock()
		s.loadedChunks[key] = true
		s.mu.Unlock()
		select {
		case result <- chunkResult{data: data}:
		default:
		}
	}
}

// streamCallback implements the stream-mode discard-then-consume rule of
// spec §4.5: discard until the fetcher's current offset has advanced to
// byteRange.Offset, then consume exactly byteRange.Length bytes once. The
// loadedChunks check makes it idempotent against concurrent callback
// firings after the chunk is already delivered.
func (s *Session) streamCallback(byteRange *m3u8.ByteRange, key blobstore.BytesKey, result chan<- chunkResult) fetch.Callback {
	discarded := false
	return func(consume fetch.Consumer, offset int64) {
		s.mu.Lock()
		already := s.loadedChunks[key]
		s.mu.Unlock()
		if already {
			return
		}

		if !discarded {
			if skip := byteRange.Offset - offset; skip > 0 {
				if _, ok := consume(int(skip)); !ok {
					consume(0)
					return
				}
			}
			discarded = true
		}

		data, ok := consume(int(byteRange.Length))
		if !ok {
			return
		}
		s.mu.Lock()
		s.loadedChunks[key] = true
		s.mu.Unlock()
		select {
		case result <- chunkResult{data: data}:
		default:
		}
	}
}

// complete records index's result and emits every now-contiguous pending
// completion in order, starting from nextEmit (spec §2: the session's
// emitted callback sequence is ordered even though completions race).
func (s *Session) complete(index int, url string) {
	s.mu.Lock()
	s.pending[index] = pendingCompletion{url: url, offset: s.Offsets[index], duration: s.Durations[index]}
	var toEmit []pendingCompletion
	var emitIdx []int
	for {
		p, ok := s.pending[s.nextEmit]
		if !ok {
			break
		}
		toEmit = append(toEmit, p)
		emitIdx = append(emitIdx, s.nextEmit)
		delete(s.pending, s.nextEmit)
		s.nextEmit++
	}
	s.mu.Unlock()

	for i, p := range toEmit {
		if s.onSegment != nil {
			s.onSegment(emitIdx[i], p.url, p.offset, p.duration)
		}
	}
}

func (s *Session) fail(index int, err error) {
	s.log.Warn("segment load failed", logger.Int("index", index), logger.Err(err))
	if s.onError != nil {
		s.onError(index, err)
	}
}

func (s *Session) recordMetric(name string, delta float64) {
	if s.metrics != nil {
		s.metrics.IncCounter(name, delta, nil)
	}
}

// computeOffsets returns per-segment durations and the cumulative start
// offset of each segment on the playlist's own timeline (spec §4.5 point 2).
func computeOffsets(segments []*m3u8.Segment) (durations, offsets []float64) {
	durations = make([]float64, len(segments))
	offsets = make([]float64, len(segments))
	cumulative := 0.0
	for i, seg := range segments {
		durations[i] = seg.Duration
		offsets[i] = cumulative
		cumulative += seg.Duration
	}
	return durations, offsets
}

// computeSkip returns the count of leading segments whose cumulative
// duration ends at or before seek — the first segment whose range
// straddles seek is kept (spec §4.5 point 1, §8 scenario 3).
func computeSkip(durations []float64, seek float64) int {
	skip := 0
	cumulative := 0.0
	for _, d := range durations {
		if cumulative+d <= seek {
			skip++
			cumulative += d
			continue
		}
		break
	}
	return skip
}

func byteRangeOffset(br *m3u8.ByteRange) int64 {
	if br == nil {
		return 0
	}
	return br.Offset
}

func byteRangeLength(br *m3u8.ByteRange) int64 {
	if br == nil {
		return -1
	}
	return br.Length
}

func basename(rawURL string) string {
	clean := rawURL
	if idx := strings.IndexByte(clean, '?'); idx >= 0 {
		clean = clean[:idx]
	}
	return path.Base(clean)
}
