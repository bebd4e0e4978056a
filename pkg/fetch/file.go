package fetch

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aminofox/hlsplayer/pkg/bandwidth"
)

// FileProvider issues a single ranged GET and delivers the whole payload
// to its registered callback exactly once. A *Semaphore shared across every
// FileProvider in a download session serializes whole-file loads, per spec
// §4.3, to avoid network contention during a burst of segment loads.
type FileProvider struct {
	client *http.Client
	sem    *Semaphore
	meter  *bandwidth.Meter

	mu        sync.Mutex
	callbacks []Callback
	onError   ErrorFunc

	cancel context.CancelFunc
}

// NewFileProvider creates a FileProvider. sem must not be nil — share one
// instance across every FileProvider in a session.
func NewFileProvider(client *http.Client, sem *Semaphore, meter *bandwidth.Meter) *FileProvider {
	if client == nil {
		client = defaultClient()
	}
	return &FileProvider{client: client, sem: sem, meter: meter}
}

// Register adds a callback invoked once the payload is fully downloaded.
// Two enqueues that dedup onto the same (url, offset) SessionKey (spec
// §4.5) register against the same FileProvider, so more than one callback
// may be registered here.
func (p *FileProvider) Register(cb Callback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, cb)
}

// SetErrorFunc sets the callback invoked on terminal failure or cancellation.
func (p *FileProvider) SetErrorFunc(fn ErrorFunc) { p.onError = fn }

// Start acquires the shared semaphore, issues a closed-range GET
// ("Range: bytes=<offset>-<offset+length-1>", omitted when br is nil), and
// on success invokes the registered callback once with a consumer that
// returns the whole payload. It blocks until the load completes, fails, or
// ctx is cancelled.
func (p *FileProvider) Start(ctx context.Context, url string, br *ByteRange) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if err := p.sem.Acquire(ctx); err != nil {
		return p.fail(err, true)
	}
	defer p.sem.Release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return p.fail(err, false)
	}
	if br != nil {
		if v, omit := rangeHeader(br.Offset, br.Offset+br.Length-1, true); !omit {
			req.Header.Set("Range", v)
		}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return p.fail(err, ctx.Err() != nil)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return p.fail(errStatus(resp.StatusCode), false)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return p.fail(err, ctx.Err() != nil)
	}
	p.meter.Add(time.Since(start).Seconds(), int64(len(data)))

	p.mu.Lock()
	cbs := append([]Callback(nil), p.callbacks...)
	p.mu.Unlock()

	for _, cb := range cbs {
		buf := pullBuffer{data: data}
		cb(buf.consumer(), 0)
	}
	return nil
}

// Cancel stops an in-flight load. Best-effort, matching StreamingProvider.
func (p *FileProvider) Cancel() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *FileProvider) fail(cause error, cancelled bool) error {
	fe := &Error{Cancelled: cancelled, Cause: cause}
	if p.onError != nil {
		p.onError(fe)
	}
	return fe
}
