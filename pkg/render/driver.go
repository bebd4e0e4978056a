package render

import (
	"context"
	"sync"
	"time"

	"github.com/aminofox/hlsplayer/pkg/logger"
	"github.com/aminofox/hlsplayer/pkg/sampleproducer"
)

// Status is the render driver's externally observable playback state
// (spec §4.8).
type Status int

const (
	StatusIdle Status = iota
	StatusPlaying
	StatusFinished
	StatusWaiting
)

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusFinished:
		return "finished"
	case StatusWaiting:
		return "waiting"
	default:
		return "idle"
	}
}

// backPressureSleep is the fixed pause between poll iterations while the
// queue reports Waiting, preventing a tight busy loop (spec §4.8 step 2).
const backPressureSleep = 10 * time.Millisecond

// StatusChangeFunc is invoked on every Status transition (not on repeats).
type StatusChangeFunc func(Status)

// WaitingEndFunc is invoked when a waiting interval closes, with its
// wall-clock duration — the ABR controller's downshift trigger (spec §4.9)
// watches this for intervals exceeding its threshold.
type WaitingEndFunc func(time.Duration)

// Driver is a generic pump: for a given Sink, it pulls sample buffers from
// a Queue while the sink signals readiness, translating queue outcomes
// into sink calls and status transitions.
type Driver struct {
	sink      Sink
	queue     *Queue
	mediaType sampleproducer.MediaType
	log       logger.Logger

	onStatusChange StatusChangeFunc
	onWaitingEnd   WaitingEndFunc

	mu           sync.Mutex
	status       Status
	waiting      bool
	waitingSince time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDriver creates a Driver with its own Queue for mediaType, seeded at
// startOffset seconds.
func NewDriver(sink Sink, mediaType sampleproducer.MediaType, startOffset float64, onStatusChange StatusChangeFunc, onWaitingEnd WaitingEndFunc, log logger.Logger) *Driver {
	if log == nil {
		log = logger.NewDefaultLogger(logger.ErrorLevel, "text")
	}
	return &Driver{
		sink:           sink,
		queue:          New(mediaType, startOffset, log),
		mediaType:      mediaType,
		log:            log,
		onStatusChange: onStatusChange,
		onWaitingEnd:   onWaitingEnd,
		stopCh:         make(chan struct{}),
	}
}

// Queue returns this driver's render queue, so the caller (the download
// session's completion callback) can Enqueue newly available segment
// assets in index order.
func (d *Driver) Queue() *Queue { return d.queue }

// Start asks the sink to pull. Inside the pull closure the driver loops
// while the sink reports readiness, dequeuing and reacting per spec §4.8.
func (d *Driver) Start(ctx context.Context) {
	d.sink.RequestMediaDataWhenReady(d.queue, func() {
		d.pump(ctx)
	})
}

func (d *Driver) pump(ctx context.Context) {
	for d.sink.IsReadyForMore() {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		result := d.queue.Dequeue(d.sink.Timebase().Now())
		switch result.Kind {
		case ResultFinished:
			d.setStatus(StatusFinished)
			return
		case ResultFrame:
			d.setStatus(StatusPlaying)
			d.closeWaitingInterval()
			d.sink.Enqueue(result.Frame)
		case ResultSkip:
			continue
		case ResultWaiting:
			d.setStatus(StatusWaiting)
			d.openWaitingInterval()
			time.Sleep(backPressureSleep)
		}
	}
}

// Stop completes the queue, flushes the sink, and stops pull requests.
func (d *Driver) Stop() {
	d.queue.Complete()
	d.sink.Flush()
	d.sink.StopRequestingMediaData()
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.queue.Close()
}

// Complete only marks the queue complete, without touching the sink —
// used when the upstream segment source has ended but playback of
// already-buffered samples should continue to drain naturally.
func (d *Driver) Complete() {
	d.queue.Complete()
}

// Status returns the driver's current status.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) setStatus(s Status) {
	d.mu.Lock()
	changed := d.status != s
	d.status = s
	d.mu.Unlock()

	if changed && d.onStatusChange != nil {
		d.onStatusChange(s)
	}
}

func (d *Driver) openWaitingInterval() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.waiting {
		d.waiting = true
		d.waitingSince = time.Now()
	}
}

func (d *Driver) closeWaitingInterval() {
	d.mu.Lock()
	if !d.waiting {
		d.mu.Unlock()
		return
	}
	d.waiting = false
	elapsed := time.Since(d.waitingSince)
	d.mu.Unlock()

	if d.onWaitingEnd != nil {
		d.onWaitingEnd(elapsed)
	}
}
