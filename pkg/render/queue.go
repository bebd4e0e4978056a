// Package render implements the render queue and render driver (spec
// §4.7, §4.8): the queue concatenates sample producers for successive
// segments and rewrites presentation timestamps onto a continuous
// timeline; the driver pumps a sink against that queue and reports
// playing/finished/waiting status transitions.
//
// It is grounded on the teacher's pkg/cluster/session.go for the
// mutex-guarded-state-plus-async-append shape (the render queue's producer
// list is appended to on a private serial goroutine, exactly as that
// session's broadcast loop is fed from one goroutine while readers take a
// lock), and on pkg/streaming/multistream.go for the generic "pump a sink
// while it signals readiness" pattern the render driver follows.
package render

import (
	"sync"

	"github.com/aminofox/hlsplayer/pkg/logger"
	"github.com/aminofox/hlsplayer/pkg/sampleproducer"
)

// ResultKind enumerates a Dequeue call's outcome (spec §4.7).
type ResultKind int

const (
	ResultFinished ResultKind = iota
	ResultWaiting
	ResultSkip
	ResultFrame
)

func (k ResultKind) String() string {
	switch k {
	case ResultFinished:
		return "finished"
	case ResultWaiting:
		return "waiting"
	case ResultSkip:
		return "skip"
	case ResultFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// DequeueResult is Dequeue's return value: Kind selects which field, if
// any, is meaningful (only ResultFrame populates Frame).
type DequeueResult struct {
	Kind  ResultKind
	Frame *sampleproducer.SampleBuffer
}

type enqueueJob struct {
	assetURL   string
	timeOffset float64
}

// Queue concatenates an ordered list of sample producers (one per
// consumed segment file) and rewrites their PTS onto a single continuous
// timeline. The zero value is not usable; construct with New.
type Queue struct {
	mediaType sampleproducer.MediaType
	log       logger.Logger

	mu        sync.Mutex
	producers []*sampleproducer.Producer
	pointer   int
	holding   []*sampleproducer.SampleBuffer

	// lastProducerOffset is the presentation time, in seconds on the
	// unified timeline, at which the current producer's own (zero-based)
	// output starts. lastFramePTS is the maximum unified-timeline PTS, in
	// seconds, emitted so far from the current producer.
	lastProducerOffset float64
	lastFramePTS       float64

	completed bool

	jobs     chan enqueueJob
	closeJobs sync.Once
}

// New creates a Queue for mediaType whose timeline starts at startOffset
// seconds (the segment's presentation offset at the session's seek point).
func New(mediaType sampleproducer.MediaType, startOffset float64, log logger.Logger) *Queue {
	if log == nil {
		log = logger.NewDefaultLogger(logger.ErrorLevel, "text")
	}
	q := &Queue{
		mediaType:          mediaType,
		log:                log,
		lastProducerOffset: startOffset,
		jobs:               make(chan enqueueJob, 64),
	}
	go q.runEnqueueLoop()
	return q
}

func (q *Queue) runEnqueueLoop() {
	for job := range q.jobs {
		p := sampleproducer.New(job.assetURL, q.mediaType, job.timeOffset, q.log)
		q.mu.Lock()
		q.producers = append(q.producers, p)
		q.mu.Unlock()
	}
}

// Enqueue appends a new producer for assetURL asynchronously on the
// queue's private serial goroutine — the append is the only mutation
// Dequeue observes outside its own lock (spec §4.7).
func (q *Queue) Enqueue(assetURL string, timeOffset float64) {
	q.jobs <- enqueueJob{assetURL: assetURL, timeOffset: timeOffset}
}

// Complete latches the flag that lets Dequeue return ResultFinished once
// every enqueued producer and the holding queue have drained.
func (q *Queue) Complete() {
	q.mu.Lock()
	q.completed = true
	q.mu.Unlock()
}

// Close stops the enqueue goroutine. Safe to call more than once.
func (q *Queue) Close() {
	q.closeJobs.Do(func() { close(q.jobs) })
}

// Dequeue implements the §4.7 algorithm: advance past a finished
// producer, pull one sample, rebase its PTS onto the unified timeline, and
// return the head of the holding queue.
func (q *Queue) Dequeue(targetTime float64) DequeueResult {
	_ = targetTime // informational pull signal; this queue never gates on it directly

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pointer >= len(q.producers) {
		if len(q.holding) > 0 {
			return q.popHoldingLocked()
		}
		if q.completed {
			return DequeueResult{Kind: ResultFinished}
		}
		return DequeueResult{Kind: ResultWaiting}
	}

	current := q.producers[q.pointer]
	if current.IsFinished() {
		q.pointer++
		q.lastProducerOffset = q.lastFramePTS
		q.lastFramePTS = 0
		return DequeueResult{Kind: ResultSkip}
	}

	sample, err := current.Produce()
	if err != nil || sample == nil {
		return DequeueResult{Kind: ResultSkip}
	}
	if !sample.Valid() {
		return DequeueResult{Kind: ResultSkip}
	}

	offsetInTrackUnits := int64(q.lastProducerOffset * float64(sample.Timescale))
	sample.PTS += offsetInTrackUnits

	if newPTS := sample.PTSSeconds(); newPTS > q.lastFramePTS {
		q.lastFramePTS = newPTS
	}

	q.holding = append(q.holding, sample)
	return q.popHoldingLocked()
}

// LastFramePTS returns the unified-timeline PTS, in seconds, of the most
// recently produced frame — the player's buffered-ahead-of-clock estimate
// (SPEC_FULL.md §F.4 buffered_seconds) is this minus the current clock
// time.
func (q *Queue) LastFramePTS() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastFramePTS
}

// popHoldingLocked returns the holding queue's head as a frame, or Waiting
// if it's empty — defensive per spec §4.7 step 5 ("should not happen after
// an append but is defensive"). Caller must hold q.mu.
func (q *Queue) popHoldingLocked() DequeueResult {
	if len(q.holding) == 0 {
		return DequeueResult{Kind: ResultWaiting}
	}
	f := q.holding[0]
	q.holding = q.holding[1:]
	return DequeueResult{Kind: ResultFrame, Frame: f}
}
