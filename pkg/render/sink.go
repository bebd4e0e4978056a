package render

import "github.com/aminofox/hlsplayer/pkg/sampleproducer"

// Timebase is the sink's clock: the target passed to Queue.Dequeue (spec
// GLOSSARY: "the sink's clock used as the target for dequeue(target_time)").
type Timebase interface {
	Now() float64
}

// Sink is the external collaborator a Driver pumps: the native
// sample-buffer display / audio renderer, abstracted per spec §1 to an
// opaque sink accepting ordered sample buffers on a pull schedule.
type Sink interface {
	// IsReadyForMore reports whether the sink currently wants another
	// sample buffer.
	IsReadyForMore() bool
	// Enqueue hands one sample buffer to the sink. Ownership of the
	// buffer transfers to the sink (spec §3 "Lifecycles").
	Enqueue(buffer *sampleproducer.SampleBuffer)
	// Flush discards any buffered-but-not-yet-presented samples.
	Flush()
	// StopRequestingMediaData tells the sink to stop calling back for more.
	StopRequestingMediaData()
	// Timebase returns the sink's clock.
	Timebase() Timebase
	// RequestMediaDataWhenReady hands the sink a pull closure: the sink
	// invokes it whenever it wants the driver to pull from queue. This
	// engine's Driver implementation calls closure once and has it loop
	// internally while IsReadyForMore holds, which is the Go-idiomatic
	// reading of the source's repeated-callback contract (there is no
	// cooperative-suspension primitive to hang a real callback-per-pull
	// off of outside of AVFoundation's own dispatch queues).
	RequestMediaDataWhenReady(queue *Queue, closure func())
}
