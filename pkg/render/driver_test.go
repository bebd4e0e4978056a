package render

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aminofox/hlsplayer/pkg/sampleproducer"
)

// fakeTimebase is a clock fixed at zero; the driver never branches on its
// value today (spec's target_time is accepted but informational, see
// Queue.Dequeue), so a constant is sufficient for these tests.
type fakeTimebase struct{}

func (fakeTimebase) Now() float64 { return 0 }

type fakeSink struct {
	mu       sync.Mutex
	ready    bool
	enqueued []*sampleproducer.SampleBuffer
	flushed  bool
	stopped  bool
}

func (s *fakeSink) setReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

func (s *fakeSink) IsReadyForMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSink) Enqueue(buf *sampleproducer.SampleBuffer) {
	s.mu.Lock()
	s.enqueued = append(s.enqueued, buf)
	s.mu.Unlock()
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	s.flushed = true
	s.mu.Unlock()
}

func (s *fakeSink) StopRequestingMediaData() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

func (s *fakeSink) Timebase() Timebase { return fakeTimebase{} }

func (s *fakeSink) RequestMediaDataWhenReady(queue *Queue, closure func()) {
	go closure()
}

func (s *fakeSink) enqueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enqueued)
}

func box(typ string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	copy(buf[4:8], typ)
	copy(buf[8:], payload)
	return buf
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// buildSingleSampleAsset assembles a minimal one-track, one-sample fMP4
// file, mirroring the fixture builder in pkg/sampleproducer's tests.
func buildSingleSampleAsset(t *testing.T, sample []byte) []byte {
	t.Helper()

	tkhd := append(make([]byte, 12), append(u32(1), make([]byte, 4)...)...)

	mdhd := append(make([]byte, 4), make([]byte, 8)...)
	mdhd = append(mdhd, u32(90000)...)
	mdhd = append(mdhd, make([]byte, 8)...)

	hdlr := make([]byte, 8)
	hdlr = append(hdlr, []byte("vide")...)
	hdlr = append(hdlr, make([]byte, 12)...)

	mdia := append(box("mdhd", mdhd), box("hdlr", hdlr)...)
	trak := box("trak", append(box("tkhd", tkhd), box("mdia", mdia)...))
	moov := box("moov", trak)
	ftyp := box("ftyp", []byte("isomiso2mp41"))

	tfhd := append(make([]byte, 4), u32(1)...)
	tfdt := append(make([]byte, 4), u32(0)...)

	trun := append([]byte{}, u32(0x000301)...)
	trun = append(trun, u32(1)...)
	dataOffsetPos := len(trun)
	trun = append(trun, u32(0)...)
	trun = append(trun, u32(3000)...)
	trun = append(trun, u32(uint32(len(sample)))...)

	traf := append(box("tfhd", tfhd), box("tfdt", tfdt)...)
	traf = append(traf, box("trun", trun)...)
	moof := box("moof", traf)

	dataOffset := uint32(len(moof) + 8)
	binary.BigEndian.PutUint32(trun[dataOffsetPos:dataOffsetPos+4], dataOffset)
	traf = append(box("tfhd", tfhd), box("tfdt", tfdt)...)
	traf = append(traf, box("trun", trun)...)
	moof = box("moof", traf)

	mdat := box("mdat", sample)

	out := append([]byte{}, ftyp...)
	out = append(out, moov...)
	out = append(out, moof...)
	out = append(out, mdat...)
	return out
}

func writeAsset(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.mp4")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return "file://" + path
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDriverFinishesWithNoSegments(t *testing.T) {
	sink := &fakeSink{ready: true}
	var mu sync.Mutex
	var last Status
	d := NewDriver(sink, sampleproducer.MediaTypeVideo, 0, func(s Status) {
		mu.Lock()
		last = s
		mu.Unlock()
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)
	d.Complete()

	waitUntil(t, time.Second, func() bool { return d.Status() == StatusFinished })

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, StatusFinished, last)
}

func TestDriverDeliversFrameThenFinishes(t *testing.T) {
	data := buildSingleSampleAsset(t, []byte("FRAME"))
	url := writeAsset(t, data)

	sink := &fakeSink{ready: true}
	d := NewDriver(sink, sampleproducer.MediaTypeVideo, 0, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)
	d.Queue().Enqueue(url, 0)
	d.Complete()

	waitUntil(t, time.Second, func() bool { return sink.enqueuedCount() == 1 })
	waitUntil(t, time.Second, func() bool { return d.Status() == StatusFinished })

	require.Equal(t, []byte("FRAME"), sink.enqueued[0].Data)
}

func TestDriverReportsWaitingIntervalBeforeDataArrives(t *testing.T) {
	sink := &fakeSink{ready: true}

	var mu sync.Mutex
	var waitingEnded bool
	var waitDuration time.Duration

	d := NewDriver(sink, sampleproducer.MediaTypeVideo, 0, nil, func(dur time.Duration) {
		mu.Lock()
		waitingEnded = true
		waitDuration = dur
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)

	waitUntil(t, time.Second, func() bool { return d.Status() == StatusWaiting })

	data := buildSingleSampleAsset(t, []byte("LATE"))
	url := writeAsset(t, data)
	d.Queue().Enqueue(url, 0)
	d.Complete()

	waitUntil(t, time.Second, func() bool { return sink.enqueuedCount() == 1 })

	mu.Lock()
	defer mu.Unlock()
	require.True(t, waitingEnded)
	require.GreaterOrEqual(t, waitDuration, time.Duration(0))
}

func TestDriverStopFlushesSink(t *testing.T) {
	sink := &fakeSink{ready: false}
	d := NewDriver(sink, sampleproducer.MediaTypeVideo, 0, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)
	d.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.True(t, sink.flushed)
	require.True(t, sink.stopped)
}
