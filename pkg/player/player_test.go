package player

import (
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aminofox/hlsplayer/pkg/blobstore"
	"github.com/aminofox/hlsplayer/pkg/render"
	"github.com/aminofox/hlsplayer/pkg/sampleproducer"
)

type testSink struct {
	mu       sync.Mutex
	ready    bool
	enqueued []*sampleproducer.SampleBuffer
}

func (s *testSink) setReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

func (s *testSink) IsReadyForMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *testSink) Enqueue(buf *sampleproducer.SampleBuffer) {
	s.mu.Lock()
	s.enqueued = append(s.enqueued, buf)
	s.mu.Unlock()
}

func (s *testSink) Flush()                    {}
func (s *testSink) StopRequestingMediaData()   {}
func (s *testSink) Timebase() render.Timebase  { return testTimebase{} }
func (s *testSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.enqueued)
}
func (s *testSink) RequestMediaDataWhenReady(queue *render.Queue, closure func()) {
	go closure()
}

type testTimebase struct{}

func (testTimebase) Now() float64 { return 0 }

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
// file (mirrors the fixture builders in pkg/sampleproducer and
// pkg/render's tests).
func buildSingleSampleAsset(sample []byte) []byte {
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
	trun = append(trun, u32(2000)...)
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

func newTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	backend, err := blobstore.NewLocalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	return blobstore.New(backend, nil)
}

func waitUntilPlayer(t *testing.T, timeout time.Duration, cond func() bool) {
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

func TestPlayerPlaysSingleRenditionToFinished(t *testing.T) {
	segment := buildSingleSampleAsset([]byte("FRAME"))

	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=1280x720\nvideo.m3u8\n"))
	})
	mux.HandleFunc("/video.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.0,\nsegment.mp4\n#EXT-X-ENDLIST\n"))
	})
	mux.HandleFunc("/segment.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(segment)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sink := &testSink{ready: true}

	p, err := New(Options{
		MasterURL: server.URL + "/master.m3u8",
		VideoSink: sink,
		Store:     newTestStore(t),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Play(ctx, 0))

	waitUntilPlayer(t, 2*time.Second, func() bool { return sink.count() == 1 })
	require.Equal(t, []byte("FRAME"), sink.enqueued[0].Data)

	waitUntilPlayer(t, 2*time.Second, func() bool { return p.Status() == StatusFinished })

	require.Equal(t, 720, p.CurrentResolution())
	require.Equal(t, []int{720}, p.AvailableResolutions())
}

func TestPlayerRejectsMediaPlaylistAtTopLevel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.0,\nsegment.mp4\n#EXT-X-ENDLIST\n"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sink := &testSink{ready: true}
	p, err := New(Options{MasterURL: server.URL + "/media.m3u8", VideoSink: sink, Store: newTestStore(t)})
	require.NoError(t, err)

	err = p.Play(context.Background(), 0)
	require.Error(t, err)
}

func TestPlayerRequiresVideoSink(t *testing.T) {
	_, err := New(Options{MasterURL: "http://example.invalid/master.m3u8"})
	require.Error(t, err)
}

func TestPlayerSetManualResolutionRejectsUnknownHeight(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000000,RESOLUTION=1280x720\nvideo.m3u8\n"))
	})
	mux.HandleFunc("/video.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.0,\nsegment.mp4\n#EXT-X-ENDLIST\n"))
	})
	mux.HandleFunc("/segment.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildSingleSampleAsset([]byte("X")))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	sink := &testSink{ready: true}
	p, err := New(Options{MasterURL: server.URL + "/master.m3u8", VideoSink: sink, Store: newTestStore(t)})
	require.NoError(t, err)
	require.NoError(t, p.Play(context.Background(), 0))

	err = p.SetManualResolution(context.Background(), 480)
	require.Error(t, err)
}
