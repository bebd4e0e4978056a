package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aminofox/hlsplayer/pkg/blobstore"
	"github.com/aminofox/hlsplayer/pkg/m3u8"
)

func newTestStore(t *testing.T) *blobstore.Store {
	t.Helper()
	backend, err := blobstore.NewLocalBackend(t.TempDir(), nil)
	require.NoError(t, err)
	return blobstore.New(backend, nil)
}

// TestSessionEmitsOrderedCompletions checks the reordering buffer: the
// later segment's server handler responds faster than the earlier one's,
// yet completions must still arrive at the callback in index order.
func TestSessionEmitsOrderedCompletions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/seg0.mp4", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte("seg0-bytes"))
	})
	mux.HandleFunc("/seg1.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("seg1-bytes"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	playlist := &m3u8.MediaPlaylist{
		Segments: []*m3u8.Segment{
			{Duration: 4, URI: "seg0.mp4"},
			{Duration: 4, URI: "seg1.mp4"},
		},
	}

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	s := New(Options{
		Playlist: playlist,
		BaseURL:  srv.URL + "/master.m3u8",
		Store:    newTestStore(t),
		Client:   srv.Client(),
		OnSegment: func(index int, url string, offset, duration float64) {
			mu.Lock()
			order = append(order, index)
			n := len(order)
			mu.Unlock()
			if n == 2 {
				close(done)
			}
		},
	})

	s.Start(context.Background())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completions")
	}
	s.Wait()

	require.Equal(t, []int{0, 1}, order)
}

// TestSessionSharesInitializationSection checks that two segments sharing
// the same EXT-X-MAP are served by exactly one init fetch, and that both
// segments are emitted as file:// blobs.
func TestSessionSharesInitializationSection(t *testing.T) {
	var initRequests int
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/init.mp4", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		initRequests++
		mu.Unlock()
		w.Write([]byte("INIT"))
	})
	mux.HandleFunc("/seg0.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("SEG0"))
	})
	mux.HandleFunc("/seg1.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("SEG1"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	init := &m3u8.InitializationSection{URI: "init.mp4"}
	playlist := &m3u8.MediaPlaylist{
		Segments: []*m3u8.Segment{
			{Duration: 4, URI: "seg0.mp4", Init: init},
			{Duration: 4, URI: "seg1.mp4", Init: init},
		},
	}

	store := newTestStore(t)
	blobs := map[int]string{}
	var bmu sync.Mutex
	done := make(chan struct{})

	s := New(Options{
		Playlist: playlist,
		BaseURL:  srv.URL + "/master.m3u8",
		Store:    store,
		Client:   srv.Client(),
		OnSegment: func(index int, url string, offset, duration float64) {
			bmu.Lock()
			blobs[index] = url
			n := len(blobs)
			bmu.Unlock()
			if n == 2 {
				close(done)
			}
		},
	})

	s.Start(context.Background())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	s.Wait()

	require.Equal(t, 1, initRequests)
	require.Contains(t, blobs[0], "file://")
	require.Contains(t, blobs[1], "file://")
}

func TestComputeSkipAndOffsets(t *testing.T) {
	durations := []float64{4.0, 4.0, 4.0, 2.0}
	skip := computeSkip(durations, 5.0)
	require.Equal(t, 1, skip)

	segments := make([]*m3u8.Segment, len(durations))
	for i, d := range durations {
		segments[i] = &m3u8.Segment{Duration: d}
	}
	_, offsets := computeOffsets(segments)
	require.Equal(t, 4.0, offsets[1])
}
