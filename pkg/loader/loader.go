// Package loader implements the playlist loader (spec §4.2): fetches a
// manifest URL, parses it as a master playlist, and transparently retries
// as media on the MediaInsteadOfMaster signal from pkg/m3u8. It also
// resolves relative media-playlist URIs against a master's base URL and
// records whether the origin server advertises ranged-GET support.
package loader

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aminofox/hlsplayer/pkg/errors"
	"github.com/aminofox/hlsplayer/pkg/logger"
	"github.com/aminofox/hlsplayer/pkg/m3u8"
)

// Result is the outcome of a successful Load or LoadMedia call.
type Result struct {
	Playlist       *m3u8.Playlist
	URL            string
	SupportsRanges bool
}

// Loader fetches and parses HLS manifests over HTTP.
type Loader struct {
	client *http.Client
	log    logger.Logger
}

// New creates a Loader. client may be nil (http.DefaultClient is used);
// log may be nil (errors only, to stdout).
func New(client *http.Client, log logger.Logger) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewDefaultLogger(logger.ErrorLevel, "text")
	}
	return &Loader{client: client, log: log}
}

// Load fetches url and attempts a master parse. If the body turns out to
// be a media playlist (ErrCodeMediaInsteadOfMaster), it retries a media
// parse against the same bytes — no second request is issued, since the
// body already in hand is exactly what a re-fetch would return.
func (l *Loader) Load(ctx context.Context, url string) (*Result, error) {
	body, supportsRanges, err := l.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	pl, err := m3u8.Parse(body)
	if err != nil {
		if !errors.IsErrorCode(err, errors.ErrCodeMediaInsteadOfMaster) {
			return nil, err
		}
		l.log.Debug("master parse hit a media-only tag, retrying as media", logger.String("url", url))
		media, mediaErr := m3u8.ParseMedia(body)
		if mediaErr != nil {
			return nil, mediaErr
		}
		return &Result{
			Playlist:       &m3u8.Playlist{Type: m3u8.ListTypeMedia, Media: media},
			URL:            url,
			SupportsRanges: supportsRanges,
		}, nil
	}

	return &Result{Playlist: pl, URL: url, SupportsRanges: supportsRanges}, nil
}

// LoadMedia resolves uri against baseURL (the master's own URL) and loads
// it strictly as a media playlist. A MediaInsteadOfMaster-shaped result —
// i.e. the resolved URI turning out to be a master — is a hard error here,
// per spec §4.2 ("a MediaInsteadOfMaster from media parse is a hard error").
func (l *Loader) LoadMedia(ctx context.Context, baseURL, uri string) (*Result, error) {
	resolved := ResolveURI(baseURL, uri)

	body, supportsRanges, err := l.fetch(ctx, resolved)
	if err != nil {
		return nil, err
	}

	media, err := m3u8.ParseMedia(body)
	if err != nil {
		return nil, err
	}

	return &Result{
		Playlist:       &m3u8.Playlist{Type: m3u8.ListTypeMedia, Media: media},
		URL:            resolved,
		SupportsRanges: supportsRanges,
	}, nil
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, errors.NewLoaderNetworkError("failed to build request", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, false, errors.NewLoaderNetworkError("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, false, errors.NewLoaderNetworkError(http.StatusText(resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.NewLoaderNetworkError("failed to read response body", err)
	}

	return body, acceptsRanges(resp.Header.Get("Accept-Ranges")), nil
}

// acceptsRanges is a case-insensitive check for "bytes" in Accept-Ranges,
// per spec §4.2 ("case-insensitive header lookup").
func acceptsRanges(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "bytes")
}

// ResolveURI resolves a playlist-referenced URI against a reference URL.
// An absolute URI (one containing "://") is returned unchanged; otherwise
// the reference URL's last path component is stripped and uri is appended
// (spec §4.2).
func ResolveURI(reference, uri string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	idx := strings.LastIndex(reference, "/")
	if idx < 0 {
		return uri
	}
	return reference[:idx+1] + uri
}
