package m3u8

import (
	"strings"
	"testing"

	"github.com/aminofox/hlsplayer/pkg/errors"
)

func TestParseMasterPlaylist(t *testing.T) {
	data := []byte(`#EXTM3U
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1280000,AVERAGE-BANDWIDTH=1000000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720,FRAME-RATE=30.000,AUDIO="aac"
video/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=640000,RESOLUTION=640x360,AUDIO="aac"
video/360.m3u8
`)

	pl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !pl.IsMaster() {
		t.Fatalf("expected master playlist")
	}

	m := pl.Master
	if !m.HasIndependentSegments {
		t.Errorf("expected HasIndependentSegments true")
	}
	if len(m.MediaTags) != 1 {
		t.Fatalf("expected 1 media tag, got %d", len(m.MediaTags))
	}
	mt := m.MediaTags[0]
	if mt.Type != MediaKindAudio || mt.GroupID != "aac" || mt.Name != "English" || !mt.Default || !mt.AutoSelect {
		t.Errorf("unexpected media tag: %+v", mt)
	}

	if len(m.Streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(m.Streams))
	}
	s0 := m.Streams[0]
	if s0.Bandwidth != 1280000 || s0.AverageBandwidth != 1000000 {
		t.Errorf("unexpected bandwidth fields: %+v", s0)
	}
	if s0.Codecs != "avc1.4d401f,mp4a.40.2" {
		t.Errorf("unexpected codecs: %q", s0.Codecs)
	}
	if s0.Resolution != "1280x720" {
		t.Errorf("unexpected resolution: %q", s0.Resolution)
	}
	if w, h, ok := s0.ParsedResolution(); !ok || w != 1280 || h != 720 {
		t.Errorf("ParsedResolution() = %d,%d,%v", w, h, ok)
	}
	if s0.Height() != 720 {
		t.Errorf("Height() = %d, want 720", s0.Height())
	}
	if s0.URI != "video/720.m3u8" {
		t.Errorf("unexpected URI: %q", s0.URI)
	}
	if s0.AudioGroupID != "aac" {
		t.Errorf("unexpected audio group id: %q", s0.AudioGroupID)
	}

	if m.Streams[1].URI != "video/360.m3u8" {
		t.Errorf("second stream URI not attached: %q", m.Streams[1].URI)
	}
}

func TestParseMediaPlaylist(t *testing.T) {
	data := []byte(`#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-MAP:URI="init.mp4",BYTERANGE="800@0"
#EXTINF:6.006,
#EXT-X-BYTERANGE:500000@800
segment.mp4
#EXTINF:6.006,
#EXT-X-BYTERANGE:510000@500800
segment.mp4
#EXT-X-ENDLIST
`)

	pl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !pl.IsMedia() {
		t.Fatalf("expected media playlist")
	}

	media := pl.Media
	if media.TargetDuration != 6 {
		t.Errorf("TargetDuration = %d, want 6", media.TargetDuration)
	}
	if !media.HasMediaSequence || media.MediaSequence != 100 {
		t.Errorf("unexpected media sequence: %+v", media)
	}
	if !media.EndList {
		t.Errorf("expected EndList true")
	}
	if len(media.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(media.Segments))
	}

	seg0 := media.Segments[0]
	if !seg0.HasDuration || seg0.Duration != 6.006 {
		t.Errorf("unexpected segment duration: %+v", seg0)
	}
	if seg0.ByteRange == nil || seg0.ByteRange.Length != 500000 || seg0.ByteRange.Offset != 800 {
		t.Fatalf("unexpected segment byte range: %+v", seg0.ByteRange)
	}
	if seg0.Init == nil || seg0.Init.URI != "init.mp4" {
		t.Fatalf("expected init section carried onto first segment, got %+v", seg0.Init)
	}
	if seg0.Init.ByteRange == nil || seg0.Init.ByteRange.Length != 800 || seg0.Init.ByteRange.Offset != 0 {
		t.Errorf("unexpected init byte range: %+v", seg0.Init.ByteRange)
	}

	// EXT-X-MAP is sticky: the second segment should carry the same init
	// section even though EXT-X-MAP only appeared once.
	seg1 := media.Segments[1]
	if seg1.Init == nil || seg1.Init.URI != "init.mp4" {
		t.Fatalf("expected init section to stick across segments, got %+v", seg1.Init)
	}
	if seg1.ByteRange == nil || seg1.ByteRange.Length != 510000 || seg1.ByteRange.Offset != 500800 {
		t.Errorf("unexpected second segment byte range: %+v", seg1.ByteRange)
	}
}

func TestParseMediaInsteadOfMasterTriggersRetry(t *testing.T) {
	// A URL that was assumed to be a master playlist but is actually a
	// media playlist must fail with ErrCodeMediaInsteadOfMaster so the
	// loader can retry it as media (spec §4.2).
	data := []byte(`#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.006,
segment.mp4
`)

	_, err := ParseMaster(data)
	if err == nil {
		t.Fatalf("expected error parsing a media playlist as master")
	}
	if !errors.IsErrorCode(err, errors.ErrCodeMediaInsteadOfMaster) {
		t.Errorf("expected ErrCodeMediaInsteadOfMaster, got %v", err)
	}
}

func TestParseRejectsMissingHeader(t *testing.T) {
	data := []byte("#EXT-X-TARGETDURATION:6\nsegment.mp4\n")

	_, err := Parse(data)
	if err == nil {
		t.Fatalf("expected error for manifest missing #EXTM3U header")
	}
	if !errors.IsErrorCode(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("expected ErrCodeInvalidFormat, got %v", err)
	}
}

func TestParseByteRangeWithoutOffset(t *testing.T) {
	br, err := parseByteRange("500000")
	if err != nil {
		t.Fatalf("parseByteRange failed: %v", err)
	}
	if br.Length != 500000 || br.Offset != -1 {
		t.Errorf("unexpected byte range: %+v", br)
	}
}

func TestParseAttributesHandlesCommasInsideQuotes(t *testing.T) {
	attrs := parseAttributes(`CODECS="avc1.4d401f,mp4a.40.2",BANDWIDTH=1000`)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d: %+v", len(attrs), attrs)
	}
	if attrs[0].key != "CODECS" || unquote(attrs[0].value) != "avc1.4d401f,mp4a.40.2" {
		t.Errorf("unexpected first attribute: %+v", attrs[0])
	}
	if attrs[1].key != "BANDWIDTH" || attrs[1].value != "1000" {
		t.Errorf("unexpected second attribute: %+v", attrs[1])
	}
}

func TestParseInvalidEncoding(t *testing.T) {
	// A lone continuation byte is not valid UTF-8.
	data := []byte{0x80, 0x81}
	_, err := Parse(data)
	if err == nil {
		t.Fatalf("expected encoding error")
	}
	if !errors.IsErrorCode(err, errors.ErrCodeInvalidEncoding) {
		t.Errorf("expected ErrCodeInvalidEncoding, got %v", err)
	}
}

func TestParseIFrameStreamInf(t *testing.T) {
	data := []byte(`#EXTM3U
#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=86000,RESOLUTION=1280x720,CODECS="avc1.64001f",URI="iframe/720.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
video/720.m3u8
`)
	pl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(pl.Master.IFrameStreams) != 1 {
		t.Fatalf("expected 1 i-frame stream, got %d", len(pl.Master.IFrameStreams))
	}
	ifs := pl.Master.IFrameStreams[0]
	if ifs.URI != "iframe/720.m3u8" || ifs.Bandwidth != 86000 {
		t.Errorf("unexpected i-frame stream: %+v", ifs)
	}
}

func TestParseSessionDataAndKeys(t *testing.T) {
	data := []byte(`#EXTM3U
#EXT-X-SESSION-DATA:DATA-ID="com.example.title",VALUE="Example"
#EXT-X-SESSION-KEY:METHOD=AES-128,URI="key.bin"
#EXT-X-STREAM-INF:BANDWIDTH=1000000
video.m3u8
`)
	pl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(pl.Master.SessionData) != 1 || pl.Master.SessionData[0]["VALUE"] != "Example" {
		t.Errorf("unexpected session data: %+v", pl.Master.SessionData)
	}
	if len(pl.Master.SessionKeys) != 1 || pl.Master.SessionKeys[0]["METHOD"] != "AES-128" {
		t.Errorf("unexpected session keys: %+v", pl.Master.SessionKeys)
	}
}

func TestParseStartPoint(t *testing.T) {
	data := []byte(`#EXTM3U
#EXT-X-START:TIME-OFFSET=-12.5,PRECISE=YES
#EXT-X-STREAM-INF:BANDWIDTH=1000000
video.m3u8
`)
	pl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if pl.Master.Start == nil {
		t.Fatalf("expected Start to be set")
	}
	if pl.Master.Start.TimeOffset != -12.5 || !pl.Master.Start.Precise {
		t.Errorf("unexpected start point: %+v", pl.Master.Start)
	}
}

func TestParseDiscontinuity(t *testing.T) {
	data := []byte(`#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
a.mp4
#EXT-X-DISCONTINUITY
#EXTINF:6.0,
b.mp4
`)
	pl, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if pl.Media.Segments[0].Discontinuity {
		t.Errorf("first segment should not be marked discontinuous")
	}
	if !pl.Media.Segments[1].Discontinuity {
		t.Errorf("second segment should be marked discontinuous")
	}
}

func TestParseMasterWithStreamInfOnlyStillRequiresEXTM3U(t *testing.T) {
	data := []byte("#EXT-X-STREAM-INF:BANDWIDTH=1000\nvideo.m3u8\n")
	_, err := Parse(data)
	if err == nil || !strings.Contains(err.Error(), "EXTM3U") {
		t.Fatalf("expected missing-header error, got %v", err)
	}
}
