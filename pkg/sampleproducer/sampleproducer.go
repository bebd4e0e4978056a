// Package sampleproducer implements the sample producer (spec §4.6): it
// wraps one fetched media asset (an fMP4 file produced by pkg/session),
// selects the first track matching a requested media type, and yields
// that track's sample buffers in order with a presentation timestamp
// rebased onto the asset's own native timescale.
//
// Unlike a native AVAssetReader, there is no platform demuxer available
// here, so this package is its own small ISO-BMFF ("fragmented MP4") box
// walker: it reads `moov` for track/handler metadata and timescales, then
// walks each `moof`/`mdat` pair for per-sample size, duration, and byte
// offset. It is grounded on the teacher's binary packet framing style in
// pkg/streaming/hls/segment.go (TSWriter's explicit big-endian field
// layout over a byte buffer) applied to box parsing instead of TS-packet
// writing.
package sampleproducer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"

	"github.com/aminofox/hlsplayer/pkg/errors"
	"github.com/aminofox/hlsplayer/pkg/logger"
)

// MediaType selects which track a Producer reads, matching spec §4.6's
// {audio, video} enumeration.
type MediaType string

const (
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
)

// SampleBuffer is one decoded-or-compressed media unit with a presentation
// timestamp, expressed in its track's own timescale (spec GLOSSARY).
type SampleBuffer struct {
	Data      []byte
	PTS       int64
	Timescale uint32
	Duration  int64
	MediaType MediaType
}

// PTSSeconds converts PTS into seconds using Timescale.
func (s *SampleBuffer) PTSSeconds() float64 {
	if s.Timescale == 0 {
		return 0
	}
	return float64(s.PTS) / float64(s.Timescale)
}

// Valid reports whether this buffer carries a usable PTS — an invalid
// buffer (Timescale == 0) is skipped by the render queue (spec §4.7 step 3).
func (s *SampleBuffer) Valid() bool {
	return s.Timescale > 0 && s.PTS >= 0
}

// Producer wraps one media asset and yields one track's samples in order.
// Construct with New; samples are loaded lazily on the first Produce call.
type Producer struct {
	assetURL   string
	mediaType  MediaType
	timeOffset float64
	log        logger.Logger

	started bool
	loadErr error
	samples []SampleBuffer
	pos     int
	finished bool
}

// New creates a Producer for assetURL, selecting the first track of
// mediaType and skipping samples before timeOffset seconds (spec §4.6:
// "Opens the asset with a time range [time_offset, +∞)").
func New(assetURL string, mediaType MediaType, timeOffset float64, log logger.Logger) *Producer {
	if log == nil {
		log = logger.NewDefaultLogger(logger.ErrorLevel, "text")
	}
	return &Producer{assetURL: assetURL, mediaType: mediaType, timeOffset: timeOffset, log: log}
}

// Produce returns the next sample buffer, or nil if there are no more
// samples, or nil if the asset failed to open / had no matching track
// (spec §4.6: "the caller distinguishes by inspecting is_finished").
func (p *Producer) Produce() (*SampleBuffer, error) {
	p.ensureStarted()

	if p.loadErr != nil {
		p.finished = true
		return nil, nil
	}
	if p.pos >= len(p.samples) {
		p.finished = true
		return nil, nil
	}
	s := p.samples[p.pos]
	p.pos++
	return &s, nil
}

// IsFinished reports whether this producer has delivered its last sample
// (or failed to open / found no matching track).
func (p *Producer) IsFinished() bool {
	return p.finished
}

func (p *Producer) ensureStarted() {
	if p.started {
		return
	}
	p.started = true

	samples, err := p.load()
	if err != nil {
		p.log.Warn("sample producer failed to open asset",
			logger.String("asset_url", p.assetURL), logger.Err(err))
		p.loadErr = err
		return
	}
	p.samples = samples
}

func (p *Producer) load() ([]SampleBuffer, error) {
	r, size, closeFn, err := openAsset(p.assetURL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAssetUnopenable, "failed to open asset", err)
	}
	defer closeFn()

	doc, err := parseDocument(r, size)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAssetUnopenable, "failed to parse asset", err)
	}

	track, ok := doc.trackForType(p.mediaType)
	if !ok {
		return nil, errors.NewNoMatchingTrackError(string(p.mediaType))
	}

	samples, err := doc.samplesForTrack(r, track)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAssetUnopenable, "failed to extract samples", err)
	}

	out := samples[:0:0]
	for _, s := range samples {
		end := s.PTSSeconds()
		if s.Timescale > 0 {
			end += float64(s.Duration) / float64(s.Timescale)
		}
		if s.PTSSeconds() >= p.timeOffset-1e-6 || end > p.timeOffset+1e-6 {
			out = append(out, s)
		}
	}
	return out, nil
}

// openAsset opens the blob-store URL a download session handed back: a
// file:// path for the local backend, or an http(s) URL for S3.
func openAsset(rawURL string) (io.ReaderAt, int64, func() error, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("invalid asset URL: %w", err)
	}

	switch u.Scheme {
	case "", "file":
		path := u.Path
		if path == "" {
			path = rawURL
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, 0, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, 0, nil, err
		}
		return f, info.Size(), f.Close, nil
	case "http", "https":
		resp, err := http.Get(rawURL)
		if err != nil {
			return nil, 0, nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, nil, err
		}
		br := bytes.NewReader(data)
		return br, int64(len(data)), func() error { return nil }, nil
	default:
		return nil, 0, nil, fmt.Errorf("unsupported asset URL scheme %q", u.Scheme)
	}
}

// --- ISO-BMFF box walker -----------------------------------------------

type isoBox struct {
	typ   string
	start int64 // offset of box payload (after header)
	size  int64 // length of payload
}

func (b isoBox) end() int64 { return b.start + b.size }

func readBoxes(r io.ReaderAt, start, end int64) ([]isoBox, error) {
	var boxes []isoBox
	pos := start
	hdr := make([]byte, 8)
	for pos+8 <= end {
		if _, err := r.ReadAt(hdr, pos); err != nil {
			return nil, err
		}
		size := int64(binary.BigEndian.Uint32(hdr[0:4]))
		typ := string(hdr[4:8])
		headerLen := int64(8)

		switch size {
		case 1:
			ext := make([]byte, 8)
			if _, err := r.ReadAt(ext, pos+8); err != nil {
				return nil, err
			}
			size = int64(binary.BigEndian.Uint64(ext))
			headerLen = 16
		case 0:
			size = end - pos
		}
		if size < headerLen || pos+size > end {
			return nil, fmt.Errorf("malformed box %q at offset %d", typ, pos)
		}

		boxes = append(boxes, isoBox{typ: typ, start: pos + headerLen, size: size - headerLen})
		pos += size
	}
	return boxes, nil
}

func findBox(boxes []isoBox, typ string) (isoBox, bool) {
	for _, b := range boxes {
		if b.typ == typ {
			return b, true
		}
	}
	return isoBox{}, false
}

func findAllBoxes(boxes []isoBox, typ string) []isoBox {
	var out []isoBox
	for _, b := range boxes {
		if b.typ == typ {
			out = append(out, b)
		}
	}
	return out
}

func readFull(r io.ReaderAt, b isoBox) ([]byte, error) {
	buf := make([]byte, b.size)
	if _, err := r.ReadAt(buf, b.start); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// track describes one moov/trak entry this package cares about.
type track struct {
	id        uint32
	mediaType MediaType
	timescale uint32
}

// document is the result of walking an asset's top-level boxes.
type document struct {
	tracks   []track
	fileSize int64
}

func parseDocument(r io.ReaderAt, size int64) (*document, error) {
	top, err := readBoxes(r, 0, size)
	if err != nil {
		return nil, err
	}

	moov, ok := findBox(top, "moov")
	if !ok {
		return nil, fmt.Errorf("no moov box found")
	}
	moovChildren, err := readBoxes(r, moov.start, moov.end())
	if err != nil {
		return nil, err
	}

	var tracks []track
	for _, trak := range findAllBoxes(moovChildren, "trak") {
		children, err := readBoxes(r, trak.start, trak.end())
		if err != nil {
			continue
		}
		tkhd, ok := findBox(children, "tkhd")
		if !ok {
			continue
		}
		id, err := trackID(r, tkhd)
		if err != nil {
			continue
		}

		mdia, ok := findBox(children, "mdia")
		if !ok {
			continue
		}
		mdiaChildren, err := readBoxes(r, mdia.start, mdia.end())
		if err != nil {
			continue
		}
		hdlr, ok := findBox(mdiaChildren, "hdlr")
		if !ok {
			continue
		}
		handlerType, err := handlerType(r, hdlr)
		if err != nil {
			continue
		}
		mt, ok := mediaTypeForHandler(handlerType)
		if !ok {
			continue
		}

		mdhd, ok := findBox(mdiaChildren, "mdhd")
		if !ok {
			continue
		}
		timescale, err := mediaTimescale(r, mdhd)
		if err != nil {
			continue
		}

		tracks = append(tracks, track{id: id, mediaType: mt, timescale: timescale})
	}

	return &document{tracks: tracks, fileSize: size}, nil
}

func (d *document) trackForType(mt MediaType) (track, bool) {
	for _, t := range d.tracks {
		if t.mediaType == mt {
			return t, true
		}
	}
	return track{}, false
}

func trackID(r io.ReaderAt, tkhd isoBox) (uint32, error) {
	data, err := readFull(r, tkhd)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, fmt.Errorf("tkhd too short")
	}
	version := data[0]
	var offset int
	if version == 1 {
		offset = 4 + 8 + 8 // version+flags, creation(8), modification(8)
	} else {
		offset = 4 + 4 + 4
	}
	if len(data) < offset+4 {
		return 0, fmt.Errorf("tkhd too short for track_ID")
	}
	return binary.BigEndian.Uint32(data[offset : offset+4]), nil
}

func handlerType(r io.ReaderAt, hdlr isoBox) (string, error) {
	data, err := readFull(r, hdlr)
	if err != nil {
		return "", err
	}
	// version(1) + flags(3) + pre_defined(4) + handler_type(4)
	if len(data) < 12 {
		return "", fmt.Errorf("hdlr too short")
	}
	return string(data[8:12]), nil
}

func mediaTypeForHandler(h string) (MediaType, bool) {
	switch h {
	case "vide":
		return MediaTypeVideo, true
	case "soun":
		return MediaTypeAudio, true
	default:
		return "", false
	}
}

func mediaTimescale(r io.ReaderAt, mdhd isoBox) (uint32, error) {
	data, err := readFull(r, mdhd)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, fmt.Errorf("mdhd too short")
	}
	version := data[0]
	var offset int
	if version == 1 {
		offset = 4 + 8 + 8 // version+flags, creation(8), modification(8)
	} else {
		offset = 4 + 4 + 4
	}
	if len(data) < offset+4 {
		return 0, fmt.Errorf("mdhd too short for timescale")
	}
	return binary.BigEndian.Uint32(data[offset : offset+4]), nil
}

// samplesForTrack walks every moof/mdat pair at the top level, extracting
// the samples belonging to track from each fragment's traf/trun boxes, and
// returns them in file order with a running PTS derived from tfdt (or 0 for
// the first fragment when tfdt is absent) plus each sample's own duration.
func (d *document) samplesForTrack(r io.ReaderAt, t track) ([]SampleBuffer, error) {
	top, err := readBoxes(r, 0, d.fileSize)
	if err != nil {
		return nil, err
	}

	var samples []SampleBuffer
	pts := int64(0)

	for i, b := range top {
		if b.typ != "moof" {
			continue
		}
		moofStart := b.start - 8 // box header start, trun data_offset is relative to this
		mdat, ok := nextBox(top, i, "mdat")
		if !ok {
			continue
		}

		children, err := readBoxes(r, b.start, b.end())
		if err != nil {
			return nil, err
		}
		for _, traf := range findAllBoxes(children, "traf") {
			trafChildren, err := readBoxes(r, traf.start, traf.end())
			if err != nil {
				continue
			}
			tfhd, ok := findBox(trafChildren, "tfhd")
			if !ok {
				continue
			}
			hdr, defaults, err := parseTfhd(r, tfhd)
			if err != nil || hdr.trackID != t.id {
				continue
			}

			if tfdt, ok := findBox(trafChildren, "tfdt"); ok {
				if base, err := parseTfdt(r, tfdt); err == nil {
					pts = base
				}
			}

			trun, ok := findBox(trafChildren, "trun")
			if !ok {
				continue
			}
			entries, dataOffset, err := parseTrun(r, trun, defaults)
			if err != nil {
				continue
			}

			sampleStart := moofStart + dataOffset
			for _, e := range entries {
				data := make([]byte, e.size)
				if _, err := r.ReadAt(data, sampleStart); err != nil && err != io.EOF {
					return nil, err
				}
				samples = append(samples, SampleBuffer{
					Data:      data,
					PTS:       pts,
					Timescale: t.timescale,
					Duration:  int64(e.duration),
					MediaType: t.mediaType,
				})
				pts += int64(e.duration)
				sampleStart += int64(e.size)
			}
		}

		_ = mdat // location is implied by the computed sampleStart offsets above
	}

	sort.SliceStable(samples, func(i, j int) bool { return samples[i].PTS < samples[j].PTS })
	return samples, nil
}

func nextBox(boxes []isoBox, from int, typ string) (isoBox, bool) {
	for i := from + 1; i < len(boxes); i++ {
		if boxes[i].typ == typ {
			return boxes[i], true
		}
	}
	return isoBox{}, false
}

type tfhdHeader struct {
	trackID uint32
}

type trunDefaults struct {
	sampleDuration uint32
	sampleSize     uint32
}

func parseTfhd(r io.ReaderAt, b isoBox) (tfhdHeader, trunDefaults, error) {
	data, err := readFull(r, b)
	if err != nil {
		return tfhdHeader{}, trunDefaults{}, err
	}
	if len(data) < 8 {
		return tfhdHeader{}, trunDefaults{}, fmt.Errorf("tfhd too short")
	}
	flags := binary.BigEndian.Uint32(data[0:4]) & 0x00FFFFFF
	trackID := binary.BigEndian.Uint32(data[4:8])

	pos := 8
	var defaults trunDefaults
	if flags&0x000001 != 0 { // base-data-offset-present
		pos += 8
	}
	if flags&0x000002 != 0 { // sample-description-index-present
		pos += 4
	}
	if flags&0x000008 != 0 { // default-sample-duration-present
		if len(data) >= pos+4 {
			defaults.sampleDuration = binary.BigEndian.Uint32(data[pos : pos+4])
		}
		pos += 4
	}
	if flags&0x000010 != 0 { // default-sample-size-present
		if len(data) >= pos+4 {
			defaults.sampleSize = binary.BigEndian.Uint32(data[pos : pos+4])
		}
		pos += 4
	}
	return tfhdHeader{trackID: trackID}, defaults, nil
}

func parseTfdt(r io.ReaderAt, b isoBox) (int64, error) {
	data, err := readFull(r, b)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, fmt.Errorf("tfdt too short")
	}
	version := data[0]
	if version == 1 {
		if len(data) < 12 {
			return 0, fmt.Errorf("tfdt too short for v1")
		}
		return int64(binary.BigEndian.Uint64(data[4:12])), nil
	}
	if len(data) < 8 {
		return 0, fmt.Errorf("tfdt too short for v0")
	}
	return int64(binary.BigEndian.Uint32(data[4:8])), nil
}

type trunEntry struct {
	duration uint32
	size     uint32
}

func parseTrun(r io.ReaderAt, b isoBox, defaults trunDefaults) ([]trunEntry, int64, error) {
	data, err := readFull(r, b)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 8 {
		return nil, 0, fmt.Errorf("trun too short")
	}
	flags := binary.BigEndian.Uint32(data[0:4]) & 0x00FFFFFF
	sampleCount := binary.BigEndian.Uint32(data[4:8])

	pos := 8
	var dataOffset int64
	if flags&0x000001 != 0 { // data-offset-present
		if len(data) < pos+4 {
			return nil, 0, fmt.Errorf("trun too short for data_offset")
		}
		dataOffset = int64(int32(binary.BigEndian.Uint32(data[pos : pos+4])))
		pos += 4
	}
	if flags&0x000004 != 0 { // first-sample-flags-present
		pos += 4
	}

	entries := make([]trunEntry, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		e := trunEntry{duration: defaults.sampleDuration, size: defaults.sampleSize}
		if flags&0x000100 != 0 { // sample-duration-present
			if len(data) < pos+4 {
				break
			}
			e.duration = binary.BigEndian.Uint32(data[pos : pos+4])
			pos += 4
		}
		if flags&0x000200 != 0 { // sample-size-present
			if len(data) < pos+4 {
				break
			}
			e.size = binary.BigEndian.Uint32(data[pos : pos+4])
			pos += 4
		}
		if flags&0x000400 != 0 { // sample-flags-present
			pos += 4
		}
		if flags&0x000800 != 0 { // sample-composition-time-offset-present
			pos += 4
		}
		entries = append(entries, e)
	}
	return entries, dataOffset, nil
}
