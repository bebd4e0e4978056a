package m3u8

import (
	"strconv"
	"strings"

	"github.com/aminofox/hlsplayer/pkg/errors"
)

const extm3u = "#EXTM3U"

// attr is one ordered (key, value) pair parsed from a tag's parameter list.
type attr struct {
	key, value string
}

// Parse turns manifest bytes into a typed Playlist, or a tagged *errors.Error
// (ErrCodeInvalidEncoding, ErrCodeInvalidFormat, or ErrCodeMediaInsteadOfMaster).
//
// Parse always attempts a master parse first is NOT implied here — this
// function parses generically and returns MediaInsteadOfMaster the moment a
// media-only tag appears while in master context, matching spec §4.1;
// callers that want the load-then-retry-as-media behavior use pkg/loader.
func Parse(data []byte) (*Playlist, error) {
	if !isValidUTF8(data) {
		return nil, errors.New(errors.ErrCodeInvalidEncoding, "manifest is not valid UTF-8")
	}

	lines := splitLines(string(data))
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != extm3u {
		return nil, errors.NewInvalidFormat("manifest does not start with #EXTM3U")
	}

	return parseLines(lines[1:])
}

// ParseMaster parses data strictly as a master playlist. A media-only tag
// anywhere in the body yields ErrCodeMediaInsteadOfMaster: Parse reports it
// when the tag follows a master tag, and ParseMaster when the whole body
// parses as media. pkg/loader calls Parse directly; this entry point is for
// callers that want to name their intent explicitly.
func ParseMaster(data []byte) (*MasterPlaylist, error) {
	pl, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if !pl.IsMaster() {
		return nil, errors.NewMediaInsteadOfMaster()
	}
	return pl.Master, nil
}

// ParseMedia parses data strictly as a media playlist. Master-only tags
// (EXT-X-STREAM-INF, EXT-X-MEDIA, ...) are not ignored: one that follows
// media content is an ErrCodeInvalidFormat error, a body that parses as a
// master playlist is rejected with ErrCodeInvalidFormat, and media tags
// after master tags yield Parse's ErrCodeMediaInsteadOfMaster.
func ParseMedia(data []byte) (*MediaPlaylist, error) {
	pl, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if pl.IsMaster() {
		// A body containing only EXT-X-STREAM-INF-shaped tags parses as
		// master under the generic entry point; a caller that explicitly
		// wants a media result treats that as a format error.
		return nil, errors.NewInvalidFormat("manifest parsed as a master playlist, not media")
	}
	return pl.Media, nil
}

func isValidUTF8(b []byte) bool {
	return strings.ToValidUTF8(string(b), "�") == string(b)
}

func splitLines(s string) []string {
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimRight(l, "\r")
		lines = append(lines, l)
	}
	return lines
}

// parseLines decides master vs. media by the first recognized tag it sees
// and parses accordingly, aborting with MediaInsteadOfMaster the instant a
// media-only tag appears while accumulating a master playlist.
func parseLines(lines []string) (*Playlist, error) {
	master := &MasterPlaylist{}
	media := &MediaPlaylist{}

	var pendingDuration float64
	var havePendingDuration bool
	var pendingByteRange *ByteRange
	var pendingInit *InitializationSection
	var pendingDiscontinuity bool

	isMedia := false
	isMaster := false
	var pendingStream *Stream

	attachMasterURI := func(uri string) error {
		if pendingStream == nil {
			return errors.NewInvalidFormat("URI line with no preceding EXT-X-STREAM-INF")
		}
		pendingStream.URI = uri
		pendingStream = nil
		return nil
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "#") {
			// A bare line is a URI, consumed by whichever context latched
			// metadata for it.
			if isMaster {
				if err := attachMasterURI(line); err != nil {
					return nil, err
				}
				continue
			}
			// Default to media context: a URI with no preceding tag at all
			// is still a segment URI per spec §4.1 (EXTINF/BYTERANGE/MAP are
			// optional latches, not requirements).
			isMedia = true
			seg := &Segment{
				URI:           line,
				Duration:      pendingDuration,
				HasDuration:   havePendingDuration,
				ByteRange:     pendingByteRange,
				Init:          pendingInit,
				Discontinuity: pendingDiscontinuity,
			}
			media.Segments = append(media.Segments, seg)
			havePendingDuration = false
			pendingDuration = 0
			pendingByteRange = nil
			pendingDiscontinuity = false
			continue
		}

		tag, params, hasParams := splitTag(line)

		switch tag {
		// ---- Master-only tags ----
		case "#EXT-X-MEDIA":
			if err := enterMaster(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			mt, err := parseMediaTag(params)
			if err != nil {
				return nil, err
			}
			master.MediaTags = append(master.MediaTags, mt)

		case "#EXT-X-STREAM-INF":
			if err := enterMaster(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			stream, err := parseStreamInf(params)
			if err != nil {
				return nil, err
			}
			master.Streams = append(master.Streams, stream)
			pendingStream = stream

		case "#EXT-X-I-FRAME-STREAM-INF":
			if err := enterMaster(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			ifs, err := parseIFrameStreamInf(params)
			if err != nil {
				return nil, err
			}
			master.IFrameStreams = append(master.IFrameStreams, ifs)

		case "#EXT-X-SESSION-DATA":
			if err := enterMaster(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			master.SessionData = append(master.SessionData, parseAttributesMap(params))

		case "#EXT-X-SESSION-KEY":
			if err := enterMaster(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			master.SessionKeys = append(master.SessionKeys, parseAttributesMap(params))

		case "#EXT-X-INDEPENDENT-SEGMENTS":
			// Legal in both contexts; only takes master-shaped meaning once
			// a master tag has been seen, otherwise latched for whichever
			// shape the playlist turns out to be.
			if isMedia {
				// spec data model doesn't track this for media playlists;
				// ignored, matching "unknown tags are ignored".
				continue
			}
			master.HasIndependentSegments = true

		case "#EXT-X-START":
			sp, err := parseStartPoint(params)
			if err != nil {
				return nil, err
			}
			if isMedia {
				continue
			}
			master.Start = sp

		// ---- Media-only tags ----
		case "#EXT-X-TARGETDURATION":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			v, err := strconv.Atoi(strings.TrimSpace(params))
			if err != nil {
				return nil, errors.NewInvalidFormat("invalid EXT-X-TARGETDURATION: " + params)
			}
			media.TargetDuration = v

		case "#EXT-X-MEDIA-SEQUENCE":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			v, err := strconv.ParseInt(strings.TrimSpace(params), 10, 64)
			if err != nil {
				return nil, errors.NewInvalidFormat("invalid EXT-X-MEDIA-SEQUENCE: " + params)
			}
			media.MediaSequence = v
			media.HasMediaSequence = true

		case "#EXT-X-DISCONTINUITY-SEQUENCE":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			v, err := strconv.ParseInt(strings.TrimSpace(params), 10, 64)
			if err != nil {
				return nil, errors.NewInvalidFormat("invalid EXT-X-DISCONTINUITY-SEQUENCE: " + params)
			}
			media.DiscontinuitySequence = v
			media.HasDiscontinuitySeq = true

		case "#EXT-X-ENDLIST":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			media.EndList = true

		case "#EXT-X-PLAYLIST-TYPE":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			pt := strings.TrimSpace(params)
			media.PlaylistType = PlaylistType(pt)
			media.HasPlaylistType = true

		case "#EXT-X-I-FRAMES-ONLY":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			media.HasIFramesOnly = true

		case "#EXT-X-DISCONTINUITY":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			pendingDiscontinuity = true

		case "#EXTINF":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			d, err := parseExtinf(params)
			if err != nil {
				return nil, err
			}
			pendingDuration = d
			havePendingDuration = true

		case "#EXT-X-BYTERANGE":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			br, err := parseByteRange(params)
			if err != nil {
				return nil, err
			}
			pendingByteRange = br

		case "#EXT-X-MAP":
			if err := enterMedia(&isMaster, &isMedia); err != nil {
				return nil, err
			}
			init, err := parseMap(params)
			if err != nil {
				return nil, err
			}
			pendingInit = init

		default:
			// Forward-compatible: unknown tags (including EXT-X-VERSION,
			// EXT-X-KEY at the segment level, EXT-X-PROGRAM-DATE-TIME, ...)
			// are recognized-but-unhandled or entirely ignored.
			_ = hasParams
		}
	}

	if isMaster {
		return &Playlist{Type: ListTypeMaster, Master: master}, nil
	}
	return &Playlist{Type: ListTypeMedia, Media: media}, nil
}

func enterMaster(isMaster, isMedia *bool) error {
	if *isMedia {
		return errors.New(errors.ErrCodeInvalidFormat, "master-only tag encountered while parsing a media playlist")
	}
	*isMaster = true
	return nil
}

func enterMedia(isMaster, isMedia *bool) error {
	if *isMaster {
		return errors.NewMediaInsteadOfMaster()
	}
	*isMedia = true
	return nil
}

// splitTag splits a tag line "#TAG:params" or "#TAG" into its name and raw
// parameter string.
func splitTag(line string) (tag, params string, hasParams bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, "", false
	}
	return line[:idx], line[idx+1:], true
}

// parseAttributes implements spec §4.1's exact attribute-list algorithm:
// a '"' toggles quoted mode; '=' outside quotes transitions from
// key-accumulation to value-accumulation; ',' outside quotes commits the
// current pair and resets; a trailing synthetic comma flushes the last pair.
func parseAttributes(params string) []attr {
	var out []attr

	inQuotes := false
	inValue := false
	var key, value strings.Builder

	flush := func() {
		k := key.String()
		if k != "" {
			out = append(out, attr{key: k, value: value.String()})
		}
		key.Reset()
		value.Reset()
		inValue = false
	}

	for i := 0; i < len(params); i++ {
		c := params[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			if inValue {
				value.WriteByte(c)
			} else {
				key.WriteByte(c)
			}
		case c == '=' && !inQuotes && !inValue:
			inValue = true
		case c == ',' && !inQuotes:
			flush()
		default:
			if inValue {
				value.WriteByte(c)
			} else {
				key.WriteByte(c)
			}
		}
	}
	// Trailing synthetic comma: flush whatever pair remains.
	flush()

	return out
}

func parseAttributesMap(params string) RawParams {
	attrs := parseAttributes(params)
	m := make(RawParams, len(attrs))
	for _, a := range attrs {
		m[a.key] = unquote(a.value)
	}
	return m
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func attrValue(attrs []attr, key string) (string, bool) {
	for _, a := range attrs {
		if a.key == key {
			return unquote(a.value), true
		}
	}
	return "", false
}

func parseExtinf(params string) (float64, error) {
	// EXTINF:<duration>,<title>
	comma := strings.IndexByte(params, ',')
	durStr := params
	if comma >= 0 {
		durStr = params[:comma]
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64)
	if err != nil {
		return 0, errors.NewInvalidFormat("invalid EXTINF duration: " + params)
	}
	return d, nil
}

// parseByteRange parses "length@offset" or bare "length" (offset implied
// by the previous range's end, which this package leaves to the caller —
// spec §4.1 only requires the length@offset form be understood).
func parseByteRange(params string) (*ByteRange, error) {
	params = strings.TrimSpace(params)
	at := strings.IndexByte(params, '@')
	if at < 0 {
		length, err := strconv.ParseInt(params, 10, 64)
		if err != nil {
			return nil, errors.NewInvalidFormat("invalid EXT-X-BYTERANGE: " + params)
		}
		return &ByteRange{Length: length, Offset: -1}, nil
	}
	length, err1 := strconv.ParseInt(params[:at], 10, 64)
	offset, err2 := strconv.ParseInt(params[at+1:], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, errors.NewInvalidFormat("invalid EXT-X-BYTERANGE: " + params)
	}
	return &ByteRange{Length: length, Offset: offset}, nil
}

func parseMap(params string) (*InitializationSection, error) {
	attrs := parseAttributes(params)
	uri, ok := attrValue(attrs, "URI")
	if !ok || uri == "" {
		return nil, errors.NewInvalidFormat("EXT-X-MAP missing URI")
	}
	init := &InitializationSection{URI: uri}
	if brRaw, ok := attrValue(attrs, "BYTERANGE"); ok {
		br, err := parseByteRange(brRaw)
		if err != nil {
			return nil, err
		}
		init.ByteRange = br
	}
	return init, nil
}

func parseStartPoint(params string) (*StartPoint, error) {
	attrs := parseAttributes(params)
	sp := &StartPoint{}
	if v, ok := attrValue(attrs, "TIME-OFFSET"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.NewInvalidFormat("invalid EXT-X-START TIME-OFFSET: " + v)
		}
		sp.TimeOffset = f
	}
	if v, ok := attrValue(attrs, "PRECISE"); ok {
		sp.Precise = strings.EqualFold(v, "YES")
	}
	return sp, nil
}

func parseMediaTag(params string) (*MediaTag, error) {
	attrs := parseAttributes(params)
	mt := &MediaTag{}
	if v, ok := attrValue(attrs, "TYPE"); ok {
		mt.Type = MediaKind(v)
	}
	mt.GroupID, _ = attrValue(attrs, "GROUP-ID")
	mt.Language, _ = attrValue(attrs, "LANGUAGE")
	mt.Name, _ = attrValue(attrs, "NAME")
	mt.URI, _ = attrValue(attrs, "URI")
	if v, ok := attrValue(attrs, "DEFAULT"); ok {
		mt.Default = strings.EqualFold(v, "YES")
	}
	if v, ok := attrValue(attrs, "AUTOSELECT"); ok {
		mt.AutoSelect = strings.EqualFold(v, "YES")
	}
	if v, ok := attrValue(attrs, "FORCED"); ok {
		mt.Forced = strings.EqualFold(v, "YES")
	}
	return mt, nil
}

func parseStreamInf(params string) (*Stream, error) {
	attrs := parseAttributes(params)
	s := &Stream{}
	if v, ok := attrValue(attrs, "BANDWIDTH"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.NewInvalidFormat("invalid BANDWIDTH: " + v)
		}
		s.Bandwidth = n
	}
	if v, ok := attrValue(attrs, "AVERAGE-BANDWIDTH"); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			s.AverageBandwidth = n
		}
	}
	s.Codecs, _ = attrValue(attrs, "CODECS")
	s.Resolution, _ = attrValue(attrs, "RESOLUTION")
	if v, ok := attrValue(attrs, "FRAME-RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			s.FrameRate = f
		}
	}
	s.HDCPLevel, _ = attrValue(attrs, "HDCP-LEVEL")
	s.AudioGroupID, _ = attrValue(attrs, "AUDIO")
	s.VideoGroupID, _ = attrValue(attrs, "VIDEO")
	s.SubtitlesGroupID, _ = attrValue(attrs, "SUBTITLES")
	s.ClosedCaptionsID, _ = attrValue(attrs, "CLOSED-CAPTIONS")
	return s, nil
}

func parseIFrameStreamInf(params string) (*IFrameStream, error) {
	s, err := parseStreamInf(params)
	if err != nil {
		return nil, err
	}
	attrs := parseAttributes(params)
	if uri, ok := attrValue(attrs, "URI"); ok {
		s.URI = uri
	}
	ifs := IFrameStream(*s)
	return &ifs, nil
}
