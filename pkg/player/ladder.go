package player

import (
	"sort"

	"github.com/aminofox/hlsplayer/pkg/m3u8"
)

// Rendition is one entry in the resolution ladder used for ABR downshifts:
// the highest-bandwidth variant stream observed at a given height.
type Rendition struct {
	Stream *m3u8.Stream
	Height int
}

// buildLadder groups master streams by height and keeps, for each distinct
// height, the stream with the greatest bandwidth — the representative
// variant the ABR controller steps through. The result is sorted by
// descending height, matching the "next-lower resolution in descending
// order" downshift rule (spec §4.9).
func buildLadder(streams []*m3u8.Stream) []Rendition {
	best := make(map[int]*m3u8.Stream)
	for _, s := range streams {
		h := s.Height()
		existing, ok := best[h]
		if !ok || s.Bandwidth > existing.Bandwidth {
			best[h] = s
		}
	}

	ladder := make([]Rendition, 0, len(best))
	for h, s := range best {
		ladder = append(ladder, Rendition{Stream: s, Height: h})
	}
	sort.Slice(ladder, func(i, j int) bool { return ladder[i].Height > ladder[j].Height })
	return ladder
}

// pickDefaultStream prefers the variant whose height matches preferredHeight
// (720 per spec default), falling back to the first stream in manifest
// order (spec §4.9).
func pickDefaultStream(streams []*m3u8.Stream, preferredHeight int) *m3u8.Stream {
	if len(streams) == 0 {
		return nil
	}
	for _, s := range streams {
		if s.Height() == preferredHeight {
			return s
		}
	}
	return streams[0]
}

// nextLowerRendition returns the ladder entry immediately below
// currentHeight, or nil if currentHeight is already the ladder's lowest
// rung (the downshift is a no-op at the bottom, spec §4.9).
func nextLowerRendition(ladder []Rendition, currentHeight int) *Rendition {
	for i, r := range ladder {
		if r.Height == currentHeight {
			if i+1 < len(ladder) {
				return &ladder[i+1]
			}
			return nil
		}
	}
	// currentHeight isn't a ladder entry (e.g. a height absent from the
	// ladder after a manual pick from a raw stream list) — fall back to the
	// first entry strictly below it.
	for i := range ladder {
		if ladder[i].Height < currentHeight {
			return &ladder[i]
		}
	}
	return nil
}

// findByHeight returns the ladder entry at exactly height, if any.
func findByHeight(ladder []Rendition, height int) *Rendition {
	for i := range ladder {
		if ladder[i].Height == height {
			return &ladder[i]
		}
	}
	return nil
}

func findAudioTag(tags []*m3u8.MediaTag, groupID string) *m3u8.MediaTag {
	for _, tag := range tags {
		if tag.Type == m3u8.MediaKindAudio && tag.GroupID == groupID {
			return tag
		}
	}
	return nil
}
