package player

import "github.com/aminofox/hlsplayer/pkg/render"

// Status is the player's aggregate playback status (spec §6: "status
// callback enumerating {playing, finished, buffering}"), derived from the
// video and, when present, audio render drivers' own statuses.
type Status int

const (
	StatusPlaying Status = iota
	StatusFinished
	StatusBuffering
)

func (s Status) String() string {
	switch s {
	case StatusFinished:
		return "finished"
	case StatusBuffering:
		return "buffering"
	default:
		return "playing"
	}
}

// combineStatus derives the player's aggregate status from its render
// drivers. Either sink waiting means the presentation as a whole is
// buffering; both finished (or video finished with no separate audio
// driver) means the presentation as a whole is finished; otherwise it's
// playing.
func combineStatus(video, audio render.Status, hasAudio bool) Status {
	if video == render.StatusWaiting || (hasAudio && audio == render.StatusWaiting) {
		return StatusBuffering
	}
	if video == render.StatusFinished && (!hasAudio || audio == render.StatusFinished) {
		return StatusFinished
	}
	return StatusPlaying
}
