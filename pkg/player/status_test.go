package player

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aminofox/hlsplayer/pkg/render"
)

func TestCombineStatusVideoOnly(t *testing.T) {
	require.Equal(t, StatusPlaying, combineStatus(render.StatusPlaying, render.StatusIdle, false))
	require.Equal(t, StatusBuffering, combineStatus(render.StatusWaiting, render.StatusIdle, false))
	require.Equal(t, StatusFinished, combineStatus(render.StatusFinished, render.StatusIdle, false))
}

func TestCombineStatusWithAudio(t *testing.T) {
	require.Equal(t, StatusBuffering, combineStatus(render.StatusPlaying, render.StatusWaiting, true))
	require.Equal(t, StatusPlaying, combineStatus(render.StatusFinished, render.StatusPlaying, true))
	require.Equal(t, StatusFinished, combineStatus(render.StatusFinished, render.StatusFinished, true))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "playing", StatusPlaying.String())
	require.Equal(t, "finished", StatusFinished.String())
	require.Equal(t, "buffering", StatusBuffering.String())
}
