package sampleproducer

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// box builds one ISO-BMFF box: a 4-byte big-endian size, a 4-byte type,
// and the payload, matching the layout readBoxes expects.
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

// buildFragment assembles a minimal one-track fMP4 file: ftyp, moov (one
// video trak at the given timescale), one moof/traf/trun fragment
// describing two samples, and the mdat holding their bytes.
func buildFragment(t *testing.T, timescale uint32, sample1, sample2 []byte, dur1, dur2 uint32) []byte {
	t.Helper()

	tkhd := append(append(make([]byte, 4), make([]byte, 8)...), append(u32(1), make([]byte, 4)...)...)
	trak := box("trak", append(box("tkhd", tkhd), box("mdia", buildMdia(timescale))...))
	moov := box("moov", trak)
	ftyp := box("ftyp", []byte("isomiso2mp41"))

	tfhd := append(make([]byte, 4), u32(1)...) // version/flags=0, track_ID=1

	tfdt := append(make([]byte, 4), u32(0)...) // version/flags=0, baseMediaDecodeTime=0

	trunFlags := u32(0x000301) // data-offset | sample-duration | sample-size present
	trun := append([]byte{}, trunFlags...)
	trun = append(trun, u32(2)...) // sample_count = 2
	// data_offset placeholder patched in below
	dataOffsetPos := len(trun)
	trun = append(trun, u32(0)...)
	trun = append(trun, u32(dur1)...)
	trun = append(trun, u32(uint32(len(sample1)))...)
	trun = append(trun, u32(dur2)...)
	trun = append(trun, u32(uint32(len(sample2)))...)

	traf := append(box("tfhd", tfhd), box("tfdt", tfdt)...)
	trafWithTrun := append(traf, box("trun", trun)...)
	moof := box("moof", trafWithTrun)

	dataOffset := uint32(len(moof) + 8) // moof box size + mdat's own 8-byte header
	binary.BigEndian.PutUint32(trun[dataOffsetPos:dataOffsetPos+4], dataOffset)
	// rebuild traf/moof now that trun's data_offset field changed in place
	traf = append(box("tfhd", tfhd), box("tfdt", tfdt)...)
	trafWithTrun = append(traf, box("trun", trun)...)
	moof = box("moof", trafWithTrun)

	mdatPayload := append(append([]byte{}, sample1...), sample2...)
	mdat := box("mdat", mdatPayload)

	out := append([]byte{}, ftyp...)
	out = append(out, moov...)
	out = append(out, moof...)
	out = append(out, mdat...)
	return out
}

func buildMdia(timescale uint32) []byte {
	mdhd := append(make([]byte, 4), make([]byte, 8)...) // version/flags, creation, modification
	mdhd = append(mdhd, u32(timescale)...)
	mdhd = append(mdhd, make([]byte, 8)...) // duration(4) + lang(2) + pre_defined(2)

	hdlr := make([]byte, 8) // version/flags(4) + pre_defined(4)
	hdlr = append(hdlr, []byte("vide")...)
	hdlr = append(hdlr, make([]byte, 12)...) // reserved

	return append(box("mdhd", mdhd), box("hdlr", hdlr)...)
}

func writeTempAsset(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segment.mp4")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return "file://" + path
}

func TestProducerYieldsSamplesInOrderWithRebasedPTS(t *testing.T) {
	data := buildFragment(t, 90000, []byte("AAAA"), []byte("BBBBBB"), 3000, 3000)
	url := writeTempAsset(t, data)

	p := New(url, MediaTypeVideo, 0, nil)

	first, err := p.Produce()
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, []byte("AAAA"), first.Data)
	require.Equal(t, int64(0), first.PTS)
	require.Equal(t, uint32(90000), first.Timescale)
	require.False(t, p.IsFinished())

	second, err := p.Produce()
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, []byte("BBBBBB"), second.Data)
	require.Equal(t, int64(3000), second.PTS)

	third, err := p.Produce()
	require.NoError(t, err)
	require.Nil(t, third)
	require.True(t, p.IsFinished())
}

func TestProducerNoMatchingTrackFinishesImmediately(t *testing.T) {
	data := buildFragment(t, 90000, []byte("AAAA"), []byte("BB"), 3000, 3000)
	url := writeTempAsset(t, data)

	p := New(url, MediaTypeAudio, 0, nil)
	sample, err := p.Produce()
	require.NoError(t, err)
	require.Nil(t, sample)
	require.True(t, p.IsFinished())
}

func TestProducerAssetUnopenableFinishesImmediately(t *testing.T) {
	p := New("file:///does/not/exist.mp4", MediaTypeVideo, 0, nil)
	sample, err := p.Produce()
	require.NoError(t, err)
	require.Nil(t, sample)
	require.True(t, p.IsFinished())
}

func TestProducerTimeOffsetSkipsEarlierSamples(t *testing.T) {
	data := buildFragment(t, 90000, []byte("AAAA"), []byte("BBBBBB"), 45000, 45000)
	url := writeTempAsset(t, data)

	// Sample 0 spans [0, 0.5)s, sample 1 spans [0.5, 1.0)s at a 90000 timescale.
	p := New(url, MediaTypeVideo, 0.6, nil)
	sample, err := p.Produce()
	require.NoError(t, err)
	require.NotNil(t, sample)
	require.Equal(t, []byte("BBBBBB"), sample.Data)
}
