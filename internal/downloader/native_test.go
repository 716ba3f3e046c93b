package downloader

import (
	"sync"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytdl-server/internal/errors"
)

func testFormats() youtube.FormatList {
	return youtube.FormatList{
		{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Height: 1080, Bitrate: 4000000},
		{ItagNo: 136, MimeType: `video/mp4; codecs="avc1.4d401f"`, Height: 720, Bitrate: 2000000},
		{ItagNo: 135, MimeType: `video/mp4; codecs="avc1.4d401e"`, Height: 480, Bitrate: 1000000},
		{ItagNo: 248, MimeType: `video/webm; codecs="vp9"`, Height: 1080, Bitrate: 3000000},
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Height: 360, Bitrate: 500000, AudioChannels: 2},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 129000, AudioChannels: 2},
		{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a.40.5"`, Bitrate: 49000, AudioChannels: 2},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, AudioChannels: 2},
		{ItagNo: 250, MimeType: `audio/webm; codecs="opus"`, Bitrate: 70000, AudioChannels: 2},
	}
}

func TestSelectVideoFormat(t *testing.T) {
	formats := testFormats()

	f := selectVideoFormat(formats, "mp4", 720)
	require.NotNil(t, f)
	assert.Equal(t, 136, f.ItagNo)

	f = selectVideoFormat(formats, "mp4", 0)
	require.NotNil(t, f)
	assert.Equal(t, 137, f.ItagNo)

	// nothing under the cap: closest from above
	f = selectVideoFormat(formats, "mp4", 240)
	require.NotNil(t, f)
	assert.Equal(t, 135, f.ItagNo)

	f = selectVideoFormat(formats, "webm", 0)
	require.NotNil(t, f)
	assert.Equal(t, 248, f.ItagNo)

	assert.Nil(t, selectVideoFormat(formats, "3gp", 0))
}

func TestSelectAudioFormat(t *testing.T) {
	formats := testFormats()

	f := selectAudioFormat(formats, "m4a", 192)
	require.NotNil(t, f)
	assert.Equal(t, 140, f.ItagNo)

	f = selectAudioFormat(formats, "m4a", 64)
	require.NotNil(t, f)
	assert.Equal(t, 139, f.ItagNo)

	f = selectAudioFormat(formats, "webm", 128)
	require.NotNil(t, f)
	assert.Equal(t, 250, f.ItagNo)

	// cap below every stream: leanest wins
	f = selectAudioFormat(formats, "webm", 8)
	require.NotNil(t, f)
	assert.Equal(t, 250, f.ItagNo)
}

func TestByteTracker(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	sink := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	tr := newByteTracker(1000, sink, start)
	tr.now = func() time.Time { return now }

	now = start.Add(time.Second)
	tr.add(100) // first report
	tr.add(100) // throttled
	now = now.Add(reportEvery)
	tr.add(300)
	tr.flush()

	require.Len(t, events, 3)
	assert.Equal(t, int64(100), events[0].Downloaded)
	assert.Equal(t, int64(500), events[1].Downloaded)
	assert.Equal(t, int64(500), events[2].Downloaded)

	last := events[2]
	require.NotNil(t, last.Total)
	assert.Equal(t, int64(1000), *last.Total)
	require.NotNil(t, last.Speed)
	assert.Equal(t, 400.0, *last.Speed) // 500 bytes over 1.25s
	require.NotNil(t, last.ETA)
	assert.Equal(t, int64(1), *last.ETA)
	assert.Equal(t, int64(500), tr.downloaded())
}

func TestByteTracker_UnknownTotal(t *testing.T) {
	var got Event
	tr := newByteTracker(0, func(ev Event) { got = ev }, time.Now())
	tr.add(10)

	assert.Nil(t, got.Total)
	assert.Nil(t, got.ETA)
}

func TestWrapError(t *testing.T) {
	err := wrapError(errors.New("write /data/x: no space left on device"))
	assert.Contains(t, err.Error(), "disk space exhausted")

	err = wrapError(errors.New("unexpected status code: 403"))
	assert.Contains(t, err.Error(), "access forbidden")

	plain := errors.New("boom")
	assert.Equal(t, plain, wrapError(plain))
}
