package downloader

import (
	"fmt"
	"path/filepath"
)

// StreamExts returns the video and audio extensions merged for a container:
// mp4 pairs with m4a audio, anything else with webm.
func StreamExts(container string) (video, audio string) {
	if container == "mp4" {
		return "mp4", "m4a"
	}
	return "webm", "webm"
}

// BuildFormat returns the yt-dlp format selector for the preferences,
// falling back to the best single file when no pair matches.
func BuildFormat(resolution, audioBitrate int, container string) string {
	videoExt, audioExt := StreamExts(container)

	video := fmt.Sprintf("bestvideo[ext=%s]", videoExt)
	if resolution > 0 {
		video += fmt.Sprintf("[height<=%d]", resolution)
	}
	audio := fmt.Sprintf("bestaudio[ext=%s][abr<=%d]", audioExt, audioBitrate)

	return video + "+" + audio + "/best"
}

// OutputPath is where a token's artifact lands.
func OutputPath(dir, token, container string) string {
	return filepath.Join(dir, token+"."+container)
}
