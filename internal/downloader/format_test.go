package downloader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFormat(t *testing.T) {
	tests := []struct {
		name      string
		res       int
		audio     int
		container string
		want      string
	}{
		{"mp4 capped", 720, 192, "mp4", "bestvideo[ext=mp4][height<=720]+bestaudio[ext=m4a][abr<=192]/best"},
		{"mp4 uncapped", 0, 128, "mp4", "bestvideo[ext=mp4]+bestaudio[ext=m4a][abr<=128]/best"},
		{"webm capped", 1080, 160, "webm", "bestvideo[ext=webm][height<=1080]+bestaudio[ext=webm][abr<=160]/best"},
		{"unknown container pairs with webm", 0, 192, "mkv", "bestvideo[ext=webm]+bestaudio[ext=webm][abr<=192]/best"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildFormat(tt.res, tt.audio, tt.container))
		})
	}
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("downloads", "abc.webm"), OutputPath("downloads", "abc", "webm"))
}

func TestRequestURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123", Request{VideoID: "abc123"}.URL())
}
