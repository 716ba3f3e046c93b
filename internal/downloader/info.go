package downloader

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/kkdai/youtube/v2"
)

// Info is the metadata shown before a client picks a resolution.
type Info struct {
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Seconds   int64    `json:"duration_seconds"`
	Qualities []string `json:"qualities"`
	Heights   []int    `json:"heights"`
}

// Prober looks up Info for a video.
type Prober interface {
	Probe(ctx context.Context, videoID string) (Info, error)
}

// YouTubeProber queries video metadata with kkdai/youtube.
type YouTubeProber struct {
	client youtube.Client
}

func NewYouTubeProber() *YouTubeProber {
	return &YouTubeProber{}
}

func (p *YouTubeProber) Probe(ctx context.Context, videoID string) (Info, error) {
	video, err := p.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return Info{}, wrapError(err)
	}
	labels, heights := QualityLabels(video.Formats)
	return Info{
		Title:     video.Title,
		Author:    video.Author,
		Seconds:   int64(video.Duration.Seconds()),
		Qualities: labels,
		Heights:   heights,
	}, nil
}

var qualityLabelRe = regexp.MustCompile(`^(\d+p)(\d+)?`)

// QualityLabels returns one display label per distinct video height, tallest
// first, e.g. "1080p 60fps".
func QualityLabels(formats youtube.FormatList) ([]string, []int) {
	byHeight := make(map[int]string)
	for _, f := range formats {
		if !hasMime(&f, "video/") || f.QualityLabel == "" {
			continue
		}
		height := parseHeight(f.QualityLabel)
		if height <= 0 {
			continue
		}
		label := formatQualityLabel(f.QualityLabel)
		// prefer the high frame rate label when heights collide
		if cur, ok := byHeight[height]; !ok || len(label) > len(cur) {
			byHeight[height] = label
		}
	}

	heights := make([]int, 0, len(byHeight))
	for h := range byHeight {
		heights = append(heights, h)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))

	labels := make([]string, 0, len(heights))
	for _, h := range heights {
		labels = append(labels, byHeight[h])
	}
	return labels, heights
}

// formatQualityLabel turns "1080p60" into "1080p 60fps".
func formatQualityLabel(q string) string {
	m := qualityLabelRe.FindStringSubmatch(q)
	if len(m) < 2 {
		return q
	}
	if len(m) > 2 && m[2] != "" {
		return fmt.Sprintf("%s %sfps", m[1], m[2])
	}
	return m[1]
}

func parseHeight(q string) int {
	digits := ""
	for _, c := range q {
		if c >= '0' && c <= '9' {
			digits += string(c)
		} else if digits != "" {
			break
		}
	}
	val, _ := strconv.Atoi(digits)
	return val
}
