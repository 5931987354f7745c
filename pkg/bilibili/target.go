package bilibili

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsupportedURL = errors.New("bilibili: unsupported url")

type targetKind int

const (
	targetVideo targetKind = iota + 1
	targetLive
	targetArticle
	targetDynamic
	targetShortLink
)

type target struct {
	kind targetKind
	// bvid or aid for videos, numeric id otherwise
	id    string
	isAid bool
}

var (
	videoURLPattern   = regexp.MustCompile(`(?i)bilibili\.com/video/(bv[0-9a-z]+|av(\d+))`)
	liveURLPattern    = regexp.MustCompile(`live\.bilibili\.com/(?:h5/)?(\d+)`)
	articleURLPattern = regexp.MustCompile(`bilibili\.com/read/(?:mobile/)?cv(\d+)`)
	dynamicURLPattern = []*regexp.Regexp{
		regexp.MustCompile(`bilibili\.com/opus/(\d+)`),
		regexp.MustCompile(`t\.bilibili\.com/(\d+)`),
		regexp.MustCompile(`m\.bilibili\.com/dynamic/(\d+)`),
	}
)

func parseTarget(raw string) (target, error) {
	u, _, _ := strings.Cut(strings.TrimSpace(raw), "?")

	if strings.Contains(strings.ToLower(u), "b23.tv/") {
		return target{kind: targetShortLink, id: u}, nil
	}
	if m := videoURLPattern.FindStringSubmatch(u); m != nil {
		if m[2] != "" {
			return target{kind: targetVideo, id: m[2], isAid: true}, nil
		}
		return target{kind: targetVideo, id: m[1]}, nil
	}
	if m := liveURLPattern.FindStringSubmatch(u); m != nil {
		return target{kind: targetLive, id: m[1]}, nil
	}
	if m := articleURLPattern.FindStringSubmatch(u); m != nil {
		return target{kind: targetArticle, id: m[1]}, nil
	}
	for _, p := range dynamicURLPattern {
		if m := p.FindStringSubmatch(u); m != nil {
			return target{kind: targetDynamic, id: m[1]}, nil
		}
	}
	return target{}, errors.Wrap(ErrUnsupportedURL, raw)
}
