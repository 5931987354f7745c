package extract

import "strings"

// VideoURLPrefix is the canonical page prefix for video codes.
const VideoURLPrefix = "https://www.bilibili.com/video/"

// Normalize maps a candidate to the canonical URL used both as the dedup key
// and as the resolver input. Short links and direct URLs already had their
// query string stripped during extraction and pass through unchanged.
func Normalize(c Candidate) string {
	switch c.Kind {
	case KindVideoCode:
		if strings.HasPrefix(c.Raw, VideoURLPrefix) {
			return c.Raw
		}
		return VideoURLPrefix + c.Raw
	default:
		return c.Raw
	}
}
