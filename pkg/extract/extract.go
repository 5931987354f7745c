// Package extract finds Bilibili content references in chat messages and
// turns them into canonical URLs. It performs no I/O.
package extract

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind tells Normalize how to build a canonical URL from Candidate.Raw.
type Kind int

const (
	KindVideoCode Kind = iota + 1
	KindShortLink
	KindDirectURL
)

func (k Kind) String() string {
	switch k {
	case KindVideoCode:
		return "video_code"
	case KindShortLink:
		return "short_link"
	case KindDirectURL:
		return "direct_url"
	default:
		return "unknown"
	}
}

// Message is one inbound chat message. Card holds the raw payload of a share
// card when it is the first segment of the message; Text is the concatenation
// of every plain-text segment.
type Message struct {
	Card []byte
	Text string
}

type Candidate struct {
	Kind Kind
	Raw  string
}

const shortLinkPrefix = "https://b23.tv"

var directPrefixes = []string{
	"https://live.bilibili.com/",
	"https://www.bilibili.com/read/",
	"https://www.bilibili.com/opus/",
	"https://t.bilibili.com/",
}

var (
	videoCodePattern = regexp.MustCompile(`(?i)(?:bv|av)[a-z0-9]*`)
	shortLinkPattern = regexp.MustCompile(`(?i)https://b23\.tv/[^?\s]+`)
	directPattern    = regexp.MustCompile(`https://(?:live\.bilibili\.com|www\.bilibili\.com/read|www\.bilibili\.com/opus|t\.bilibili\.com)/[^?\s]+`)
)

// strategy pairs a cheap applicability check with the extractor that runs
// when it holds. Once a predicate matches, its extractor's answer is final.
type strategy struct {
	name    string
	applies func(Message) bool
	extract func(Message) (Candidate, bool)
}

var strategies = []strategy{
	{name: "share_card", applies: hasCard, extract: extractCard},
	{name: "video_code", applies: mentionsVideoCode, extract: extractVideoCode},
	{name: "short_link", applies: mentionsShortLink, extract: extractShortLink},
	{name: "direct_url", applies: mentionsDirectURL, extract: extractDirectURL},
}

// Extract returns the first content reference found in msg.
func Extract(msg Message) (Candidate, bool) {
	c, _, ok := extractWithStrategy(msg)
	return c, ok
}

// Explain is Extract plus the name of the strategy that claimed the message,
// empty when none applied.
func Explain(msg Message) (Candidate, string, bool) {
	return extractWithStrategy(msg)
}

func extractWithStrategy(msg Message) (Candidate, string, bool) {
	for _, s := range strategies {
		if !s.applies(msg) {
			continue
		}
		c, ok := s.extract(msg)
		return c, s.name, ok
	}
	return Candidate{}, "", false
}

func hasCard(msg Message) bool {
	return len(msg.Card) > 0
}

func extractCard(msg Message) (Candidate, bool) {
	if !gjson.ValidBytes(msg.Card) {
		return Candidate{}, false
	}
	card := gjson.ParseBytes(msg.Card)

	link := cardString(card, "meta.detail_1.qqdocurl")
	if link == "" {
		link = cardString(card, "meta.news.jumpUrl")
	}
	if link == "" {
		return Candidate{}, false
	}
	link, _, _ = strings.Cut(link, "?")
	if link == "" {
		return Candidate{}, false
	}

	kind := KindDirectURL
	if strings.HasPrefix(strings.ToLower(link), shortLinkPrefix) {
		kind = KindShortLink
	}
	return Candidate{Kind: kind, Raw: link}, true
}

func cardString(card gjson.Result, path string) string {
	v := card.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func mentionsVideoCode(msg Message) bool {
	lower := strings.ToLower(msg.Text)
	return strings.Contains(lower, "bv") || strings.Contains(lower, "av")
}

func extractVideoCode(msg Message) (Candidate, bool) {
	code := videoCodePattern.FindString(msg.Text)
	if code == "" {
		return Candidate{}, false
	}
	return Candidate{Kind: KindVideoCode, Raw: code}, true
}

func mentionsShortLink(msg Message) bool {
	return strings.Contains(msg.Text, shortLinkPrefix)
}

func extractShortLink(msg Message) (Candidate, bool) {
	link := shortLinkPattern.FindString(msg.Text)
	if link == "" {
		return Candidate{}, false
	}
	return Candidate{Kind: KindShortLink, Raw: link}, true
}

func mentionsDirectURL(msg Message) bool {
	for _, prefix := range directPrefixes {
		if strings.Contains(msg.Text, prefix) {
			return true
		}
	}
	return false
}

func extractDirectURL(msg Message) (Candidate, bool) {
	link := directPattern.FindString(msg.Text)
	if link == "" {
		return Candidate{}, false
	}
	return Candidate{Kind: KindDirectURL, Raw: link}, true
}
