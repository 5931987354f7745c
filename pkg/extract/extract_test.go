package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainText(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantKind Kind
		wantRaw  string
		wantOK   bool
	}{
		{
			name:     "bv code in sentence",
			text:     "check this out bv1abc123xyz",
			wantKind: KindVideoCode,
			wantRaw:  "bv1abc123xyz",
			wantOK:   true,
		},
		{
			name:     "upper case BV code keeps original case",
			text:     "看看 BV1xx411c7mD 这个",
			wantKind: KindVideoCode,
			wantRaw:  "BV1xx411c7mD",
			wantOK:   true,
		},
		{
			name:     "av code",
			text:     "old one: av170001!",
			wantKind: KindVideoCode,
			wantRaw:  "av170001",
			wantOK:   true,
		},
		{
			name:     "full video url yields the code",
			text:     "https://www.bilibili.com/video/BV1GJ411x7h7?p=2",
			wantKind: KindVideoCode,
			wantRaw:  "BV1GJ411x7h7",
			wantOK:   true,
		},
		{
			name:     "short link with query",
			text:     "https://b23.tv/abcDEF?spm=1",
			wantKind: KindShortLink,
			wantRaw:  "https://b23.tv/abcDEF",
			wantOK:   true,
		},
		{
			name:     "short link stops at whitespace",
			text:     "分享 https://b23.tv/xyz123 来自客户端",
			wantKind: KindShortLink,
			wantRaw:  "https://b23.tv/xyz123",
			wantOK:   true,
		},
		{
			name:     "live room",
			text:     "直播 https://live.bilibili.com/21452505?broadcast_type=0",
			wantKind: KindDirectURL,
			wantRaw:  "https://live.bilibili.com/21452505",
			wantOK:   true,
		},
		{
			name:     "article",
			text:     "https://www.bilibili.com/read/cv12345 nice",
			wantKind: KindDirectURL,
			wantRaw:  "https://www.bilibili.com/read/cv12345",
			wantOK:   true,
		},
		{
			name:     "opus post",
			text:     "https://www.bilibili.com/opus/912345678901234567",
			wantKind: KindDirectURL,
			wantRaw:  "https://www.bilibili.com/opus/912345678901234567",
			wantOK:   true,
		},
		{
			name:     "dynamic post picks first prefix occurrence",
			text:     "a https://t.bilibili.com/123 b https://live.bilibili.com/9",
			wantKind: KindDirectURL,
			wantRaw:  "https://t.bilibili.com/123",
			wantOK:   true,
		},
		{
			name:   "unrelated text",
			text:   "hello world, nothing here",
			wantOK: false,
		},
		{
			name:   "empty text",
			text:   "",
			wantOK: false,
		},
		{
			name:   "other site link",
			text:   "https://example.com/watch?v=1",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(Message{Text: tt.text})
			require.Equal(t, tt.wantOK, ok, "Extract(%q)", tt.text)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantRaw, got.Raw)
		})
	}
}

func TestExtract_VideoCodeTakesPriorityOverLinks(t *testing.T) {
	// the short link path is only consulted when no bv/av substring is present
	got, strategy, ok := Explain(Message{Text: "https://b23.tv/aBvXyZ"})
	require.True(t, ok)
	assert.Equal(t, "video_code", strategy)
	assert.Equal(t, KindVideoCode, got.Kind)
	assert.Equal(t, "BvXyZ", got.Raw)
}

func TestExtract_ShareCard(t *testing.T) {
	tests := []struct {
		name     string
		card     string
		wantKind Kind
		wantRaw  string
		wantOK   bool
	}{
		{
			name:     "doc url with query stripped",
			card:     `{"meta":{"detail_1":{"qqdocurl":"https://b23.tv/Ab12Cd?share_medium=android"}}}`,
			wantKind: KindShortLink,
			wantRaw:  "https://b23.tv/Ab12Cd",
			wantOK:   true,
		},
		{
			name:     "jump url when doc url missing",
			card:     `{"meta":{"news":{"jumpUrl":"https://www.bilibili.com/video/BV1GJ411x7h7?share_source=qq"}}}`,
			wantKind: KindDirectURL,
			wantRaw:  "https://www.bilibili.com/video/BV1GJ411x7h7",
			wantOK:   true,
		},
		{
			name:     "doc url wins over jump url",
			card:     `{"meta":{"detail_1":{"qqdocurl":"https://b23.tv/first"},"news":{"jumpUrl":"https://b23.tv/second"}}}`,
			wantKind: KindShortLink,
			wantRaw:  "https://b23.tv/first",
			wantOK:   true,
		},
		{
			name:     "empty doc url falls back to jump url",
			card:     `{"meta":{"detail_1":{"qqdocurl":""},"news":{"jumpUrl":"https://live.bilibili.com/6"}}}`,
			wantKind: KindDirectURL,
			wantRaw:  "https://live.bilibili.com/6",
			wantOK:   true,
		},
		{
			name:   "no url fields",
			card:   `{"meta":{"news":{"title":"something"}}}`,
			wantOK: false,
		},
		{
			name:   "malformed json",
			card:   `{"meta":`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(Message{Card: []byte(tt.card)})
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantRaw, got.Raw)
		})
	}
}

func TestExtract_CardNeverFallsThroughToText(t *testing.T) {
	msg := Message{
		Card: []byte(`{"prompt":"[QQ小程序]哔哩哔哩"}`),
		Text: "BV1GJ411x7h7",
	}

	_, strategy, ok := Explain(msg)
	assert.False(t, ok)
	assert.Equal(t, "share_card", strategy)
}

func TestNormalize(t *testing.T) {
	code := Candidate{Kind: KindVideoCode, Raw: "bv1abc123xyz"}
	assert.Equal(t, "https://www.bilibili.com/video/bv1abc123xyz", Normalize(code))
	assert.Equal(t, Normalize(code), Normalize(code))

	canonical := Candidate{Kind: KindVideoCode, Raw: Normalize(code)}
	assert.Equal(t, Normalize(code), Normalize(canonical))

	short := Candidate{Kind: KindShortLink, Raw: "https://b23.tv/abcDEF"}
	assert.Equal(t, "https://b23.tv/abcDEF", Normalize(short))

	direct := Candidate{Kind: KindDirectURL, Raw: "https://live.bilibili.com/1"}
	assert.Equal(t, "https://live.bilibili.com/1", Normalize(direct))
}

func TestEndToEnd_TextToCanonical(t *testing.T) {
	c, ok := Extract(Message{Text: "check this out bv1abc123xyz"})
	require.True(t, ok)
	assert.Equal(t, Candidate{Kind: KindVideoCode, Raw: "bv1abc123xyz"}, c)
	assert.Equal(t, "https://www.bilibili.com/video/bv1abc123xyz", Normalize(c))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "video_code", KindVideoCode.String())
	assert.Equal(t, "short_link", KindShortLink.String())
	assert.Equal(t, "direct_url", KindDirectURL.String())
	assert.Equal(t, "unknown", Kind(0).String())
}
