// Package present turns resolved Bilibili records into chat messages made of
// ordered text and image parts.
package present

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zhufengning/bililink/pkg/bilibili"
	"github.com/zhufengning/bililink/pkg/bus"
	"github.com/zhufengning/bililink/pkg/utils"
)

type Options struct {
	// DescMaxLength caps descriptions and post bodies in runes; 0 keeps them whole.
	DescMaxLength int
	// PostImageLimit caps how many post images are attached; 0 attaches none.
	PostImageLimit int
	// Location is used for upload dates; nil means time.Local.
	Location *time.Location
}

type Emission struct {
	Kind  bilibili.RecordKind
	Key   string
	Parts []bus.Part
}

// String flattens the emission for terminals and logs.
func (e Emission) String() string {
	var sb strings.Builder
	for _, p := range e.Parts {
		switch p.Type {
		case bus.PartImage:
			fmt.Fprintf(&sb, "[image: %s]\n", p.Value)
		default:
			sb.WriteString(p.Value)
			if !strings.HasSuffix(p.Value, "\n") {
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func Render(rec bilibili.Record, opts Options) Emission {
	e := Emission{Kind: rec.Kind, Key: rec.DedupKey()}
	switch rec.Kind {
	case bilibili.RecordVideo:
		e.Parts = renderVideo(rec, opts)
	case bilibili.RecordLive:
		e.Parts = renderLive(rec, opts)
	case bilibili.RecordPost:
		if rec.Attrs.Get("modules").Exists() {
			e.Parts = renderDynamic(rec, opts)
		} else {
			e.Parts = renderArticle(rec, opts)
		}
	}
	return e
}

func renderVideo(rec bilibili.Record, opts Options) []bus.Part {
	v := rec.Attrs
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	date := ""
	if ctime := v.Get("ctime").Int(); ctime > 0 {
		date = time.Unix(ctime, 0).In(loc).Format("2006-01-02")
	}

	text := fmt.Sprintf("av%s\n标题：%s\nUP：%s\n上传日期：%s\n回复：%s，收藏：%s，投币：%s\n点赞：%s，弹幕：%s\n%s",
		v.Get("aid").String(),
		v.Get("title").String(),
		v.Get("owner.name").String(),
		date,
		v.Get("stat.reply").String(),
		v.Get("stat.favorite").String(),
		v.Get("stat.coin").String(),
		v.Get("stat.like").String(),
		v.Get("stat.danmaku").String(),
		rec.DedupKey(),
	)

	var parts []bus.Part
	parts = appendImage(parts, v.Get("pic").String())
	return append(parts, textPart(text))
}

func renderLive(rec bilibili.Record, opts Options) []bus.Part {
	l := rec.Attrs
	text := fmt.Sprintf("开播用户：https://space.bilibili.com/%s\n开播时间：%s\n直播分区：%s——>%s\n标题：%s\n简介：%s\n直播截图：\n",
		l.Get("uid").String(),
		l.Get("live_time").String(),
		l.Get("parent_area_name").String(),
		l.Get("area_name").String(),
		l.Get("title").String(),
		truncate(l.Get("description").String(), opts.DescMaxLength),
	)

	var parts []bus.Part
	parts = appendImage(parts, l.Get("user_cover").String())
	parts = append(parts, textPart(text))
	parts = appendImage(parts, l.Get("keyframe").String())
	return append(parts, textPart(rec.DedupKey()))
}

func renderArticle(rec bilibili.Record, opts Options) []bus.Part {
	a := rec.Attrs
	text := fmt.Sprintf("专栏：%s\n作者：%s\n阅读：%s，点赞：%s，评论：%s\n%s",
		a.Get("title").String(),
		a.Get("author_name").String(),
		a.Get("stats.view").String(),
		a.Get("stats.like").String(),
		a.Get("stats.reply").String(),
		rec.DedupKey(),
	)

	banner := a.Get("banner_url").String()
	if banner == "" {
		banner = a.Get("image_urls.0").String()
	}
	var parts []bus.Part
	if opts.PostImageLimit > 0 {
		parts = appendImage(parts, banner)
	}
	return append(parts, textPart(text))
}

func renderDynamic(rec bilibili.Record, opts Options) []bus.Part {
	author := rec.Attrs.Get("modules.module_author")
	dyn := rec.Attrs.Get("modules.module_dynamic")

	title := firstString(dyn,
		"major.opus.title",
		"major.archive.title",
		"major.article.title",
	)
	body := firstString(dyn,
		"desc.text",
		"major.opus.summary.text",
		"major.archive.desc",
		"major.article.desc",
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "动态：%s\n", author.Get("name").String())
	if pub := author.Get("pub_time").String(); pub != "" {
		fmt.Fprintf(&sb, "发布时间：%s\n", pub)
	}
	if title != "" {
		fmt.Fprintf(&sb, "标题：%s\n", title)
	}
	if body != "" {
		fmt.Fprintf(&sb, "%s\n", truncate(body, opts.DescMaxLength))
	}

	parts := []bus.Part{textPart(sb.String())}
	for _, img := range dynamicImages(dyn, opts.PostImageLimit) {
		parts = appendImage(parts, img)
	}
	return append(parts, textPart(rec.DedupKey()))
}

func dynamicImages(dyn gjson.Result, limit int) []string {
	if limit <= 0 {
		return nil
	}
	var urls []string
	collect := func(items gjson.Result, field string) {
		items.ForEach(func(_, item gjson.Result) bool {
			if len(urls) >= limit {
				return false
			}
			if u := item.Get(field).String(); u != "" {
				urls = append(urls, u)
			}
			return true
		})
	}
	collect(dyn.Get("major.draw.items"), "src")
	collect(dyn.Get("major.opus.pics"), "url")
	if len(urls) == 0 {
		if cover := firstString(dyn, "major.archive.cover", "major.article.covers.0"); cover != "" {
			urls = append(urls, cover)
		}
	}
	return urls
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := strings.TrimSpace(r.Get(p).String()); s != "" {
			return s
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	return utils.Truncate(s, limit)
}

func textPart(s string) bus.Part {
	return bus.Part{Type: bus.PartText, Value: s}
}

func appendImage(parts []bus.Part, url string) []bus.Part {
	if url == "" {
		return parts
	}
	return append(parts, bus.Part{Type: bus.PartImage, Value: url})
}
