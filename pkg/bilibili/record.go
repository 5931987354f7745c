// Package bilibili resolves canonical Bilibili URLs into content records.
package bilibili

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// ErrUnresolved means the resolver answered but none of the known content
// shapes were present.
var ErrUnresolved = errors.New("bilibili: url did not resolve to video, live room or post")

type RecordKind int

const (
	RecordVideo RecordKind = iota + 1
	RecordLive
	RecordPost
)

func (k RecordKind) String() string {
	switch k {
	case RecordVideo:
		return "video"
	case RecordLive:
		return "live"
	case RecordPost:
		return "post"
	default:
		return "unknown"
	}
}

// Record is a resolved piece of content. Attrs holds the API object for the
// shape named by Kind.
type Record struct {
	Kind         RecordKind
	Attrs        gjson.Result
	CanonicalURL string
	ContentURL   string
}

// DedupKey prefers the resolver-reported URL so that a short link and a
// video code pointing at the same video share one ledger entry.
func (r Record) DedupKey() string {
	if r.ContentURL != "" {
		return r.ContentURL
	}
	return r.CanonicalURL
}

// Resolution is the raw resolver answer. At most one shape is expected to
// exist; URL is the content URL the resolver settled on.
type Resolution struct {
	Video gjson.Result
	Live  gjson.Result
	Post  gjson.Result
	URL   string
}

type Resolver interface {
	Resolve(ctx context.Context, url string) (Resolution, error)
}

// Dispatch resolves url and picks the first present shape in the order
// video, live, post.
func Dispatch(ctx context.Context, r Resolver, url string) (Record, error) {
	res, err := r.Resolve(ctx, url)
	if err != nil {
		return Record{}, errors.Wrapf(err, "resolve %s", url)
	}

	rec := Record{CanonicalURL: url, ContentURL: res.URL}
	switch {
	case res.Video.Exists():
		rec.Kind, rec.Attrs = RecordVideo, res.Video
	case res.Live.Exists():
		rec.Kind, rec.Attrs = RecordLive, res.Live
	case res.Post.Exists():
		rec.Kind, rec.Attrs = RecordPost, res.Post
	default:
		return Record{}, ErrUnresolved
	}
	return rec, nil
}
