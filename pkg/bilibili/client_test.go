package bilibili

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	videoBody = `{"code":0,"message":"0","data":{"bvid":"BV1GJ411x7h7","aid":80433022,"title":"test video","pic":"http://i0.hdslb.com/cover.jpg","owner":{"name":"uploader"},"ctime":1577808000,"stat":{"reply":1,"favorite":2,"coin":3,"like":4,"danmaku":5}}}`
	liveBody  = `{"code":0,"message":"ok","data":{"room_id":7734200,"short_id":6,"uid":50329118,"title":"live title","live_status":1}}`
	cvBody    = `{"code":0,"message":"0","data":{"title":"article title","author_name":"writer","mid":42}}`
	dynBody   = `{"code":0,"message":"0","data":{"item":{"id_str":"912345","modules":{"module_author":{"name":"poster"},"module_dynamic":{"desc":{"text":"hello"}}}}}}`
)

type fakeAPI struct {
	server   *httptest.Server
	requests atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{}
	mux := http.NewServeMux()

	mux.HandleFunc("/x/web-interface/view", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		q := r.URL.Query()
		switch {
		case q.Get("bvid") == "BV1GJ411x7h7", q.Get("aid") == "80433022":
			fmt.Fprint(w, videoBody)
		default:
			fmt.Fprint(w, `{"code":-404,"message":"啥都木有","data":null}`)
		}
	})
	mux.HandleFunc("/room/v1/Room/get_info", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if r.URL.Query().Get("room_id") != "6" {
			fmt.Fprint(w, `{"code":1,"message":"未找到该房间"}`)
			return
		}
		fmt.Fprint(w, liveBody)
	})
	mux.HandleFunc("/x/article/viewinfo", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		fmt.Fprint(w, cvBody)
	})
	mux.HandleFunc("/x/polymer/web-dynamic/v1/detail", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if r.URL.Query().Get("id") == "404" {
			fmt.Fprint(w, `{"code":0,"message":"0","data":{}}`)
			return
		}
		fmt.Fprint(w, dynBody)
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		http.Redirect(w, r, "https://www.bilibili.com/video/BV1GJ411x7h7?share_source=copy", http.StatusFound)
	})
	mux.HandleFunc("/chain", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		http.Redirect(w, r, "https://b23.tv/short", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://b23.tv/loop", http.StatusFound)
	})
	mux.HandleFunc("/dead", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) client() *Client {
	return NewClient(Options{
		APIBase:       f.server.URL,
		LiveAPIBase:   f.server.URL,
		ShortLinkBase: f.server.URL,
		UserAgent:     "bililink-test",
	})
}

func TestClient_ResolveVideo(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client()

	for _, u := range []string{
		"https://www.bilibili.com/video/BV1GJ411x7h7",
		"https://www.bilibili.com/video/av80433022",
	} {
		res, err := c.Resolve(context.Background(), u)
		require.NoError(t, err, u)
		assert.True(t, res.Video.Exists())
		assert.False(t, res.Live.Exists())
		assert.Equal(t, "test video", res.Video.Get("title").String())
		assert.Equal(t, "https://www.bilibili.com/video/BV1GJ411x7h7", res.URL)
	}
}

func TestClient_ResolveLiveUsesLongRoomID(t *testing.T) {
	api := newFakeAPI(t)

	res, err := api.client().Resolve(context.Background(), "https://live.bilibili.com/6")
	require.NoError(t, err)
	assert.True(t, res.Live.Exists())
	assert.Equal(t, int64(50329118), res.Live.Get("uid").Int())
	assert.Equal(t, "https://live.bilibili.com/7734200", res.URL)
}

func TestClient_ResolvePosts(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client()

	res, err := c.Resolve(context.Background(), "https://www.bilibili.com/read/cv123")
	require.NoError(t, err)
	assert.Equal(t, "article title", res.Post.Get("title").String())
	assert.Equal(t, "https://www.bilibili.com/read/cv123", res.URL)

	for _, u := range []string{
		"https://www.bilibili.com/opus/912345",
		"https://t.bilibili.com/912345",
		"https://m.bilibili.com/dynamic/912345",
	} {
		res, err := c.Resolve(context.Background(), u)
		require.NoError(t, err, u)
		assert.Equal(t, "poster", res.Post.Get("modules.module_author.name").String())
		assert.Equal(t, "https://t.bilibili.com/912345", res.URL)
	}
}

func TestClient_ResolveShortLink(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client()

	res, err := c.Resolve(context.Background(), "https://b23.tv/short")
	require.NoError(t, err)
	assert.True(t, res.Video.Exists())
	assert.Equal(t, "https://www.bilibili.com/video/BV1GJ411x7h7", res.URL)

	res, err = c.Resolve(context.Background(), "https://b23.tv/chain")
	require.NoError(t, err)
	assert.Equal(t, "https://www.bilibili.com/video/BV1GJ411x7h7", res.URL)
}

func TestClient_ShortLinkFailures(t *testing.T) {
	api := newFakeAPI(t)
	c := api.client()

	_, err := c.Resolve(context.Background(), "https://b23.tv/loop")
	assert.ErrorContains(t, err, "too many redirects")

	_, err = c.Resolve(context.Background(), "https://b23.tv/dead")
	assert.ErrorContains(t, err, "unexpected status 404")
}

func TestClient_APIErrorCode(t *testing.T) {
	api := newFakeAPI(t)

	_, err := api.client().Resolve(context.Background(), "https://www.bilibili.com/video/BV1missing00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api code -404")
}

func TestClient_UnsupportedURL(t *testing.T) {
	api := newFakeAPI(t)

	_, err := api.client().Resolve(context.Background(), "https://www.bilibili.com/bangumi/play/ss1")
	assert.ErrorIs(t, err, ErrUnsupportedURL)
	assert.Equal(t, int32(0), api.requests.Load())
}

func TestClient_EmptyDynamicIsUnresolved(t *testing.T) {
	api := newFakeAPI(t)

	_, err := Dispatch(context.Background(), api.client(), "https://t.bilibili.com/404")
	assert.ErrorIs(t, err, ErrUnresolved)
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in    string
		kind  targetKind
		id    string
		isAid bool
	}{
		{"https://www.bilibili.com/video/bv1abc123xyz", targetVideo, "bv1abc123xyz", false},
		{"https://www.bilibili.com/video/av170001?p=1", targetVideo, "170001", true},
		{"https://m.bilibili.com/video/BV1GJ411x7h7", targetVideo, "BV1GJ411x7h7", false},
		{"https://live.bilibili.com/h5/21452505", targetLive, "21452505", false},
		{"https://www.bilibili.com/read/mobile/cv99", targetArticle, "99", false},
		{"https://t.bilibili.com/77", targetDynamic, "77", false},
		{"https://B23.tv/AbC", targetShortLink, "https://B23.tv/AbC", false},
	}
	for _, tt := range tests {
		got, err := parseTarget(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.kind, got.kind, tt.in)
		assert.Equal(t, tt.id, got.id, tt.in)
		assert.Equal(t, tt.isAid, got.isAid, tt.in)
	}
}
