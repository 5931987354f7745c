package bilibili

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/zhufengning/bililink/pkg/logger"
)

const (
	DefaultAPIBase       = "https://api.bilibili.com"
	DefaultLiveAPIBase   = "https://api.live.bilibili.com"
	DefaultShortLinkBase = "https://b23.tv"

	maxShortLinkHops = 3
)

type Options struct {
	APIBase     string
	LiveAPIBase string
	// ShortLinkBase replaces https://b23.tv when expanding short links.
	ShortLinkBase string
	UserAgent     string
	Cookie        string
	Timeout       time.Duration
	RetryCount    int
}

// Client resolves URLs against the public Bilibili web API.
type Client struct {
	http          *resty.Client
	apiBase       string
	liveAPIBase   string
	shortLinkBase string
}

var _ Resolver = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetHeader("Accept", "application/json").
		SetHeader("Referer", "https://www.bilibili.com/").
		// short links are expanded one hop at a time so the Location can be inspected
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	if opts.UserAgent != "" {
		rc.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Cookie != "" {
		rc.SetHeader("Cookie", opts.Cookie)
	}

	return &Client{
		http:          rc,
		apiBase:       baseOr(opts.APIBase, DefaultAPIBase),
		liveAPIBase:   baseOr(opts.LiveAPIBase, DefaultLiveAPIBase),
		shortLinkBase: baseOr(opts.ShortLinkBase, DefaultShortLinkBase),
	}
}

func baseOr(v, def string) string {
	v = strings.TrimSuffix(strings.TrimSpace(v), "/")
	if v == "" {
		return def
	}
	return v
}

func (c *Client) Resolve(ctx context.Context, rawURL string) (Resolution, error) {
	t, err := parseTarget(rawURL)
	if err != nil {
		return Resolution{}, err
	}

	for hops := 0; t.kind == targetShortLink; hops++ {
		if hops >= maxShortLinkHops {
			return Resolution{}, errors.Errorf("short link %s: too many redirects", rawURL)
		}
		next, err := c.expandShortLink(ctx, t.id)
		if err != nil {
			return Resolution{}, err
		}
		logger.DebugCF("bilibili", "Short link expanded", map[string]interface{}{
			"from": t.id,
			"to":   next,
		})
		if t, err = parseTarget(next); err != nil {
			return Resolution{}, err
		}
	}

	switch t.kind {
	case targetVideo:
		return c.resolveVideo(ctx, t)
	case targetLive:
		return c.resolveLive(ctx, t.id)
	case targetArticle:
		return c.resolveArticle(ctx, t.id)
	case targetDynamic:
		return c.resolveDynamic(ctx, t.id)
	default:
		return Resolution{}, errors.Wrap(ErrUnsupportedURL, rawURL)
	}
}

func (c *Client) expandShortLink(ctx context.Context, link string) (string, error) {
	path := link
	if i := strings.Index(strings.ToLower(link), "b23.tv/"); i >= 0 {
		path = link[i+len("b23.tv"):]
	}
	reqURL := c.shortLinkBase + path

	resp, err := c.http.R().SetContext(ctx).Get(reqURL)
	if err != nil {
		return "", errors.Wrapf(err, "expand short link %s", link)
	}
	if resp.StatusCode() < 300 || resp.StatusCode() >= 400 {
		return "", errors.Errorf("expand short link %s: unexpected status %d", link, resp.StatusCode())
	}

	loc := resp.Header().Get("Location")
	if loc == "" {
		return "", errors.Errorf("expand short link %s: redirect without location", link)
	}
	base, err := url.Parse(reqURL)
	if err != nil {
		return "", errors.Wrap(err, "parse short link")
	}
	next, err := base.Parse(loc)
	if err != nil {
		return "", errors.Wrapf(err, "parse redirect location %q", loc)
	}
	return next.String(), nil
}

func (c *Client) resolveVideo(ctx context.Context, t target) (Resolution, error) {
	params := map[string]string{"bvid": t.id}
	if t.isAid {
		params = map[string]string{"aid": t.id}
	}
	data, err := c.getData(ctx, c.apiBase+"/x/web-interface/view", params)
	if err != nil {
		return Resolution{}, err
	}

	id := data.Get("bvid").String()
	if id == "" {
		id = "av" + data.Get("aid").String()
	}
	return Resolution{Video: data, URL: "https://www.bilibili.com/video/" + id}, nil
}

func (c *Client) resolveLive(ctx context.Context, roomID string) (Resolution, error) {
	data, err := c.getData(ctx, c.liveAPIBase+"/room/v1/Room/get_info", map[string]string{"room_id": roomID})
	if err != nil {
		return Resolution{}, err
	}

	// short room ids are rewritten to the long form by the API
	if long := data.Get("room_id").String(); long != "" && long != "0" {
		roomID = long
	}
	return Resolution{Live: data, URL: "https://live.bilibili.com/" + roomID}, nil
}

func (c *Client) resolveArticle(ctx context.Context, id string) (Resolution, error) {
	data, err := c.getData(ctx, c.apiBase+"/x/article/viewinfo", map[string]string{"id": id})
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Post: data, URL: "https://www.bilibili.com/read/cv" + id}, nil
}

func (c *Client) resolveDynamic(ctx context.Context, id string) (Resolution, error) {
	data, err := c.getData(ctx, c.apiBase+"/x/polymer/web-dynamic/v1/detail", map[string]string{"id": id})
	if err != nil {
		return Resolution{}, err
	}
	item := data.Get("item")
	if !item.Exists() {
		return Resolution{URL: "https://t.bilibili.com/" + id}, nil
	}
	return Resolution{Post: item, URL: "https://t.bilibili.com/" + id}, nil
}

// getData performs a GET and unwraps the standard {code, message, data}
// envelope. A non-zero code is an error.
func (c *Client) getData(ctx context.Context, endpoint string, params map[string]string) (gjson.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(endpoint)
	if err != nil {
		return gjson.Result{}, errors.Wrapf(err, "request %s", endpoint)
	}
	if resp.IsError() {
		return gjson.Result{}, errors.Errorf("request %s: status %d", endpoint, resp.StatusCode())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.Errorf("request %s: invalid json response", endpoint)
	}
	root := gjson.ParseBytes(body)
	if code := root.Get("code").Int(); code != 0 {
		return gjson.Result{}, errors.Errorf("request %s: api code %d: %s", endpoint, code, root.Get("message").String())
	}

	data := root.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return gjson.Result{}, errors.Errorf("request %s: empty data", endpoint)
	}
	return data, nil
}
