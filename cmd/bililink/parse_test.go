package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zhufengning/bililink/pkg/bilibili"
	"github.com/zhufengning/bililink/pkg/extract"
)

func TestParser_PrintsCanonicalURL(t *testing.T) {
	var out bytes.Buffer
	p := &parser{out: &out}

	if err := p.run(context.Background(), extract.Message{Text: "看这个 https://b23.tv/Ab12Cd?share_source=qq"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"Strategy:  short_link", "Canonical: https://b23.tv/Ab12Cd"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestParser_NoReference(t *testing.T) {
	var out bytes.Buffer
	p := &parser{out: &out}

	if err := p.run(context.Background(), extract.Message{Text: "hello there"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if strings.TrimSpace(out.String()) != "No reference" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestParser_ResolvesAndRenders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"data":{"room_id":23058,"title":"测试直播间","user_cover":"http://i0.hdslb.com/room.jpg","uid":7,"live_time":"2024-01-01 20:00:00","parent_area_name":"娱乐","area_name":"聊天","description":"hi"}}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	p := &parser{
		out:      &out,
		resolver: bilibili.NewClient(bilibili.Options{APIBase: srv.URL, LiveAPIBase: srv.URL}),
	}

	if err := p.run(context.Background(), extract.Message{Text: "https://live.bilibili.com/3"}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{"Key:       https://live.bilibili.com/23058", "测试直播间"} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}
