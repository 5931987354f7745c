package main

import (
	"bytes"
	"testing"

	"github.com/zhufengning/bililink/pkg/bus"
	"github.com/zhufengning/bililink/pkg/channels"
	"github.com/zhufengning/bililink/pkg/config"
)

func TestPrintChannelStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Channels.OneBot.Enabled = true

	manager, err := channels.NewManager(cfg, bus.NewMessageBus())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var out bytes.Buffer
	printChannelStatus(&out, manager.GetStatus())
	if got := out.String(); got != "Channel onebot: configured, running=false\n" {
		t.Fatalf("output = %q", got)
	}

	out.Reset()
	printChannelStatus(&out, nil)
	if got := out.String(); got != "Channels: none enabled\n" {
		t.Fatalf("output = %q", got)
	}
}
