package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhufengning/bililink/pkg/bilibili"
	"github.com/zhufengning/bililink/pkg/bus"
	"github.com/zhufengning/bililink/pkg/channels"
	"github.com/zhufengning/bililink/pkg/config"
	"github.com/zhufengning/bililink/pkg/dedup"
	"github.com/zhufengning/bililink/pkg/gate"
	"github.com/zhufengning/bililink/pkg/logger"
	"github.com/zhufengning/bililink/pkg/pipeline"
	"github.com/zhufengning/bililink/pkg/present"
)

func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Connect to OneBot and answer Bilibili links",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runGateway(cmd.Context(), cfg)
		},
	}
}

func newResolver(cfg *config.Config) *bilibili.Client {
	return bilibili.NewClient(bilibili.Options{
		APIBase:     cfg.Bilibili.APIBase,
		LiveAPIBase: cfg.Bilibili.LiveAPIBase,
		UserAgent:   cfg.Bilibili.UserAgent,
		Cookie:      cfg.Bilibili.Cookie,
		Timeout:     cfg.BilibiliTimeout(),
		RetryCount:  cfg.Bilibili.RetryCount,
	})
}

func presentOptions(cfg *config.Config) present.Options {
	return present.Options{
		DescMaxLength:  cfg.Parser.DescMaxLength,
		PostImageLimit: cfg.Parser.PostImageLimit,
	}
}

func runGateway(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	store, err := gate.Open(cfg.GateDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	policy := gate.NewPolicy(store, gate.Rules{
		Enabled:        cfg.Parser.Enabled,
		AllowPrivate:   cfg.Parser.AllowPrivate,
		DefaultEnabled: cfg.Gate.DefaultEnabled,
	})

	msgBus := bus.NewMessageBus()
	ledger := dedup.NewLedger(cfg.DedupWindow())
	sweeper := dedup.NewSweeper(ledger, cfg.Parser.SweepCron)

	loop := pipeline.NewLoop(msgBus, policy, newResolver(cfg), ledger, pipeline.Options{
		Present:    presentOptions(cfg),
		QuoteReply: cfg.Channels.OneBot.QuoteReply,
	})

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}

	enabledChannels := channelManager.GetEnabledChannels()
	if len(enabledChannels) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", enabledChannels)
	} else {
		fmt.Println("⚠ Warning: No channels enabled")
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("start ledger sweeper: %w", err)
	}
	if sweeper.Enabled() {
		fmt.Println("✓ Ledger sweeper started")
	}

	if err := channelManager.StartAll(ctx); err != nil {
		sweeper.Stop()
		return fmt.Errorf("start channels: %w", err)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("gateway", "Pipeline stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	logger.InfoCF("gateway", "Gateway started", map[string]interface{}{
		"channels":     channelManager.GetStatus(),
		"dedup_window": cfg.DedupWindow().String(),
		"gate_store":   store.Path(),
	})
	fmt.Printf("%s Gateway started. Press Ctrl+C to stop\n", logo)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	cancel()
	// releases handlers blocked on a full outbound buffer
	msgBus.Close()
	sweeper.Stop()

	select {
	case <-loopDone:
	case <-time.After(15 * time.Second):
		logger.WarnC("gateway", "Pipeline did not drain before timeout")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	channelManager.StopAll(stopCtx)
	fmt.Println("✓ Gateway stopped")
	return nil
}
