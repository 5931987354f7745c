// BiliLink - Bilibili link preview bot for OneBot chats
// Built on PicoClaw: https://github.com/sipeed/picoclaw
// License: MIT
//
// Copyright (c) 2026 BiliLink contributors

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zhufengning/bililink/pkg/bus"
	"github.com/zhufengning/bililink/pkg/channels"
	"github.com/zhufengning/bililink/pkg/config"
	"github.com/zhufengning/bililink/pkg/logger"
)

const version = "0.1.0"
const logo = "📺"

var (
	flagConfigPath string
	flagDebug      bool
)

var rootCmd = &cobra.Command{
	Use:           "bililink",
	Short:         "Bilibili link previews for OneBot chats",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile(".env")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file (default ~/.bililink/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug logging")
	rootCmd.AddCommand(
		newGatewayCmd(),
		newParseCmd(),
		newGateCmd(),
		newOnboardCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile loads KEY=VALUE pairs from path without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getConfigPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bililink", "config.json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	applyLogConfig(cfg.Log)
	return cfg, nil
}

func applyLogConfig(cfg config.LogConfig) {
	if flagDebug {
		logger.SetLevel(logger.DEBUG)
	} else {
		logger.SetLevel(parseLogLevel(cfg.Level))
	}

	if cfg.File != "" {
		if err := logger.EnableFileLogging(cfg.File); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		}
	}
}

func parseLogLevel(s string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logger.DEBUG
	case "warn", "warning":
		return logger.WARN
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s bililink v%s\n", logo, version)
		},
	}
}

func newOnboardCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := getConfigPath()
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
			}

			if err := config.SaveConfig(configPath, config.DefaultConfig()); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("%s bililink is ready!\n", logo)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Set channels.onebot.ws_url and enabled in", configPath)
			fmt.Println("  2. Try a link offline: bililink parse --resolve BV1GJ411x7h7")
			fmt.Println("  3. Start the bot: bililink gateway")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			configPath := getConfigPath()
			fmt.Printf("%s bililink Status\n\n", logo)
			fmt.Println("Config:", configPath, mark(fileExists(configPath)))

			dbPath := cfg.GateDBPath()
			fmt.Println("Gate store:", dbPath, mark(fileExists(dbPath)))

			onebot := cfg.Channels.OneBot
			fmt.Printf("OneBot: enabled=%t ws_url=%s\n", onebot.Enabled, onebot.WSUrl)
			manager, err := channels.NewManager(cfg, bus.NewMessageBus())
			if err != nil {
				return err
			}
			printChannelStatus(cmd.OutOrStdout(), manager.GetStatus())
			fmt.Printf("Parser: enabled=%t allow_private=%t dedup_window=%s\n",
				cfg.Parser.Enabled, cfg.Parser.AllowPrivate, cfg.DedupWindow())
			if cfg.Parser.SweepCron != "" {
				fmt.Println("Ledger sweep:", cfg.Parser.SweepCron)
			} else {
				fmt.Println("Ledger sweep: disabled")
			}
			fmt.Println("Bilibili API:", cfg.Bilibili.APIBase)
			return nil
		},
	}
}

func printChannelStatus(w io.Writer, status map[string]interface{}) {
	if len(status) == 0 {
		fmt.Fprintln(w, "Channels: none enabled")
		return
	}
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		running := false
		if st, ok := status[name].(map[string]interface{}); ok {
			running, _ = st["running"].(bool)
		}
		fmt.Fprintf(w, "Channel %s: configured, running=%t\n", name, running)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
