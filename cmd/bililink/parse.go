package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/zhufengning/bililink/pkg/bilibili"
	"github.com/zhufengning/bililink/pkg/extract"
	"github.com/zhufengning/bililink/pkg/present"
)

type parser struct {
	out      io.Writer
	resolver bilibili.Resolver
	opts     present.Options
}

func newParseCmd() *cobra.Command {
	var (
		cardPath string
		resolve  bool
	)

	cmd := &cobra.Command{
		Use:   "parse [text...]",
		Short: "Show which Bilibili reference a message carries",
		Long: "parse runs the extractor on a message and prints the canonical URL. " +
			"With --resolve it also calls the Bilibili API and prints the reply the bot would send. " +
			"Without arguments it starts an interactive prompt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			p := &parser{out: cmd.OutOrStdout(), opts: presentOptions(cfg)}
			if resolve {
				p.resolver = newResolver(cfg)
			}

			var card []byte
			if cardPath != "" {
				card, err = os.ReadFile(cardPath)
				if err != nil {
					return fmt.Errorf("read card: %w", err)
				}
			}

			if len(args) == 0 && card == nil {
				return p.interactive(cmd.Context())
			}
			return p.run(cmd.Context(), extract.Message{Card: card, Text: strings.Join(args, " ")})
		},
	}

	cmd.Flags().StringVar(&cardPath, "card", "", "file holding a share card JSON payload")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "resolve the reference and render the reply")
	return cmd
}

func (p *parser) run(ctx context.Context, msg extract.Message) error {
	if ctx == nil {
		ctx = context.Background()
	}

	candidate, strategy, ok := extract.Explain(msg)
	if !ok {
		if strategy != "" {
			fmt.Fprintf(p.out, "No reference (%s claimed the message but found nothing)\n", strategy)
		} else {
			fmt.Fprintln(p.out, "No reference")
		}
		return nil
	}

	canonical := extract.Normalize(candidate)
	fmt.Fprintf(p.out, "Strategy:  %s\n", strategy)
	fmt.Fprintf(p.out, "Kind:      %s\n", candidate.Kind)
	fmt.Fprintf(p.out, "Raw:       %s\n", candidate.Raw)
	fmt.Fprintf(p.out, "Canonical: %s\n", canonical)

	if p.resolver == nil {
		return nil
	}

	rec, err := bilibili.Dispatch(ctx, p.resolver, canonical)
	if err != nil {
		return err
	}
	emission := present.Render(rec, p.opts)
	fmt.Fprintf(p.out, "Key:       %s\n\n%s", emission.Key, emission.String())
	return nil
}

func (p *parser) interactive(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s > ", logo),
		HistoryFile:     filepath.Join(os.TempDir(), ".bililink_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(p.out, "Goodbye!")
				return nil
			}
			fmt.Fprintf(p.out, "Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(p.out, "Goodbye!")
			return nil
		}

		if err := p.run(ctx, extract.Message{Text: input}); err != nil {
			fmt.Fprintf(p.out, "Error: %v\n", err)
		}
		fmt.Fprintln(p.out)
	}
}
