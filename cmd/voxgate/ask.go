package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/szaher/voxgate/internal/conversation"
)

type converser interface {
	Converse(ctx context.Context, prompt conversation.Prompt, sessionID string) (*conversation.Reply, error)
}

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Talk to the configured model from the terminal",
		Long: `With a prompt argument, send one message and print the reply.
Without one, read prompts line by line from stdin and keep them in a single
conversation until EOF.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			logger, _ := newLogger(cfg)
			store := newSessionStore(cfg, logger, nil)
			gateway, err := newGateway(ctx, cfg, store, logger, nil)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				reply, err := gateway.Converse(ctx, conversation.RawPrompt(strings.Join(args, " ")), "")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
				return nil
			}

			return chatLoop(ctx, gateway, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

// chatLoop sends each non-blank input line as a prompt within one session.
// A failed exchange is reported and the loop continues.
func chatLoop(ctx context.Context, gw converser, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	sessionID := ""
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reply, err := gw.Converse(ctx, conversation.RawPrompt(line), sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		sessionID = reply.SessionID
		fmt.Fprintln(out, reply.Text)
	}
}
