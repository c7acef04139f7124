package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/suPer8Hu/smart-doctor/internal/conversation"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation with the assistant.

Commands inside the session:
  /retry    resend the last message after a failed request
  /reset    start a new conversation
  /history  show the context sent with the next message
  /quit     leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().String("policy", "", "what to do when sending while a reply is pending (queue, replace, reject)")
	_ = viper.BindPFlag("busy_policy", chatCmd.Flags().Lookup("policy"))
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	policy, err := conversation.ParsePolicy(viper.GetString("busy_policy"))
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(viper.GetString("server"), "/") + "/api/ai"
	coord := conversation.NewCoordinator(
		conversation.NewHTTPDispatcher(endpoint),
		conversation.WithPolicy(policy),
		conversation.WithHistoryWindow(viper.GetInt("history_window")),
	)
	defer coord.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     viper.GetString("history_file"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := rl.Stdout()
	if verbose {
		fmt.Fprintf(out, "server=%s policy=%s\n", endpoint, policy)
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		case "/reset":
			coord.Reset()
			fmt.Fprintln(out, "-- new conversation --")
			continue
		case "/history":
			for _, m := range coord.History() {
				fmt.Fprintf(out, "  %s: %s\n", speaker(m.IsUserMessage), m.Content)
			}
			continue
		case "/retry":
			if !coord.Retry() {
				fmt.Fprintln(out, "nothing to retry")
				continue
			}
		default:
			coord.SetInput(line)
			if _, err := coord.Send(); err != nil {
				if errors.Is(err, conversation.ErrPending) {
					fmt.Fprintln(out, "still waiting for the previous reply")
				}
				continue
			}
		}

		coord.Wait()
		if e := coord.Err(); e != "" {
			fmt.Fprintf(out, "error: %s (type /retry)\n", e)
			continue
		}
		for _, m := range lastReplies(coord) {
			fmt.Fprintf(out, "doctor> %s\n", m)
		}
	}
}

// lastReplies returns the assistant messages after the latest user message.
func lastReplies(c *conversation.Coordinator) []string {
	t := c.Transcript()
	var out []string
	for i := len(t) - 1; i >= 0 && !t[i].IsUserMessage; i-- {
		text := t[i].Content
		if c.IsFallback(t[i].ID) {
			text = "[unavailable] " + text
		}
		out = append([]string{text}, out...)
	}
	return out
}

func speaker(user bool) string {
	if user {
		return "User"
	}
	return "Assistant"
}
