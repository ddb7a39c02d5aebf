package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fixwise/internal/types"
)

var (
	chatUser    string
	chatMachine string
)

// chatCmd runs an interactive troubleshooting conversation.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive troubleshooting session",
	Long: `Starts a troubleshooting session and reads messages from stdin.

In-session commands:
  /end        complete the session
  /escalate   hand the session to a human expert
  /quit       leave without completing (the idle sweep will abandon it)`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "user id (required)")
	chatCmd.Flags().StringVarP(&chatMachine, "machine", "m", "", "machine id the session is about")
	_ = chatCmd.MarkFlagRequired("user")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.manager.Start(ctx, chatUser, chatMachine, "", "fixwise-cli")
	if err != nil {
		return err
	}
	fmt.Printf("Session started (expires %s). Describe the problem.\n",
		sess.ExpiresAt.Local().Format("15:04"))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/end":
			if err := a.manager.End(ctx, sess.Token); err != nil {
				return err
			}
			fmt.Println("Session completed. Thanks!")
			return nil
		case line == "/escalate":
			res, err := a.manager.Escalate(ctx, sess.Token,
				types.ReasonUserRequest, types.PriorityHigh, "requested from chat")
			if err != nil {
				return err
			}
			fmt.Printf("Escalated: ticket %s (%s). Notification accepted: %v\n",
				res.Ticket.Number, res.Ticket.Status, res.EmailSent)
			return nil
		}

		turn, err := a.manager.HandleMessage(ctx, sess.Token, line)
		if err != nil {
			return err
		}
		fmt.Println(turn.AssistantMessage.Content)
		if len(turn.Results) == 0 {
			fmt.Println("(type /escalate to bring in a human expert)")
		}
	}
}
