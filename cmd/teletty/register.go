package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"

	"github.com/srg/teletty/internal/telegram"
)

// runRegister is the discover-my-chat-id mode: wait for any inbound
// message, print the sender's id, and exit after the first one. The user
// copies the id into --chat-id or TELETTY_CHAT_ID.
func runRegister(ctx context.Context, client *telegram.Client) error {
	if ctx == nil {
		ctx = context.Background()
	}

	progress := NewProgressPrinter("Waiting for a message to the bot", "Listening")
	progress.Start()
	defer progress.Stop()

	for in := range client.Updates(ctx) {
		progress.Stop()
		idText := color.New(color.FgGreen, color.Bold).Sprintf("%d", in.SenderID)
		fmt.Printf("\nSender chat id: %s\n", idText)
		fmt.Printf("Run:  teletty --chat-id %d -- <command>\n", in.SenderID)
		fmt.Printf("  or: export %s=%d\n", "TELETTY_CHAT_ID", in.SenderID)
		return nil
	}
	return ctx.Err()
}
