package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srg/teletty/bridge"
	"github.com/srg/teletty/internal/config"
	"github.com/srg/teletty/internal/telegram"
)

var (
	flagChatID       int64
	flagRegister     bool
	flagOutputStream string
	flagNoMirror     bool
	flagEnter        bool
	flagNoEnter      bool
	flagKeymap       string
)

func runRoot(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	cfg, err := config.Load(logger)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if flagRegister {
		client, err := telegram.New(cfg.Token, 0, logger)
		if err != nil {
			return err
		}
		return runRegister(cmd.Context(), client)
	}

	chatID := cfg.ChatID
	if chatID == 0 {
		chatID = flagChatID
	}
	if chatID == 0 {
		cmd.SilenceUsage = false
		return errors.New("no authorized chat id: pass --chat-id, set " + config.ChatIDVar + ", or run --register first")
	}
	if len(args) == 0 {
		cmd.SilenceUsage = false
		return errors.New("no command to bridge: teletty [flags] -- <command> [args...]")
	}

	client, err := telegram.New(cfg.Token, chatID, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	err = bridge.Run(ctx, &bridge.Options{
		Argv:         args,
		Transport:    client,
		Logger:       logger,
		OutputStream: flagOutputStream,
		NoMirror:     flagNoMirror,
		NoEnter:      flagNoEnter || !flagEnter,
		KeymapPath:   flagKeymap,
	})
	if err != nil {
		return fmt.Errorf("bridge failed: %w", err)
	}
	return nil
}
