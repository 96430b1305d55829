package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd runs the bridge itself; the target program's argv follows the
// bridge's own flags.
var rootCmd = &cobra.Command{
	Use:   "teletty [flags] -- <command> [args...]",
	Short: "Drive a local command-line program from Telegram",
	Long: `teletty spawns a command under a pseudo-terminal and bridges it to a
single authorized Telegram chat:

- inbound chat messages are translated into keystrokes (with /c /a /s
  modifiers and named keys like /up, /enter, /f1) and typed into the program
- the program's output is sanitized, debounced, and sent back as messages
- the host terminal mirrors the session byte-exact

Credentials come from the environment (TELETTY_TELEGRAM_TOKEN, optional
TELETTY_CHAT_ID) or an owner-only .teletty.env file in the working or home
directory.

Examples:
  teletty --chat-id 123456 -- htop
  teletty --register
  teletty -o build.log --no-mirror -- make -j8`,
	Version: formatVersion(version),
	Args:    cobra.ArbitraryArgs,
	RunE:    runRoot,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	// Flags stop at the first positional so the child keeps its own.
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.Flags().Int64Var(&flagChatID, "chat-id", 0, "authorized peer chat id (overridden by TELETTY_CHAT_ID)")
	rootCmd.Flags().BoolVar(&flagRegister, "register", false, "discover-id mode: echo inbound sender ids and exit")
	rootCmd.Flags().StringVarP(&flagOutputStream, "output-stream", "o", "", "tail this file for outbound chat instead of the program's stdout")
	rootCmd.Flags().BoolVar(&flagNoMirror, "no-mirror", false, "suppress the local terminal mirror")
	rootCmd.Flags().BoolVarP(&flagEnter, "enter", "e", true, "append a carriage return after each message")
	rootCmd.Flags().BoolVar(&flagNoEnter, "no-enter", false, "never append a carriage return")
	rootCmd.Flags().StringVar(&flagKeymap, "keymap", "", "YAML file rebinding named keys")
	rootCmd.Flags().BoolP("verbose", "v", false, "debug-level logging")
	rootCmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
}
