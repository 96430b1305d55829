package main

import (
	"errors"

	"github.com/srg/teletty/internal/config"
)

// FormatUserError turns an error chain into the one-line message printed
// to stderr. Configuration mistakes get actionable hints; everything else
// passes through.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, config.ErrMissingToken):
		return err.Error() + " (create a bot with @BotFather and export the token)"
	case errors.Is(err, config.ErrInsecureDotenv):
		return err.Error()
	default:
		return err.Error()
	}
}
