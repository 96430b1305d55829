// Package config resolves the bridge's credentials from the environment,
// optionally seeded from a dotenv file in the working or home directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	// EnvPrefix namespaces every variable the bridge reads.
	EnvPrefix = "TELETTY"

	// TokenVar holds the Telegram bot credential. Required.
	TokenVar = EnvPrefix + "_TELEGRAM_TOKEN"

	// ChatIDVar optionally overrides the --chat-id flag.
	ChatIDVar = EnvPrefix + "_CHAT_ID"

	// DotenvName is looked up in the working directory, then $HOME.
	DotenvName = ".teletty.env"
)

var (
	ErrMissingToken   = errors.New(TokenVar + " is not set")
	ErrInsecureDotenv = errors.New("dotenv file is readable by group/other; chmod it to 0600")
)

// Config is the resolved transport configuration.
type Config struct {
	Token  string
	ChatID int64 // 0 when unset
}

// Load reads dotenv files (working dir first, then home; existing
// environment always wins) and resolves the variables. A dotenv file that
// is group- or other-accessible refuses to load: it holds a credential.
func Load(log *logrus.Logger) (*Config, error) {
	for _, path := range dotenvCandidates() {
		st, err := os.Stat(path)
		if err != nil {
			continue
		}
		if st.Mode().Perm()&0o077 != 0 {
			return nil, fmt.Errorf("%w: %s (mode %04o)", ErrInsecureDotenv, path, st.Mode().Perm())
		}
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		log.WithField("path", path).Debug("loaded dotenv")
	}

	cfg := &Config{Token: os.Getenv(TokenVar)}
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}

	if raw := os.Getenv(ChatIDVar); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed %s %q: %w", ChatIDVar, raw, err)
		}
		cfg.ChatID = id
	}
	return cfg, nil
}

func dotenvCandidates() []string {
	paths := []string{DotenvName}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, DotenvName))
	}
	return paths
}
