package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Secrets are read from the environment only.
type Secrets struct {
	TwitterBearerToken string
	RedditClientID     string
	RedditClientSecret string
	RedditUserAgent    string
	DatabaseURL        string
	TelegramBotToken   string
	CronSecret         string
}

// databaseURLKeys are tried in order.
var databaseURLKeys = []string{"DATABASE_URL", "DATABASE_PRIVATE_URL", "POSTGRES_URL"}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// SecretsFromEnv reads secrets through getenv (os.Getenv when nil).
func SecretsFromEnv(getenv func(string) string) Secrets {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }

	s := Secrets{
		TwitterBearerToken: get("TWITTER_BEARER_TOKEN"),
		RedditClientID:     get("REDDIT_CLIENT_ID"),
		RedditClientSecret: get("REDDIT_CLIENT_SECRET"),
		RedditUserAgent:    get("REDDIT_USER_AGENT"),
		TelegramBotToken:   get("TELEGRAM_BOT_TOKEN"),
		CronSecret:         get("CRON_SECRET"),
	}
	for _, k := range databaseURLKeys {
		if v := get(k); v != "" {
			s.DatabaseURL = v
			break
		}
	}
	return s
}

// Redacted reports which secrets are set, for logs.
func (s Secrets) Redacted() map[string]bool {
	return map[string]bool{
		"twitter":  s.TwitterBearerToken != "",
		"reddit":   s.RedditClientID != "" && s.RedditClientSecret != "",
		"database": s.DatabaseURL != "",
		"telegram": s.TelegramBotToken != "",
		"cron":     s.CronSecret != "",
	}
}
