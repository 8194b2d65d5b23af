// Package config loads the startup configuration shared by both transports.
//
// Configuration is read once, validated, and handed to the rest of the
// program as a plain value. Nothing mutates it after Load returns.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Mode selects which Slack transport the configuration is validated for.
type Mode int

const (
	// SocketMode needs a bot token and an app-level token.
	SocketMode Mode = iota
	// WebhookMode needs a bot token and a signing secret.
	WebhookMode
)

const (
	KeyBotToken      = "bot-token"
	KeyAppToken      = "app-token"
	KeySigningSecret = "signing-secret"
	KeyDB            = "db"
	KeyInitSQL       = "init-sql"
	KeyConfig        = "config"
	KeyLogLevel      = "log-level"
	KeyDebug         = "debug"
	KeyHealthAddr    = "health-addr"
	KeyPort          = "port"
)

var envBindings = map[string]string{
	KeyBotToken:      "SLACK_BOT_TOKEN",
	KeyAppToken:      "SLACK_APP_TOKEN",
	KeySigningSecret: "SLACK_SIGNING_SECRET",
	KeyLogLevel:      "LOG_LEVEL",
	KeyPort:          "PORT",
}

var (
	ErrMissingBotToken      = errors.New("missing --bot-token or SLACK_BOT_TOKEN")
	ErrMissingAppToken      = errors.New("missing --app-token or SLACK_APP_TOKEN")
	ErrMissingSigningSecret = errors.New("missing --signing-secret or SLACK_SIGNING_SECRET")
	ErrBadBotToken          = errors.New("bot token must have the prefix \"xoxb-\"")
	ErrBadAppToken          = errors.New("app token must have the prefix \"xapp-\"")
	ErrDatabaseNotFound     = errors.New("database not found")
	ErrInitSQLNotFound      = errors.New("init SQL file not found")
	ErrDuplicateDatabase    = errors.New("duplicate database name")
	ErrInvalidDatabaseName  = errors.New("invalid database name")
)

// Database is an external DuckDB file attached read-only to every session.
type Database struct {
	Name string
	Path string
}

// Config is the validated process configuration.
type Config struct {
	BotToken      string
	AppToken      string
	SigningSecret string

	Databases   []Database
	InitSQLPath string
	InitSQL     string

	LogLevel   string
	Debug      bool
	HealthAddr string
	Port       string
}

// RegisterFlags adds the flags for mode to fs.
func RegisterFlags(fs *pflag.FlagSet, mode Mode) {
	fs.String(KeyBotToken, "", "Slack bot token (xoxb-...) [$SLACK_BOT_TOKEN]")
	switch mode {
	case SocketMode:
		fs.String(KeyAppToken, "", "Slack app-level token (xapp-...) [$SLACK_APP_TOKEN]")
		fs.String(KeyHealthAddr, "", "serve /healthz and /readyz on this address (disabled when empty)")
	case WebhookMode:
		fs.String(KeySigningSecret, "", "Slack signing secret [$SLACK_SIGNING_SECRET]")
		fs.String(KeyPort, "8080", "HTTP listen port [$PORT]")
	}
	fs.StringArray(KeyDB, nil, "attach a database file read-only, as PATH or NAME=PATH (repeatable)")
	fs.String(KeyInitSQL, "", "path to a SQL file run on every new connection")
	fs.String(KeyConfig, "", "path to a YAML config file")
	fs.String(KeyLogLevel, "INFO", "log level (DEBUG, INFO, WARN, ERROR) [$LOG_LEVEL]")
	fs.Bool(KeyDebug, false, "log Slack API and Socket Mode traffic")
}

// NewViper binds fs and the environment variables into a fresh viper instance.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}
	return v, nil
}

// Load builds a Config from v, applying the optional YAML file first so that
// flags and the environment override it.
func Load(v *viper.Viper, mode Mode) (Config, error) {
	if path := v.GetString(KeyConfig); path != "" {
		file, err := ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		file.applyDefaults(v)
	}

	cfg := Config{
		BotToken:    strings.TrimSpace(v.GetString(KeyBotToken)),
		InitSQLPath: v.GetString(KeyInitSQL),
		LogLevel:    v.GetString(KeyLogLevel),
		Debug:       v.GetBool(KeyDebug),
	}
	switch mode {
	case SocketMode:
		cfg.AppToken = strings.TrimSpace(v.GetString(KeyAppToken))
		cfg.HealthAddr = v.GetString(KeyHealthAddr)
	case WebhookMode:
		cfg.SigningSecret = strings.TrimSpace(v.GetString(KeySigningSecret))
		cfg.Port = v.GetString(KeyPort)
	}

	if err := cfg.validateTokens(mode); err != nil {
		return Config{}, err
	}

	dbs, err := ParseDatabases(v.GetStringSlice(KeyDB))
	if err != nil {
		return Config{}, err
	}
	cfg.Databases = dbs

	if cfg.InitSQLPath != "" {
		data, err := os.ReadFile(cfg.InitSQLPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("%w: %s", ErrInitSQLNotFound, cfg.InitSQLPath)
			}
			return Config{}, fmt.Errorf("reading init SQL: %w", err)
		}
		cfg.InitSQL = string(data)
	}

	return cfg, nil
}

func (c Config) validateTokens(mode Mode) error {
	if c.BotToken == "" {
		return ErrMissingBotToken
	}
	if !strings.HasPrefix(c.BotToken, "xoxb-") {
		return ErrBadBotToken
	}

	switch mode {
	case SocketMode:
		if c.AppToken == "" {
			return ErrMissingAppToken
		}
		if !strings.HasPrefix(c.AppToken, "xapp-") {
			return ErrBadAppToken
		}
	case WebhookMode:
		if c.SigningSecret == "" {
			return ErrMissingSigningSecret
		}
	}
	return nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseDatabase parses PATH or NAME=PATH. Without an explicit name the file
// stem is used, so ./data/sales.duckdb attaches as "sales".
func ParseDatabase(arg string) (Database, error) {
	name, path, ok := cutName(arg)
	if !ok {
		path = arg
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if name == "" || strings.ContainsAny(name, `"`) {
		return Database{}, fmt.Errorf("%w: %q", ErrInvalidDatabaseName, arg)
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Database{}, fmt.Errorf("%w: %s", ErrDatabaseNotFound, path)
	}
	return Database{Name: name, Path: path}, nil
}

// ParseDatabases parses every arg and rejects duplicate names, keeping the
// order given.
func ParseDatabases(args []string) ([]Database, error) {
	seen := make(map[string]bool, len(args))
	dbs := make([]Database, 0, len(args))
	for _, arg := range args {
		db, err := ParseDatabase(arg)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(db.Name)
		if seen[key] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDatabase, db.Name)
		}
		seen[key] = true
		dbs = append(dbs, db)
	}
	return dbs, nil
}
