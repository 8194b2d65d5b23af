package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFlags(t *testing.T, mode Mode, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, mode)
	require.NoError(t, fs.Parse(args))
	return fs
}

func load(t *testing.T, mode Mode, args ...string) (Config, error) {
	t.Helper()
	v, err := NewViper(newFlags(t, mode, args...))
	require.NoError(t, err)
	return Load(v, mode)
}

func clearSlackEnv(t *testing.T) {
	t.Helper()
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestParseDatabase(t *testing.T) {
	dir := t.TempDir()
	sales := touch(t, filepath.Join(dir, "sales.duckdb"), "")
	weird := touch(t, filepath.Join(dir, "a=b.duckdb"), "")

	tests := []struct {
		name     string
		arg      string
		wantName string
		wantPath string
	}{
		{name: "stem", arg: sales, wantName: "sales", wantPath: sales},
		{name: "explicit name", arg: "crm=" + sales, wantName: "crm", wantPath: sales},
		{name: "equals in path", arg: weird, wantName: "a=b", wantPath: weird},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := ParseDatabase(tt.arg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, db.Name)
			assert.Equal(t, tt.wantPath, db.Path)
		})
	}
}

func TestParseDatabaseMissing(t *testing.T) {
	_, err := ParseDatabase(filepath.Join(t.TempDir(), "nope.duckdb"))
	assert.ErrorIs(t, err, ErrDatabaseNotFound)

	_, err = ParseDatabase(t.TempDir())
	assert.ErrorIs(t, err, ErrDatabaseNotFound, "directories are not database files")
}

func TestParseDatabasesDuplicate(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, filepath.Join(dir, "one", "sales.duckdb"), "")
	b := touch(t, filepath.Join(dir, "two", "sales.duckdb"), "")

	_, err := ParseDatabases([]string{a, b})
	assert.ErrorIs(t, err, ErrDuplicateDatabase)

	dbs, err := ParseDatabases([]string{a, "other=" + b})
	require.NoError(t, err)
	require.Len(t, dbs, 2)
	assert.Equal(t, "sales", dbs[0].Name)
	assert.Equal(t, "other", dbs[1].Name)
}

func TestLoadSocketTokens(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "missing bot token", args: nil, wantErr: ErrMissingBotToken},
		{name: "bad bot token", args: []string{"--bot-token", "xapp-1"}, wantErr: ErrBadBotToken},
		{name: "missing app token", args: []string{"--bot-token", "xoxb-1"}, wantErr: ErrMissingAppToken},
		{name: "bad app token", args: []string{"--bot-token", "xoxb-1", "--app-token", "xoxb-2"}, wantErr: ErrBadAppToken},
		{name: "ok", args: []string{"--bot-token", "xoxb-1", "--app-token", "xapp-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearSlackEnv(t)
			cfg, err := load(t, SocketMode, tt.args...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "xoxb-1", cfg.BotToken)
			assert.Equal(t, "xapp-2", cfg.AppToken)
			assert.Empty(t, cfg.Databases)
			assert.Empty(t, cfg.InitSQL)
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearSlackEnv(t)
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("SLACK_APP_TOKEN", "xapp-env")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := load(t, SocketMode)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-env", cfg.BotToken)
	assert.Equal(t, "xapp-env", cfg.AppToken)
	assert.Equal(t, "DEBUG", cfg.LogLevel)

	cfg, err = load(t, SocketMode, "--bot-token", "xoxb-flag")
	require.NoError(t, err)
	assert.Equal(t, "xoxb-flag", cfg.BotToken, "flags override the environment")
}

func TestLoadWebhook(t *testing.T) {
	clearSlackEnv(t)
	_, err := load(t, WebhookMode, "--bot-token", "xoxb-1")
	assert.ErrorIs(t, err, ErrMissingSigningSecret)

	cfg, err := load(t, WebhookMode, "--bot-token", "xoxb-1", "--signing-secret", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.SigningSecret)
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.AppToken)
}

func TestLoadInitSQL(t *testing.T) {
	clearSlackEnv(t)
	dir := t.TempDir()
	initSQL := touch(t, filepath.Join(dir, "init.sql"), "SET threads = 2;")
	db := touch(t, filepath.Join(dir, "sales.duckdb"), "")

	cfg, err := load(t, SocketMode,
		"--bot-token", "xoxb-1", "--app-token", "xapp-1",
		"--db", db, "--init-sql", initSQL)
	require.NoError(t, err)
	assert.Equal(t, "SET threads = 2;", cfg.InitSQL)
	assert.Equal(t, []Database{{Name: "sales", Path: db}}, cfg.Databases)

	_, err = load(t, SocketMode,
		"--bot-token", "xoxb-1", "--app-token", "xapp-1",
		"--init-sql", filepath.Join(dir, "missing.sql"))
	assert.ErrorIs(t, err, ErrInitSQLNotFound)
}

func TestLoadConfigFile(t *testing.T) {
	clearSlackEnv(t)
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "data", "sales.duckdb"), "")
	touch(t, filepath.Join(dir, "data", "crm.duckdb"), "")
	touch(t, filepath.Join(dir, "init.sql"), "SELECT 1;")
	cfgPath := touch(t, filepath.Join(dir, "bot.yaml"), `
databases:
  - data/sales.duckdb
  - people=data/crm.duckdb
init_sql: init.sql
log_level: WARN
`)

	cfg, err := load(t, SocketMode,
		"--bot-token", "xoxb-1", "--app-token", "xapp-1", "--config", cfgPath)
	require.NoError(t, err)
	require.Len(t, cfg.Databases, 2)
	assert.Equal(t, "sales", cfg.Databases[0].Name)
	assert.Equal(t, filepath.Join(dir, "data", "sales.duckdb"), cfg.Databases[0].Path)
	assert.Equal(t, "people", cfg.Databases[1].Name)
	assert.Equal(t, "SELECT 1;", cfg.InitSQL)
	assert.Equal(t, "WARN", cfg.LogLevel)

	cfg, err = load(t, SocketMode,
		"--bot-token", "xoxb-1", "--app-token", "xapp-1", "--config", cfgPath,
		"--log-level", "ERROR")
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.LogLevel)
}

func TestLoadDotEnv(t *testing.T) {
	clearSlackEnv(t)
	dir := t.TempDir()
	base := touch(t, filepath.Join(dir, ".env"), "SLACK_BOT_TOKEN=xoxb-base\nSLACK_APP_TOKEN=xapp-base\n")
	local := touch(t, filepath.Join(dir, ".env.local"), "SLACK_BOT_TOKEN=xoxb-local\n")

	require.NoError(t, LoadDotEnv(base, local, filepath.Join(dir, "absent.env")))
	assert.Equal(t, "xoxb-local", os.Getenv("SLACK_BOT_TOKEN"))
	assert.Equal(t, "xapp-base", os.Getenv("SLACK_APP_TOKEN"))
}
