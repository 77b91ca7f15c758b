package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestMigrate_CreatesSchema(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "bot.db")
	t.Setenv("BOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("BOT_TELEGRAM_WEBHOOK_URL", "https://bot.example.com/webhook")
	t.Setenv("BOT_ADMIN_PASSWORD", "s3cret-pass")
	t.Setenv("BOT_DATABASE_DSN", dsn)

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config", filepath.Join(dir, "missing.yaml")})
	require.NoError(t, root.Execute())

	info, err := os.Stat(dsn)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestMigrate_InvalidConfig(t *testing.T) {
	t.Setenv("BOT_TELEGRAM_TOKEN", "")
	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, root.Execute())
}
