package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigDefaults(t *testing.T) {
	cmd := NewRootCommand()
	opts := &RootOptions{Config: filepath.Join(t.TempDir(), "none.yaml")}

	// a named but missing config file is an error
	err := loadConfig(cmd, opts)
	require.Error(t, err)

	opts = &RootOptions{}
	require.NoError(t, loadConfig(cmd, opts))
	assert.Equal(t, defaultDatabase, opts.Database)
	assert.Empty(t, opts.FilesRoot)
}

func TestConfigFile(t *testing.T) {
	path := writeConfig(t, "database: /data/corpus.db\nfiles_root: /data/files\nuser: ed\n")
	cmd := NewRootCommand()
	opts := &RootOptions{Config: path}

	require.NoError(t, loadConfig(cmd, opts))
	assert.Equal(t, "/data/corpus.db", opts.Database)
	assert.Equal(t, "/data/files", opts.FilesRoot)
	assert.Equal(t, "ed", opts.User)
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, "database: /data/corpus.db\nuser: ed\n")
	cmd := NewRootCommand()
	require.NoError(t, cmd.PersistentFlags().Set("db", "/elsewhere.db"))

	opts := &RootOptions{Config: path, Database: "/elsewhere.db"}
	require.NoError(t, loadConfig(cmd, opts))
	assert.Equal(t, "/elsewhere.db", opts.Database)
	assert.Equal(t, "ed", opts.User)
}

func TestConfigEnvironment(t *testing.T) {
	t.Setenv("AGSTORE_DATABASE", "/env/corpus.db")
	cmd := NewRootCommand()
	opts := &RootOptions{}

	require.NoError(t, loadConfig(cmd, opts))
	assert.Equal(t, "/env/corpus.db", opts.Database)
}
