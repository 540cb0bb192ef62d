package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwinnathayden/noted-sync/internal/config"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	want := []string{"login", "logout", "whoami", "push", "pull", "watch", "cleanup", "serve"}

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, w := range want {
		assert.True(t, names[w], "missing subcommand %q", w)
	}

	// Errors and usage are printed by us, not cobra.
	assert.True(t, root.SilenceErrors)
	assert.True(t, root.SilenceUsage)
}

func TestLoadConfigAppliesFlagOverrides(t *testing.T) {
	t.Cleanup(func() {
		flagConfigPath = ""
		flagClientID = ""
		resolvedCfg = nil
	})

	// Point at a nonexistent config file so host config cannot leak in.
	t.Setenv(config.EnvConfig, filepath.Join(t.TempDir(), "none.toml"))
	t.Setenv(config.EnvClientID, "")

	flagClientID = "flag-client"

	require.NoError(t, loadConfig())
	require.NotNil(t, resolvedCfg)
	assert.Equal(t, "flag-client", resolvedCfg.ClientID)
}
