package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "worker", "migrate", "triggers", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "trigger-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestTriggersCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range triggersCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"apply", "validate", "list", "show", "run", "enable", "disable"} {
		assert.True(t, names[name], "expected triggers subcommand %q", name)
	}
}

func TestRunsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "candidates", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
	require.NotNil(t, serveCmd.Flags().Lookup("no-scheduler"))
}

func TestApplyCommand_FileFlag(t *testing.T) {
	flag := triggersApplyCmd.Flags().ShorthandLookup("f")
	require.NotNil(t, flag)
	assert.Equal(t, "file", flag.Name)
}

func TestWorkerCommand_Flags(t *testing.T) {
	flag := workerCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag)
	assert.Equal(t, "4", flag.DefValue)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "env-file", "log-level"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Equal(t, version+"\n", out.String())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TRIGGERS_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TRIGGERS_TEST_ENV_FILE") }) //nolint:errcheck

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("TRIGGERS_TEST_ENV_FILE"))

	err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
