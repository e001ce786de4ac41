package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/trigger-cli/internal/config"
	"github.com/sells-group/trigger-cli/internal/store"
)

// useSQLiteConfig points the global config at a temp-dir SQLite database.
func useSQLiteConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = filepath.Join(t.TempDir(), "cmd.db")
	t.Cleanup(func() { cfg = prev })
}

func testStore(t *testing.T) store.Store {
	t.Helper()
	useSQLiteConfig(t)
	st, err := openStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}
