// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safebill/assistant/internal/store/sqlite"
)

// testDBPath returns a SQLite database path inside a per-test temp dir.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

func openStore(t *testing.T) *sqlite.SessionStore {
	t.Helper()
	s, err := sqlite.NewSessionStore(testDBPath(t, "sessions"))
	require.NoError(t, err)
	return s
}
