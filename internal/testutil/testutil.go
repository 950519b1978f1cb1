// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"sparkify/internal/common"
	"sparkify/internal/database"
)

// MockTimeout bounds every statement run against a mock database.
const MockTimeout = 5 * time.Second

// MockDB returns a database service backed by sqlmock. The connection is
// closed when the test ends.
func MockDB(t *testing.T) (*database.Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewWithDB(db, database.Config{Timeout: MockTimeout}, nil), mock
}

// WriteTree writes files below a new temporary directory and returns it.
// Names use forward slashes, e.g. "song_data/A/A/A/TRAAAAW128F429D538.json".
func WriteTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		WriteFile(t, filepath.Join(root, filepath.FromSlash(name)), content)
	}
	return root
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), common.DirPermissionNormal))
	require.NoError(t, os.WriteFile(path, []byte(content), common.FilePermissionNormal))
}
