package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T) *BoltArchive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive", "pages.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRecordAndFetch(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	page := "https://api.bitbucket.org/2.0/repositories/acme/api/commits?page=2"
	require.NoError(t, a.RecordPage(ctx, page, []byte(`{"values":[]}`)))

	body, err := a.Fetch(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, `{"values":[]}`, string(body))

	require.NoError(t, a.RecordPage(ctx, page, []byte(`{"values":[1]}`)))
	body, err = a.Fetch(ctx, page)
	require.NoError(t, err)
	assert.Equal(t, `{"values":[1]}`, string(body))

	n, err := a.Count("api.bitbucket.org")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFetch_NotFound(t *testing.T) {
	a := openTestArchive(t)

	_, err := a.Fetch(context.Background(), "https://jira.example.com/rest/api/2/search")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, a.RecordPage(context.Background(), "https://jira.example.com/a", []byte("x")))
	_, err = a.Fetch(context.Background(), "https://jira.example.com/b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordPage_Cancelled(t *testing.T) {
	a := openTestArchive(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.RecordPage(ctx, "https://example.com/x", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
}

func TestOpen_DirectoryIsAFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Open(filepath.Join(blocker, "pages.db"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeFileSystem, errors.GetType(err))
	assert.True(t, errors.IsFatal(err))
}

func TestClose_Idempotent(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "pages.db"))
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
