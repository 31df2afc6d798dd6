package artifact

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	h, err := s.Put(context.Background(), []byte("PK-data"))
	require.NoError(t, err)

	got, err := s.Get(h)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK-data"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")

	require.NoError(t, s.Delete(h))
	_, err = s.Get(h)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(h))

	_, err = s.Get("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}
