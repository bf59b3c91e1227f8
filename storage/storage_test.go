package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStorage(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	t.Run("Upload and download", func(t *testing.T) {
		data := []byte("norm document content")
		ref, err := fs.Upload(context.Background(), data)
		require.NoError(t, err)
		assert.NotEmpty(t, ref)

		downloaded, err := fs.Download(context.Background(), ref)
		assert.NoError(t, err)
		assert.Equal(t, data, downloaded)
	})

	t.Run("Upload is content addressed", func(t *testing.T) {
		first, err := fs.Upload(context.Background(), []byte("same bytes"))
		require.NoError(t, err)
		second, err := fs.Upload(context.Background(), []byte("same bytes"))
		require.NoError(t, err)
		assert.Equal(t, first, second, "Expected identical content to yield the same ref")

		other, err := fs.Upload(context.Background(), []byte("different bytes"))
		require.NoError(t, err)
		assert.NotEqual(t, first, other)
	})

	t.Run("Download missing ref", func(t *testing.T) {
		_, err := fs.Download(context.Background(), "00000000000000000000000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		ref, err := fs.Upload(context.Background(), []byte("ephemeral"))
		require.NoError(t, err)

		err = fs.Delete(context.Background(), ref)
		assert.NoError(t, err)

		_, err = fs.Download(context.Background(), ref)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.NoError(t, fs.Delete(context.Background(), ref), "Expected deleting a missing ref to be a no-op")
	})

	t.Run("Invalid ref", func(t *testing.T) {
		_, err := fs.Download(context.Background(), "../../etc/passwd")
		assert.Error(t, err, "Expected path traversal refs to be rejected")
	})
}

func TestNewFilesystemValidation(t *testing.T) {
	_, err := NewFilesystem("")
	assert.Error(t, err, "Expected error for empty root")
}
