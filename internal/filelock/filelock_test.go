package filelock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.lock")

	lock := New(path)
	require.NoError(t, lock.Acquire())
	assert.Equal(t, path, lock.Path())
	require.NoError(t, lock.Release())
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.lock")

	first := New(path)
	require.NoError(t, first.Acquire())
	defer first.Release()

	second := New(path)
	err := second.Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another instance")
}

func TestReacquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overseer.lock")

	first := New(path)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := New(path)
	require.NoError(t, second.Acquire())
	require.NoError(t, second.Release())
}
