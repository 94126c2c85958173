package vcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseManager_PersistsAcrossManagerInstances(t *testing.T) {
	dir := t.TempDir()

	m1, err := newLeaseManager(dir)
	require.NoError(t, err)
	l1, err := m1.acquire(context.Background(), "feat")
	require.NoError(t, err)
	assert.Equal(t, 1, l1.(*fileLease).count)

	// A second manager instance (as a restarted process would create)
	// must see the persisted refcount rather than starting from zero.
	m2, err := newLeaseManager(dir)
	require.NoError(t, err)
	l2, err := m2.acquire(context.Background(), "feat")
	require.NoError(t, err)
	assert.Equal(t, 2, l2.(*fileLease).count)

	rec, err := readLeaseRecord(m2.recordPath("feat"), "feat")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Count)

	require.NoError(t, l2.Release())
	rec, err = readLeaseRecord(m1.recordPath("feat"), "feat")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)

	require.NoError(t, l1.Release())
	rec, err = readLeaseRecord(m1.recordPath("feat"), "feat")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Count, "record should reset to zero once fully released")
}

func TestLeaseManager_ReleaseIsIdempotentPerHandle(t *testing.T) {
	dir := t.TempDir()
	m, err := newLeaseManager(dir)
	require.NoError(t, err)

	l, err := m.acquire(context.Background(), "main")
	require.NoError(t, err)

	require.NoError(t, l.Release())
	require.NoError(t, l.Release(), "Release must be safe to call more than once on the same handle")
}
