package katana

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicCreateExtractListRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "hello.txt"), []byte("hello katana"), 0o644))

	err := Create(context.Background(), []string{srcDir}, archivePath, CreateOptions{
		WorkerThreads: 1,
		MemoryBudget:  MemoryBudget{Unlimited: true},
	})
	require.NoError(t, err)

	entries, err := List(archivePath, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello.txt", entries[0].Path)

	require.NoError(t, Extract(context.Background(), archivePath, outDir, ExtractOptions{}))

	got, err := os.ReadFile(filepath.Join(outDir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello katana", string(got))
}

func TestPublicListWrongPasswordReturnsTypedError(t *testing.T) {
	srcDir := t.TempDir()
	archivePath := filepath.Join(t.TempDir(), "archive.blz")
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("x"), 0o644))

	err := Create(context.Background(), []string{srcDir}, archivePath, CreateOptions{
		WorkerThreads: 1,
		MemoryBudget:  MemoryBudget{Unlimited: true},
		Password:      "swordfish",
	})
	require.NoError(t, err)

	_, err = List(archivePath, "wrong")
	require.Error(t, err)
	var kerr *Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindAuthFailure, kerr.Kind)
	assert.ErrorIs(t, err, ErrAuthFailure)
}
