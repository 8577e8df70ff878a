package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCollisions_NoCollisions(t *testing.T) {
	targets := []Target{
		{FileID: "ABC123", LocalPath: "/dest/file1.zip"},
		{FileID: "DEF456", LocalPath: "/dest/file2.zip"},
	}

	assert.Equal(t, 0, ResolveCollisions(targets))
	assert.Equal(t, "/dest/file1.zip", targets[0].LocalPath)
	assert.Equal(t, "/dest/file2.zip", targets[1].LocalPath)
}

func TestResolveCollisions_Duplicates(t *testing.T) {
	targets := []Target{
		{FileID: "A", LocalPath: "/out/model.sim"},
		{FileID: "B", LocalPath: "/out/model.sim"},
		{FileID: "C", LocalPath: "/out/other.sim"},
		{FileID: "D", LocalPath: "/out/README"},
		{FileID: "E", LocalPath: "/out/README"},
	}

	assert.Equal(t, 4, ResolveCollisions(targets))
	assert.Equal(t, "/out/model_A.sim", targets[0].LocalPath)
	assert.Equal(t, "/out/model_B.sim", targets[1].LocalPath)
	assert.Equal(t, "/out/other.sim", targets[2].LocalPath)
	assert.Equal(t, "/out/README_D", targets[3].LocalPath)
	assert.Equal(t, "/out/README_E", targets[4].LocalPath)
}

func TestResolveAbsolutePath(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	got, err := ResolveAbsolutePath(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)

	got, err = ResolveAbsolutePath(filepath.Join(dir, "missing", "deeper"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "missing", "deeper"), got)

	wd, err := os.Getwd()
	require.NoError(t, err)
	got, err = ResolveAbsolutePath("")
	require.NoError(t, err)
	assert.Equal(t, wd, got)
}

func TestResolveAbsolutePath_Symlink(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	target := filepath.Join(dir, "target")
	require.NoError(t, os.Mkdir(target, 0o755))
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	got, err := ResolveAbsolutePath(filepath.Join(link, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(target, "new.txt"), got)
}
