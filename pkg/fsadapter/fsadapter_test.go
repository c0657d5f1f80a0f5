package fsadapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dxsync/pkg/types"
)

func TestValidatePathRejections(t *testing.T) {
	cases := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"control character", "/foo\x00bar"},
		{"http scheme", "http://evil.example/x"},
		{"https scheme mixed case", "/HTTPS:evil"},
		{"dot dot segment", "/a/../b"},
		{"platform invalid char", "/a<b>.png"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidatePath(c.path)
			require.Error(t, err)
			se, ok := types.AsSyncError(err)
			require.True(t, ok)
			assert.Equal(t, types.ErrInvalidPath, se.Kind)
		})
	}
}

func TestValidatePathAccepts(t *testing.T) {
	assert.NoError(t, ValidatePath("/images/logo.png"))
	assert.NoError(t, ValidatePath("/a/b/c.json"))
}

func TestEnumerateAssetsSkipsSidecars(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "a.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "a.png.json"), []byte("{}"), 0o644))

	a := New(Config{WorkDir: dir})
	paths, err := a.Enumerate(types.KindAsset)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.png"}, paths)
}

func TestEnumerateNonBinaryKind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "content"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content", "id-1.json"), []byte("{}"), 0o644))

	a := New(Config{WorkDir: dir})
	ids, err := a.Enumerate(types.KindContent)
	require.NoError(t, err)
	assert.Equal(t, []string{"id-1"}, ids)
}

func TestEnumerateMissingDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{WorkDir: dir})
	paths, err := a.Enumerate(types.KindLayout)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestWriteStreamCommit(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{WorkDir: dir})

	ws, err := a.OpenWriteStream("/images/logo.png")
	require.NoError(t, err)
	_, err = ws.Write([]byte("binary content"))
	require.NoError(t, err)
	require.NoError(t, ws.Commit())

	data, err := os.ReadFile(a.AssetPath("/images/logo.png"))
	require.NoError(t, err)
	assert.Equal(t, "binary content", string(data))
}

func TestWriteStreamAbortLeavesNoFinalFile(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{WorkDir: dir})

	ws, err := a.OpenWriteStream("/images/aborted.png")
	require.NoError(t, err)
	_, err = ws.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, ws.Abort())

	_, err = os.Stat(a.AssetPath("/images/aborted.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestHashFileMissingReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{WorkDir: dir})
	hash, err := a.HashFile("/never/written.png")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestHashFileMatchesContent(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{WorkDir: dir})
	require.NoError(t, a.WriteAssetMeta("/images/logo.png", []byte(`{}`)))

	ws, err := a.OpenWriteStream("/images/logo.png")
	require.NoError(t, err)
	_, _ = ws.Write([]byte("hello"))
	require.NoError(t, ws.Commit())

	hash, err := a.HashFile("/images/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", hash)
}

func TestCleanOrphanedTempRemovesReservationFiles(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{WorkDir: dir})

	ws, err := a.OpenWriteStream("/images/orphan.png")
	require.NoError(t, err)
	_, _ = ws.Write([]byte("abandoned"))
	// Simulate a crash: never call Commit or Abort.

	removed, err := CleanOrphanedTemp(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(a.AssetPath("/images/orphan.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := New(Config{WorkDir: dir})

	require.NoError(t, a.WriteJSON(types.KindContentType, "ct-1", []byte(`{"id":"ct-1"}`)))
	data, err := a.ReadJSON(types.KindContentType, "ct-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ct-1"}`, string(data))
}
