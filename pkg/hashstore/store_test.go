package hashstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/dxsync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEmptyWorkDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)
	assert.Empty(t, s.ListKnownPaths())
}

func TestRecordAndLookup(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Record("/assets/a.png", "abc123", "res-1", now, types.DirectionPull))

	rec, ok := s.Lookup("/assets/a.png")
	require.True(t, ok)
	assert.Equal(t, "abc123", rec.MD5)
	assert.Equal(t, "res-1", rec.ResourceID)
	assert.WithinDuration(t, now, rec.RemoteLastModified, 0)
	assert.False(t, rec.LastPulledAt.IsZero())
}

func TestRecordPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Record("/content/1.json", "deadbeef", "", time.Now(), types.DirectionPush))

	reopened, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)
	rec, ok := reopened.Lookup("/content/1.json")
	require.True(t, ok)
	assert.Equal(t, "deadbeef", rec.MD5)

	assert.FileExists(t, filepath.Join(dir, metadataDirName, "hashes.json"))
}

func TestIsLocalModified(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)

	assert.True(t, s.IsLocalModified("/unknown", "anything"), "absent record means modified")

	require.NoError(t, s.Record("/a", "md5-1", "", time.Now(), types.DirectionPush))
	assert.False(t, s.IsLocalModified("/a", "md5-1"))
	assert.True(t, s.IsLocalModified("/a", "md5-2"))
}

func TestIsRemoteModified(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)

	lastModified := time.Now().Truncate(time.Second)
	require.NoError(t, s.Record("/a", "md5-1", "", lastModified, types.DirectionPull))

	unchanged := types.Artifact{Path: "/a", MD5: "md5-1", LastModified: lastModified}
	assert.False(t, s.IsRemoteModified(unchanged))

	newer := types.Artifact{Path: "/a", MD5: "md5-1", LastModified: lastModified.Add(time.Minute)}
	assert.True(t, s.IsRemoteModified(newer))

	changedHash := types.Artifact{Path: "/a", MD5: "md5-2", LastModified: lastModified}
	assert.True(t, s.IsRemoteModified(changedHash))

	unknown := types.Artifact{Path: "/never-seen", MD5: "x", LastModified: lastModified}
	assert.True(t, s.IsRemoteModified(unknown))
}

func TestLastPullPushTimestamps(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)

	assert.True(t, s.LastPullAt(types.KindContent).IsZero())

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.SetLastPullAt(types.KindContent, now))
	assert.WithinDuration(t, now, s.LastPullAt(types.KindContent), 0)

	reopened, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)
	assert.WithinDuration(t, now, reopened.LastPullAt(types.KindContent), 0)
}

func TestMarkRemoteAbsentKeepsMD5(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{WorkDir: dir})
	require.NoError(t, err)

	require.NoError(t, s.Record("/a", "md5-1", "", time.Now(), types.DirectionPull))
	require.NoError(t, s.MarkRemoteAbsent("/a"))

	rec, ok := s.Lookup("/a")
	require.True(t, ok)
	assert.Equal(t, "md5-1", rec.MD5)
	assert.True(t, rec.RemoteLastModified.IsZero())
}
