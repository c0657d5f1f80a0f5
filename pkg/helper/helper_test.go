package helper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/dxsync/pkg/events"
	"github.com/cuemby/dxsync/pkg/fsadapter"
	"github.com/cuemby/dxsync/pkg/hashstore"
	"github.com/cuemby/dxsync/pkg/httpclient"
	"github.com/cuemby/dxsync/pkg/restadapter"
	"github.com/cuemby/dxsync/pkg/types"
)

func newTestHelper(t *testing.T, kind types.Kind, handler http.HandlerFunc) (*Helper, string) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	client := httpclient.New(httpclient.Config{BaseURL: srv.URL, MaxRetry: 2})
	fs := fsadapter.New(fsadapter.Config{WorkDir: dir})
	store, err := hashstore.Open(hashstore.Config{WorkDir: dir})
	require.NoError(t, err)

	var asset *restadapter.AssetAdapter
	if kind.IsBinary() {
		asset = restadapter.NewAssetAdapter(client)
	}

	h := New(Deps{
		Kind:   kind,
		Rest:   restadapter.New(client, kind),
		Asset:  asset,
		FS:     fs,
		Hashes: store,
		Bus:    events.NewBus(),
	})
	return h, dir
}

func TestPushOneMetadataCreate(t *testing.T) {
	h, dir := newTestHelper(t, types.KindContentType, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "ct-1", "rev": "1"})
	})

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "content-type"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content-type", "local.json"), []byte(`{"name":"Article"}`), 0o644))

	art, err := h.PushOne(context.Background(), "local", types.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ct-1", art.ID)

	rec, ok := h.hashes.Lookup("local")
	require.True(t, ok)
	assert.NotEmpty(t, rec.MD5)
}

func TestPushOneDryRunIssuesNoRequestsOrWrites(t *testing.T) {
	h, dir := newTestHelper(t, types.KindContentType, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("dry-run push must not issue a request, got %s %s", r.Method, r.URL.Path)
	})

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "content-type"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content-type", "local.json"), []byte(`{"name":"Article"}`), 0o644))

	art, err := h.PushOne(context.Background(), "local", types.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "local", art.ID)

	_, ok := h.hashes.Lookup("local")
	assert.False(t, ok, "dry-run must not record a hash")
}

func TestPullOneDryRunIssuesNoRequestsOrWrites(t *testing.T) {
	h, dir := newTestHelper(t, types.KindContent, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("dry-run pull must not issue a request, got %s %s", r.Method, r.URL.Path)
	})

	_, err := h.PullOne(context.Background(), "c-1", types.Options{DryRun: true})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "content", "c-1.json"))
	assert.True(t, os.IsNotExist(statErr), "dry-run must not write a local file")
}

func TestPullOneMetadataWritesLocalFile(t *testing.T) {
	h, dir := newTestHelper(t, types.KindContent, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "c-1", "rev": "1"})
	})

	_, err := h.PullOne(context.Background(), "c-1", types.Options{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "content", "c-1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "c-1")
}

// TestPushBinaryTwoPhaseConflictCreateOnly reproduces the 409-on-metadata,
// createOnly=true scenario: resource upload succeeds, metadata POST
// returns 409, and the helper still resolves successfully.
func TestPushBinaryTwoPhaseConflictCreateOnly(t *testing.T) {
	var uploadCalls, metadataCalls int
	h, dir := newTestHelper(t, types.KindAsset, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/authoring/v1/asset":
			metadataCalls++
			w.WriteHeader(http.StatusConflict)
		default:
			uploadCalls++
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "resource-1"})
		}
	})

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "logo.png"), []byte("bytes"), 0o644))

	_, err := h.PushOne(context.Background(), "/logo.png", types.Options{CreateOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, uploadCalls)
	assert.Equal(t, 1, metadataCalls)

	rec, ok := h.hashes.Lookup("/logo.png")
	require.True(t, ok)
	assert.NotEmpty(t, rec.ResourceID)
}

// TestPullBinary404SurfacesErrCannotGetAsset reproduces the 404-on-resource
// scenario: no file is committed at the target path.
func TestPullBinary404SurfacesErrCannotGetAsset(t *testing.T) {
	h, dir := newTestHelper(t, types.KindAsset, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/authoring/v1/asset/missing":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"path": "/missing.png", "resourceId": "res-missing",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	_, err := h.PullOne(context.Background(), "missing", types.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot get asset")
	assert.Contains(t, err.Error(), "404")

	_, statErr := os.Stat(filepath.Join(dir, "assets", "missing.png"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPushBinaryIdempotentOnSecondAttempt(t *testing.T) {
	var uploadCalls, metadataCalls int
	h, dir := newTestHelper(t, types.KindAsset, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/authoring/v1/resources"):
			uploadCalls++
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "resource-1"})
		default:
			metadataCalls++
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "a-1", "rev": "1"})
		}
	})

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "logo.png"), []byte("identical bytes"), 0o644))

	_, err := h.PushOne(context.Background(), "/logo.png", types.Options{})
	require.NoError(t, err)
	_, err = h.PushOne(context.Background(), "/logo.png", types.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, uploadCalls, "second push must skip upload via Hash Store dedup")
	assert.Equal(t, 2, metadataCalls, "second push still updates metadata")
}

// TestPushAllPushesEveryLocalArtifact reproduces the push half of
// spec.md §8 scenario 2: with IgnoreTimestamps set, PushAll pushes
// every local artifact regardless of modification state.
func TestPushAllPushesEveryLocalArtifact(t *testing.T) {
	var metadataCalls int32
	h, dir := newTestHelper(t, types.KindContentType, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&metadataCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": r.URL.Path, "rev": "1"})
	})

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "content-type"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content-type", "a.json"), []byte(`{"name":"A"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content-type", "b.json"), []byte(`{"name":"B"}`), 0o644))

	summary, err := h.PushAll(context.Background(), types.Options{IgnoreTimestamps: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, summary.Succeeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&metadataCalls))
}

// TestPushModifiedSkipsUnchangedArtifacts reproduces the push half of
// spec.md §8 scenario 1: PushModified only pushes artifacts whose
// content differs from the last recorded HashRecord.
func TestPushModifiedSkipsUnchangedArtifacts(t *testing.T) {
	var pushed []string
	var mu sync.Mutex
	h, dir := newTestHelper(t, types.KindContentType, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pushed = append(pushed, r.URL.Path)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "x", "rev": "1"})
	})

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "content-type"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "content-type", "changed.json"), []byte(`{"name":"A"}`), 0o644))

	summary, err := h.PushModified(context.Background(), types.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"changed"}, summary.Succeeded)
	assert.Len(t, pushed, 1)

	summary, err = h.PushModified(context.Background(), types.Options{})
	require.NoError(t, err)
	assert.Empty(t, summary.Succeeded, "unchanged artifact must not be pushed again")
	assert.Len(t, pushed, 1)
}

// TestPullAllPullsEveryListedItem reproduces the pull half of spec.md
// §8 scenario 2: PullAll walks the remote listing and pulls every item
// it lists, exactly once each.
func TestPullAllPullsEveryListedItem(t *testing.T) {
	var calls int32
	h, dir := newTestHelper(t, types.KindContent, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/authoring/v1/content" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"items": []map[string]string{{"id": "c-1"}, {"id": "c-2"}},
			})
			return
		}
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": strings.TrimPrefix(r.URL.Path, "/authoring/v1/content/")})
	})

	summary, err := h.PullAll(context.Background(), types.Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c-1", "c-2"}, summary.Succeeded)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	for _, id := range []string{"c-1", "c-2"} {
		_, statErr := os.Stat(filepath.Join(dir, "content", id+".json"))
		assert.NoError(t, statErr)
	}
}

func TestDeleteRemoteMarksHashRecordAbsent(t *testing.T) {
	h, _ := newTestHelper(t, types.KindContent, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	require.NoError(t, h.hashes.Record("c-1", "md5", "", time.Now(), types.DirectionPull))
	msg, err := h.DeleteRemote(context.Background(), types.Artifact{Path: "c-1", ID: "c-1"}, types.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg)

	rec, ok := h.hashes.Lookup("c-1")
	require.True(t, ok)
	assert.True(t, rec.RemoteLastModified.IsZero())
}
