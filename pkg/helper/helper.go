// Package helper implements the Artifact Helper: one per artifact
// kind, orchestrating push/pull of a single artifact against the Hash
// Store, the REST Adapter, and the Filesystem Adapter, and emitting
// events for every terminal outcome. It is the component the Bulk
// Driver depends on; it owns nothing persistent itself.
package helper

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/dxsync/pkg/bulkdriver"
	"github.com/cuemby/dxsync/pkg/events"
	"github.com/cuemby/dxsync/pkg/fsadapter"
	"github.com/cuemby/dxsync/pkg/hashstore"
	"github.com/cuemby/dxsync/pkg/log"
	"github.com/cuemby/dxsync/pkg/restadapter"
	"github.com/cuemby/dxsync/pkg/types"
)

// Helper orchestrates push/pull of a single artifact kind.
type Helper struct {
	kind   types.Kind
	rest   *restadapter.Adapter
	asset  *restadapter.AssetAdapter // non-nil only when kind.IsBinary()
	fs     *fsadapter.Adapter
	hashes *hashstore.Store
	bus    *events.Bus
	bulk   bulkdriver.Config
	logger zerolog.Logger
}

// Deps bundles the collaborators a Helper is injected with — a test
// double can replace any of rest/asset/fs without touching the others.
type Deps struct {
	Kind   types.Kind
	Rest   *restadapter.Adapter
	Asset  *restadapter.AssetAdapter
	FS     *fsadapter.Adapter
	Hashes *hashstore.Store
	Bus    *events.Bus
	// Bulk tunes the concurrency/retry engine PullAll/PushAll run their
	// item set through. Zero-valued fields take bulkdriver's defaults.
	Bulk bulkdriver.Config
}

// New returns a Helper for one kind.
func New(d Deps) *Helper {
	return &Helper{
		kind:   d.Kind,
		rest:   d.Rest,
		asset:  d.Asset,
		fs:     d.FS,
		hashes: d.Hashes,
		bus:    d.Bus,
		bulk:   d.Bulk.WithDefaults(),
		logger: log.WithKind(string(d.Kind)),
	}
}

// PullOne fetches a single artifact by its logical path (binary
// kinds) or id (non-binary kinds).
func (h *Helper) PullOne(ctx context.Context, path string, opts types.Options) (types.Artifact, error) {
	opts = opts.WithDefaults()
	if err := fsadapter.ValidatePath(path); err != nil {
		return types.Artifact{}, h.fail(events.PulledError, path, err)
	}

	if opts.DryRun {
		h.bus.Publish(events.Event{Type: events.Pulled, Kind: string(h.kind), Path: path})
		return types.Artifact{Kind: h.kind, ID: path, Path: path}, nil
	}

	var art types.Artifact
	var err error
	if h.kind.IsBinary() {
		art, err = h.pullBinary(ctx, path, opts)
	} else {
		art, err = h.pullMetadata(ctx, path, opts)
	}
	if err != nil {
		return types.Artifact{}, h.fail(events.PulledError, path, err)
	}

	h.bus.Publish(events.Event{Type: events.Pulled, Kind: string(h.kind), Path: path})
	return art, nil
}

func (h *Helper) pullMetadata(ctx context.Context, id string, opts types.Options) (types.Artifact, error) {
	art, err := h.rest.Get(ctx, id, opts)
	if err != nil {
		return types.Artifact{}, err
	}
	if err := h.fs.WriteJSON(h.kind, id, art.RawBody); err != nil {
		return types.Artifact{}, err
	}

	sum := md5Sum(art.RawBody)
	if err := h.hashes.Record(id, sum, "", art.LastModified, types.DirectionPull); err != nil {
		return types.Artifact{}, types.NewLocalIOError(id, err)
	}
	return art, nil
}

func (h *Helper) pullBinary(ctx context.Context, path string, opts types.Options) (types.Artifact, error) {
	art, err := h.rest.Get(ctx, path, opts)
	if err != nil {
		return types.Artifact{}, err
	}

	ws, err := h.fs.OpenWriteStream(path)
	if err != nil {
		return types.Artifact{}, err
	}

	if _, err := h.asset.DownloadResource(ctx, art.ResourceID, ws, opts); err != nil {
		_ = ws.Abort()
		return types.Artifact{}, err
	}
	if err := ws.Commit(); err != nil {
		return types.Artifact{}, err
	}

	if len(art.RawBody) > 0 {
		if err := h.fs.WriteAssetMeta(path, art.RawBody); err != nil {
			return types.Artifact{}, err
		}
	}

	sum, err := h.fs.HashFile(path)
	if err != nil {
		return types.Artifact{}, err
	}
	if err := h.hashes.Record(path, sum, art.ResourceID, art.LastModified, types.DirectionPull); err != nil {
		return types.Artifact{}, types.NewLocalIOError(path, err)
	}
	return art, nil
}

// PullAll pulls every artifact matching the caller's filters.
func (h *Helper) PullAll(ctx context.Context, opts types.Options) (types.Summary, error) {
	return h.pullBatch(ctx, opts)
}

// PullModified pulls only artifacts modified since the kind's last
// clean PullAll/PullModified completion, then advances that timestamp.
func (h *Helper) PullModified(ctx context.Context, opts types.Options) (types.Summary, error) {
	opts = opts.WithDefaults()
	if !opts.IgnoreTimestamps {
		opts.Since = h.hashes.LastPullAt(h.kind)
	}

	start := time.Now()
	summary, err := h.pullBatch(ctx, opts)
	if err == nil && len(summary.Failed) == 0 && !opts.DryRun {
		_ = h.hashes.SetLastPullAt(h.kind, start)
	}
	return summary, err
}

// pullBatch pages the remote listing to completion, then fans the
// discovered items out across bulkdriver.RunConcurrent's worker pool —
// the same concurrent engine pushBatch uses, parameterized by PullOne.
func (h *Helper) pullBatch(ctx context.Context, opts types.Options) (types.Summary, error) {
	opts = opts.WithDefaults()

	var items []string
	cursor := types.Cursor{Limit: opts.Limit}
	for {
		page, next, end, err := h.rest.List(ctx, cursor, opts)
		if err != nil {
			return types.Summary{Op: "pulled"}, fmt.Errorf("helper: list %s: %w", h.kind, err)
		}
		for _, item := range page {
			items = append(items, identityFor(h.kind, item))
		}
		if end {
			break
		}
		cursor = next
	}

	summary := bulkdriver.RunConcurrent(ctx, h.bulk, h.kind, "pull", items, func(ctx context.Context, path string) (types.Artifact, error) {
		return h.PullOne(ctx, path, opts)
	})
	return summary, nil
}

// Kind reports the artifact kind this Helper was built for.
func (h *Helper) Kind() types.Kind { return h.kind }

// ListPage fetches one page of remote items, for callers (`dxsync
// list`) that want to walk the remote listing directly rather than
// go through PullAll/PullModified.
func (h *Helper) ListPage(ctx context.Context, cursor types.Cursor, opts types.Options) ([]types.Artifact, types.Cursor, bool, error) {
	return h.rest.List(ctx, cursor, opts.WithDefaults())
}

// Identity returns the path or id a listed item is known by, matching
// the kind's identity rule.
func (h *Helper) Identity(a types.Artifact) string {
	return identityFor(h.kind, a)
}

func identityFor(kind types.Kind, a types.Artifact) string {
	if kind.IsBinary() {
		return a.Path
	}
	return a.ID
}

// PushOne pushes a single artifact by its logical path (binary kinds)
// or id (non-binary kinds).
func (h *Helper) PushOne(ctx context.Context, path string, opts types.Options) (types.Artifact, error) {
	opts = opts.WithDefaults()
	if err := fsadapter.ValidatePath(path); err != nil {
		return types.Artifact{}, h.fail(events.PushedError, path, err)
	}

	if opts.DryRun {
		h.bus.Publish(events.Event{Type: events.Pushed, Kind: string(h.kind), Path: path})
		return types.Artifact{Kind: h.kind, ID: path, Path: path}, nil
	}

	var art types.Artifact
	var err error
	if h.kind.IsBinary() {
		art, err = h.pushBinary(ctx, path, opts)
	} else {
		art, err = h.pushMetadata(ctx, path, opts)
	}
	if err != nil {
		return types.Artifact{}, h.fail(events.PushedError, path, err)
	}

	h.bus.Publish(events.Event{Type: events.Pushed, Kind: string(h.kind), Path: path})
	return art, nil
}

func (h *Helper) pushMetadata(ctx context.Context, id string, opts types.Options) (types.Artifact, error) {
	body, err := h.fs.ReadJSON(h.kind, id)
	if err != nil {
		return types.Artifact{}, err
	}

	var wire struct {
		ID  string `json:"id"`
		Rev string `json:"rev"`
	}
	_ = json.Unmarshal(body, &wire)

	art := types.Artifact{Kind: h.kind, ID: wire.ID, Rev: wire.Rev, RawBody: body}

	var result types.Artifact
	if art.ID == "" {
		result, err = h.rest.Create(ctx, art, opts)
	} else {
		result, err = h.rest.Update(ctx, art, opts)
	}
	if err != nil {
		return types.Artifact{}, err
	}

	sum := md5Sum(body)
	if err := h.hashes.Record(id, sum, "", result.LastModified, types.DirectionPush); err != nil {
		return types.Artifact{}, types.NewLocalIOError(id, err)
	}
	return result, nil
}

// pushBinary runs the binary-asset push state machine:
// Start -> EnsureResource -> CreateOrUpdateMetadata -> Done.
func (h *Helper) pushBinary(ctx context.Context, path string, opts types.Options) (types.Artifact, error) {
	// Start: compute md5 and decide whether upload can be skipped.
	sum, err := h.fs.HashFile(path)
	if err != nil {
		return types.Artifact{}, err
	}
	if sum == "" {
		return types.Artifact{}, types.NewLocalIOError(path, fmt.Errorf("no local content at %s", path))
	}

	resourceID, err := h.ensureResource(ctx, path, sum, opts)
	if err != nil {
		return types.Artifact{}, err
	}

	return h.createOrUpdateMetadata(ctx, path, sum, resourceID, opts)
}

func (h *Helper) ensureResource(ctx context.Context, path, sum string, opts types.Options) (string, error) {
	if rec, ok := h.hashes.Lookup(path); ok && rec.MD5 == sum && rec.ResourceID != "" {
		return rec.ResourceID, nil
	}

	if exists, err := h.asset.HeadResource(ctx, sum, opts); err == nil && exists {
		return sum, nil
	}

	fsPath := h.fs.AssetPath(path)
	info, err := os.Stat(fsPath)
	if err != nil {
		return "", types.NewLocalIOError(path, err)
	}

	factory := func() (io.ReadCloser, error) { return os.Open(fsPath) }
	result, err := h.asset.UploadResource(ctx, filepath.Base(path), sum, info.Size(), factory, opts)
	if err != nil {
		// filterRetryPush decides, after retry exhaustion, whether this
		// item should go back on the Bulk Driver's queue for a later
		// pass instead of failing fatally; the underlying *SyncError
		// already carries IsRetryable() for the driver to branch on.
		if se, ok := types.AsSyncError(err); ok && se.IsRetryable() {
			if opts.FilterRetryPush(err) {
				return "", se
			}
			return "", &types.SyncError{Kind: types.ErrPermanent, Path: se.Path, Status: se.Status, Message: se.Message, Wrapped: se}
		}
		return "", err
	}
	return result.ResourceID, nil
}

func (h *Helper) createOrUpdateMetadata(ctx context.Context, path, sum, resourceID string, opts types.Options) (types.Artifact, error) {
	art := types.Artifact{Kind: h.kind, Path: path, MD5: sum, ResourceID: resourceID}

	// The sidecar, if one exists from a prior pull, is the only place
	// that carries the server id/rev a binary asset was last known by.
	meta, metaErr := h.fs.ReadAssetMeta(path)
	if metaErr == nil && len(meta) > 0 {
		var wire struct {
			ID  string `json:"id"`
			Rev string `json:"rev"`
		}
		if json.Unmarshal(meta, &wire) == nil {
			art.ID = wire.ID
			art.Rev = wire.Rev
		}
		art.RawBody = meta
	}

	var result types.Artifact
	var err error
	if art.ID == "" {
		result, err = h.rest.Create(ctx, art, opts)
	} else {
		result, err = h.rest.Update(ctx, art, opts)
	}
	if err != nil {
		return types.Artifact{}, err
	}

	if err := h.fs.WriteAssetMeta(path, result.RawBody); err != nil {
		return types.Artifact{}, err
	}
	if err := h.hashes.Record(path, sum, resourceID, result.LastModified, types.DirectionPush); err != nil {
		return types.Artifact{}, types.NewLocalIOError(path, err)
	}
	return result, nil
}

// PushAll pushes every locally-modified artifact of this kind.
func (h *Helper) PushAll(ctx context.Context, opts types.Options) (types.Summary, error) {
	return h.pushBatch(ctx, opts)
}

// PushModified pushes only artifacts changed since the kind's last
// clean PushAll/PushModified completion, then advances that timestamp.
func (h *Helper) PushModified(ctx context.Context, opts types.Options) (types.Summary, error) {
	opts = opts.WithDefaults()
	start := time.Now()
	summary, err := h.pushBatch(ctx, opts)
	if err == nil && len(summary.Failed) == 0 && !opts.DryRun {
		_ = h.hashes.SetLastPushAt(h.kind, start)
	}
	return summary, err
}

// pushBatch enumerates local paths (optionally narrowed to those
// modified since the last clean push), then fans them out across
// bulkdriver.RunConcurrent's worker pool, parameterized by PushOne.
func (h *Helper) pushBatch(ctx context.Context, opts types.Options) (types.Summary, error) {
	opts = opts.WithDefaults()

	all, err := h.fs.Enumerate(h.kind)
	if err != nil {
		return types.Summary{Op: "pushed"}, fmt.Errorf("helper: enumerate %s: %w", h.kind, err)
	}

	paths := all
	if !opts.IgnoreTimestamps {
		paths = paths[:0]
		for _, path := range all {
			sum, hashErr := h.localHash(path)
			if hashErr == nil && !h.hashes.IsLocalModified(path, sum) {
				continue
			}
			paths = append(paths, path)
		}
	}

	summary := bulkdriver.RunConcurrent(ctx, h.bulk, h.kind, "push", paths, func(ctx context.Context, path string) (types.Artifact, error) {
		return h.PushOne(ctx, path, opts)
	})
	return summary, nil
}

func (h *Helper) localHash(path string) (string, error) {
	if h.kind.IsBinary() {
		return h.fs.HashFile(path)
	}
	body, err := h.fs.ReadJSON(h.kind, path)
	if err != nil {
		return "", err
	}
	return md5Sum(body), nil
}

// ListRemoteModifiedNames returns the set of remote paths/ids modified
// since the kind's last pull.
func (h *Helper) ListRemoteModifiedNames(ctx context.Context, opts types.Options) (map[string]struct{}, error) {
	opts = opts.WithDefaults()
	opts.Since = h.hashes.LastPullAt(h.kind)
	return h.listRemoteNames(ctx, opts)
}

// ListRemoteDeletedNames returns remote paths/ids known locally that
// no longer exist in a fresh remote listing.
func (h *Helper) ListRemoteDeletedNames(ctx context.Context, opts types.Options) (map[string]struct{}, error) {
	opts = opts.WithDefaults()
	present, err := h.listRemoteNames(ctx, opts)
	if err != nil {
		return nil, err
	}

	deleted := make(map[string]struct{})
	for _, path := range h.hashes.ListKnownPaths() {
		if _, ok := present[path]; !ok {
			deleted[path] = struct{}{}
		}
	}
	return deleted, nil
}

func (h *Helper) listRemoteNames(ctx context.Context, opts types.Options) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	cursor := types.Cursor{Limit: opts.Limit}
	for {
		items, next, end, err := h.rest.List(ctx, cursor, opts)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			out[identityFor(h.kind, item)] = struct{}{}
		}
		if end {
			break
		}
		cursor = next
	}
	return out, nil
}

// ListLocalModifiedNames returns local paths/ids whose content differs
// from the last recorded HashRecord.
func (h *Helper) ListLocalModifiedNames() (map[string]struct{}, error) {
	paths, err := h.fs.Enumerate(h.kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	for _, path := range paths {
		sum, err := h.localHash(path)
		if err != nil {
			continue
		}
		if h.hashes.IsLocalModified(path, sum) {
			out[path] = struct{}{}
		}
	}
	return out, nil
}

// ListLocalDeletedNames returns paths/ids the Hash Store knows about
// that are no longer present on disk.
func (h *Helper) ListLocalDeletedNames() (map[string]struct{}, error) {
	present, err := h.fs.Enumerate(h.kind)
	if err != nil {
		return nil, err
	}
	presentSet := make(map[string]struct{}, len(present))
	for _, p := range present {
		presentSet[p] = struct{}{}
	}

	out := make(map[string]struct{})
	for _, path := range h.hashes.ListKnownPaths() {
		if _, ok := presentSet[path]; !ok {
			out[path] = struct{}{}
		}
	}
	return out, nil
}

// DeleteRemote deletes an artifact server-side and marks its
// HashRecord remote-absent.
func (h *Helper) DeleteRemote(ctx context.Context, art types.Artifact, opts types.Options) (string, error) {
	opts = opts.WithDefaults()
	msg, err := h.rest.Delete(ctx, art, opts)
	if err != nil {
		h.bus.Publish(events.Event{Type: events.DeletedError, Kind: string(h.kind), Path: art.Path, Err: err})
		return "", err
	}

	id := art.Path
	if id == "" {
		id = art.ID
	}
	if err := h.hashes.MarkRemoteAbsent(id); err != nil {
		return msg, types.NewLocalIOError(id, err)
	}

	h.bus.Publish(events.Event{Type: events.Deleted, Kind: string(h.kind), Path: id})
	return msg, nil
}

func (h *Helper) fail(t events.EventType, path string, err error) error {
	h.bus.Publish(events.Event{Type: t, Kind: string(h.kind), Path: path, Err: err})
	return err
}

func md5Sum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
