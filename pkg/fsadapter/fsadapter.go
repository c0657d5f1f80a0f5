// Package fsadapter is the local-side twin of the REST Adapter: it
// enumerates artifacts on disk, derives paths from the on-disk layout,
// and owns every byte written under the working directory. The Hash
// Store owns fingerprints, the REST Adapter owns the wire — this
// package owns nothing but bytes on disk.
package fsadapter

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/cuemby/dxsync/pkg/types"
)

var platformInvalidChars = regexp.MustCompile(`[<>:"|?*]`)

// Config configures an Adapter's working-directory root.
type Config struct {
	WorkDir string
}

// Adapter is the Filesystem Adapter for one working directory, shared
// across every kind — callers pass the kind per call.
type Adapter struct {
	workDir string
}

// New returns a Filesystem Adapter rooted at cfg.WorkDir.
func New(cfg Config) *Adapter {
	return &Adapter{workDir: cfg.WorkDir}
}

// ValidatePath rejects paths that are empty, contain control
// characters, an http(s) scheme, `..` segments, or platform-invalid
// characters.
func ValidatePath(path string) error {
	if path == "" {
		return types.NewInvalidPath(path, "empty")
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return types.NewInvalidPath(path, "contains control characters")
		}
	}
	lower := strings.ToLower(path)
	if strings.Contains(lower, "http:") || strings.Contains(lower, "https:") {
		return types.NewInvalidPath(path, "contains a scheme prefix")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return types.NewInvalidPath(path, "contains a .. segment")
		}
	}
	if platformInvalidChars.MatchString(path) {
		return types.NewInvalidPath(path, "contains platform-invalid characters")
	}
	return nil
}

// AssetPath returns the on-disk location of a binary asset's content.
func (a *Adapter) AssetPath(logicalPath string) string {
	return filepath.Join(a.workDir, "assets", filepath.FromSlash(strings.TrimPrefix(logicalPath, "/")))
}

// AssetMetaPath returns the sidecar JSON path for a content-asset kind.
func (a *Adapter) AssetMetaPath(logicalPath string) string {
	return a.AssetPath(logicalPath) + ".json"
}

// MetaPath returns the on-disk path for a non-binary kind's metadata.
func (a *Adapter) MetaPath(kind types.Kind, id string) string {
	return filepath.Join(a.workDir, string(kind), id+".json")
}

// Enumerate returns the logical paths (or ids, for non-binary kinds)
// of the files directly inside kind's directory. Subdirectories are not
// descended: an asset stored below assets/<dir>/ is not listed.
func (a *Adapter) Enumerate(kind types.Kind) ([]string, error) {
	root := filepath.Join(a.workDir, string(kind))
	if kind == types.KindAsset {
		root = filepath.Join(a.workDir, "assets")
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewLocalIOError(root, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if kind == types.KindAsset {
			if strings.HasSuffix(name, ".json") {
				continue // sidecar, not the asset itself
			}
			out = append(out, "/"+name)
			continue
		}
		if strings.HasSuffix(name, ".json") {
			out = append(out, strings.TrimSuffix(name, ".json"))
		}
	}
	return out, nil
}

// ReadJSON loads the metadata document for a non-binary artifact.
func (a *Adapter) ReadJSON(kind types.Kind, id string) (json.RawMessage, error) {
	data, err := os.ReadFile(a.MetaPath(kind, id))
	if err != nil {
		return nil, types.NewLocalIOError(a.MetaPath(kind, id), err)
	}
	return data, nil
}

// WriteJSON persists the metadata document for a non-binary artifact,
// atomically.
func (a *Adapter) WriteJSON(kind types.Kind, id string, body json.RawMessage) error {
	path := a.MetaPath(kind, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewLocalIOError(path, err)
	}
	if err := writeFileAtomic(path, body); err != nil {
		return types.NewLocalIOError(path, err)
	}
	return nil
}

// WriteAssetMeta persists the sidecar metadata JSON for a content-asset.
func (a *Adapter) WriteAssetMeta(logicalPath string, body json.RawMessage) error {
	path := a.AssetMetaPath(logicalPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.NewLocalIOError(path, err)
	}
	if err := writeFileAtomic(path, body); err != nil {
		return types.NewLocalIOError(path, err)
	}
	return nil
}

// ReadAssetMeta loads the sidecar metadata JSON for a content-asset,
// returning (nil, nil) if it has never been written.
func (a *Adapter) ReadAssetMeta(logicalPath string) (json.RawMessage, error) {
	data, err := os.ReadFile(a.AssetMetaPath(logicalPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewLocalIOError(logicalPath, err)
	}
	return data, nil
}

// WriteStream is a reservation for a binary download: bytes are
// written to a uniquely-named temp file and only become visible at
// the logical path on Commit.
type WriteStream struct {
	tmpPath    string
	finalPath  string
	file       *os.File
}

// OpenWriteStream reserves a uniquely-named temp file for logicalPath.
func (a *Adapter) OpenWriteStream(logicalPath string) (*WriteStream, error) {
	final := a.AssetPath(logicalPath)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, types.NewLocalIOError(final, err)
	}

	tmp := filepath.Join(filepath.Dir(final), "."+filepath.Base(final)+"."+uuid.NewString()+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return nil, types.NewLocalIOError(tmp, err)
	}
	return &WriteStream{tmpPath: tmp, finalPath: final, file: f}, nil
}

// Write implements io.Writer, passing bytes through to the temp file.
func (w *WriteStream) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Commit closes and atomically renames the temp file onto the
// logical path, making the downloaded content visible.
func (w *WriteStream) Commit() error {
	if err := w.file.Close(); err != nil {
		return types.NewLocalIOError(w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.finalPath); err != nil {
		return types.NewLocalIOError(w.finalPath, err)
	}
	return nil
}

// Abort closes and discards the temp file without committing it.
func (w *WriteStream) Abort() error {
	w.file.Close()
	return os.Remove(w.tmpPath)
}

// HashFile computes the md5 of the local content at logicalPath,
// returning ("", nil) if the file does not exist.
func (a *Adapter) HashFile(logicalPath string) (string, error) {
	f, err := os.Open(a.AssetPath(logicalPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", types.NewLocalIOError(logicalPath, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", types.NewLocalIOError(logicalPath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CleanOrphanedTemp removes leftover `.tmp` files from a prior run
// that crashed or was killed mid-download, across every kind's
// directory under workDir.
func CleanOrphanedTemp(workDir string) (int, error) {
	removed := 0
	err := filepath.WalkDir(workDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".tmp") && isReservationName(filepath.Base(path)) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("fsadapter: clean orphaned temp: %w", err)
	}
	return removed, nil
}

var reservationNamePattern = regexp.MustCompile(`^\..+\.[0-9a-fA-F-]{36}\.tmp$`)

func isReservationName(name string) bool {
	return reservationNamePattern.MatchString(name)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
