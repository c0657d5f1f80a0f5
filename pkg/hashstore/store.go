// Package hashstore persists per-artifact fingerprints and pull/push
// timestamps under a working directory's hidden metadata folder. It
// is the authoritative answer to "is this artifact locally modified
// relative to last sync?" and "is it remotely modified?".
package hashstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/dxsync/pkg/types"
)

const metadataDirName = ".metadata"

// Config configures a Store's on-disk location.
type Config struct {
	WorkDir string
}

// document is the single JSON file persisted as hashes.json.
type document struct {
	Records map[string]types.HashRecord `json:"records"`
}

// timestamps is the single JSON file persisted for last-pull/last-push.
type timestamps struct {
	Kinds map[types.Kind]time.Time `json:"kinds"`
}

// Store is the Hash Store. All reads and writes are guarded by mu;
// persistence is a full-document rewrite, atomic via temp-then-rename.
type Store struct {
	mu sync.Mutex

	workDir string
	doc     document
	pulls   timestamps
	pushes  timestamps
}

// Open loads (or initializes) the hash store rooted at cfg.WorkDir.
func Open(cfg Config) (*Store, error) {
	s := &Store{
		workDir: cfg.WorkDir,
		doc:     document{Records: make(map[string]types.HashRecord)},
		pulls:   timestamps{Kinds: make(map[types.Kind]time.Time)},
		pushes:  timestamps{Kinds: make(map[types.Kind]time.Time)},
	}

	if err := loadJSON(s.hashesPath(), &s.doc); err != nil {
		return nil, fmt.Errorf("hashstore: load hashes.json: %w", err)
	}
	if s.doc.Records == nil {
		s.doc.Records = make(map[string]types.HashRecord)
	}
	if err := loadJSON(s.lastPullPath(), &s.pulls); err != nil {
		return nil, fmt.Errorf("hashstore: load last-pull.json: %w", err)
	}
	if s.pulls.Kinds == nil {
		s.pulls.Kinds = make(map[types.Kind]time.Time)
	}
	if err := loadJSON(s.lastPushPath(), &s.pushes); err != nil {
		return nil, fmt.Errorf("hashstore: load last-push.json: %w", err)
	}
	if s.pushes.Kinds == nil {
		s.pushes.Kinds = make(map[types.Kind]time.Time)
	}

	return s, nil
}

func (s *Store) metadataDir() string { return filepath.Join(s.workDir, metadataDirName) }
func (s *Store) hashesPath() string  { return filepath.Join(s.metadataDir(), "hashes.json") }
func (s *Store) lastPullPath() string {
	return filepath.Join(s.metadataDir(), "last-pull.json")
}
func (s *Store) lastPushPath() string {
	return filepath.Join(s.metadataDir(), "last-push.json")
}

// Record upserts a HashRecord for path. Idempotent.
func (s *Store) Record(path, md5, resourceID string, remoteTimestamp time.Time, direction types.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.doc.Records[path]
	rec.Path = path
	rec.MD5 = md5
	if resourceID != "" {
		rec.ResourceID = resourceID
	}
	rec.RemoteLastModified = remoteTimestamp

	now := time.Now()
	switch direction {
	case types.DirectionPull:
		rec.LastPulledAt = now
	case types.DirectionPush:
		rec.LastPushedAt = now
	}

	s.doc.Records[path] = rec
	return s.flushHashesLocked()
}

// Lookup returns the HashRecord for path, or ok=false if absent.
func (s *Store) Lookup(path string) (types.HashRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Records[path]
	return rec, ok
}

// IsLocalModified reports whether the local file at path has changed
// since the last recorded sync.
func (s *Store) IsLocalModified(path, currentMD5 string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Records[path]
	if !ok {
		return true
	}
	return currentMD5 != rec.MD5
}

// IsRemoteModified reports whether the remote artifact has changed
// since the last recorded sync.
func (s *Store) IsRemoteModified(artifact types.Artifact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Records[artifact.Path]
	if !ok {
		return true
	}
	if artifact.LastModified.After(rec.RemoteLastModified) {
		return true
	}
	return artifact.MD5 != "" && artifact.MD5 != rec.MD5
}

// ListKnownPaths returns every path the store has a HashRecord for.
func (s *Store) ListKnownPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.doc.Records))
	for p := range s.doc.Records {
		out = append(out, p)
	}
	return out
}

// LastPullAt returns the last time a PullAll/PullModified run completed
// cleanly for kind.
func (s *Store) LastPullAt(kind types.Kind) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls.Kinds[kind]
}

// LastPushAt returns the last time a PushAll/PushModified run completed
// cleanly for kind.
func (s *Store) LastPushAt(kind types.Kind) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes.Kinds[kind]
}

// SetLastPullAt records a clean PullAll/PullModified completion.
func (s *Store) SetLastPullAt(kind types.Kind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls.Kinds[kind] = at
	return writeJSONAtomic(s.lastPullPath(), &s.pulls)
}

// SetLastPushAt records a clean PushAll/PushModified completion.
func (s *Store) SetLastPushAt(kind types.Kind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushes.Kinds[kind] = at
	return writeJSONAtomic(s.lastPushPath(), &s.pushes)
}

// MarkRemoteAbsent clears the RemoteLastModified field on a record
// after a successful delete, without dropping the record entirely —
// the MD5 remains useful for push-side dedup if the path is recreated.
func (s *Store) MarkRemoteAbsent(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Records[path]
	if !ok {
		return nil
	}
	rec.RemoteLastModified = time.Time{}
	s.doc.Records[path] = rec
	return s.flushHashesLocked()
}

func (s *Store) flushHashesLocked() error {
	return writeJSONAtomic(s.hashesPath(), &s.doc)
}

func loadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// writeJSONAtomic writes v to path via write-to-temp-then-rename, so
// a reader never observes a partially-written document.
func writeJSONAtomic(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if err := func() error {
		out, err := os.Create(tmp)
		if err != nil {
			return err
		}
		defer out.Close()

		if _, err := out.Write(data); err != nil {
			return err
		}
		return out.Sync()
	}(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
