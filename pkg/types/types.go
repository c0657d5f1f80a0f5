// Package types holds the data model shared across the sync engine:
// artifact kinds, the artifact envelope itself, hash records, run
// options, and the error taxonomy the Bulk Driver branches on.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies an artifact type known to the authoring service.
type Kind string

const (
	KindAsset             Kind = "asset"
	KindContent           Kind = "content"
	KindContentType       Kind = "content-type"
	KindCategory          Kind = "category"
	KindLayout            Kind = "layout"
	KindLayoutMapping     Kind = "layout-mapping"
	KindPublishingSource  Kind = "publishing-source"
	KindRendition         Kind = "rendition"
	KindPublishingProfile Kind = "publishing-profile"
	KindSiteRevision      Kind = "site-revision"
	KindPublishingJob     Kind = "publishing-job"

	// KindImageProfile and KindPublishingSite appear only in the
	// All-Switch dependency order, never as a standalone sync surface.
	// They alias the nearest kind that does carry one.
	KindImageProfile   = KindPublishingProfile
	KindPublishingSite = KindSiteRevision
)

// AllKinds lists every independently syncable kind, in no particular order.
func AllKinds() []Kind {
	return []Kind{
		KindAsset, KindContent, KindContentType, KindCategory, KindLayout,
		KindLayoutMapping, KindPublishingSource, KindRendition,
		KindPublishingProfile, KindSiteRevision, KindPublishingJob,
	}
}

// PullOrder is the fixed dependency order the All-Switch Coordinator
// walks for pull (and push in reverse, where it differs).
var PullOrder = []Kind{
	KindPublishingSource,
	KindCategory,
	KindAsset,
	KindImageProfile,
	KindContentType,
	KindContent,
	KindLayout,
	KindLayoutMapping,
	KindRendition,
	KindPublishingProfile,
	KindSiteRevision,
}

// PushOrder reverses PullOrder — referential constraints run the other
// way when creating artifacts on the server.
func PushOrder() []Kind {
	out := make([]Kind, len(PullOrder))
	for i, k := range PullOrder {
		out[len(PullOrder)-1-i] = k
	}
	return out
}

// IsBinary reports whether a kind carries content-addressed resource bytes
// in addition to its JSON metadata.
func (k Kind) IsBinary() bool {
	return k == KindAsset
}

// Artifact is the unit of sync, held either side of the wire.
type Artifact struct {
	Kind         Kind      `json:"-"`
	ID           string    `json:"id,omitempty"`
	Rev          string    `json:"rev,omitempty"`
	Path         string    `json:"path,omitempty"`
	Name         string    `json:"name,omitempty"`
	ResourceID   string    `json:"resourceId,omitempty"`
	MD5          string    `json:"md5,omitempty"`
	LastModified time.Time `json:"lastModified,omitempty"`

	// RawBody is the full server document, preserved so round-tripping
	// doesn't lose fields the sync engine has no model for.
	RawBody json.RawMessage `json:"-"`
}

// HashRecord is the per-path fingerprint the Hash Store persists.
type HashRecord struct {
	Path               string    `json:"path"`
	MD5                string    `json:"md5"`
	ResourceID         string    `json:"resourceId,omitempty"`
	LastPulledAt       time.Time `json:"lastPulledAt,omitempty"`
	LastPushedAt       time.Time `json:"lastPushedAt,omitempty"`
	RemoteLastModified time.Time `json:"remoteLastModified,omitempty"`
}

// Direction identifies which side of a sync wrote a HashRecord.
type Direction string

const (
	DirectionPull Direction = "pull"
	DirectionPush Direction = "push"
)

// ItemState is a single path's progress within one Bulk Driver run.
type ItemState string

const (
	ItemPending   ItemState = "pending"
	ItemInflight  ItemState = "inflight"
	ItemSucceeded ItemState = "succeeded"
	ItemFailed    ItemState = "failed"
)

// SyncState is the in-memory, per-run tracking map. It is scoped to a
// single Bulk Driver run and discarded on completion.
type SyncState struct {
	Items map[string]*ItemProgress
}

// ItemProgress is the state of one path within a run.
type ItemProgress struct {
	State     ItemState
	Retryable bool
	Err       error
}

// NewSyncState returns an empty, ready-to-use SyncState.
func NewSyncState() *SyncState {
	return &SyncState{Items: make(map[string]*ItemProgress)}
}

// Cursor is an offset/limit pagination position, advanced by the paging
// caller (the Helper's batch and listing methods, `dxsync list`) until
// the server returns a short or empty page.
type Cursor struct {
	Offset int
	Limit  int
}

// Next advances the cursor by its own limit.
func (c Cursor) Next() Cursor {
	return Cursor{Offset: c.Offset + c.Limit, Limit: c.Limit}
}

// Options is the structured options bag threaded through every
// operation, standing in for the source's opaque per-call object.
type Options struct {
	Offset int
	Limit  int

	RetryMinTimeout  time.Duration
	RetryMaxTimeout  time.Duration
	RetryFactor      float64
	RetryRandomize   bool
	RetryStatusCodes []int

	CreateOnly    bool
	ForceOverride bool
	PublishNow    bool

	AssetTypes []string

	NoErrorLog bool

	Since time.Time

	// FilterRetryPush decides, after retry exhaustion on the
	// EnsureResource transition, whether the item should be re-enqueued
	// by the Bulk Driver for a later pass instead of failing fatally.
	FilterRetryPush func(err error) bool

	TenantBaseURL string
	Locale        string

	IgnoreTimestamps bool
	DryRun           bool

	Logger zerolog.Logger
}

// WithDefaults fills in the fields a caller left zero-valued.
func (o Options) WithDefaults() Options {
	if o.Limit == 0 {
		o.Limit = 200
	}
	if o.Locale == "" {
		o.Locale = "en"
	}
	if o.RetryMinTimeout == 0 {
		o.RetryMinTimeout = 500 * time.Millisecond
	}
	if o.RetryMaxTimeout == 0 {
		o.RetryMaxTimeout = 30 * time.Second
	}
	if o.RetryFactor == 0 {
		o.RetryFactor = 2
	}
	if len(o.RetryStatusCodes) == 0 {
		o.RetryStatusCodes = []int{429, 500, 502, 503, 504}
	}
	if o.FilterRetryPush == nil {
		o.FilterRetryPush = func(error) bool { return false }
	}
	return o
}

// ItemError pairs a failed path with the error that caused it.
type ItemError struct {
	Path string
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Summary is the authoritative result of a run: the Event Bus carries
// progress, Summary is what a caller actually inspects.
type Summary struct {
	Op        string // "pushed" or "pulled"
	Succeeded []string
	Failed    []ItemError
}

// String renders the partial-success form callers and logs expect.
func (s Summary) String() string {
	return fmt.Sprintf("%d artifacts successfully %s, %d errors", len(s.Succeeded), s.Op, len(s.Failed))
}

// Merge folds another summary's counts into s, keeping s.Op.
func (s *Summary) Merge(other Summary) {
	s.Succeeded = append(s.Succeeded, other.Succeeded...)
	s.Failed = append(s.Failed, other.Failed...)
}

// RecordSuccess appends a succeeded path.
func (s *Summary) RecordSuccess(path string) {
	s.Succeeded = append(s.Succeeded, path)
}

// RecordFailure appends a failed path with its error.
func (s *Summary) RecordFailure(path string, err error) {
	s.Failed = append(s.Failed, ItemError{Path: path, Err: err})
}
