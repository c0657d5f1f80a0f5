// Package restadapter is the Artifact REST Adapter: one per kind,
// translating kind-specific list/get/create/update/delete calls into
// HTTP Client requests. It knows URIs, headers, and pagination; it
// owns no mutable state beyond the HTTP Client's connection pool.
package restadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/dxsync/pkg/httpclient"
	"github.com/cuemby/dxsync/pkg/log"
	"github.com/cuemby/dxsync/pkg/types"
)

const apiPrefix = "/authoring/v1"

// Adapter is the generic per-kind REST Adapter.
type Adapter struct {
	client *httpclient.Client
	kind   types.Kind
	logger zerolog.Logger
}

// New returns an Adapter for kind, issuing requests through client.
func New(client *httpclient.Client, kind types.Kind) *Adapter {
	return &Adapter{client: client, kind: kind, logger: log.WithKind(string(kind))}
}

// listEnvelope matches both wire shapes the service may return for a
// listing: a bare array, or {"items": [...]}.
type listEnvelope struct {
	Items []json.RawMessage `json:"items"`
}

func (a *Adapter) basePath() string {
	return fmt.Sprintf("%s/%s", apiPrefix, a.kind)
}

func (a *Adapter) resolveURI(path string, opts types.Options) string {
	if opts.TenantBaseURL != "" {
		return strings.TrimRight(opts.TenantBaseURL, "/") + path
	}
	return path
}

func (a *Adapter) headers(opts types.Options, extra map[string]string) map[string]string {
	h := map[string]string{
		"Accept-Language": opts.Locale,
		"Connection":      "keep-alive",
	}
	if opts.TenantBaseURL != "" {
		h["x-ibm-dx-tenant-base-url"] = opts.TenantBaseURL
	}
	if opts.PublishNow {
		h["x-ibm-dx-publish-priority"] = "now"
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// List fetches one page for cursor, returning the decoded items, the
// next cursor to use, and whether this was the final page.
func (a *Adapter) List(ctx context.Context, cursor types.Cursor, opts types.Options) ([]types.Artifact, types.Cursor, bool, error) {
	opts = opts.WithDefaults()
	if cursor.Limit == 0 {
		cursor.Limit = opts.Limit
	}

	q := url.Values{}
	q.Set("offset", strconv.Itoa(cursor.Offset))
	q.Set("limit", strconv.Itoa(cursor.Limit))
	if !opts.Since.IsZero() {
		q.Set("modified-since", opts.Since.UTC().Format(time.RFC3339))
	}

	uri := a.resolveURI(a.basePath(), opts) + "?" + q.Encode()
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:     "GET",
		URI:        uri,
		Headers:    a.headers(opts, nil),
		ExpectJSON: true,
	})
	if err != nil {
		return nil, cursor, true, err
	}
	if resp.Status >= 400 {
		return nil, cursor, true, statusToError(a.pathForID(""), resp.Status, resp.Body)
	}

	items, err := decodeListBody(resp.Body)
	if err != nil {
		return nil, cursor, true, fmt.Errorf("restadapter: decode list body: %w", err)
	}

	artifacts := make([]types.Artifact, 0, len(items))
	for _, raw := range items {
		art, err := decodeArtifact(a.kind, raw)
		if err != nil {
			return nil, cursor, true, err
		}
		artifacts = append(artifacts, art)
	}

	end := len(artifacts) < cursor.Limit
	return artifacts, cursor.Next(), end, nil
}

func decodeListBody(body []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return env.Items, nil
}

func decodeArtifact(kind types.Kind, raw json.RawMessage) (types.Artifact, error) {
	var wire struct {
		ID           string    `json:"id"`
		Rev          string    `json:"rev"`
		Path         string    `json:"path"`
		Name         string    `json:"name"`
		ResourceID   string    `json:"resourceId"`
		MD5          string    `json:"md5"`
		LastModified time.Time `json:"lastModified"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return types.Artifact{}, fmt.Errorf("restadapter: decode artifact: %w", err)
	}
	return types.Artifact{
		Kind:         kind,
		ID:           wire.ID,
		Rev:          wire.Rev,
		Path:         wire.Path,
		Name:         wire.Name,
		ResourceID:   wire.ResourceID,
		MD5:          wire.MD5,
		LastModified: wire.LastModified,
		RawBody:      raw,
	}, nil
}

// Get retrieves a single artifact by id.
func (a *Adapter) Get(ctx context.Context, id string, opts types.Options) (types.Artifact, error) {
	opts = opts.WithDefaults()
	uri := a.resolveURI(a.pathForID(id), opts)
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:     "GET",
		URI:        uri,
		Headers:    a.headers(opts, nil),
		ExpectJSON: true,
	})
	if err != nil {
		return types.Artifact{}, err
	}
	if resp.Status == 404 {
		return types.Artifact{}, types.NewRemoteNotFound(id, resp.Status)
	}
	if resp.Status >= 400 {
		return types.Artifact{}, statusToError(id, resp.Status, resp.Body)
	}
	return decodeArtifact(a.kind, resp.Body)
}

// Create issues a POST for a new artifact.
func (a *Adapter) Create(ctx context.Context, art types.Artifact, opts types.Options) (types.Artifact, error) {
	opts = opts.WithDefaults()
	body := art.RawBody
	if body == nil {
		var err error
		body, err = json.Marshal(art)
		if err != nil {
			return types.Artifact{}, err
		}
	}

	uri := a.resolveURI(a.basePath(), opts)
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:     "POST",
		URI:        uri,
		Headers:    a.headers(opts, map[string]string{"Content-Type": "application/json"}),
		Body:       body,
		ExpectJSON: true,
	})
	if err != nil {
		return types.Artifact{}, err
	}
	if resp.Status == 409 {
		if opts.CreateOnly {
			return art, nil
		}
		return types.Artifact{}, types.NewConflict(art.Path)
	}
	if resp.Status >= 400 {
		return types.Artifact{}, statusToError(art.Path, resp.Status, resp.Body)
	}
	return decodeArtifact(a.kind, resp.Body)
}

// Update issues a PUT (with forceOverride when requested) for kinds
// that carry a rev, or falls back to POST for kinds that don't.
func (a *Adapter) Update(ctx context.Context, art types.Artifact, opts types.Options) (types.Artifact, error) {
	opts = opts.WithDefaults()

	if art.Rev == "" && !opts.ForceOverride {
		return a.Create(ctx, art, opts)
	}

	body := art.RawBody
	if body == nil {
		var err error
		body, err = json.Marshal(art)
		if err != nil {
			return types.Artifact{}, err
		}
	}

	path := a.pathForID(art.ID)
	if opts.ForceOverride {
		path += "?forceOverride=true"
	}
	uri := a.resolveURI(path, opts)

	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:     "PUT",
		URI:        uri,
		Headers:    a.headers(opts, map[string]string{"Content-Type": "application/json"}),
		Body:       body,
		ExpectJSON: true,
	})
	if err != nil {
		return types.Artifact{}, err
	}

	switch {
	case resp.Status == 404:
		// The item may have been deleted underneath; retry as a create.
		return a.Create(ctx, art, opts)
	case resp.Status == 409:
		if opts.CreateOnly {
			return art, nil
		}
		return types.Artifact{}, types.NewConflict(art.Path)
	case resp.Status >= 400:
		return types.Artifact{}, statusToError(art.Path, resp.Status, resp.Body)
	}
	return decodeArtifact(a.kind, resp.Body)
}

// Delete removes an artifact by id, returning the server message body.
func (a *Adapter) Delete(ctx context.Context, art types.Artifact, opts types.Options) (string, error) {
	opts = opts.WithDefaults()
	uri := a.resolveURI(a.pathForID(art.ID), opts)
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:  "DELETE",
		URI:     uri,
		Headers: a.headers(opts, nil),
	})
	if err != nil {
		return "", err
	}
	if resp.Status == 404 {
		return "", types.NewRemoteNotFound(art.Path, resp.Status)
	}
	if resp.Status >= 400 {
		return "", statusToError(art.Path, resp.Status, resp.Body)
	}
	return string(resp.Body), nil
}

func (a *Adapter) pathForID(id string) string {
	if id == "" {
		return a.basePath()
	}
	return a.basePath() + "/" + id
}

// statusToError classifies a non-2xx response per the error taxonomy:
// the caller's retry set is advisory here — by the time this is
// reached the HTTP Client has already retried transient statuses, so
// a surviving 5xx means retry exhaustion.
func statusToError(path string, status int, body []byte) error {
	switch {
	case status == 404:
		return types.NewRemoteNotFound(path, status)
	case status == 409:
		return types.NewConflict(path)
	case status == 429 || (status >= 500 && status <= 599):
		return types.NewTransient(path, status, 1)
	default:
		return types.NewPermanent(path, status, string(body))
	}
}
