package restadapter

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/dxsync/pkg/httpclient"
	"github.com/cuemby/dxsync/pkg/log"
	"github.com/cuemby/dxsync/pkg/types"
)

// AssetAdapter specializes Adapter for the two-phase binary
// operations the asset kind needs on top of the generic
// list/get/create/update/delete surface.
type AssetAdapter struct {
	*Adapter
	client *httpclient.Client
	logger zerolog.Logger
}

// NewAssetAdapter returns the binary-asset specialization.
func NewAssetAdapter(client *httpclient.Client) *AssetAdapter {
	return &AssetAdapter{
		Adapter: New(client, types.KindAsset),
		client:  client,
		logger:  log.WithKind(string(types.KindAsset)),
	}
}

// UploadResourceResult is the outcome of a two-phase upload attempt.
type UploadResourceResult struct {
	ResourceID string
	Created    bool // false when a PUT's 409 was accepted as createOnly success
}

// UploadResource uploads resource bytes. When md5 is known, it prefers
// the content-addressed PUT (idempotent: a 409 is success when
// createOnly); otherwise it falls back to POST for a fresh resource.
func (a *AssetAdapter) UploadResource(ctx context.Context, name, md5Hex string, length int64, streamFactory func() (io.ReadCloser, error), opts types.Options) (UploadResourceResult, error) {
	opts = opts.WithDefaults()
	headers := map[string]string{
		"Content-Type": contentTypeForName(name),
		"Connection":   "keep-alive",
		"Accept":       "application/json",
		// One key per upload attempt (not per retry — the same request is
		// replayed unchanged by the HTTP Client's retry policy), so a
		// server that de-dupes on this header sees retries of the same
		// logical upload as one operation.
		"Idempotency-Key": uuid.NewString(),
	}

	if md5Hex != "" {
		md5b64, err := hexMD5ToBase64(md5Hex)
		if err != nil {
			return UploadResourceResult{}, fmt.Errorf("restadapter: invalid md5 %q: %w", md5Hex, err)
		}

		q := url.Values{"name": {name}, "md5": {md5b64}}
		uri := a.resolveURI(fmt.Sprintf("%s/resources/%s", apiPrefix, md5Hex), opts) + "?" + q.Encode()

		resp, err := a.client.Do(ctx, httpclient.Request{
			Method:      "PUT",
			URI:         uri,
			Headers:     headers,
			BodyFactory: streamFactory,
		})
		if err != nil {
			return UploadResourceResult{}, err
		}
		switch {
		case resp.Status == 409:
			if opts.CreateOnly {
				a.logger.Debug().Str("resourceId", md5Hex).Msg("resource already exists, treated as success")
				return UploadResourceResult{ResourceID: md5Hex, Created: false}, nil
			}
			return UploadResourceResult{}, types.NewConflict(name)
		case resp.Status >= 400:
			return UploadResourceResult{}, statusToError(name, resp.Status, resp.Body)
		}
		return UploadResourceResult{ResourceID: md5Hex, Created: true}, nil
	}

	q := url.Values{"name": {name}}
	uri := a.resolveURI(fmt.Sprintf("%s/resources", apiPrefix), opts) + "?" + q.Encode()
	resp, err := a.client.Do(ctx, httpclient.Request{
		Method:      "POST",
		URI:         uri,
		Headers:     headers,
		BodyFactory: streamFactory,
	})
	if err != nil {
		return UploadResourceResult{}, err
	}
	if resp.Status >= 400 {
		return UploadResourceResult{}, statusToError(name, resp.Status, resp.Body)
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return UploadResourceResult{}, fmt.Errorf("restadapter: decode upload response: %w", err)
	}
	return UploadResourceResult{ResourceID: decoded.ID, Created: true}, nil
}

// HeadResource checks whether a resource already exists server-side.
func (a *AssetAdapter) HeadResource(ctx context.Context, resourceID string, opts types.Options) (bool, error) {
	opts = opts.WithDefaults()
	uri := a.resolveURI(fmt.Sprintf("%s/resources/%s", apiPrefix, resourceID), opts)
	resp, err := a.client.Do(ctx, httpclient.Request{Method: "HEAD", URI: uri, Headers: a.headers(opts, nil)})
	if err != nil {
		return false, err
	}
	switch {
	case resp.Status == 200:
		return true, nil
	case resp.Status == 404:
		return false, nil
	default:
		return false, statusToError(resourceID, resp.Status, resp.Body)
	}
}

// DownloadResource streams a resource's bytes into writer, returning
// the response headers (which carry the Content-Disposition filename).
// A non-2xx status surfaces as ErrCannotGetAsset.
func (a *AssetAdapter) DownloadResource(ctx context.Context, resourceID string, writer io.Writer, opts types.Options) (http.Header, error) {
	opts = opts.WithDefaults()
	uri := a.resolveURI(fmt.Sprintf("%s/resources/%s", apiPrefix, resourceID), opts)
	headers := a.headers(opts, map[string]string{"Accept": "*/*"})

	resp, err := a.client.DoStream(ctx, httpclient.Request{Method: "GET", URI: uri, Headers: headers})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.Header, types.ErrCannotGetAsset(resourceID, resp.StatusCode)
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		return resp.Header, fmt.Errorf("restadapter: stream resource body: %w", err)
	}
	return resp.Header, nil
}

// FilenameFromContentDisposition extracts a filename from a
// Content-Disposition header, preferring the RFC 5987 filename* form
// over the plain filename parameter.
func FilenameFromContentDisposition(header http.Header) string {
	_, params, err := mime.ParseMediaType(header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	if v, ok := params["filename*"]; ok {
		if idx := strings.LastIndex(v, "''"); idx >= 0 {
			if decoded, err := url.QueryUnescape(v[idx+2:]); err == nil {
				return decoded
			}
		}
		return v
	}
	return params["filename"]
}

var extContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".pdf":  "application/pdf",
	".mp4":  "video/mp4",
	".webp": "image/webp",
}

// contentTypeForName infers Content-Type from a filename's extension,
// defaulting to text/plain when the extension is unrecognized.
func contentTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := extContentTypes[ext]; ok {
		return ct
	}
	return "text/plain"
}

func hexMD5ToBase64(md5Hex string) (string, error) {
	raw, err := hex.DecodeString(md5Hex)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

