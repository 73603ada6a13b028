package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/animus-labs/gx-hosting/internal/platform/httpserver"
	"github.com/animus-labs/gx-hosting/internal/platform/metrics"
	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	indexDocument = "index.html"
	emptyDocument = "<p></p>"
)

type fetchStatus string

const (
	fetchFound        fetchStatus = "found"
	fetchNotFound     fetchStatus = "not_found"
	fetchStorageError fetchStatus = "storage_error"
	fetchDecodeError  fetchStatus = "decode_error"
)

// fetchResult keeps lookup outcomes apart even though the handler answers
// every failure the same way.
type fetchResult struct {
	status      fetchStatus
	content     []byte
	contentType string
	err         error
}

type docsAPI struct {
	logger  *slog.Logger
	store   objectstore.Store
	bucket  string
	prefix  string
	fetches *metrics.Outcomes
}

func newDocsAPI(logger *slog.Logger, store objectstore.Store, bucket string, prefix string, fetches *metrics.Outcomes) *docsAPI {
	return &docsAPI{
		logger:  logger,
		store:   store,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		fetches: fetches,
	}
}

func (api *docsAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", api.handleIndex)
	mux.HandleFunc("GET /{path...}", api.handleAsset)
}

func (api *docsAPI) handleIndex(w http.ResponseWriter, r *http.Request) {
	api.serve(w, r, indexDocument)
}

func (api *docsAPI) handleAsset(w http.ResponseWriter, r *http.Request) {
	api.serve(w, r, r.PathValue("path"))
}

func (api *docsAPI) serve(w http.ResponseWriter, r *http.Request, assetPath string) {
	res := api.fetch(r.Context(), assetPath)
	api.fetches.Inc(string(res.status))

	if res.status != fetchFound {
		requestID, _ := httpserver.RequestIDFromContext(r.Context())
		api.logger.Error("docs asset unavailable",
			"request_id", requestID,
			"outcome", string(res.status),
			"bucket", api.bucket,
			"key", api.objectKey(assetPath),
			"error", res.err,
		)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, emptyDocument)
		return
	}

	if res.contentType != "" {
		w.Header().Set("Content-Type", res.contentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.content)
}

func (api *docsAPI) objectKey(assetPath string) string {
	if api.prefix == "" {
		return assetPath
	}
	return api.prefix + "/" + assetPath
}

func (api *docsAPI) fetch(ctx context.Context, assetPath string) fetchResult {
	key := api.objectKey(assetPath)
	body, info, err := api.store.Get(ctx, api.bucket, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return fetchResult{status: fetchNotFound, err: err}
		}
		return fetchResult{status: fetchStorageError, err: err}
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return fetchResult{status: fetchStorageError, err: fmt.Errorf("read %s/%s: %w", api.bucket, key, err)}
	}

	content, transcoded, err := decodeContent(raw, info.ContentEncoding)
	if err != nil {
		return fetchResult{status: fetchDecodeError, err: fmt.Errorf("decode %s/%s: %w", api.bucket, key, err)}
	}

	contentType := info.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = typeByExtension(key)
	}
	if transcoded {
		contentType = withUTF8Charset(contentType, key)
	}
	return fetchResult{status: fetchFound, content: content, contentType: contentType}
}

// decodeContent undoes a declared content encoding. gzip is decompressed;
// any other value names the text charset and is transcoded to UTF-8, which
// the returned flag reports.
func decodeContent(raw []byte, encoding string) ([]byte, bool, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	switch encoding {
	case "", "identity":
		return raw, false, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, false, err
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		return out, false, err
	}

	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, false, fmt.Errorf("unknown content encoding %q", encoding)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	return out, true, err
}

// withUTF8Charset relabels a transcoded body. A missing or unparsable type
// falls back to the extension table.
func withUTF8Charset(contentType, key string) string {
	if contentType == "" {
		return typeByExtension(key)
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return typeByExtension(key)
	}
	params["charset"] = "utf-8"
	if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
		return formatted
	}
	return typeByExtension(key)
}

// typeByExtension covers the asset types a generated docs site carries;
// anything else is left to content sniffing.
func typeByExtension(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "text/javascript; charset=utf-8"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	}
	return ""
}
