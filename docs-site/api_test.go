package main

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/gx-hosting/internal/platform/metrics"
	"github.com/animus-labs/gx-hosting/internal/platform/objectstore"
	"github.com/animus-labs/gx-hosting/internal/platform/objectstore/objectstoretest"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
)

type docsFixture struct {
	store   *objectstoretest.MemoryStore
	reg     *prometheus.Registry
	handler http.Handler
}

func newDocsFixture(t *testing.T) *docsFixture {
	t.Helper()
	store := objectstoretest.NewMemoryStore()
	reg := prometheus.NewRegistry()
	fetches := metrics.NewOutcomes(reg, "docs_site_fetch_total", "fetches")

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	newDocsAPI(slog.New(slog.DiscardHandler), store, "pydata-demo", "default_data_docs_site", fetches).register(mux)
	return &docsFixture{store: store, reg: reg, handler: mux}
}

func (f *docsFixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServe_Found(t *testing.T) {
	f := newDocsFixture(t)
	f.store.Put("pydata-demo", "default_data_docs_site/static/styles/data_docs.css", []byte("body{}"), objectstore.ObjectInfo{ContentType: "text/css"})

	rec := f.get(t, "/static/styles/data_docs.css")
	if rec.Code != http.StatusOK || rec.Body.String() != "body{}" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/css" {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestServe_RootIsIndex(t *testing.T) {
	f := newDocsFixture(t)
	f.store.PutString("pydata-demo", "default_data_docs_site/index.html", "<html>index</html>")

	root := f.get(t, "/")
	index := f.get(t, "/index.html")
	if root.Body.String() != "<html>index</html>" || root.Body.String() != index.Body.String() {
		t.Fatalf("root=%q index=%q", root.Body.String(), index.Body.String())
	}
	if ct := root.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("content-type=%q", ct)
	}
}

func TestServe_MissingIsEmptyParagraph(t *testing.T) {
	f := newDocsFixture(t)

	rec := f.get(t, "/validations/missing.html")
	if rec.Code != http.StatusOK || rec.Body.String() != "<p></p>" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}

	metricsRec := f.get(t, "/metrics")
	if !strings.Contains(metricsRec.Body.String(), `docs_site_fetch_total{outcome="not_found"} 1`) {
		t.Fatalf("metrics missing not_found outcome:\n%s", metricsRec.Body.String())
	}
}

func TestServe_StorageErrorIsEmptyParagraph(t *testing.T) {
	f := newDocsFixture(t)
	f.store.Err = errors.New("connection reset")

	rec := f.get(t, "/index.html")
	if rec.Code != http.StatusOK || rec.Body.String() != "<p></p>" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	metricsRec := f.get(t, "/metrics")
	if !strings.Contains(metricsRec.Body.String(), `docs_site_fetch_total{outcome="storage_error"} 1`) {
		t.Fatalf("metrics missing storage_error outcome:\n%s", metricsRec.Body.String())
	}
}

func TestServe_GzipEncoded(t *testing.T) {
	f := newDocsFixture(t)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("<html>compressed</html>"))
	_ = zw.Close()
	f.store.Put("pydata-demo", "default_data_docs_site/index.html", buf.Bytes(), objectstore.ObjectInfo{ContentEncoding: "gzip", ContentType: "text/html"})

	rec := f.get(t, "/")
	if rec.Body.String() != "<html>compressed</html>" {
		t.Fatalf("body=%q", rec.Body.String())
	}
}

func TestServe_CharsetEncoded(t *testing.T) {
	f := newDocsFixture(t)
	// "café" in ISO-8859-1.
	f.store.Put("pydata-demo", "default_data_docs_site/cafe.html", []byte{'c', 'a', 'f', 0xe9}, objectstore.ObjectInfo{
		ContentEncoding: "iso-8859-1",
		ContentType:     "text/html; charset=iso-8859-1",
	})

	rec := f.get(t, "/cafe.html")
	if rec.Body.String() != "café" {
		t.Fatalf("body=%q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("content-type=%q", got)
	}
}

func TestServe_CharsetEncodedWithoutTypeUsesExtension(t *testing.T) {
	f := newDocsFixture(t)
	f.store.Put("pydata-demo", "default_data_docs_site/cafe.css", []byte{'/', '*', 0xe9, '*', '/'}, objectstore.ObjectInfo{ContentEncoding: "windows-1252"})

	rec := f.get(t, "/cafe.css")
	if rec.Body.String() != "/*é*/" {
		t.Fatalf("body=%q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/css; charset=utf-8" {
		t.Fatalf("content-type=%q", got)
	}
}

func TestWithUTF8Charset(t *testing.T) {
	cases := []struct {
		contentType, key, want string
	}{
		{"text/html; charset=iso-8859-1", "a.html", "text/html; charset=utf-8"},
		{"text/plain", "a.txt", "text/plain; charset=utf-8"},
		{"", "a.html", "text/html; charset=utf-8"},
		{";;bad", "a.css", "text/css; charset=utf-8"},
	}
	for _, tc := range cases {
		if got := withUTF8Charset(tc.contentType, tc.key); got != tc.want {
			t.Errorf("withUTF8Charset(%q, %q)=%q, want %q", tc.contentType, tc.key, got, tc.want)
		}
	}
}

func TestServe_UnknownEncodingIsEmptyParagraph(t *testing.T) {
	f := newDocsFixture(t)
	f.store.Put("pydata-demo", "default_data_docs_site/index.html", []byte("x"), objectstore.ObjectInfo{ContentEncoding: "rot13"})

	rec := f.get(t, "/")
	if rec.Body.String() != "<p></p>" {
		t.Fatalf("body=%q", rec.Body.String())
	}
}

func TestDecodeContent_Identity(t *testing.T) {
	got, transcoded, err := decodeContent([]byte("plain"), "")
	if err != nil || transcoded || string(got) != "plain" {
		t.Fatalf("decodeContent()=%q,%v,%v", got, transcoded, err)
	}
	if _, _, err := decodeContent([]byte("not gzip"), "gzip"); err == nil {
		t.Fatalf("expected error for corrupt gzip")
	}
}

func TestServe_ReadsEachRequestFromStorage(t *testing.T) {
	f := newDocsFixture(t)
	f.store.PutString("pydata-demo", "default_data_docs_site/index.html", "v1")
	_ = f.get(t, "/")
	f.store.PutString("pydata-demo", "default_data_docs_site/index.html", "v2")

	rec := f.get(t, "/")
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "v2" || f.store.Gets != 2 {
		t.Fatalf("body=%q gets=%d", body, f.store.Gets)
	}
}
