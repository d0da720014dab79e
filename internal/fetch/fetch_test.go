package fetch

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := New(hclog.NewNullLogger())
	var buf bytes.Buffer
	if err := f.Fetch(srv.URL, &buf); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if buf.String() != "payload" {
		t.Errorf("body = %q", buf.String())
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(hclog.NewNullLogger())
	var buf bytes.Buffer
	if err := f.Fetch(srv.URL, &buf); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestFetchCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("cached payload"))
	}))
	defer srv.Close()

	f := New(hclog.NewNullLogger(), WithCacheDir(t.TempDir()))

	for i := 0; i < 3; i++ {
		var buf bytes.Buffer
		if err := f.Fetch(srv.URL, &buf); err != nil {
			t.Fatalf("Fetch() #%d error = %v", i, err)
		}
		if buf.String() != "cached payload" {
			t.Errorf("body #%d = %q", i, buf.String())
		}
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
}
