package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientHeadAndGet(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		w.Header().Set("Content-Type", "image/png")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte("PNGDATA"))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{Cookie: "session=abc"}, srv.Client(), nil)

	ct, err := c.ContentType(context.Background(), srv.URL+"/img.png")
	if err != nil || ct != "image/png" {
		t.Fatalf("ContentType = %q, %v", ct, err)
	}
	if gotCookie != "session=abc" {
		t.Fatalf("cookie = %q", gotCookie)
	}

	body, ct, err := c.Fetch(context.Background(), srv.URL+"/img.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil || string(data) != "PNGDATA" || ct != "image/png" {
		t.Fatalf("body = %q, ct = %q, err = %v", data, ct, err)
	}
}

func TestClientRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{}, srv.Client(), nil)
	if _, _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestClientHeadTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{HeadTimeout: 20 * time.Millisecond}, srv.Client(), nil)
	if _, err := c.ContentType(context.Background(), srv.URL); err == nil {
		t.Fatal("expected timeout")
	}
}
