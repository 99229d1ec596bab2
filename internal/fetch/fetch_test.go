package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civicdata/healthsnap/internal/schema"
)

func ref(url string) schema.DocumentRef {
	return schema.DocumentRef{URL: url, Tag: "test", DiscoveredAt: time.Now()}
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "healthsnap-test", MaxAttempts: 2, PerRequestTimeout: 2 * time.Second}
	raw, err := c.Fetch(context.Background(), ref(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw.ContentType == "" || len(raw.Body) == 0 {
		t.Fatalf("expected content type and body")
	}
	if raw.FetchedAt.IsZero() {
		t.Fatalf("expected fetch timestamp")
	}
}

func TestFetch_RetryOn5xx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(502)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(200)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	c := &Client{UserAgent: "healthsnap-test", MaxAttempts: 2, Backoff: 10 * time.Millisecond, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Fetch(context.Background(), ref(srv.URL)); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestFetch_ExhaustedRetriesSurfaceErrFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 2, Backoff: 10 * time.Millisecond, PerRequestTimeout: 2 * time.Second}
	_, err := c.Fetch(context.Background(), ref(srv.URL))
	if !errors.Is(err, schema.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
}

func TestFetch_NonRetryableStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(404)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 3, Backoff: 10 * time.Millisecond, PerRequestTimeout: 2 * time.Second}
	_, err := c.Fetch(context.Background(), ref(srv.URL))
	if !errors.Is(err, schema.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("404 should not be retried; got %d calls", calls)
	}
}

func TestFetch_EmptyBodyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second}
	if _, err := c.Fetch(context.Background(), ref(srv.URL)); !errors.Is(err, schema.ErrFetch) {
		t.Fatalf("expected ErrFetch for empty body, got %v", err)
	}
}

func TestFetch_RejectsNonHTTP(t *testing.T) {
	c := &Client{MaxAttempts: 1, PerRequestTimeout: time.Second}
	if _, err := c.Fetch(context.Background(), ref("file:///etc/hosts")); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
}

func TestFetch_RedirectLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/next", http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, RedirectMaxHops: 1}
	if _, err := c.Fetch(context.Background(), ref(srv.URL)); err == nil {
		t.Fatalf("expected redirect limit error")
	}
}

func TestFetch_MaxConcurrent(t *testing.T) {
	var inFlight int32
	var maxObserved int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		curr := atomic.AddInt32(&inFlight, 1)
		for {
			prev := atomic.LoadInt32(&maxObserved)
			if curr > prev {
				if atomic.CompareAndSwapInt32(&maxObserved, prev, curr) {
					break
				}
				continue
			}
			break
		}
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("ok"))
		atomic.AddInt32(&inFlight, -1)
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 1, PerRequestTimeout: 2 * time.Second, MaxConcurrent: 2}

	var wg sync.WaitGroup
	start := make(chan struct{})
	num := 6
	wg.Add(num)
	for i := 0; i < num; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, _ = c.Fetch(context.Background(), ref(srv.URL))
		}()
	}
	close(start)
	wg.Wait()

	if maxObserved > 2 {
		t.Fatalf("expected max concurrency <= 2, got %d", maxObserved)
	}
}
