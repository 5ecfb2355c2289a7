package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestInMemoryCacheStore_SetGetDelete(t *testing.T) {
	store := NewInMemoryCacheStore()
	store.Set("key1", []byte("value1"), 5*time.Minute)

	data, ok := store.Get("key1")
	if !ok || string(data) != "value1" {
		t.Fatalf("expected hit with value1, got %q %v", data, ok)
	}

	store.Delete("key1")
	if _, ok := store.Get("key1"); ok {
		t.Error("expected miss after delete")
	}
}

func TestInMemoryCacheStore_Expiration(t *testing.T) {
	store := NewInMemoryCacheStore()
	store.Set("key1", []byte("value1"), time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	if _, ok := store.Get("key1"); ok {
		t.Error("expected cache miss for expired entry")
	}
}

func TestInMemoryCacheStore_DeletePrefix(t *testing.T) {
	store := NewInMemoryCacheStore()
	store.Set("ward_a|/api/v1/admissions", []byte("1"), time.Minute)
	store.Set("ward_a|/api/v1/admissions?limit=5", []byte("2"), time.Minute)
	store.Set("ward_a|/api/v1/patients", []byte("3"), time.Minute)
	store.Set("ward_b|/api/v1/admissions", []byte("4"), time.Minute)

	if n := store.DeletePrefix("ward_a|/api/v1/admissions"); n != 2 {
		t.Errorf("expected 2 entries removed, got %d", n)
	}
	if _, ok := store.Get("ward_a|/api/v1/patients"); !ok {
		t.Error("patients listing should survive")
	}
	if _, ok := store.Get("ward_b|/api/v1/admissions"); !ok {
		t.Error("other tenant should survive")
	}
}

func TestInMemoryCacheStore_Clear(t *testing.T) {
	store := NewInMemoryCacheStore()
	store.Set("key1", []byte("value1"), 5*time.Minute)
	store.Set("key2", []byte("value2"), 5*time.Minute)
	store.Clear()

	_, ok1 := store.Get("key1")
	_, ok2 := store.Get("key2")
	if ok1 || ok2 {
		t.Error("expected cache to be empty after clear")
	}
}

func TestInMemoryCacheStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryCacheStore()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); store.Set("key", []byte("value"), time.Minute) }()
		go func() { defer wg.Done(); store.Get("key") }()
		go func() { defer wg.Done(); store.DeletePrefix("k") }()
	}
	wg.Wait()
}

func TestInMemoryCacheStore_StartCleanup(t *testing.T) {
	store := NewInMemoryCacheStore()
	store.Set("key1", []byte("value1"), time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	store.StartCleanup(ctx, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()

	store.mu.RLock()
	n := len(store.entries)
	store.mu.RUnlock()
	if n != 0 {
		t.Errorf("expected expired entry to be swept, %d left", n)
	}
}

func serveCached(rc *ResponseCache, h echo.HandlerFunc, tenant, target string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("tenant_id", tenant)
	_ = rc.Middleware()(h)(c)
	return rec
}

func TestResponseCache_MissThenHit(t *testing.T) {
	rc := NewResponseCache(NewInMemoryCacheStore(), 5*time.Minute)
	calls := 0
	h := func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, map[string]int{"total": 3})
	}

	rec1 := serveCached(rc, h, "ward_a", "/api/v1/admissions")
	if rec1.Header().Get("X-Cache") != "MISS" {
		t.Errorf("first request: expected MISS, got %q", rec1.Header().Get("X-Cache"))
	}

	rec2 := serveCached(rc, h, "ward_a", "/api/v1/admissions")
	if rec2.Header().Get("X-Cache") != "HIT" {
		t.Errorf("second request: expected HIT, got %q", rec2.Header().Get("X-Cache"))
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Errorf("cached body %q differs from original %q", rec2.Body.String(), rec1.Body.String())
	}
	if calls != 1 {
		t.Errorf("expected handler called once, called %d times", calls)
	}
}

func TestResponseCache_KeyedByTenantAndQuery(t *testing.T) {
	rc := NewResponseCache(NewInMemoryCacheStore(), 5*time.Minute)
	calls := 0
	h := func(c echo.Context) error {
		calls++
		return c.String(http.StatusOK, "data")
	}

	serveCached(rc, h, "ward_a", "/api/v1/admissions")
	serveCached(rc, h, "ward_b", "/api/v1/admissions")
	serveCached(rc, h, "ward_a", "/api/v1/admissions?offset=20")

	if calls != 3 {
		t.Errorf("expected 3 distinct cache entries, handler called %d times", calls)
	}
}

func TestResponseCache_DoesNotStoreErrors(t *testing.T) {
	rc := NewResponseCache(NewInMemoryCacheStore(), 5*time.Minute)
	calls := 0
	h := func(c echo.Context) error {
		calls++
		return c.String(http.StatusInternalServerError, "boom")
	}

	serveCached(rc, h, "ward_a", "/api/v1/admissions")
	serveCached(rc, h, "ward_a", "/api/v1/admissions")
	if calls != 2 {
		t.Errorf("error responses must not be cached, handler called %d times", calls)
	}
}

func TestResponseCache_SkipsNonGET(t *testing.T) {
	rc := NewResponseCache(NewInMemoryCacheStore(), 5*time.Minute)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admissions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := rc.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get("X-Cache") != "" {
		t.Errorf("POST should bypass the cache, got X-Cache=%q", rec.Header().Get("X-Cache"))
	}
}

func TestResponseCache_Invalidate(t *testing.T) {
	rc := NewResponseCache(NewInMemoryCacheStore(), 5*time.Minute)
	calls := 0
	h := func(c echo.Context) error {
		calls++
		return c.String(http.StatusOK, "data")
	}

	serveCached(rc, h, "ward_a", "/api/v1/admissions")
	serveCached(rc, h, "ward_a", "/api/v1/admissions?limit=5")

	if n := rc.Invalidate("ward_a", "/api/v1/admissions"); n != 2 {
		t.Errorf("expected 2 invalidated entries, got %d", n)
	}

	rec := serveCached(rc, h, "ward_a", "/api/v1/admissions")
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("expected MISS after invalidation, got %q", rec.Header().Get("X-Cache"))
	}
	if calls != 3 {
		t.Errorf("expected handler called 3 times, got %d", calls)
	}
}

func TestCacheKey(t *testing.T) {
	if got := cacheKey("ward_a", "/p", ""); got != "ward_a|/p" {
		t.Errorf("cacheKey() = %q", got)
	}
	if got := cacheKey("ward_a", "/p", "x=1"); got != "ward_a|/p?x=1" {
		t.Errorf("cacheKey() = %q", got)
	}
}
