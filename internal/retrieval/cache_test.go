package retrieval

import (
	"bytes"
	"testing"
	"time"
)

func TestQueryCacheHitIsBitIdentical(t *testing.T) {
	cache := NewQueryCache(time.Hour)
	payload := []byte(`{"result":{"uids":["1","2"]}}`)

	cache.Set("key", payload)
	if got := cache.Get("key"); !bytes.Equal(got, payload) {
		t.Errorf("Get = %s, want %s", got, payload)
	}
}

func TestQueryCacheMiss(t *testing.T) {
	cache := NewQueryCache(time.Hour)
	if got := cache.Get("absent"); got != nil {
		t.Errorf("Get = %v, want nil", got)
	}
}

func TestQueryCacheTTLEviction(t *testing.T) {
	cache := NewQueryCache(time.Hour)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.Set("key", []byte("payload"))
	if cache.Get("key") == nil {
		t.Fatal("fresh entry should hit")
	}

	now = now.Add(2 * time.Hour)
	if got := cache.Get("key"); got != nil {
		t.Errorf("expired entry returned: %s", got)
	}
	if cache.Len() != 0 {
		t.Errorf("Len = %d, want 0", cache.Len())
	}
}

func TestQueryCacheDefaultTTL(t *testing.T) {
	cache := NewQueryCache(0)
	if cache.ttl != DefaultCacheTTL {
		t.Errorf("ttl = %v, want %v", cache.ttl, DefaultCacheTTL)
	}
}

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Glioblastoma   Management", "glioblastoma management"},
		{"  spaced  out \n query ", "spaced out query"},
		{"already normal", "already normal"},
	}
	for _, tt := range tests {
		if got := NormalizeQuery(tt.in); got != tt.want {
			t.Errorf("NormalizeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
