package rediscache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableClient points at a listener that was closed, so every command fails fast.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestKey(t *testing.T) {
	t.Parallel()

	c := NewWithClient(unreachableClient(t), 0)
	if got, want := c.Key("photopick_ai", "abc"), "photopick:photopick_ai:abc"; got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	if c.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want default %v", c.ttl, DefaultTTL)
	}
}

func TestCache_ErrorsAreMisses(t *testing.T) {
	t.Parallel()

	c := NewWithClient(unreachableClient(t), time.Minute)
	ctx := context.Background()

	c.Set(ctx, "k", map[string]int{"a": 1})

	var dest map[string]int
	if c.Get(ctx, "k", &dest) {
		t.Error("Get on unreachable redis must report a miss")
	}
}

func TestCache_UnencodableValue(t *testing.T) {
	t.Parallel()

	c := NewWithClient(unreachableClient(t), time.Minute)
	c.Set(context.Background(), "k", make(chan int))
}

func TestNew_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), "not-a-url", 0); err == nil {
		t.Fatal("expected parse error")
	}
}
