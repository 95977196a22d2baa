package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) *RenderCache {
	s := miniredis.RunT(t)
	c, err := NewRenderCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create render cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestStoreAndGet(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	if err := c.Store(ctx, "c1", []byte("<p>hello</p>")); err != nil {
		t.Fatalf("store: %v", err)
	}

	rendered, err := c.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rendered) != "<p>hello</p>" {
		t.Fatalf("rendered = %q", rendered)
	}
}

func TestGetMiss(t *testing.T) {
	c := setupTestCache(t)

	_, err := c.Get(context.Background(), "absent")
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestInvalidateDropsAllGivenUids(t *testing.T) {
	c := setupTestCache(t)
	ctx := context.Background()

	for _, uid := range []string{"c1", "parent", "grandparent"} {
		if err := c.Store(ctx, uid, []byte("cached")); err != nil {
			t.Fatalf("store %s: %v", uid, err)
		}
	}

	if err := c.Invalidate(ctx, []string{"c1", "parent"}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if _, err := c.Get(ctx, "c1"); !errors.Is(err, ErrMiss) {
		t.Fatal("c1 should be invalidated")
	}
	if _, err := c.Get(ctx, "parent"); !errors.Is(err, ErrMiss) {
		t.Fatal("parent should be invalidated")
	}
	if _, err := c.Get(ctx, "grandparent"); err != nil {
		t.Fatal("untouched uid should remain cached")
	}
}

func TestInvalidateEmptyListIsNoOp(t *testing.T) {
	c := setupTestCache(t)
	if err := c.Invalidate(context.Background(), nil); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}
