package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Put(ctx, "b", "k", strings.NewReader("hello"), 5, "text/plain"); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	info, err := store.Stat(ctx, "b", "k")
	if err != nil {
		t.Fatalf("Stat() err=%v", err)
	}
	if info.Size != 5 || info.ETag == "" {
		t.Fatalf("Stat()=%+v", info)
	}
	rc, _, err := store.Get(ctx, "b", "k")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("Get()=%q", data)
	}
	if store.Gets() != 1 {
		t.Fatalf("Gets()=%d, want 1", store.Gets())
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	_, err := NewMemoryStore().Stat(context.Background(), "b", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Stat() err=%v, want ErrNotFound", err)
	}
}
