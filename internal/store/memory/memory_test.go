package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/hamed0406/devicewatch/internal/store"
)

func TestMemoryStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := store.Namespace(s, "ota_rollback")
	b := store.Namespace(s, "firmware")

	if err := a.PutUint(ctx, "boot_fail_count", 3); err != nil {
		t.Fatalf("PutUint: %v", err)
	}
	if v, err := b.GetUint(ctx, "boot_fail_count", 0); err != nil || v != 0 {
		t.Fatalf("namespace leak: v=%d err=%v", v, err)
	}
	if v, err := a.GetUint(ctx, "boot_fail_count", 0); err != nil || v != 3 {
		t.Fatalf("GetUint: v=%d err=%v", v, err)
	}
}

func TestMemoryStore_CorruptAndRemove(t *testing.T) {
	ctx := context.Background()
	s := New()
	kv := store.Namespace(s, "ns")

	_ = kv.PutString(ctx, "n", "not-a-number")
	v, err := kv.GetUint(ctx, "n", 7)
	if !errors.Is(err, store.ErrCorrupt) || v != 7 {
		t.Fatalf("want ErrCorrupt and default, got v=%d err=%v", v, err)
	}

	if err := kv.Remove(ctx, "n"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := kv.Has(ctx, "n"); ok {
		t.Fatal("key still present after Remove")
	}
	if err := kv.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}

func TestMemoryStore_InjectedFailure(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.FailGet = errors.New("flash read error")
	kv := store.Namespace(s, "ns")
	v, err := kv.GetUint(ctx, "k", 0)
	if err == nil || v != 0 {
		t.Fatalf("want error and default, got v=%d err=%v", v, err)
	}
}
