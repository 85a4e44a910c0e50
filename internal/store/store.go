// Package store is the durable key/value port shared by the watchdog and
// the version tracker. Values are strings on the wire; KV adds the typed
// accessors. Every write is atomic per key.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrCorrupt reports a stored value that cannot be decoded.
var ErrCorrupt = errors.New("store: corrupt value")

// Backend persists raw values, namespaced per subsystem.
type Backend interface {
	// Get returns ok=false, err=nil when the key does not exist.
	Get(ctx context.Context, ns, key string) (value string, ok bool, err error)
	Put(ctx context.Context, ns, key, value string) error
	Delete(ctx context.Context, ns, key string) error
}

// KV is a typed view of one namespace.
type KV struct {
	b  Backend
	ns string
}

func Namespace(b Backend, ns string) KV {
	return KV{b: b, ns: ns}
}

func (kv KV) Name() string { return kv.ns }

// GetUint returns def when the key is missing. On a read or decode failure
// it returns def together with the error.
func (kv KV) GetUint(ctx context.Context, key string, def uint64) (uint64, error) {
	raw, ok, err := kv.b.Get(ctx, kv.ns, key)
	if err != nil {
		return def, fmt.Errorf("get %s/%s: %w", kv.ns, key, err)
	}
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def, fmt.Errorf("get %s/%s=%q: %w", kv.ns, key, raw, ErrCorrupt)
	}
	return v, nil
}

func (kv KV) PutUint(ctx context.Context, key string, v uint64) error {
	if err := kv.b.Put(ctx, kv.ns, key, strconv.FormatUint(v, 10)); err != nil {
		return fmt.Errorf("put %s/%s: %w", kv.ns, key, err)
	}
	return nil
}

func (kv KV) GetString(ctx context.Context, key, def string) (string, error) {
	raw, ok, err := kv.b.Get(ctx, kv.ns, key)
	if err != nil {
		return def, fmt.Errorf("get %s/%s: %w", kv.ns, key, err)
	}
	if !ok {
		return def, nil
	}
	return raw, nil
}

func (kv KV) PutString(ctx context.Context, key, v string) error {
	if err := kv.b.Put(ctx, kv.ns, key, v); err != nil {
		return fmt.Errorf("put %s/%s: %w", kv.ns, key, err)
	}
	return nil
}

// Has reports whether key exists.
func (kv KV) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := kv.b.Get(ctx, kv.ns, key)
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", kv.ns, key, err)
	}
	return ok, nil
}

// Remove is a no-op for missing keys.
func (kv KV) Remove(ctx context.Context, key string) error {
	if err := kv.b.Delete(ctx, kv.ns, key); err != nil {
		return fmt.Errorf("remove %s/%s: %w", kv.ns, key, err)
	}
	return nil
}
