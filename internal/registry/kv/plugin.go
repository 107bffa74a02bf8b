package kv

import (
	"context"
	"fmt"
	"time"
)

// Entry is one key/value pair returned by List. Value may be nil when the
// key expired or was deleted between the scan and the read.
type Entry struct {
	Key   string
	Value []byte
}

// ListResult is one page of a forward prefix enumeration.
type ListResult struct {
	Entries []Entry
	// NextCursor resumes the enumeration where this page left off. Opaque;
	// only meaningful when Complete is false.
	NextCursor string
	// Complete is true when the enumeration reached the end of the prefix.
	Complete bool
}

// Store is the storage primitive: an eventually-consistent key-value store
// with TTL expiry and forward, ascending-lexicographic prefix enumeration.
// There is no random access, no atomic counter, and a very recent Put is not
// guaranteed visible to a concurrent List.
type Store interface {
	// Get returns the value for key, or (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes key. A ttl of zero stores the key durably; a positive ttl
	// expires it automatically. Only durable keys are visible to List.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// List enumerates durable keys with the given prefix in ascending
	// lexicographic order, starting after the position encoded by cursor
	// (empty cursor starts at the beginning).
	List(ctx context.Context, prefix string, cursor string, limit int) (*ListResult, error)
	Close() error
}

// Loader creates a Store from config.
type Loader func(ctx context.Context) (Store, error)

// Plugin represents a KV backend plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a KV backend plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered KV plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named KV plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown kv backend %q; valid: %v", name, Names())
}
