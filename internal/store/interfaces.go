package store

import (
	"context"
)

// EntryKey addresses one cached value. Repo is the repo slot of the two-part
// key and may carry a folded variant ("repo|short").
type EntryKey struct {
	Namespace string
	Owner     string
	Repo      string
}

// Entry is a key together with its value.
type Entry struct {
	EntryKey
	Value string
}

// EntryReader provides read access to cached values.
type EntryReader interface {
	// Get returns ok=false without error when the key is absent.
	Get(ctx context.Context, k EntryKey) (value string, ok bool, err error)
}

// EntryWriter provides write access to cached values.
type EntryWriter interface {
	Put(ctx context.Context, k EntryKey, value string) error
	// PutAll writes every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
}

// KV combines read and write access; it is the persistence collaborator the
// cache client is built on.
type KV interface {
	EntryReader
	EntryWriter
}
