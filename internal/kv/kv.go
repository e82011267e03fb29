// Package kv defines the small key-value contract used for the backup
// medium, the active-space marker, and extraction job status records.
package kv

import "context"

// Store is a string key-value store. Get reports presence explicitly so an
// empty value can be distinguished from an absent key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
