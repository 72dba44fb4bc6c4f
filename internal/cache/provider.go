// Package cache stores encoded forecast reports keyed by run fingerprint.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the byte store behind the report cache.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

const reportKeyPrefix = "report:"

// ReportKey returns the key a report is stored under for a settings fingerprint.
func ReportKey(fingerprint string) string {
	return reportKeyPrefix + fingerprint
}

// NoopProvider never stores anything, so every run recomputes.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op.
func (NoopProvider) Del(context.Context, string) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
