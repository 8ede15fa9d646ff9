package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// NewMiniredisURL starts an in-memory Redis for the lifetime of the test and
// returns it with the redis:// URL the relay configuration expects.
func NewMiniredisURL(t *testing.T) (*miniredis.Miniredis, string) {
	t.Helper()

	mr := miniredis.RunT(t)

	return mr, "redis://" + mr.Addr()
}

// NewMiniredisClient returns an in-memory Redis and a client parsed from its URL.
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, url := NewMiniredisURL(t)

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("failed to parse miniredis url: %v", err)
	}

	client := redis.NewClient(opts)

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close redis client: %v", err)
		}
	})

	return mr, client
}
