package auth_test

import (
	"sync"
	"time"

	"authcore/internal/auth"
)

var testSigningKey = []byte("test-signing-key-0123456789abcdef")

// fastHashParams keeps argon2id cheap enough for tests.
func fastHashParams() auth.HashParams {
	return auth.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func testConfig() auth.Config {
	cfg := auth.DefaultConfig(testSigningKey)
	cfg.Hash = fastHashParams()
	return cfg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second).Add(500 * time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
