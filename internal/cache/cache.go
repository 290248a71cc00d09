// Package cache memoizes oracle answers keyed by a fingerprint of the
// decrypted session snapshot and the analysis kind.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/taxledger/internal/kv"
	"github.com/dvloznov/taxledger/internal/logger"
)

const DefaultTTL = 24 * time.Hour

// Fingerprint derives the cache key for a snapshot and analysis kind. It is a
// pure function, so keys survive process restarts.
func Fingerprint(snapshotText, kind string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(snapshotText))
	return hex.EncodeToString(h.Sum(nil))
}

type Options struct {
	TTL time.Duration
	// Prefix namespaces entries and the session index in a shared store.
	Prefix string
}

// Cache stores answers in a kv.Store and indexes them by owning session so a
// session's entries can be invalidated without scanning.
type Cache struct {
	kv    kv.Store
	opts  Options
	log   zerolog.Logger
	group singleflight.Group
}

func New(store kv.Store, opts Options, log zerolog.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Prefix == "" {
		opts.Prefix = "analysis"
	}
	return &Cache{kv: store, opts: opts, log: log}
}

func (c *Cache) entryKey(fingerprint string) string {
	return c.opts.Prefix + ":entry:" + fingerprint
}

func (c *Cache) indexKey(session string) string {
	return c.opts.Prefix + ":session:" + session
}

// Get returns the cached answer for fingerprint if present and unexpired.
func (c *Cache) Get(ctx context.Context, fingerprint string) (string, bool, error) {
	answer, ok, err := c.kv.Get(ctx, c.entryKey(fingerprint))
	if err != nil {
		return "", false, fmt.Errorf("Get: %w", err)
	}
	return answer, ok, nil
}

// Set stores answer under fingerprint and records it in the session index.
// The index lives as long as the newest entry.
func (c *Cache) Set(ctx context.Context, session, fingerprint, answer string) error {
	if err := c.kv.Set(ctx, c.entryKey(fingerprint), answer, c.opts.TTL); err != nil {
		return fmt.Errorf("Set: entry: %w", err)
	}
	idx := c.indexKey(session)
	if err := c.kv.SAdd(ctx, idx, fingerprint); err != nil {
		return fmt.Errorf("Set: index: %w", err)
	}
	if err := c.kv.Expire(ctx, idx, c.opts.TTL); err != nil {
		return fmt.Errorf("Set: index ttl: %w", err)
	}
	return nil
}

// InvalidateSession removes every entry recorded for session and returns how
// many existed. Identical snapshots cached by another session share the same
// entry and are evicted as well; that costs them one recomputation.
func (c *Cache) InvalidateSession(ctx context.Context, session string) (int, error) {
	idx := c.indexKey(session)
	members, err := c.kv.SMembers(ctx, idx)
	if err != nil {
		return 0, fmt.Errorf("InvalidateSession: members: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, c.entryKey(m))
	}
	keys = append(keys, idx)

	n, err := c.kv.Del(ctx, keys...)
	if err != nil {
		return 0, fmt.Errorf("InvalidateSession: del: %w", err)
	}

	removed := int(n)
	if len(members) > 0 {
		// the index key itself is not an entry
		removed--
	}
	if removed < 0 {
		removed = 0
	}

	log := logger.WithSession(c.log, session, "cache")
	log.Debug().Int("removed", removed).Msg("Invalidated session cache")
	return removed, nil
}

// Compute produces an answer on a cache miss.
type Compute func(ctx context.Context) (string, error)

// GetOrCompute returns the cached answer for (snapshotText, kind) or runs
// compute once, caches its result and returns it. Concurrent callers for the
// same fingerprint share one compute call. Cache write failures are logged.
func (c *Cache) GetOrCompute(ctx context.Context, session, snapshotText, kind string, compute Compute) (answer string, hit bool, err error) {
	fp := Fingerprint(snapshotText, kind)
	log := logger.WithSession(c.log, session, "cache").With().Str("kind", kind).Logger()

	cached, ok, err := c.Get(ctx, fp)
	if err != nil {
		log.Warn().Err(err).Msg("Cache read failed, computing answer")
	} else if ok {
		log.Debug().Msg("Cache hit")
		return cached, true, nil
	}

	v, err, _ := c.group.Do(fp, func() (interface{}, error) {
		return compute(ctx)
	})
	if err != nil {
		return "", false, fmt.Errorf("GetOrCompute: %w", err)
	}
	answer = v.(string)

	// Every caller indexes the entry under its own session.
	if err := c.Set(ctx, session, fp, answer); err != nil {
		log.Warn().Err(err).Msg("Failed to cache answer")
	}
	return answer, false, nil
}
