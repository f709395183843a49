package exec

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DuplicateGuardConfig controls deduplication windows and cache bounds.
type DuplicateGuardConfig struct {
	DedupWindow  time.Duration `yaml:"dedup_window"`   // default 60s
	Cooldown     time.Duration `yaml:"cooldown"`       // per-symbol, default 10s
	MaxCacheSize int           `yaml:"max_cache_size"` // default 10000
}

// DefaultDuplicateGuardConfig returns production deduplication parameters.
func DefaultDuplicateGuardConfig() DuplicateGuardConfig {
	return DuplicateGuardConfig{
		DedupWindow:  60 * time.Second,
		Cooldown:     10 * time.Second,
		MaxCacheSize: 10000,
	}
}

func (c DuplicateGuardConfig) validate() error {
	if c.DedupWindow <= 0 || c.Cooldown <= 0 || c.MaxCacheSize <= 0 {
		return fmt.Errorf("dupguard: windows and cache size must be positive, got %+v", c)
	}
	return nil
}

type cacheEntry struct {
	key  string
	seen time.Time
}

// DuplicateGuard blocks resubmission of logically identical orders. An
// attempt is a duplicate if the symbol saw any order inside the cooldown, or
// the identical idempotency key was seen inside the dedup window.
// Check-and-insert is atomic under one lock.
type DuplicateGuard struct {
	mu     sync.Mutex
	config DuplicateGuardConfig

	entries   map[string]*list.Element // idempotency key -> cacheEntry element
	order     *list.List               // insertion order, oldest at front
	lastOrder map[string]time.Time     // symbol -> last order time

	now func() time.Time // test hook
}

// NewDuplicateGuard validates the config and returns an empty guard.
func NewDuplicateGuard(config DuplicateGuardConfig) (*DuplicateGuard, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &DuplicateGuard{
		config:    config,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
		lastOrder: make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// IdempotencyKey returns the deterministic fingerprint of an order's
// defining parameters. Quantity and price are rounded to 8 decimals so float
// noise cannot defeat deduplication.
func IdempotencyKey(symbol, side string, quantity, price float64, orderType string) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%s",
		symbol,
		strings.ToUpper(side),
		trimFloat(quantity),
		trimFloat(price),
		strings.ToUpper(orderType))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// CheckAndReserve reports whether the order is a duplicate. A non-duplicate
// is recorded in the same critical section, so concurrent submissions of the
// same logical order cannot both pass.
func (g *DuplicateGuard) CheckAndReserve(symbol, side string, quantity, price float64, orderType, idempotencyKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if last, ok := g.lastOrder[symbol]; ok {
		if since := now.Sub(last); since < g.config.Cooldown {
			log.Warn().
				Str("symbol", symbol).
				Dur("since_last", since).
				Dur("cooldown", g.config.Cooldown).
				Msg("dupguard: blocked by symbol cooldown")
			return true
		}
	}

	key := idempotencyKey
	if key == "" {
		key = IdempotencyKey(symbol, side, quantity, price, orderType)
	}

	if elem, ok := g.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		if since := now.Sub(entry.seen); since < g.config.DedupWindow {
			log.Warn().
				Str("symbol", symbol).
				Str("side", side).
				Str("key", key[:min(len(key), 8)]).
				Dur("since_last", since).
				Msg("dupguard: blocked duplicate key")
			return true
		}
		// Window elapsed: refresh the entry in place.
		entry.seen = now
		g.order.MoveToBack(elem)
	} else {
		g.entries[key] = g.order.PushBack(&cacheEntry{key: key, seen: now})
	}

	g.evictLocked(now)
	return false
}

// RecordOrderSent marks a completed submission for cooldown tracking.
func (g *DuplicateGuard) RecordOrderSent(symbol, idempotencyKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.lastOrder[symbol] = now
	if idempotencyKey == "" {
		return
	}
	if elem, ok := g.entries[idempotencyKey]; ok {
		elem.Value.(*cacheEntry).seen = now
		g.order.MoveToBack(elem)
	} else {
		g.entries[idempotencyKey] = g.order.PushBack(&cacheEntry{key: idempotencyKey, seen: now})
	}
}

// evictLocked drops entries older than twice the dedup window and enforces
// the size cap, oldest first.
func (g *DuplicateGuard) evictLocked(now time.Time) {
	cutoff := now.Add(-2 * g.config.DedupWindow)
	for g.order.Len() > 0 {
		front := g.order.Front()
		entry := front.Value.(*cacheEntry)
		if entry.seen.After(cutoff) {
			break
		}
		g.order.Remove(front)
		delete(g.entries, entry.key)
	}
	for g.order.Len() > g.config.MaxCacheSize {
		front := g.order.Front()
		g.order.Remove(front)
		delete(g.entries, front.Value.(*cacheEntry).key)
	}
}

// Reset clears all cached state.
func (g *DuplicateGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[string]*list.Element)
	g.order.Init()
	g.lastOrder = make(map[string]time.Time)
}

// Stats returns cache occupancy for operator surfaces.
func (g *DuplicateGuard) Stats() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return map[string]interface{}{
		"cache_size":      len(g.entries),
		"tracked_symbols": len(g.lastOrder),
		"dedup_window":    g.config.DedupWindow.String(),
		"cooldown":        g.config.Cooldown.String(),
	}
}
