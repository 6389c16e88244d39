package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Checkpoints is a sparse height->hash map enforced as a hard consensus
// rule: a block at a checkpointed height must match, and a reorg is never
// allowed to cross below the highest checkpoint the node has accepted
// (§4.3 step 9, §9 open question "reject outright"). Grounded on the
// teacher's checkpoints.go (file-backed, refreshed from a well-known URL on
// first run); this keeps the embedded-then-refreshed shape but swaps HTTP
// download for a DNS TXT lookup, matching CryptoNote daemons' conventional
// "checkpoints.dns-seed.example" refresh mechanism.
type Checkpoints struct {
	mu     sync.RWMutex
	points map[uint32]Hash
	sorted []uint32
}

// NewCheckpoints seeds a Checkpoints set from an embedded height:hex map.
func NewCheckpoints(embedded map[uint32]string) (*Checkpoints, error) {
	c := &Checkpoints{points: make(map[uint32]Hash)}
	for height, hashHex := range embedded {
		hash, err := HashFromHex(hashHex)
		if err != nil {
			return nil, fmt.Errorf("core: bad embedded checkpoint at %d: %w", height, err)
		}
		c.points[height] = hash
	}
	c.resort()
	return c, nil
}

func (c *Checkpoints) resort() {
	c.sorted = c.sorted[:0]
	for h := range c.points {
		c.sorted = append(c.sorted, h)
	}
	sort.Slice(c.sorted, func(i, j int) bool { return c.sorted[i] < c.sorted[j] })
}

// Add inserts a checkpoint, returning an error if it contradicts an
// already-known checkpoint at the same height; re-adding the same hash is a
// no-op. An existing checkpoint is never overwritten.
func (c *Checkpoints) Add(height uint32, hash Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.points[height]; ok && existing != hash {
		return fmt.Errorf("core: checkpoint conflict at height %d", height)
	}
	if _, existed := c.points[height]; !existed {
		c.points[height] = hash
		c.resort()
	}
	return nil
}

// Check reports whether a block at height/hash satisfies any checkpoint at
// that exact height; constrained is false (and satisfies true) when no
// checkpoint exists there (the caller should treat that as "not
// constrained", not as failure).
func (c *Checkpoints) Check(height uint32, hash Hash) (satisfies bool, constrained bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expected, exists := c.points[height]
	if !exists {
		return true, false
	}
	return expected == hash, true
}

// IsAlternativeBlockAllowed rejects alt-chain blocks whose height sits at
// or below the highest checkpoint already accepted on the main chain,
// implementing the "never reorg across a checkpoint" rule.
func (c *Checkpoints) IsAlternativeBlockAllowed(mainHeight, altHeight uint32) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.sorted) == 0 {
		return true
	}
	highest := c.sorted[len(c.sorted)-1]
	if mainHeight < highest {
		return true
	}
	return altHeight > highest
}

// TopHeight returns the highest known checkpoint height, or 0 if none.
func (c *Checkpoints) TopHeight() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.sorted) == 0 {
		return 0
	}
	return c.sorted[len(c.sorted)-1]
}

// RefreshFromDNS looks up TXT records at domain and merges any well-formed
// "height:hex64hash" entries found, skipping conflicts silently (a stale or
// malicious record can at worst fail to add a checkpoint, never override
// one already accepted).
func (c *Checkpoints) RefreshFromDNS(ctx context.Context, domain string) (added int, err error) {
	resolver := net.DefaultResolver
	records, err := resolver.LookupTXT(ctx, domain)
	if err != nil {
		return 0, fmt.Errorf("core: checkpoint DNS lookup failed: %w", err)
	}
	for _, rec := range records {
		height, hash, ok := parseCheckpointRecord(rec)
		if !ok {
			continue
		}
		if err := c.Add(height, hash); err == nil {
			added++
		}
	}
	return added, nil
}

func parseCheckpointRecord(rec string) (uint32, Hash, bool) {
	parts := strings.SplitN(strings.TrimSpace(rec), ":", 2)
	if len(parts) != 2 {
		return 0, Hash{}, false
	}
	height, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, Hash{}, false
	}
	hashHex := strings.TrimPrefix(strings.TrimSpace(parts[1]), "0x")
	if len(hashHex) != 64 {
		return 0, Hash{}, false
	}
	b, err := hex.DecodeString(hashHex)
	if err != nil || len(b) != 32 {
		return 0, Hash{}, false
	}
	var hash Hash
	copy(hash[:], b)
	return uint32(height), hash, true
}

// periodicRefresh calls RefreshFromDNS on an interval; kept here since it
// needs no state beyond the Checkpoints receiver. Nothing in this module
// starts it (daemon.go does not call it).
func (c *Checkpoints) periodicRefresh(ctx context.Context, domain string, interval time.Duration, logf func(format string, args ...any)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			added, err := c.RefreshFromDNS(ctx, domain)
			if err != nil {
				logf("checkpoint refresh failed: %v", err)
				continue
			}
			if added > 0 {
				logf("checkpoint refresh added %d new checkpoints", added)
			}
		}
	}
}
