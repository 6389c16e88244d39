package p2p

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/syfer-network/cnnode/protocol/params"
)

// PeerRecord is one entry in a peer list: address plus everything the
// connection maker and ban logic need, persisted across restarts.
type PeerRecord struct {
	Addr     string `json:"addr"` // host:port
	PeerID   uint64 `json:"peer_id"`
	LastSeen int64  `json:"last_seen"` // unix seconds
	Score    int    `json:"score"`
}

// Ban thresholds and durations, carried from the teacher's reputation model
// (pex.go), which the handshake/relay code below drives identically:
// invalid data and misbehavior subtract score, successful exchanges add it,
// and a score at or below zero bans the peer.
const (
	ScoreThresholdBan     = 0
	ScorePenaltyInvalid   = -10
	ScorePenaltyTimeout   = -5
	ScorePenaltyMisbehave = -25
	ScoreRewardGood       = 1

	BanDurationShort  = 15 * time.Minute
	BanDurationMedium = 2 * time.Hour
	BanDurationLong   = 24 * time.Hour

	MaxBansBeforePermanent = 5
)

// BanRecord tracks a banned address.
type BanRecord struct {
	Addr      string    `json:"addr"`
	Reason    string    `json:"reason"`
	BannedAt  time.Time `json:"banned_at"`
	ExpiresAt time.Time `json:"expires_at"`
	BanCount  int       `json:"ban_count"`
	Permanent bool      `json:"permanent"`
}

var (
	bucketWhite  = []byte("white")
	bucketGray   = []byte("gray")
	bucketAnchor = []byte("anchor")
	bucketBanned = []byte("banned")
)

// PeerList is the white/gray/anchor peer-list trio from §4.5, persisted as a
// bbolt database (p2pstate.bin) instead of the teacher's flat JSON blob, so
// a crash mid-write cannot corrupt the file (EXPANSION, SPEC_FULL.md §4.5).
type PeerList struct {
	mu sync.RWMutex
	db *bbolt.DB

	white  map[string]*PeerRecord
	gray   map[string]*PeerRecord
	anchor map[string]*PeerRecord
	banned map[string]*BanRecord

	seeds []string
}

// NewPeerList opens (or creates) the p2pstate.bin database under dataDir and
// loads all four buckets into memory; lookups and connection-maker selection
// run against the in-memory maps, with list membership and last-seen changes
// written through to bbolt in the same call (mirrors storage.go's
// open-then-cache pattern). Score changes from Penalize and Reward stay in
// memory until that record is next written.
func NewPeerList(dataDir string, seeds []string) (*PeerList, error) {
	db, err := bbolt.Open(dataDir+"/p2pstate.bin", 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("p2p: open peer list: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketWhite, bucketGray, bucketAnchor, bucketBanned} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	pl := &PeerList{
		db:     db,
		white:  map[string]*PeerRecord{},
		gray:   map[string]*PeerRecord{},
		anchor: map[string]*PeerRecord{},
		banned: map[string]*BanRecord{},
		seeds:  seeds,
	}
	if err := pl.loadAll(); err != nil {
		db.Close()
		return nil, err
	}
	return pl, nil
}

func (pl *PeerList) loadAll() error {
	return pl.db.View(func(tx *bbolt.Tx) error {
		loadBucket := func(name []byte, dst map[string]*PeerRecord) error {
			return tx.Bucket(name).ForEach(func(k, v []byte) error {
				var rec PeerRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				dst[string(k)] = &rec
				return nil
			})
		}
		if err := loadBucket(bucketWhite, pl.white); err != nil {
			return err
		}
		if err := loadBucket(bucketGray, pl.gray); err != nil {
			return err
		}
		if err := loadBucket(bucketAnchor, pl.anchor); err != nil {
			return err
		}
		return tx.Bucket(bucketBanned).ForEach(func(k, v []byte) error {
			var rec BanRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			pl.banned[string(k)] = &rec
			return nil
		})
	})
}

func (pl *PeerList) persist(bucket []byte, key string, v interface{}) error {
	return pl.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (pl *PeerList) delete(bucket []byte, key string) error {
	return pl.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (pl *PeerList) Close() error { return pl.db.Close() }

func evictOldestLocked(m map[string]*PeerRecord, limit int, pl *PeerList, bucket []byte) {
	for len(m) > limit {
		var oldestAddr string
		var oldestSeen int64 = 1<<63 - 1
		for addr, rec := range m {
			if rec.LastSeen < oldestSeen {
				oldestSeen = rec.LastSeen
				oldestAddr = addr
			}
		}
		if oldestAddr == "" {
			return
		}
		delete(m, oldestAddr)
		_ = pl.delete(bucket, oldestAddr)
	}
}

// PromoteToWhite records a successfully handshaken (and, if advertised,
// back-pinged) peer in the white list, per spec's handshake contract.
func (pl *PeerList) PromoteToWhite(addr string, peerID uint64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	rec := &PeerRecord{Addr: addr, PeerID: peerID, LastSeen: time.Now().Unix(), Score: 10}
	pl.white[addr] = rec
	delete(pl.gray, addr)
	_ = pl.persist(bucketWhite, addr, rec)
	_ = pl.delete(bucketGray, addr)
	evictOldestLocked(pl.white, params.WhitePeerlistLimit, pl, bucketWhite)
}

// AddGray records a peer learned about from another peer's handshake
// response, unverified until we handshake with it ourselves.
func (pl *PeerList) AddGray(addr string, peerID uint64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, ok := pl.white[addr]; ok {
		return
	}
	rec := &PeerRecord{Addr: addr, PeerID: peerID, LastSeen: time.Now().Unix()}
	pl.gray[addr] = rec
	_ = pl.persist(bucketGray, addr, rec)
	evictOldestLocked(pl.gray, params.GrayPeerlistLimit, pl, bucketGray)
}

// RecordAnchor records a peer we dialed outbound, for reconnection stability
// across restarts (the small, size-capped "anchor" list).
func (pl *PeerList) RecordAnchor(addr string, peerID uint64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	rec := &PeerRecord{Addr: addr, PeerID: peerID, LastSeen: time.Now().Unix()}
	pl.anchor[addr] = rec
	_ = pl.persist(bucketAnchor, addr, rec)
	evictOldestLocked(pl.anchor, params.AnchorPeerlistLimit, pl, bucketAnchor)
}

// Touch bumps a white-listed peer's last-seen time, used on timed sync.
func (pl *PeerList) Touch(addr string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if rec, ok := pl.white[addr]; ok {
		rec.LastSeen = time.Now().Unix()
		_ = pl.persist(bucketWhite, addr, rec)
	}
}

// Penalize lowers a peer's reputation score and bans it once the score
// reaches ScoreThresholdBan.
func (pl *PeerList) Penalize(addr string, delta int, reason string) {
	pl.mu.Lock()
	rec, ok := pl.white[addr]
	if !ok {
		rec, ok = pl.gray[addr]
	}
	if ok {
		rec.Score += delta
		if rec.Score <= ScoreThresholdBan {
			pl.mu.Unlock()
			pl.Ban(addr, reason, BanDurationMedium)
			return
		}
	}
	pl.mu.Unlock()
}

// Reward raises a peer's reputation score for useful behavior (valid
// exchange, valid relayed block/tx).
func (pl *PeerList) Reward(addr string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if rec, ok := pl.white[addr]; ok {
		rec.Score += ScoreRewardGood
	}
}

// Ban marks addr's host banned for duration (permanently, once it
// accumulates MaxBansBeforePermanent bans). The ban is keyed by host alone,
// since the accept-time gater only sees the remote IP.
func (pl *PeerList) Ban(addr, reason string, duration time.Duration) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	key := addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		key = host
	}
	existing := pl.banned[key]
	count := 1
	if existing != nil {
		count = existing.BanCount + 1
	}
	rec := &BanRecord{
		Addr:      key,
		Reason:    reason,
		BannedAt:  time.Now(),
		ExpiresAt: time.Now().Add(duration),
		BanCount:  count,
		Permanent: count >= MaxBansBeforePermanent,
	}
	pl.banned[key] = rec
	_ = pl.persist(bucketBanned, key, rec)
	delete(pl.white, addr)
	_ = pl.delete(bucketWhite, addr)
	delete(pl.gray, addr)
	_ = pl.delete(bucketGray, addr)
}

// IsBanned reports whether addr is currently under an active ban, lazily
// expiring (and forgetting) non-permanent bans whose window has passed.
func (pl *PeerList) IsBanned(addr string) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	rec, ok := pl.banned[addr]
	if !ok {
		return false
	}
	if rec.Permanent {
		return true
	}
	if time.Now().After(rec.ExpiresAt) {
		delete(pl.banned, addr)
		_ = pl.delete(bucketBanned, addr)
		return false
	}
	return true
}

func (pl *PeerList) BannedCount() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.banned)
}

// WhiteSample returns up to max white-list entries for a handshake
// response's advertised peer list.
func (pl *PeerList) WhiteSample(max int) []PeerRecord {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	out := make([]PeerRecord, 0, max)
	for _, rec := range pl.white {
		if len(out) >= max {
			break
		}
		out = append(out, *rec)
	}
	return out
}

// pickWeighted implements the parabola-favoring-recent selection from
// spec's connection maker: among a list ordered oldest-to-newest, index i
// (0-based from the front, so index max-1 is the most recent) is chosen
// with probability proportional to (i+1)^2, favoring entries near the end.
func pickWeighted(records []*PeerRecord) (*PeerRecord, bool) {
	n := len(records)
	if n == 0 {
		return nil, false
	}
	// Sort by LastSeen ascending so index n-1 is most recently seen.
	sorted := append([]*PeerRecord{}, records...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].LastSeen > sorted[j].LastSeen; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	total := new(big.Int)
	weights := make([]*big.Int, n)
	for i := range sorted {
		w := big.NewInt(int64((i + 1) * (i + 1)))
		weights[i] = w
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return sorted[n-1], true
	}
	target, err := rand.Int(rand.Reader, total)
	if err != nil {
		return sorted[n-1], true
	}
	running := new(big.Int)
	for i, w := range weights {
		running.Add(running, w)
		if target.Cmp(running) < 0 {
			return sorted[i], true
		}
	}
	return sorted[n-1], true
}

// PickOutboundTarget chooses the next peer to dial: with probability
// WhitelistConnectionsPercent it samples white (falling back to gray if
// white is empty), otherwise it samples gray (falling back to white); when
// both lists are empty it falls back to the configured seeds.
func (pl *PeerList) PickOutboundTarget(connected map[string]bool) (PeerRecord, bool) {
	pl.mu.RLock()
	white := mapToSlice(pl.white, connected)
	gray := mapToSlice(pl.gray, connected)
	seeds := pl.seeds
	pl.mu.RUnlock()

	useWhiteFirst := true
	if n, err := rand.Int(rand.Reader, big.NewInt(100)); err == nil {
		useWhiteFirst = n.Int64() < params.WhitelistConnectionsPercent
	}

	primary, secondary := white, gray
	if !useWhiteFirst {
		primary, secondary = gray, white
	}
	if rec, ok := pickWeighted(primary); ok {
		return *rec, true
	}
	if rec, ok := pickWeighted(secondary); ok {
		return *rec, true
	}
	for _, s := range seeds {
		if !connected[s] {
			return PeerRecord{Addr: s}, true
		}
	}
	return PeerRecord{}, false
}

func mapToSlice(m map[string]*PeerRecord, exclude map[string]bool) []*PeerRecord {
	out := make([]*PeerRecord, 0, len(m))
	for addr, rec := range m {
		if exclude[addr] {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// AnchorTargets returns the persisted anchor list, dialed first on startup
// for reconnection stability.
func (pl *PeerList) AnchorTargets() []PeerRecord {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	out := make([]PeerRecord, 0, len(pl.anchor))
	for _, rec := range pl.anchor {
		out = append(out, *rec)
	}
	return out
}

func (pl *PeerList) WhiteCount() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.white)
}
