package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// DefaultBlacklistRetention is how long a ledger entry suppresses candidates.
const DefaultBlacklistRetention = 14 * 24 * time.Hour

// BlacklistEntry records when an entity was first surfaced.
type BlacklistEntry struct {
	Key       string `json:"key"`
	FirstSeen int64  `json:"firstSeen"`
}

// FirstSeenTime returns FirstSeen as a time.
func (e BlacklistEntry) FirstSeenTime() time.Time {
	return time.Unix(e.FirstSeen, 0).UTC()
}

// Expired reports whether the entry is older than retention at now.
func (e BlacklistEntry) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(e.FirstSeenTime()) > retention
}

// Blacklist is the per-trigger dedup ledger, keyed by normalised entity key.
type Blacklist map[string]BlacklistEntry

// BlacklistKey normalises an entity name for ledger lookups. A Caser is
// stateful, so one is built per call.
func BlacklistKey(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}

// Contains reports whether name has a live (non-expired) entry at now.
func (b Blacklist) Contains(name string, now time.Time, retention time.Duration) bool {
	if len(b) == 0 {
		return false
	}
	e, ok := b[BlacklistKey(name)]
	if !ok {
		return false
	}
	return !e.Expired(now, retention)
}

// Merge records names as seen at now. Live entries keep their original
// first-seen time; expired entries are restarted.
func (b Blacklist) Merge(names []string, now time.Time, retention time.Duration) int {
	added := 0
	for _, name := range names {
		key := BlacklistKey(name)
		if key == "" {
			continue
		}
		if e, ok := b[key]; ok && !e.Expired(now, retention) {
			continue
		}
		b[key] = BlacklistEntry{Key: key, FirstSeen: now.Unix()}
		added++
	}
	return added
}

// Prune removes entries older than retention relative to now and returns
// the number removed.
func (b Blacklist) Prune(now time.Time, retention time.Duration) int {
	removed := 0
	for k, e := range b {
		if e.Expired(now, retention) {
			delete(b, k)
			removed++
		}
	}
	return removed
}

// Clone returns an independent copy.
func (b Blacklist) Clone() Blacklist {
	out := make(Blacklist, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}
