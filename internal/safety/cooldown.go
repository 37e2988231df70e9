package safety

import (
	"strings"
	"time"
)

// CooldownGate suppresses repeats of the same condition inside a per-type cooldown window
type CooldownGate struct {
	defaultCooldown time.Duration
	cooldowns       map[EventType]time.Duration
	retention       int
	ledger          map[string]time.Time
}

// NewCooldownGate creates a gate. perType overrides defaultCooldown for the listed event types.
func NewCooldownGate(defaultCooldown time.Duration, perType map[EventType]time.Duration, retentionWindows int) *CooldownGate {
	cooldowns := make(map[EventType]time.Duration, len(perType))
	for t, d := range perType {
		cooldowns[t] = d
	}
	if retentionWindows < 1 {
		retentionWindows = 1
	}
	return &CooldownGate{
		defaultCooldown: defaultCooldown,
		cooldowns:       cooldowns,
		retention:       retentionWindows,
		ledger:          make(map[string]time.Time),
	}
}

// Cooldown returns the window applied to an event type
func (g *CooldownGate) Cooldown(t EventType) time.Duration {
	if d, ok := g.cooldowns[t]; ok {
		return d
	}
	return g.defaultCooldown
}

// Admit lets an event through when its key was never fired or its last firing is
// older than the cooldown window, and records now as the key's last firing.
func (g *CooldownGate) Admit(event SafetyEvent, now time.Time) bool {
	last, seen := g.ledger[event.DedupKey]
	if seen && now.Sub(last) <= g.Cooldown(event.Type) {
		return false
	}
	g.ledger[event.DedupKey] = now
	return true
}

// Prune drops ledger entries older than the retention multiple of their cooldown
func (g *CooldownGate) Prune(now time.Time) int {
	pruned := 0
	for key, last := range g.ledger {
		window := g.Cooldown(keyType(key)) * time.Duration(g.retention)
		if now.Sub(last) > window {
			delete(g.ledger, key)
			pruned++
		}
	}
	return pruned
}

// Len returns the number of ledger entries
func (g *CooldownGate) Len() int {
	return len(g.ledger)
}

func keyType(key string) EventType {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return EventType(key[:i])
	}
	return EventType(key)
}
