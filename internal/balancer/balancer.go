package balancer

import (
	"time"

	"github.com/rs/zerolog/log"

	"modqueue/internal/registry"
)

// Rebalance assigns every unclaimed item in the registry to the connected
// moderator with the least current load, walking unclaimed items in intake
// order. Ties are broken by moderator registration order, which keeps
// assignment deterministic for a given registry and moderator sequence.
//
// Already-assigned items are never moved; a pass with only unclaimed items
// to distribute leaves per-moderator loads within 1 of each other, but a
// moderator who joins after the pool was claimed may legitimately sit at
// zero load until new work arrives.
//
// Returns the set of moderators whose owned-item set changed.
func Rebalance(reg *registry.Registry, moderatorIDs []string, now time.Time) map[string]bool {
	changed := make(map[string]bool)
	if len(moderatorIDs) == 0 {
		return changed
	}

	load := make(map[string]int, len(moderatorIDs))
	for _, id := range moderatorIDs {
		load[id] = 0
	}
	for _, item := range reg.Snapshot() {
		if !item.Unclaimed() {
			// Ownership by a disconnected moderator is released before
			// rebalancing, so every owner seen here is connected.
			load[item.OwnerID]++
		}
	}

	unclaimed := reg.UnclaimedItems()
	for _, item := range unclaimed {
		target := moderatorIDs[0]
		for _, id := range moderatorIDs[1:] {
			if load[id] < load[target] {
				target = id
			}
		}
		reg.Assign(item.ID, target, now)
		load[target]++
		changed[target] = true
	}

	if len(unclaimed) > 0 {
		log.Debug().
			Int("assigned", len(unclaimed)).
			Int("moderators", len(moderatorIDs)).
			Msg("rebalanced unclaimed items")
	}
	return changed
}
