package replication

// shouldSkip implements the scheduler's throttling policy: given the
// persisted failure count for a destination and the current data-driven
// attempt counter, decide whether this cycle should skip the destination.
// The policy only applies on data-driven cycles — a time-driven (idle)
// wake always replicates every destination, which the caller encodes by
// never calling shouldSkip for those cycles.
func shouldSkip(persistedFailureCount int, attempt uint64) bool {
	k := skipPeriod(persistedFailureCount)
	if k <= 1 {
		return false
	}
	return attempt%uint64(k) != 0
}

// skipPeriod returns k such that a destination is replicated once every k
// data-driven attempts: healthy and lightly-failing destinations replicate
// every cycle, while destinations with deeper failure streaks back off to
// coarser periods so a persistently dead peer doesn't get hammered.
func skipPeriod(persistedFailureCount int) int {
	switch {
	case persistedFailureCount <= 10:
		return 1
	case persistedFailureCount <= 100:
		return 2
	case persistedFailureCount <= 1000:
		return 5
	default:
		return 10
	}
}
