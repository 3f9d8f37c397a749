package replication

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipPeriod(t *testing.T) {
	cases := []struct {
		failCount int
		want      int
	}{
		{0, 1},
		{10, 1},
		{11, 2},
		{100, 2},
		{101, 5},
		{1000, 5},
		{1001, 10},
		{100000, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, skipPeriod(tc.failCount), "failCount=%d", tc.failCount)
	}
}

// TestShouldSkip_BackoffAt150: persisted failureCount = 150 gives k=5,
// so over 10 consecutive data-driven attempts exactly 2 should run.
func TestShouldSkip_BackoffAt150(t *testing.T) {
	ran := 0
	for attempt := uint64(1); attempt <= 10; attempt++ {
		if !shouldSkip(150, attempt) {
			ran++
		}
	}
	assert.Equal(t, 2, ran)
}

func TestShouldSkip_HealthyNeverSkips(t *testing.T) {
	for attempt := uint64(1); attempt <= 20; attempt++ {
		assert.False(t, shouldSkip(3, attempt))
	}
}
