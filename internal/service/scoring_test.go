package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
)

func TestNormalizeWeights(t *testing.T) {
	cfg := normalizeWeights(dto.OptimizationConfig{})
	assert.InDelta(t, 0.4, cfg.UtilizationWeight, 0.001)
	assert.InDelta(t, 0.3, cfg.PreferenceWeight, 0.001)
	assert.InDelta(t, 0.3, cfg.GapWeight, 0.001)
	assert.Equal(t, defaultMaxGapMinutes, cfg.MaxGapMinutes)

	cfg = normalizeWeights(dto.OptimizationConfig{UtilizationWeight: 1, PreferenceWeight: 1, GapWeight: 2})
	sum := cfg.UtilizationWeight + cfg.PreferenceWeight + cfg.GapWeight
	assert.InDelta(t, 1.0, sum, 0.001)
	assert.InDelta(t, 0.5, cfg.GapWeight, 0.001)
}

func TestPreferenceScore(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	inside := testSession("s1", "t1", monday, 560, 620, models.SessionStatusScheduled)
	outside := testSession("s2", "t1", monday, 800, 860, models.SessionStatusScheduled)
	preferred := []dto.TimeRange{{StartMinute: 540, EndMinute: 720}}

	assert.Equal(t, 100.0, preferenceScore(nil, preferred))
	assert.Equal(t, 100.0, preferenceScore([]models.ScheduledSession{inside, outside}, nil))
	assert.Equal(t, 100.0, preferenceScore([]models.ScheduledSession{inside}, preferred))
	assert.Equal(t, 50.0, preferenceScore([]models.ScheduledSession{inside, outside}, preferred))
}

func TestGapScoreRewardsCompactDays(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	compact := []models.ScheduledSession{
		testSession("s1", "t1", monday, 540, 600, models.SessionStatusScheduled),
		testSession("s2", "t1", monday, 600, 660, models.SessionStatusScheduled),
	}
	sparse := []models.ScheduledSession{
		testSession("s1", "t1", monday, 540, 600, models.SessionStatusScheduled),
		testSession("s2", "t1", monday, 720, 780, models.SessionStatusScheduled),
	}

	assert.Greater(t, gapScore(compact, defaultMaxGapMinutes), gapScore(sparse, defaultMaxGapMinutes))
	assert.Equal(t, 100.0, gapScore(compact, defaultMaxGapMinutes))
}

func TestCompositeScoreDeterministic(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	sessions := []models.ScheduledSession{
		testSession("s1", "t1", monday, 540, 600, models.SessionStatusScheduled),
		testSession("s2", "t1", monday, 600, 660, models.SessionStatusScheduled),
	}
	snaps := map[string]*ScheduleSnapshot{
		"t1": {Windows: []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 720, 3)}},
		"t2": {Windows: []models.AvailabilityWindow{recurringWindow("w-mon-2", "t2", 1, 540, 720, 3)}},
	}
	preferred := []dto.TimeRange{{StartMinute: 540, EndMinute: 720}}

	first := compositeScore(sessions, snaps, preferred, dto.OptimizationConfig{})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, compositeScore(sessions, snaps, preferred, dto.OptimizationConfig{}))
	}
	assert.GreaterOrEqual(t, first, 0.0)
	assert.LessOrEqual(t, first, 100.0)
}
