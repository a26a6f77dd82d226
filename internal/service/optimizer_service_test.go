package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/pkg/config"
)

func newOptimizerFixture(t *testing.T, windows []models.AvailabilityWindow, sessions []models.ScheduledSession) (*OptimizerService, *mockSessionStore) {
	t.Helper()
	windowRepo := &mockWindowRepo{windows: windows}
	exceptionRepo := &mockExceptionRepo{}
	sessionStore := &mockSessionStore{sessions: sessions}
	conflicts := NewConflictService(windowRepo, exceptionRepo, sessionStore, SeverityPolicy{}, nil, zap.NewNop())

	svc := NewOptimizerService(nil, sessionStore, conflicts, NewLocalTherapistLocker(),
		nil, nil, config.SchedulerConfig{}, nil, zap.NewNop())
	return svc, sessionStore
}

func TestOptimizeCompactsSparseDay(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	windows := []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 900, 10)}
	sessions := []models.ScheduledSession{
		testSession("s1", "t1", monday, 540, 600, models.SessionStatusScheduled),
		testSession("s2", "t1", monday, 840, 900, models.SessionStatusScheduled),
	}

	svc, _ := newOptimizerFixture(t, windows, sessions)
	result, err := svc.Optimize(context.Background(), dto.OptimizeRequest{
		TherapistID:    "t1",
		StartDate:      "2026-09-07",
		EndDate:        "2026-09-07",
		PreferredTimes: []dto.TimeRange{{StartMinute: 540, EndMinute: 720}},
		DryRun:         true,
	})
	require.NoError(t, err)

	assert.Equal(t, algorithmHillClimbV1, result.Algorithm)
	assert.GreaterOrEqual(t, result.ScoreAfter, result.ScoreBefore)
	require.NotEmpty(t, result.Moves)
	assert.Greater(t, result.Iterations, 0)

	// The late session moved into the preferred block.
	move := result.Moves[0]
	assert.Equal(t, "s2", move.SessionID)
	assert.Equal(t, 840, move.FromStart)
	assert.LessOrEqual(t, move.ToStart+60, 720)
	assert.Greater(t, move.ScoreDelta, 0.0)

	// The result set never overlaps.
	for i := range result.Sessions {
		for j := i + 1; j < len(result.Sessions); j++ {
			a, b := result.Sessions[i], result.Sessions[j]
			if models.SameDay(a.Date, b.Date) {
				assert.False(t, a.Overlaps(b.StartMinute, b.EndMinute))
			}
		}
	}
}

func TestOptimizeNoMoveWhenAlreadyCompact(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	windows := []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 900, 10)}
	sessions := []models.ScheduledSession{
		testSession("s1", "t1", monday, 540, 600, models.SessionStatusScheduled),
		testSession("s2", "t1", monday, 600, 660, models.SessionStatusScheduled),
	}

	svc, _ := newOptimizerFixture(t, windows, sessions)
	result, err := svc.Optimize(context.Background(), dto.OptimizeRequest{
		TherapistID:    "t1",
		StartDate:      "2026-09-07",
		EndDate:        "2026-09-07",
		PreferredTimes: []dto.TimeRange{{StartMinute: 540, EndMinute: 720}},
		DryRun:         true,
	})
	require.NoError(t, err)

	assert.Empty(t, result.Moves)
	assert.Equal(t, result.ScoreBefore, result.ScoreAfter)
	assert.Zero(t, result.ImprovementPercentage)
}

func TestOptimizeSkipsFinishedSessions(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	windows := []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 900, 10)}
	completed := testSession("s1", "t1", monday, 840, 900, models.SessionStatusCompleted)
	sessions := []models.ScheduledSession{completed}

	svc, _ := newOptimizerFixture(t, windows, sessions)
	result, err := svc.Optimize(context.Background(), dto.OptimizeRequest{
		TherapistID:    "t1",
		StartDate:      "2026-09-07",
		EndDate:        "2026-09-07",
		PreferredTimes: []dto.TimeRange{{StartMinute: 540, EndMinute: 720}},
		DryRun:         true,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Moves)
	assert.Zero(t, result.Iterations)
}

func TestOptimizeRespectsIterationCap(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	windows := []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 900, 10)}
	sessions := []models.ScheduledSession{
		testSession("s1", "t1", monday, 780, 840, models.SessionStatusScheduled),
		testSession("s2", "t1", monday, 840, 900, models.SessionStatusScheduled),
	}

	svc, _ := newOptimizerFixture(t, windows, sessions)
	result, err := svc.Optimize(context.Background(), dto.OptimizeRequest{
		TherapistID:    "t1",
		StartDate:      "2026-09-07",
		EndDate:        "2026-09-07",
		PreferredTimes: []dto.TimeRange{{StartMinute: 540, EndMinute: 720}},
		Config:         dto.OptimizationConfig{MaxIterations: 1},
		DryRun:         true,
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Iterations, 1)
	assert.GreaterOrEqual(t, result.ScoreAfter, result.ScoreBefore)
}
