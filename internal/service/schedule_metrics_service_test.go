package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/models"
)

func TestComputeScheduleMetricsRates(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	sessions := []models.ScheduledSession{
		testSession("s1", "t1", monday, 540, 600, models.SessionStatusCompleted),
		testSession("s2", "t1", monday, 600, 660, models.SessionStatusScheduled),
		testSession("s3", "t1", monday, 660, 720, models.SessionStatusCancelled),
		testSession("s4", "t1", monday, 720, 780, models.SessionStatusNoShow),
	}

	metrics := ComputeScheduleMetrics(sessions, nil, monday, monday)

	assert.Equal(t, 4, metrics.TotalSessions)
	assert.Equal(t, 1, metrics.CompletedSessions)
	assert.Equal(t, 0.25, metrics.NoShowRate)
	assert.Equal(t, 0.25, metrics.CancellationRate)
	assert.Zero(t, metrics.RescheduleRate)
	assert.Equal(t, "2026-09-07", metrics.PeriodStart)
}

func TestComputeScheduleMetricsConflictBreakdown(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	detected := time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	resolved := detected.Add(30 * time.Minute)
	raw, err := json.Marshal([]models.ScheduleConflict{
		{
			Type:       models.ConflictTherapistDoubleBooking,
			Severity:   models.SeverityHigh,
			DetectedAt: detected,
			ResolvedAt: &resolved,
		},
		{
			Type:       models.ConflictTimeConstraint,
			Severity:   models.SeverityMedium,
			DetectedAt: detected,
		},
	})
	require.NoError(t, err)

	flagged := testSession("s1", "t1", monday, 540, 600, models.SessionStatusScheduled)
	flagged.HasConflicts = true
	flagged.ConflictDetails = types.JSONText(raw)

	metrics := ComputeScheduleMetrics([]models.ScheduledSession{flagged}, nil, monday, monday)

	assert.Equal(t, 2, metrics.Conflicts.Total)
	assert.Equal(t, 1, metrics.Conflicts.ByType[models.ConflictTherapistDoubleBooking])
	assert.Equal(t, 1, metrics.Conflicts.ByType[models.ConflictTimeConstraint])
	assert.Equal(t, 1, metrics.Conflicts.BySeverity[models.SeverityHigh])
	assert.Equal(t, 30.0, metrics.AvgResolutionLatencyMins)
}

func TestComputeScheduleMetricsUtilization(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	roomID := "room-1"
	booked := testSession("s1", "t1", monday, 540, 630, models.SessionStatusScheduled)
	booked.RoomID = &roomID
	booked.EquipmentIDs = []string{"eq-1"}
	// Cancelled sessions free their time and never count as booked.
	cancelled := testSession("s2", "t1", monday, 630, 720, models.SessionStatusCancelled)

	snaps := map[string]*ScheduleSnapshot{
		"t1": {Windows: []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 720, 2)}},
	}
	metrics := ComputeScheduleMetrics([]models.ScheduledSession{booked, cancelled}, snaps, monday, monday)

	require.Len(t, metrics.TherapistUtilization, 1)
	util := metrics.TherapistUtilization[0]
	assert.Equal(t, "t1", util.ResourceID)
	assert.Equal(t, 90, util.BookedMinutes)
	assert.Equal(t, 180, util.AvailableMinutes)
	assert.Equal(t, 50.0, util.UtilizationPct)
	assert.Equal(t, 1, util.SessionCount)

	require.Len(t, metrics.RoomUtilization, 1)
	assert.Equal(t, roomID, metrics.RoomUtilization[0].ResourceID)
	assert.Equal(t, 90, metrics.RoomUtilization[0].BookedMinutes)
	require.Len(t, metrics.EquipmentUtilization, 1)
	assert.Equal(t, "eq-1", metrics.EquipmentUtilization[0].ResourceID)
}

func TestScheduleMetricsServiceCompute(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	windowRepo := &mockWindowRepo{windows: []models.AvailabilityWindow{
		recurringWindow("w-mon", "t1", 1, 540, 720, 2),
		recurringWindow("w-mon-2", "t2", 1, 540, 720, 2),
	}}
	sessionStore := &mockSessionStore{sessions: []models.ScheduledSession{
		testSession("s1", "t1", monday, 540, 600, models.SessionStatusCompleted),
		testSession("s2", "t2", monday, 540, 600, models.SessionStatusScheduled),
	}}
	conflicts := NewConflictService(windowRepo, &mockExceptionRepo{}, sessionStore, SeverityPolicy{}, nil, zap.NewNop())
	svc := NewScheduleMetricsService(conflicts, windowRepo, zap.NewNop())

	// All therapists when no filter is given.
	metrics, err := svc.Compute(context.Background(), "", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.TotalSessions)
	assert.Len(t, metrics.TherapistUtilization, 2)

	metrics, err = svc.Compute(context.Background(), "t1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalSessions)

	_, err = svc.Compute(context.Background(), "t1", monday, monday.AddDate(0, 0, -1))
	require.Error(t, err)
}
