package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/pkg/config"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

// captureNotifier records emitted schedule events for assertions.
type captureNotifier struct {
	events []ScheduleEvent
}

func (c *captureNotifier) Notify(_ context.Context, event ScheduleEvent) {
	c.events = append(c.events, event)
}

type generatorFixture struct {
	windows  *mockWindowRepo
	sessions *mockSessionStore
	notifier *captureNotifier
	svc      *GeneratorService
}

func newGeneratorFixture(t *testing.T, db *sqlx.DB, windows []models.AvailabilityWindow, sessions []models.ScheduledSession, cfg config.SchedulerConfig) *generatorFixture {
	t.Helper()
	windowRepo := &mockWindowRepo{windows: windows}
	exceptionRepo := &mockExceptionRepo{}
	sessionStore := &mockSessionStore{sessions: sessions}
	notifier := &captureNotifier{}

	availability := NewAvailabilityService(windowRepo, exceptionRepo, nil, nil, zap.NewNop())
	conflicts := NewConflictService(windowRepo, exceptionRepo, sessionStore, SeverityPolicy{}, nil, zap.NewNop())
	svc := NewGeneratorService(db, sessionStore, windowRepo, availability, conflicts,
		NewLocalTherapistLocker(), notifier, nil, cfg, nil, zap.NewNop())

	return &generatorFixture{windows: windowRepo, sessions: sessionStore, notifier: notifier, svc: svc}
}

func monWedFriWindows(maxPerSlot int) []models.AvailabilityWindow {
	return []models.AvailabilityWindow{
		recurringWindow("w-mon", "t1", 1, 540, 720, maxPerSlot),
		recurringWindow("w-wed", "t1", 3, 540, 720, maxPerSlot),
		recurringWindow("w-fri", "t1", 5, 540, 720, maxPerSlot),
	}
}

func weeklyDemand(total, perWeek, duration int) dto.SchedulingRequest {
	return dto.SchedulingRequest{
		DemandRef:       "dem-100",
		TherapistID:     "t1",
		StartDate:       "2026-09-07",
		EndDate:         "2026-09-27",
		TotalSessions:   total,
		SessionsPerWeek: perWeek,
		DurationMinutes: duration,
	}
}

func TestPreviewFillsWeeklyDemand(t *testing.T) {
	fixture := newGeneratorFixture(t, nil, monWedFriWindows(1), nil, config.SchedulerConfig{})

	result, err := fixture.svc.Preview(context.Background(), weeklyDemand(6, 2, 60))
	require.NoError(t, err)

	assert.Len(t, result.Sessions, 6)
	assert.Zero(t, result.UnscheduledSessions)
	assert.Empty(t, result.UnresolvedConflicts)
	assert.Empty(t, result.Shortfalls)
	assert.Equal(t, algorithmGreedyV1, result.Algorithm)

	// At most one session per day, every one inside an availability window.
	seenDates := make(map[string]bool)
	for _, s := range result.Sessions {
		date := s.Date.Format(models.DateLayout)
		assert.False(t, seenDates[date], "two sessions placed on %s", date)
		seenDates[date] = true
		assert.GreaterOrEqual(t, s.StartMinute, 540)
		assert.LessOrEqual(t, s.EndMinute, 720)
		assert.Equal(t, 60, s.DurationMinutes)
		assert.False(t, s.HasConflicts)
		// Preview assigns no ids; only persistence does.
		assert.Empty(t, s.ID)
	}
	assert.Greater(t, result.OptimizationScore, 0.0)
}

func TestPreviewDeterministic(t *testing.T) {
	req := weeklyDemand(6, 2, 60)

	first, err := newGeneratorFixture(t, nil, monWedFriWindows(1), nil, config.SchedulerConfig{}).svc.Preview(context.Background(), req)
	require.NoError(t, err)
	second, err := newGeneratorFixture(t, nil, monWedFriWindows(1), nil, config.SchedulerConfig{}).svc.Preview(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Sessions, second.Sessions)
	assert.Equal(t, first.Shortfalls, second.Shortfalls)
	assert.Equal(t, first.UnscheduledSessions, second.UnscheduledSessions)
	assert.Equal(t, first.OptimizationScore, second.OptimizationScore)
}

func TestPreviewNeverDoubleBooks(t *testing.T) {
	// One Monday window of 180 minutes fits three non-overlapping hours;
	// the fourth requested session has nowhere to go.
	windows := []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 720, 10)}
	fixture := newGeneratorFixture(t, nil, windows, nil, config.SchedulerConfig{})

	req := weeklyDemand(4, 4, 60)
	req.EndDate = "2026-09-13"
	req.FlexibilityScore = 100

	result, err := fixture.svc.Preview(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, result.Sessions, 3)
	assert.Equal(t, 1, result.UnscheduledSessions)
	require.Len(t, result.Shortfalls, 1)
	assert.Equal(t, 1, result.Shortfalls[0].Missing)
	assert.NotEmpty(t, result.Shortfalls[0].Suggestions)
	assert.LessOrEqual(t, len(result.Shortfalls[0].Suggestions), 3)

	for i := range result.Sessions {
		for j := i + 1; j < len(result.Sessions); j++ {
			a, b := result.Sessions[i], result.Sessions[j]
			if models.SameDay(a.Date, b.Date) {
				assert.False(t, a.Overlaps(b.StartMinute, b.EndMinute),
					"sessions %d and %d overlap", i, j)
			}
		}
	}
}

func TestPreviewFlexibilityFallback(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	windows := []models.AvailabilityWindow{recurringWindow("w-mon", "t1", 1, 540, 720, 1)}
	existing := []models.ScheduledSession{
		testSession("s-existing", "t1", monday, 540, 600, models.SessionStatusScheduled),
	}

	req := weeklyDemand(1, 1, 60)
	req.EndDate = "2026-09-13"
	req.PreferredDays = []int{1}

	// Inflexible demand leaves the at-capacity Monday unplaced.
	rigid := newGeneratorFixture(t, nil, windows, existing, config.SchedulerConfig{})
	result, err := rigid.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, result.Sessions)
	assert.Equal(t, 1, result.UnscheduledSessions)

	// A flexible demand accepts the medium at-capacity conflict.
	req.FlexibilityScore = 90
	flexible := newGeneratorFixture(t, nil, windows, existing, config.SchedulerConfig{})
	result, err = flexible.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Sessions, 1)
	assert.True(t, result.Sessions[0].HasConflicts)
	assert.Equal(t, models.ResolutionPending, result.Sessions[0].ResolutionStatus)
	require.NotEmpty(t, result.UnresolvedConflicts)
	assert.Equal(t, models.SeverityMedium, models.MaxSeverity(result.UnresolvedConflicts))
	// The fallback never overlaps the committed session.
	assert.False(t, result.Sessions[0].Overlaps(540, 600))
}

func TestPreviewValidatesDates(t *testing.T) {
	fixture := newGeneratorFixture(t, nil, monWedFriWindows(1), nil, config.SchedulerConfig{})

	req := weeklyDemand(6, 2, 60)
	req.StartDate = "2026-09-27"
	req.EndDate = "2026-09-07"
	_, err := fixture.svc.Preview(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPreviewClampsRange(t *testing.T) {
	fixture := newGeneratorFixture(t, nil, monWedFriWindows(3), nil, config.SchedulerConfig{MaxGenerationDays: 14})

	req := weeklyDemand(2, 1, 60)
	req.EndDate = "2027-03-01"
	result, err := fixture.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, result.Warnings, "date range clamped to 14 days")
	assert.Len(t, result.Sessions, 2)
}

func TestGeneratePersistsSessions(t *testing.T) {
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer rawDB.Close()
	db := sqlx.NewDb(rawDB, "sqlmock")

	mock.ExpectBegin()
	mock.ExpectCommit()

	fixture := newGeneratorFixture(t, db, monWedFriWindows(1), nil, config.SchedulerConfig{})
	result, err := fixture.svc.Generate(context.Background(), weeklyDemand(6, 2, 60))
	require.NoError(t, err)

	require.Len(t, result.Sessions, 6)
	assert.Len(t, fixture.sessions.sessions, 6)
	for i, s := range result.Sessions {
		assert.NotEmpty(t, s.ID)
		assert.Equal(t, fmt.Sprintf("dem-100-%03d", i+1), s.SessionNumber)
	}

	require.Len(t, fixture.notifier.events, 1)
	assert.Equal(t, EventScheduleGenerated, fixture.notifier.events[0].Kind)
	assert.Len(t, fixture.notifier.events[0].SessionIDs, 6)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateHoldsTherapistLease(t *testing.T) {
	locker := NewLocalTherapistLocker()
	release, err := locker.Acquire(context.Background(), "t1")
	require.NoError(t, err)
	defer release()

	windowRepo := &mockWindowRepo{windows: monWedFriWindows(1)}
	exceptionRepo := &mockExceptionRepo{}
	sessionStore := &mockSessionStore{}
	availability := NewAvailabilityService(windowRepo, exceptionRepo, nil, nil, zap.NewNop())
	conflicts := NewConflictService(windowRepo, exceptionRepo, sessionStore, SeverityPolicy{}, nil, zap.NewNop())
	svc := NewGeneratorService(nil, sessionStore, windowRepo, availability, conflicts,
		locker, nil, nil, config.SchedulerConfig{}, nil, zap.NewNop())

	_, err = svc.Generate(context.Background(), weeklyDemand(6, 2, 60))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLockUnavailable.Code, appErrors.FromError(err).Code)
}

func TestCandidateWeekdays(t *testing.T) {
	req := dto.SchedulingRequest{PreferredDays: []int{1, 3}}
	days := candidateWeekdays(req)
	assert.True(t, days[time.Monday])
	assert.True(t, days[time.Wednesday])
	assert.False(t, days[time.Friday])

	req = dto.SchedulingRequest{AvoidDays: []int{5, 6}}
	days = candidateWeekdays(req)
	assert.True(t, days[time.Sunday])
	assert.True(t, days[time.Thursday])
	assert.False(t, days[time.Friday])
	assert.False(t, days[time.Saturday])
}

func TestEnumerateDaySlotsPrefersRequestedTimes(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	snap := &ScheduleSnapshot{Windows: monWedFriWindows(2)}
	req := dto.SchedulingRequest{
		DurationMinutes: 60,
		PreferredTimes:  []dto.TimeRange{{StartMinute: 600, EndMinute: 700}},
	}

	slots := enumerateDaySlots(snap, "t1", monday, req)
	require.NotEmpty(t, slots)
	assert.Equal(t, 600, slots[0].slot.StartMinute)
	assert.Equal(t, 2, slots[0].rank)

	// Avoid times remove candidates entirely.
	req.AvoidTimes = []dto.TimeRange{{StartMinute: 540, EndMinute: 720}}
	assert.Empty(t, enumerateDaySlots(snap, "t1", monday, req))
}
