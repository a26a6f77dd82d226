package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/repository"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

// mockWindowRepo is an in-memory availabilityWindowRepo shared by the
// service tests in this package. Listing methods return copies so callers
// can mutate results without corrupting stored state.
type mockWindowRepo struct {
	windows []models.AvailabilityWindow
	nextID  int
}

func (m *mockWindowRepo) FindByID(_ context.Context, id string) (*models.AvailabilityWindow, error) {
	for i := range m.windows {
		if m.windows[i].ID == id {
			w := m.windows[i]
			return &w, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockWindowRepo) Upsert(_ context.Context, w *models.AvailabilityWindow) error {
	if w.ID == "" {
		m.nextID++
		w.ID = fmt.Sprintf("win-%d", m.nextID)
	}
	for i := range m.windows {
		if m.windows[i].ID == w.ID {
			m.windows[i] = *w
			return nil
		}
	}
	m.windows = append(m.windows, *w)
	return nil
}

func (m *mockWindowRepo) Delete(_ context.Context, id string) error {
	for i := range m.windows {
		if m.windows[i].ID == id {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			return nil
		}
	}
	return repository.ErrNoRows
}

func (m *mockWindowRepo) ListByTherapist(_ context.Context, therapistID string) ([]models.AvailabilityWindow, error) {
	var out []models.AvailabilityWindow
	for _, w := range m.windows {
		if w.TherapistID == therapistID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockWindowRepo) ListForRange(_ context.Context, therapistID string, _, _ time.Time) ([]models.AvailabilityWindow, error) {
	var out []models.AvailabilityWindow
	for _, w := range m.windows {
		if w.TherapistID == therapistID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *mockWindowRepo) DistinctTherapists(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, w := range m.windows {
		if !seen[w.TherapistID] {
			seen[w.TherapistID] = true
			ids = append(ids, w.TherapistID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockWindowRepo) AdjustBookings(_ context.Context, _ sqlx.ExtContext, id string, delta int) error {
	for i := range m.windows {
		if m.windows[i].ID != id {
			continue
		}
		next := m.windows[i].CurrentBookings + delta
		if next < 0 || next > m.windows[i].MaxSessionsPerSlot {
			return repository.ErrCapacity
		}
		m.windows[i].CurrentBookings = next
		return nil
	}
	return repository.ErrNoRows
}

type mockExceptionRepo struct {
	exceptions []models.AvailabilityException
	nextID     int
}

func (m *mockExceptionRepo) Create(_ context.Context, e *models.AvailabilityException) error {
	if e.ID == "" {
		m.nextID++
		e.ID = fmt.Sprintf("exc-%d", m.nextID)
	}
	m.exceptions = append(m.exceptions, *e)
	return nil
}

func (m *mockExceptionRepo) Delete(_ context.Context, id string) error {
	for i := range m.exceptions {
		if m.exceptions[i].ID == id {
			m.exceptions = append(m.exceptions[:i], m.exceptions[i+1:]...)
			return nil
		}
	}
	return repository.ErrNoRows
}

func (m *mockExceptionRepo) ListForRange(_ context.Context, therapistID string, _, _ time.Time) ([]models.AvailabilityException, error) {
	var out []models.AvailabilityException
	for _, e := range m.exceptions {
		if e.TherapistID == therapistID {
			out = append(out, e)
		}
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func testDate(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(models.DateLayout, value)
	require.NoError(t, err)
	return parsed
}

func recurringWindow(id, therapistID string, day, start, end, maxPerSlot int) models.AvailabilityWindow {
	return models.AvailabilityWindow{
		ID:                 id,
		TherapistID:        therapistID,
		DayOfWeek:          intPtr(day),
		StartMinute:        start,
		EndMinute:          end,
		IsRecurring:        true,
		MaxSessionsPerSlot: maxPerSlot,
		IsAvailable:        true,
	}
}

func TestResolveDayLayersOverridesAndExceptions(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	specificDate := testDate(t, "2026-09-07")

	recurring := recurringWindow("w-rec", "t1", 1, 540, 720, 2)
	specific := models.AvailabilityWindow{
		ID:                 "w-spec",
		TherapistID:        "t1",
		SpecificDate:       &specificDate,
		StartMinute:        600,
		EndMinute:          660,
		MaxSessionsPerSlot: 1,
		IsAvailable:        true,
	}

	// Recurring base only.
	resolved := ResolveDay(monday, []models.AvailabilityWindow{recurring}, nil)
	require.Len(t, resolved, 1)
	assert.Equal(t, "w-rec", resolved[0].ID)

	// A date-specific window replaces the recurring base for its day.
	resolved = ResolveDay(monday, []models.AvailabilityWindow{recurring, specific}, nil)
	require.Len(t, resolved, 1)
	assert.Equal(t, "w-spec", resolved[0].ID)

	// The following Monday the override does not apply.
	nextMonday := monday.AddDate(0, 0, 7)
	resolved = ResolveDay(nextMonday, []models.AvailabilityWindow{recurring, specific}, nil)
	require.Len(t, resolved, 1)
	assert.Equal(t, "w-rec", resolved[0].ID)

	// An unavailable exception masks whatever the lower layers produced.
	exception := models.AvailabilityException{
		TherapistID: "t1",
		StartDate:   monday,
		EndDate:     monday,
		IsAvailable: false,
		ReasonEN:    "annual leave",
	}
	resolved = ResolveDay(monday, []models.AvailabilityWindow{recurring, specific}, []models.AvailabilityException{exception})
	require.Len(t, resolved, 1)
	assert.True(t, resolved[0].IsTimeOff)
	assert.False(t, resolved[0].IsAvailable)
	assert.Equal(t, "annual leave", resolved[0].TimeOffReason)
}

func TestResolveDaySelectiveAvailability(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	recurring := recurringWindow("w-rec", "t1", 1, 540, 720, 2)

	alternatives, err := json.Marshal([]models.TemplateSlot{
		{DayOfWeek: 1, StartMinute: 600, EndMinute: 660},
		{DayOfWeek: 3, StartMinute: 540, EndMinute: 600},
	})
	require.NoError(t, err)
	exception := models.AvailabilityException{
		ID:           "exc-partial",
		TherapistID:  "t1",
		StartDate:    monday,
		EndDate:      monday.AddDate(0, 0, 4),
		IsAvailable:  true,
		Alternatives: types.JSONText(alternatives),
	}

	// The available exception's Monday slot replaces the recurring base.
	resolved := ResolveDay(monday, []models.AvailabilityWindow{recurring}, []models.AvailabilityException{exception})
	require.Len(t, resolved, 1)
	assert.Equal(t, 600, resolved[0].StartMinute)
	assert.Equal(t, 660, resolved[0].EndMinute)
	assert.True(t, resolved[0].IsAvailable)
	assert.False(t, resolved[0].IsTimeOff)

	// Tuesday has no matching alternative slot and no base window either.
	tuesday := monday.AddDate(0, 0, 1)
	assert.Empty(t, ResolveDay(tuesday, []models.AvailabilityWindow{recurring}, []models.AvailabilityException{exception}))

	// An available exception with no alternatives leaves the base untouched.
	open := models.AvailabilityException{ID: "exc-open", TherapistID: "t1", StartDate: monday, EndDate: monday, IsAvailable: true}
	resolved = ResolveDay(monday, []models.AvailabilityWindow{recurring}, []models.AvailabilityException{open})
	require.Len(t, resolved, 1)
	assert.Equal(t, "w-rec", resolved[0].ID)
}

func TestResolveDayDeterministic(t *testing.T) {
	monday := testDate(t, "2026-09-07")
	windows := []models.AvailabilityWindow{
		recurringWindow("w-b", "t1", 1, 600, 720, 1),
		recurringWindow("w-a", "t1", 1, 540, 600, 1),
	}

	first := ResolveDay(monday, windows, nil)
	second := ResolveDay(monday, windows, nil)
	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, "w-a", first[0].ID)
	assert.Equal(t, "w-b", first[1].ID)
}

func TestUpsertWindowValidation(t *testing.T) {
	svc := NewAvailabilityService(&mockWindowRepo{}, &mockExceptionRepo{}, nil, nil, zap.NewNop())

	_, err := svc.UpsertWindow(context.Background(), dto.UpsertWindowRequest{
		TherapistID:        "t1",
		DayOfWeek:          intPtr(1),
		StartMinute:        600,
		EndMinute:          540,
		MaxSessionsPerSlot: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	// Both dayOfWeek and specificDate set is rejected.
	_, err = svc.UpsertWindow(context.Background(), dto.UpsertWindowRequest{
		TherapistID:        "t1",
		DayOfWeek:          intPtr(1),
		SpecificDate:       "2026-09-07",
		StartMinute:        540,
		EndMinute:          600,
		MaxSessionsPerSlot: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpsertWindowRejectsCapacityBelowBookings(t *testing.T) {
	repo := &mockWindowRepo{}
	existing := recurringWindow("w1", "t1", 1, 540, 720, 3)
	existing.CurrentBookings = 2
	repo.windows = append(repo.windows, existing)

	svc := NewAvailabilityService(repo, &mockExceptionRepo{}, nil, nil, zap.NewNop())
	_, err := svc.UpsertWindow(context.Background(), dto.UpsertWindowRequest{
		ID:                 "w1",
		TherapistID:        "t1",
		DayOfWeek:          intPtr(1),
		StartMinute:        540,
		EndMinute:          720,
		MaxSessionsPerSlot: 1,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityViolation.Code, appErrors.FromError(err).Code)

	// Raising capacity keeps the booking counter.
	window, err := svc.UpsertWindow(context.Background(), dto.UpsertWindowRequest{
		ID:                 "w1",
		TherapistID:        "t1",
		DayOfWeek:          intPtr(1),
		StartMinute:        540,
		EndMinute:          720,
		MaxSessionsPerSlot: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, window.CurrentBookings)
	assert.Equal(t, 4, window.MaxSessionsPerSlot)
}

func TestDeleteWindowForceGate(t *testing.T) {
	repo := &mockWindowRepo{}
	booked := recurringWindow("w1", "t1", 1, 540, 720, 2)
	booked.CurrentBookings = 1
	repo.windows = append(repo.windows, booked)

	svc := NewAvailabilityService(repo, &mockExceptionRepo{}, nil, nil, zap.NewNop())

	err := svc.DeleteWindow(context.Background(), "w1", false)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Len(t, repo.windows, 1)

	require.NoError(t, svc.DeleteWindow(context.Background(), "w1", true))
	assert.Empty(t, repo.windows)

	err = svc.DeleteWindow(context.Background(), "missing", true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestQueryRangeResolvesEachDate(t *testing.T) {
	repo := &mockWindowRepo{windows: []models.AvailabilityWindow{
		recurringWindow("w-mon", "t1", 1, 540, 720, 1),
		recurringWindow("w-wed", "t1", 3, 540, 720, 1),
	}}
	svc := NewAvailabilityService(repo, &mockExceptionRepo{}, nil, nil, zap.NewNop())

	days, err := svc.QueryRange(context.Background(), dto.ResolveQuery{
		TherapistID: "t1",
		From:        "2026-09-07",
		To:          "2026-09-09",
	})
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.Equal(t, "2026-09-07", days[0].Date)
	assert.Len(t, days[0].Windows, 1)
	assert.Empty(t, days[1].Windows)
	assert.Len(t, days[2].Windows, 1)
	assert.Equal(t, int(time.Wednesday), days[2].DayOfWeek)
}

func TestReserveAndReleaseSlot(t *testing.T) {
	repo := &mockWindowRepo{}
	window := recurringWindow("w1", "t1", 1, 540, 600, 1)
	repo.windows = append(repo.windows, window)

	svc := NewAvailabilityService(repo, &mockExceptionRepo{}, nil, nil, zap.NewNop())

	require.NoError(t, svc.ReserveSlot(context.Background(), nil, "w1"))
	assert.Equal(t, 1, repo.windows[0].CurrentBookings)

	err := svc.ReserveSlot(context.Background(), nil, "w1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityViolation.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.ReleaseSlot(context.Background(), nil, "w1"))
	assert.Equal(t, 0, repo.windows[0].CurrentBookings)

	// Releasing an empty window never goes negative.
	require.NoError(t, svc.ReleaseSlot(context.Background(), nil, "w1"))
	assert.Equal(t, 0, repo.windows[0].CurrentBookings)
}

func TestCreateExceptionValidatesRange(t *testing.T) {
	repo := &mockExceptionRepo{}
	svc := NewAvailabilityService(&mockWindowRepo{}, repo, nil, nil, zap.NewNop())

	_, err := svc.CreateException(context.Background(), dto.CreateExceptionRequest{
		TherapistID: "t1",
		StartDate:   "2026-09-10",
		EndDate:     "2026-09-07",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	exception, err := svc.CreateException(context.Background(), dto.CreateExceptionRequest{
		TherapistID: "t1",
		StartDate:   "2026-09-07",
		EndDate:     "2026-09-10",
		ReasonEN:    "training",
		Alternatives: []dto.TemplateSlotRequest{
			{DayOfWeek: 2, StartMinute: 540, EndMinute: 600},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, exception.ID)
	assert.NotEmpty(t, exception.Alternatives)
	assert.Len(t, repo.exceptions, 1)

	err = svc.DeleteException(context.Background(), "t1", exception.ID)
	require.NoError(t, err)
	assert.Empty(t, repo.exceptions)

	err = svc.DeleteException(context.Background(), "t1", exception.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestListExceptionsFiltersByTherapist(t *testing.T) {
	repo := &mockExceptionRepo{exceptions: []models.AvailabilityException{
		{ID: "e1", TherapistID: "t1", StartDate: testDate(t, "2026-09-07"), EndDate: testDate(t, "2026-09-08")},
		{ID: "e2", TherapistID: "t2", StartDate: testDate(t, "2026-09-07"), EndDate: testDate(t, "2026-09-08")},
	}}
	svc := NewAvailabilityService(&mockWindowRepo{}, repo, nil, nil, zap.NewNop())

	_, err := svc.ListExceptions(context.Background(), dto.ResolveQuery{TherapistID: "t1", From: "bad", To: "2026-09-30"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	exceptions, err := svc.ListExceptions(context.Background(), dto.ResolveQuery{
		TherapistID: "t1",
		From:        "2026-09-01",
		To:          "2026-09-30",
	})
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, "e1", exceptions[0].ID)
}
