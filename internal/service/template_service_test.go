package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/repository"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

type mockTemplateRepo struct {
	templates []models.AvailabilityTemplate
	nextID    int
}

func (m *mockTemplateRepo) Create(_ context.Context, t *models.AvailabilityTemplate) error {
	if t.ID == "" {
		m.nextID++
		t.ID = fmt.Sprintf("tpl-%d", m.nextID)
	}
	m.templates = append(m.templates, *t)
	return nil
}

func (m *mockTemplateRepo) FindByID(_ context.Context, id string) (*models.AvailabilityTemplate, error) {
	for i := range m.templates {
		if m.templates[i].ID == id {
			t := m.templates[i]
			return &t, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockTemplateRepo) List(_ context.Context, therapistID string) ([]models.AvailabilityTemplate, error) {
	var out []models.AvailabilityTemplate
	for _, t := range m.templates {
		if t.TherapistID == nil || *t.TherapistID == therapistID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTemplateRepo) SetActive(_ context.Context, id string, active bool) error {
	for i := range m.templates {
		if m.templates[i].ID == id {
			m.templates[i].IsActive = active
			return nil
		}
	}
	return repository.ErrNoRows
}

func (m *mockTemplateRepo) Delete(_ context.Context, id string) error {
	for i := range m.templates {
		if m.templates[i].ID == id {
			m.templates = append(m.templates[:i], m.templates[i+1:]...)
			return nil
		}
	}
	return repository.ErrNoRows
}

func newTemplateFixture(t *testing.T, windows []models.AvailabilityWindow) (*TemplateService, *mockTemplateRepo, *mockWindowRepo) {
	t.Helper()
	templateRepo := &mockTemplateRepo{}
	windowRepo := &mockWindowRepo{windows: windows}
	availability := NewAvailabilityService(windowRepo, &mockExceptionRepo{}, nil, nil, zap.NewNop())
	svc := NewTemplateService(templateRepo, availability, 0, nil, zap.NewNop())
	return svc, templateRepo, windowRepo
}

func TestCreateTemplateValidatesSlots(t *testing.T) {
	svc, repo, _ := newTemplateFixture(t, nil)

	_, err := svc.Create(context.Background(), dto.CreateTemplateRequest{
		NameEN: "Morning block",
		Slots:  []dto.TemplateSlotRequest{{DayOfWeek: 1, StartMinute: 600, EndMinute: 600}},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.templates)

	template, err := svc.Create(context.Background(), dto.CreateTemplateRequest{
		NameEN:      "Morning block",
		NameAR:      "فترة صباحية",
		TherapistID: "t1",
		Slots: []dto.TemplateSlotRequest{
			{DayOfWeek: 1, StartMinute: 540, EndMinute: 720},
			{DayOfWeek: 2, StartMinute: 540, EndMinute: 720},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, template.ID)
	assert.True(t, template.IsActive)
	require.NotNil(t, template.TherapistID)
	assert.Equal(t, "t1", *template.TherapistID)

	var slots []models.TemplateSlot
	require.NoError(t, template.Slots.Unmarshal(&slots))
	assert.Len(t, slots, 2)
}

func TestApplyTemplateReportsCollisions(t *testing.T) {
	// The therapist already has Monday morning blocked off on the first
	// Monday of the horizon.
	timeOffDate := testDate(t, "2026-09-07")
	timeOff := models.AvailabilityWindow{
		ID:                 "w-off",
		TherapistID:        "t1",
		SpecificDate:       &timeOffDate,
		StartMinute:        540,
		EndMinute:          600,
		MaxSessionsPerSlot: 1,
		IsTimeOff:          true,
		TimeOffReason:      "clinic meeting",
	}
	svc, _, windowRepo := newTemplateFixture(t, []models.AvailabilityWindow{timeOff})

	template, err := svc.Create(context.Background(), dto.CreateTemplateRequest{
		NameEN: "Mon and Tue mornings",
		Slots: []dto.TemplateSlotRequest{
			{DayOfWeek: 1, StartMinute: 540, EndMinute: 720},
			{DayOfWeek: 2, StartMinute: 540, EndMinute: 720},
		},
	})
	require.NoError(t, err)

	result, err := svc.Apply(context.Background(), template.ID, dto.ApplyTemplateRequest{
		TherapistID:  "t1",
		StartDate:    "2026-09-07",
		HorizonWeeks: 1,
	})
	require.NoError(t, err)

	// Both windows are created despite the collision.
	require.Len(t, result.CreatedWindows, 2)
	for _, w := range result.CreatedWindows {
		assert.True(t, w.IsRecurring)
		assert.Equal(t, "t1", w.TherapistID)
		assert.Equal(t, fmt.Sprintf("template:%s", template.ID), w.Notes)
	}

	require.Len(t, result.Conflicts, 1)
	collision := result.Conflicts[0]
	assert.Equal(t, models.ConflictTimeConstraint, collision.Type)
	assert.Equal(t, models.SeverityMedium, collision.Severity)
	assert.NotEmpty(t, collision.ID)
	assert.False(t, collision.DetectedAt.IsZero())
	assert.Equal(t, testDate(t, "2026-09-07"), collision.Date)

	// Stored state holds the original time off plus the two new windows.
	assert.Len(t, windowRepo.windows, 3)
}

func TestApplyTemplateBoundsApplicability(t *testing.T) {
	svc, _, windowRepo := newTemplateFixture(t, nil)

	template, err := svc.Create(context.Background(), dto.CreateTemplateRequest{
		NameEN: "Monday mornings",
		Slots:  []dto.TemplateSlotRequest{{DayOfWeek: 1, StartMinute: 540, EndMinute: 720}},
	})
	require.NoError(t, err)

	result, err := svc.Apply(context.Background(), template.ID, dto.ApplyTemplateRequest{
		TherapistID: "t1",
		StartDate:   "2026-10-05",
	})
	require.NoError(t, err)
	require.Len(t, result.CreatedWindows, 1)

	created := result.CreatedWindows[0]
	require.NotNil(t, created.EffectiveFrom)
	require.NotNil(t, created.EffectiveTo)
	assert.Equal(t, testDate(t, "2026-10-05"), *created.EffectiveFrom)
	assert.Equal(t, testDate(t, "2026-12-27"), *created.EffectiveTo)

	// The created window applies only to Mondays inside the applied range:
	// not before startDate, not past the horizon.
	assert.Empty(t, ResolveDay(testDate(t, "2026-09-07"), windowRepo.windows, nil))
	assert.Len(t, ResolveDay(testDate(t, "2026-10-05"), windowRepo.windows, nil), 1)
	assert.Len(t, ResolveDay(testDate(t, "2026-12-21"), windowRepo.windows, nil), 1)
	assert.Empty(t, ResolveDay(testDate(t, "2026-12-28"), windowRepo.windows, nil))
	assert.Empty(t, ResolveDay(testDate(t, "2027-06-07"), windowRepo.windows, nil))
}

func TestApplyTemplateRejectsInactive(t *testing.T) {
	svc, templateRepo, _ := newTemplateFixture(t, nil)

	inactive := false
	template, err := svc.Create(context.Background(), dto.CreateTemplateRequest{
		NameEN:   "Archived pattern",
		Slots:    []dto.TemplateSlotRequest{{DayOfWeek: 1, StartMinute: 540, EndMinute: 600}},
		IsActive: &inactive,
	})
	require.NoError(t, err)
	require.Len(t, templateRepo.templates, 1)

	_, err = svc.Apply(context.Background(), template.ID, dto.ApplyTemplateRequest{
		TherapistID: "t1",
		StartDate:   "2026-09-07",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestApplyTemplateUnknownID(t *testing.T) {
	svc, _, _ := newTemplateFixture(t, nil)
	_, err := svc.Apply(context.Background(), "missing", dto.ApplyTemplateRequest{
		TherapistID: "t1",
		StartDate:   "2026-09-07",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDeleteTemplate(t *testing.T) {
	svc, templateRepo, _ := newTemplateFixture(t, nil)
	template, err := svc.Create(context.Background(), dto.CreateTemplateRequest{
		NameEN: "Short lived",
		Slots:  []dto.TemplateSlotRequest{{DayOfWeek: 1, StartMinute: 540, EndMinute: 600}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), template.ID))
	assert.Empty(t, templateRepo.templates)

	err = svc.Delete(context.Background(), template.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
