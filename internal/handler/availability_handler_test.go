package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/repository"
	"github.com/amalcenter/scheduling-api/internal/service"
)

// memWindowRepo is a minimal in-memory window store for handler tests.
type memWindowRepo struct {
	windows []models.AvailabilityWindow
}

func (m *memWindowRepo) FindByID(_ context.Context, id string) (*models.AvailabilityWindow, error) {
	for i := range m.windows {
		if m.windows[i].ID == id {
			w := m.windows[i]
			return &w, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memWindowRepo) Upsert(_ context.Context, w *models.AvailabilityWindow) error {
	if w.ID == "" {
		w.ID = "win-1"
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

func (m *memWindowRepo) Delete(_ context.Context, id string) error {
	for i := range m.windows {
		if m.windows[i].ID == id {
			m.windows = append(m.windows[:i], m.windows[i+1:]...)
			return nil
		}
	}
	return repository.ErrNoRows
}

func (m *memWindowRepo) ListByTherapist(_ context.Context, therapistID string) ([]models.AvailabilityWindow, error) {
	var out []models.AvailabilityWindow
	for _, w := range m.windows {
		if w.TherapistID == therapistID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memWindowRepo) ListForRange(ctx context.Context, therapistID string, _, _ time.Time) ([]models.AvailabilityWindow, error) {
	return m.ListByTherapist(ctx, therapistID)
}

func (m *memWindowRepo) DistinctTherapists(_ context.Context) ([]string, error) {
	return nil, nil
}

func (m *memWindowRepo) AdjustBookings(_ context.Context, _ sqlx.ExtContext, _ string, _ int) error {
	return nil
}

type memExceptionRepo struct{}

func (memExceptionRepo) Create(_ context.Context, e *models.AvailabilityException) error {
	e.ID = "exc-1"
	return nil
}
func (memExceptionRepo) Delete(context.Context, string) error { return nil }
func (memExceptionRepo) ListForRange(context.Context, string, time.Time, time.Time) ([]models.AvailabilityException, error) {
	return nil, nil
}

func newAvailabilityHandler(repo *memWindowRepo) *AvailabilityHandler {
	svc := service.NewAvailabilityService(repo, memExceptionRepo{}, nil, nil, zap.NewNop())
	return NewAvailabilityHandler(svc)
}

func TestAvailabilityHandlerListRequiresTherapist(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAvailabilityHandler(&memWindowRepo{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/availability/windows", nil)

	handler.ListWindows(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailabilityHandlerUpsertWindow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &memWindowRepo{}
	handler := newAvailabilityHandler(repo)

	payload := `{"therapistId":"t1","dayOfWeek":1,"startMinute":540,"endMinute":720,"maxSessionsPerSlot":2}`
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/availability/windows", bytes.NewBufferString(payload))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.UpsertWindow(c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, repo.windows, 1)
	assert.Equal(t, "t1", repo.windows[0].TherapistID)
	assert.True(t, repo.windows[0].IsRecurring)
}

func TestAvailabilityHandlerUpsertRejectsBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newAvailabilityHandler(&memWindowRepo{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/availability/windows", bytes.NewBufferString("{not json"))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.UpsertWindow(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailabilityHandlerResolve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	day := 1
	repo := &memWindowRepo{windows: []models.AvailabilityWindow{{
		ID:                 "w1",
		TherapistID:        "t1",
		DayOfWeek:          &day,
		StartMinute:        540,
		EndMinute:          720,
		IsRecurring:        true,
		MaxSessionsPerSlot: 2,
		IsAvailable:        true,
	}}}
	handler := newAvailabilityHandler(repo)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/availability/resolve?therapistId=t1&from=2026-09-07&to=2026-09-08", nil)

	handler.Resolve(c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var envelope struct {
		Data []struct {
			Date    string                      `json:"date"`
			Windows []models.AvailabilityWindow `json:"windows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 2)
	assert.Equal(t, "2026-09-07", envelope.Data[0].Date)
	assert.Len(t, envelope.Data[0].Windows, 1)
	assert.Empty(t, envelope.Data[1].Windows)
}
