package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/amalcenter/scheduling-api/internal/models"
)

// AvailabilityRepository provides persistence for availability windows.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

const windowColumns = "id, therapist_id, day_of_week, specific_date, start_minute, end_minute, is_recurring, effective_from, effective_to, max_sessions_per_slot, current_bookings, is_available, is_time_off, time_off_reason, notes, created_at, updated_at"

// FindByID returns a single window.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	var window models.AvailabilityWindow
	query := fmt.Sprintf("SELECT %s FROM availability_windows WHERE id = $1", windowColumns)
	if err := r.db.GetContext(ctx, &window, query, id); err != nil {
		return nil, err
	}
	return &window, nil
}

// Upsert inserts or replaces a window by id.
func (r *AvailabilityRepository) Upsert(ctx context.Context, w *models.AvailabilityWindow) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	query := `INSERT INTO availability_windows (id, therapist_id, day_of_week, specific_date, start_minute, end_minute, is_recurring, effective_from, effective_to, max_sessions_per_slot, current_bookings, is_available, is_time_off, time_off_reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			day_of_week = EXCLUDED.day_of_week,
			specific_date = EXCLUDED.specific_date,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			is_recurring = EXCLUDED.is_recurring,
			effective_from = EXCLUDED.effective_from,
			effective_to = EXCLUDED.effective_to,
			max_sessions_per_slot = EXCLUDED.max_sessions_per_slot,
			is_available = EXCLUDED.is_available,
			is_time_off = EXCLUDED.is_time_off,
			time_off_reason = EXCLUDED.time_off_reason,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query,
		w.ID, w.TherapistID, w.DayOfWeek, w.SpecificDate, w.StartMinute, w.EndMinute,
		w.IsRecurring, w.EffectiveFrom, w.EffectiveTo, w.MaxSessionsPerSlot, w.CurrentBookings, w.IsAvailable,
		w.IsTimeOff, w.TimeOffReason, w.Notes, w.CreatedAt, w.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert availability window: %w", err)
	}
	return nil
}

// Delete removes a window.
func (r *AvailabilityRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM availability_windows WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

// ListByTherapist returns every window belonging to a therapist.
func (r *AvailabilityRepository) ListByTherapist(ctx context.Context, therapistID string) ([]models.AvailabilityWindow, error) {
	query := fmt.Sprintf("SELECT %s FROM availability_windows WHERE therapist_id = $1 ORDER BY day_of_week NULLS LAST, specific_date NULLS LAST, start_minute", windowColumns)
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, therapistID); err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	return windows, nil
}

// ListForRange returns the windows that can apply to any date within
// [from, to]: recurring windows plus date-specific windows inside the range.
func (r *AvailabilityRepository) ListForRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.AvailabilityWindow, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_windows
		WHERE therapist_id = $1
		  AND (specific_date IS NULL OR (specific_date >= $2 AND specific_date <= $3))
		  AND (effective_from IS NULL OR effective_from <= $3)
		  AND (effective_to IS NULL OR effective_to >= $2)
		ORDER BY day_of_week NULLS LAST, specific_date NULLS LAST, start_minute`, windowColumns)
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, therapistID, from, to); err != nil {
		return nil, fmt.Errorf("list availability windows for range: %w", err)
	}
	return windows, nil
}

// DistinctTherapists returns therapist ids with at least one window.
func (r *AvailabilityRepository) DistinctTherapists(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, "SELECT DISTINCT therapist_id FROM availability_windows ORDER BY therapist_id"); err != nil {
		return nil, fmt.Errorf("list therapists: %w", err)
	}
	return ids, nil
}

// AdjustBookings atomically changes current_bookings by delta while keeping
// 0 <= current_bookings <= max_sessions_per_slot. Returns ErrCapacity when
// the adjustment would violate the invariant.
func (r *AvailabilityRepository) AdjustBookings(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error {
	if exec == nil {
		exec = r.db
	}
	query := `UPDATE availability_windows
		SET current_bookings = current_bookings + $2, updated_at = NOW()
		WHERE id = $1
		  AND current_bookings + $2 >= 0
		  AND current_bookings + $2 <= max_sessions_per_slot`
	result, err := exec.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("adjust bookings for window %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust bookings for window %s: %w", id, err)
	}
	if affected == 0 {
		return ErrCapacity
	}
	return nil
}
