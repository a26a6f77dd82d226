package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/amalcenter/scheduling-api/internal/models"
)

// ExceptionRepository provides persistence for availability exceptions.
type ExceptionRepository struct {
	db *sqlx.DB
}

// NewExceptionRepository creates a new exception repository.
func NewExceptionRepository(db *sqlx.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

const exceptionColumns = "id, therapist_id, start_date, end_date, is_available, reason_en, reason_ar, alternatives, created_at"

// Create inserts an exception.
func (r *ExceptionRepository) Create(ctx context.Context, e *models.AvailabilityException) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf("INSERT INTO availability_exceptions (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)", exceptionColumns)
	if _, err := r.db.ExecContext(ctx, query, e.ID, e.TherapistID, e.StartDate, e.EndDate, e.IsAvailable, e.ReasonEN, e.ReasonAR, e.Alternatives, e.CreatedAt); err != nil {
		return fmt.Errorf("insert exception: %w", err)
	}
	return nil
}

// ListForRange returns exceptions overlapping [from, to] for a therapist.
func (r *ExceptionRepository) ListForRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.AvailabilityException, error) {
	query := fmt.Sprintf(`SELECT %s FROM availability_exceptions
		WHERE therapist_id = $1 AND start_date <= $3 AND end_date >= $2
		ORDER BY start_date`, exceptionColumns)
	var exceptions []models.AvailabilityException
	if err := r.db.SelectContext(ctx, &exceptions, query, therapistID, from, to); err != nil {
		return nil, fmt.Errorf("list exceptions for range: %w", err)
	}
	return exceptions, nil
}

// Delete removes an exception.
func (r *ExceptionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM availability_exceptions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}
