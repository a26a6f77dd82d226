package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/amalcenter/scheduling-api/internal/models"
)

// TemplateRepository provides persistence for availability templates.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = "id, name_en, name_ar, therapist_id, slots, is_active, created_at, updated_at"

// Create inserts a template.
func (r *TemplateRepository) Create(ctx context.Context, t *models.AvailabilityTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	query := fmt.Sprintf("INSERT INTO availability_templates (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)", templateColumns)
	if _, err := r.db.ExecContext(ctx, query, t.ID, t.NameEN, t.NameAR, t.TherapistID, t.Slots, t.IsActive, t.CreatedAt, t.UpdatedAt); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// FindByID returns a single template.
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityTemplate, error) {
	var template models.AvailabilityTemplate
	query := fmt.Sprintf("SELECT %s FROM availability_templates WHERE id = $1", templateColumns)
	if err := r.db.GetContext(ctx, &template, query, id); err != nil {
		return nil, err
	}
	return &template, nil
}

// List returns templates owned by the therapist plus shared templates.
func (r *TemplateRepository) List(ctx context.Context, therapistID string) ([]models.AvailabilityTemplate, error) {
	query := fmt.Sprintf("SELECT %s FROM availability_templates WHERE therapist_id IS NULL", templateColumns)
	args := []interface{}{}
	if therapistID != "" {
		query += " OR therapist_id = $1"
		args = append(args, therapistID)
	}
	query += " ORDER BY name_en"
	var templates []models.AvailabilityTemplate
	if err := r.db.SelectContext(ctx, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// SetActive flips a template's activation flag.
func (r *TemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx, "UPDATE availability_templates SET is_active = $2, updated_at = NOW() WHERE id = $1", id, active)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

// Delete removes a template.
func (r *TemplateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM availability_templates WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}
