package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/amalcenter/scheduling-api/internal/models"
)

// SessionRepository provides persistence for scheduled sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = "id, session_number, demand_ref, therapist_id, student_id, room_id, equipment_ids, date, start_minute, end_minute, duration_minutes, category, priority, status, has_conflicts, conflict_details, resolution_status, original_session_id, reschedule_count, optimization_score, is_billable, notes, created_at, updated_at"

// FindByID returns a single session.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.ScheduledSession, error) {
	var session models.ScheduledSession
	query := fmt.Sprintf("SELECT %s FROM scheduled_sessions WHERE id = $1", sessionColumns)
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateBatch inserts the given sessions using the provided executor so the
// caller can batch them inside a transaction.
func (r *SessionRepository) CreateBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.ScheduledSession) error {
	if exec == nil {
		exec = r.db
	}
	query := fmt.Sprintf(`INSERT INTO scheduled_sessions (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`, sessionColumns)
	now := time.Now().UTC()
	for i := range sessions {
		s := &sessions[i]
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.UpdatedAt = now
		if _, err := exec.ExecContext(ctx, query,
			s.ID, s.SessionNumber, s.DemandRef, s.TherapistID, s.StudentID, s.RoomID,
			s.EquipmentIDs, s.Date, s.StartMinute, s.EndMinute, s.DurationMinutes,
			s.Category, s.Priority, s.Status, s.HasConflicts, s.ConflictDetails,
			s.ResolutionStatus, s.OriginalSessionID, s.RescheduleCount,
			s.OptimizationScore, s.IsBillable, s.Notes, s.CreatedAt, s.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert session %s: %w", s.SessionNumber, err)
		}
	}
	return nil
}

// List returns sessions matching the filter with total count.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.ScheduledSession, int, error) {
	base := "FROM scheduled_sessions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TherapistID != "" {
		conditions = append(conditions, fmt.Sprintf("therapist_id = $%d", len(args)+1))
		args = append(args, filter.TherapistID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("room_id = $%d", len(args)+1))
		args = append(args, filter.RoomID)
	}
	if filter.EquipmentID != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(equipment_ids)", len(args)+1))
		args = append(args, filter.EquipmentID)
	}
	if filter.DemandRef != "" {
		conditions = append(conditions, fmt.Sprintf("demand_ref = $%d", len(args)+1))
		args = append(args, filter.DemandRef)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.StringArray(statuses))
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"date":         true,
		"start_minute": true,
		"therapist_id": true,
		"created_at":   true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 500 {
		size = 100
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, start_minute ASC LIMIT %d OFFSET %d", sessionColumns, base, sortBy, order, size, offset)
	var sessions []models.ScheduledSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	return sessions, total, nil
}

// ListForTherapistRange returns every session for a therapist between two
// dates inclusive, ordered by date then start time.
func (r *SessionRepository) ListForTherapistRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.ScheduledSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM scheduled_sessions
		WHERE therapist_id = $1 AND date >= $2 AND date <= $3
		ORDER BY date, start_minute`, sessionColumns)
	var sessions []models.ScheduledSession
	if err := r.db.SelectContext(ctx, &sessions, query, therapistID, from, to); err != nil {
		return nil, fmt.Errorf("list sessions for therapist range: %w", err)
	}
	return sessions, nil
}

// ListForDate returns every session on a date regardless of therapist, used
// by the conflict detector for room/equipment/student scans.
func (r *SessionRepository) ListForDate(ctx context.Context, date time.Time) ([]models.ScheduledSession, error) {
	query := fmt.Sprintf("SELECT %s FROM scheduled_sessions WHERE date = $1 ORDER BY start_minute", sessionColumns)
	var sessions []models.ScheduledSession
	if err := r.db.SelectContext(ctx, &sessions, query, date); err != nil {
		return nil, fmt.Errorf("list sessions for date: %w", err)
	}
	return sessions, nil
}

// Update rewrites a session guarded by the snapshot's updated_at. A zero
// affected count means the row changed since the snapshot was read.
func (r *SessionRepository) Update(ctx context.Context, exec sqlx.ExtContext, s *models.ScheduledSession, snapshotUpdatedAt time.Time) error {
	if exec == nil {
		exec = r.db
	}
	s.UpdatedAt = time.Now().UTC()
	query := `UPDATE scheduled_sessions SET
			therapist_id = $2, student_id = $3, room_id = $4, equipment_ids = $5,
			date = $6, start_minute = $7, end_minute = $8, duration_minutes = $9,
			category = $10, priority = $11, status = $12, has_conflicts = $13,
			conflict_details = $14, resolution_status = $15, original_session_id = $16,
			reschedule_count = $17, optimization_score = $18, is_billable = $19,
			notes = $20, updated_at = $21
		WHERE id = $1 AND updated_at = $22`
	result, err := exec.ExecContext(ctx, query,
		s.ID, s.TherapistID, s.StudentID, s.RoomID, s.EquipmentIDs,
		s.Date, s.StartMinute, s.EndMinute, s.DurationMinutes,
		s.Category, s.Priority, s.Status, s.HasConflicts,
		s.ConflictDetails, s.ResolutionStatus, s.OriginalSessionID,
		s.RescheduleCount, s.OptimizationScore, s.IsBillable,
		s.Notes, s.UpdatedAt, snapshotUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if affected == 0 {
		return ErrStale
	}
	return nil
}

// UpdateStatus transitions a session's status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SessionStatus) error {
	if exec == nil {
		exec = r.db
	}
	result, err := exec.ExecContext(ctx, "UPDATE scheduled_sessions SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

// CountForDemand returns how many sessions exist for a demand reference,
// used to derive sequential session numbers.
func (r *SessionRepository) CountForDemand(ctx context.Context, demandRef string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM scheduled_sessions WHERE demand_ref = $1", demandRef); err != nil {
		return 0, fmt.Errorf("count sessions for demand: %w", err)
	}
	return count, nil
}
