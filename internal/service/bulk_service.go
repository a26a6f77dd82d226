package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/repository"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

const (
	defaultBulkBatchSize = 50
	rollbackRetention    = 30 * time.Minute
)

type bulkSessionRepo interface {
	FindByID(ctx context.Context, id string) (*models.ScheduledSession, error)
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.ScheduledSession) error
	Update(ctx context.Context, exec sqlx.ExtContext, s *models.ScheduledSession, snapshotUpdatedAt time.Time) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SessionStatus) error
}

// rollbackStore keeps prior-state snapshots of bulk-modified sessions in
// memory for a bounded retention window, keyed by an opaque token.
type rollbackStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]rollbackEntry
}

type rollbackEntry struct {
	sessions   []models.ScheduledSession
	successors []string
	created    time.Time
}

func newRollbackStore(ttl time.Duration) *rollbackStore {
	if ttl <= 0 {
		ttl = rollbackRetention
	}
	return &rollbackStore{ttl: ttl, entries: make(map[string]rollbackEntry)}
}

func (r *rollbackStore) Save(sessions []models.ScheduledSession, successors []string) string {
	token := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	r.entries[token] = rollbackEntry{sessions: sessions, successors: successors, created: time.Now()}
	return token
}

func (r *rollbackStore) Take(token string) ([]models.ScheduledSession, []string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purgeLocked()
	entry, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
	}
	return entry.sessions, entry.successors, ok
}

func (r *rollbackStore) purgeLocked() {
	cutoff := time.Now().Add(-r.ttl)
	for token, entry := range r.entries {
		if entry.created.Before(cutoff) {
			delete(r.entries, token)
		}
	}
}

// BulkService applies one operation across many sessions. Items are
// processed independently; a failing item never aborts the batch, and the
// result partitions always sum to the requested item count.
type BulkService struct {
	db        *sqlx.DB
	sessions  bulkSessionRepo
	conflicts *ConflictService
	locker    TherapistLocker
	notifier  Notifier
	metrics   *MetricsService
	rollbacks *rollbackStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBulkService wires the bulk operations coordinator.
func NewBulkService(
	db *sqlx.DB,
	sessions bulkSessionRepo,
	conflicts *ConflictService,
	locker TherapistLocker,
	notifier Notifier,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *BulkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if locker == nil {
		locker = NewLocalTherapistLocker()
	}
	return &BulkService{
		db:        db,
		sessions:  sessions,
		conflicts: conflicts,
		locker:    locker,
		notifier:  notifier,
		metrics:   metrics,
		rollbacks: newRollbackStore(rollbackRetention),
		validator: validate,
		logger:    logger,
	}
}

// Apply runs the operation over every session id and reports the outcome
// per item. Only a malformed request is a hard failure.
func (s *BulkService) Apply(ctx context.Context, req dto.BulkOperationRequest) (*dto.BulkOperationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk request")
	}
	if req.Operation == dto.BulkOpReschedule && req.Params.NewStartDate == "" && req.Params.NewStartMinute == nil && req.Params.NewTherapistID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reschedule requires a new date, time or therapist")
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBulkBatchSize
	}

	result := &dto.BulkOperationResult{NewSessionIDs: make(map[string]string)}
	var priorStates []models.ScheduledSession
	var succeededIDs []string

	for start := 0; start < len(req.SessionIDs); start += batchSize {
		end := start + batchSize
		if end > len(req.SessionIDs) {
			end = len(req.SessionIDs)
		}
		for _, sessionID := range req.SessionIDs[start:end] {
			prior, err := s.applyOne(ctx, sessionID, req, result)
			switch {
			case err == nil:
				result.SuccessfulSessionIDs = append(result.SuccessfulSessionIDs, sessionID)
				succeededIDs = append(succeededIDs, sessionID)
				if prior != nil {
					priorStates = append(priorStates, *prior)
				}
			case errors.Is(err, errItemConflict):
				result.ConflictSessionIDs = append(result.ConflictSessionIDs, sessionID)
			default:
				result.FailedSessionIDs = append(result.FailedSessionIDs, sessionID)
				result.Errors = append(result.Errors, itemError(sessionID, err))
			}
		}
		s.logger.Debug("bulk batch processed",
			zap.String("operation", req.Operation),
			zap.Int("batch_end", end),
			zap.Int("total", len(req.SessionIDs)),
		)
	}

	if len(priorStates) > 0 {
		// Successors created by reschedules must be undone alongside the
		// restored originals, or a rollback leaves two live sessions.
		successorIDs := make([]string, 0, len(result.NewSessionIDs))
		for _, originalID := range succeededIDs {
			if successorID, ok := result.NewSessionIDs[originalID]; ok {
				successorIDs = append(successorIDs, successorID)
			}
		}
		result.RollbackAvailable = true
		result.RollbackToken = s.rollbacks.Save(priorStates, successorIDs)
	}
	if len(succeededIDs) > 0 {
		kind := EventBulkApplied
		if req.Operation == dto.BulkOpCancel {
			kind = EventSessionCancelled
		}
		s.notifier.Notify(ctx, ScheduleEvent{Kind: kind, SessionIDs: succeededIDs})
	}
	if s.metrics != nil {
		s.metrics.ObserveBulkOperation(req.Operation, len(result.SuccessfulSessionIDs), len(result.FailedSessionIDs), len(result.ConflictSessionIDs))
	}
	return result, nil
}

// errItemConflict routes an item into the conflict partition.
var errItemConflict = errors.New("item has scheduling conflicts")

func itemError(sessionID string, err error) dto.BulkItemError {
	code := appErrors.ErrInternal.Code
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		code = appErr.Code
	}
	return dto.BulkItemError{SessionID: sessionID, Code: code, Message: err.Error()}
}

// applyOne processes a single item under that item's therapist lease. The
// returned session is the pre-mutation state retained for rollback.
func (s *BulkService) applyOne(ctx context.Context, sessionID string, req dto.BulkOperationRequest, result *dto.BulkOperationResult) (*models.ScheduledSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}

	release, err := s.locker.Acquire(ctx, session.TherapistID)
	if err != nil {
		return nil, err
	}
	defer release()
	if req.Operation == dto.BulkOpReschedule && req.Params.NewTherapistID != "" && req.Params.NewTherapistID != session.TherapistID {
		targetRelease, err := s.locker.Acquire(ctx, req.Params.NewTherapistID)
		if err != nil {
			return nil, err
		}
		defer targetRelease()
	}

	prior := *session
	switch req.Operation {
	case dto.BulkOpCancel:
		err = s.cancelOne(ctx, session, req.Params)
	case dto.BulkOpModify:
		err = s.modifyOne(ctx, session, req.Params)
	case dto.BulkOpReschedule:
		err = s.rescheduleOne(ctx, session, req.Params, result)
	default:
		err = appErrors.Clone(appErrors.ErrValidation, "unknown bulk operation")
	}
	if err != nil {
		return nil, err
	}
	return &prior, nil
}

func (s *BulkService) cancelOne(ctx context.Context, session *models.ScheduledSession, params dto.BulkParams) error {
	if !session.CanTransitionTo(models.SessionStatusCancelled) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("cannot cancel a %s session", session.Status))
	}
	if err := s.sessions.UpdateStatus(ctx, nil, session.ID, models.SessionStatusCancelled); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel session")
	}
	return nil
}

func (s *BulkService) modifyOne(ctx context.Context, session *models.ScheduledSession, params dto.BulkParams) error {
	if session.IsFinal() {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("cannot modify a %s session", session.Status))
	}
	if params.Priority != nil {
		session.Priority = *params.Priority
	}
	if params.IsBillable != nil {
		session.IsBillable = *params.IsBillable
	}
	if params.Notes != nil {
		session.Notes = *params.Notes
	}
	if params.NewRoomID != nil {
		session.RoomID = params.NewRoomID
	}
	if params.NewEquipment != nil {
		session.EquipmentIDs = params.NewEquipment
	}

	if err := s.sessions.Update(ctx, nil, session, session.UpdatedAt); err != nil {
		if errors.Is(err, repository.ErrStale) {
			return appErrors.Clone(appErrors.ErrStaleSnapshot, "session changed concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to modify session")
	}
	return nil
}

// rescheduleOne re-checks conflicts at the target slot before committing.
// The original session is marked rescheduled and a successor session is
// created carrying the lineage: original_session_id points at the immediate
// predecessor so chains stay walkable hop by hop, and reschedule_count
// increments exactly once per hop.
func (s *BulkService) rescheduleOne(ctx context.Context, session *models.ScheduledSession, params dto.BulkParams, result *dto.BulkOperationResult) error {
	if !session.CanTransitionTo(models.SessionStatusRescheduled) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("cannot reschedule a %s session", session.Status))
	}

	targetDate := models.DateOnly(session.Date)
	if params.NewStartDate != "" {
		parsed, err := time.Parse(models.DateLayout, params.NewStartDate)
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "invalid newStartDate")
		}
		targetDate = models.DateOnly(parsed)
	}
	targetTherapist := session.TherapistID
	if params.NewTherapistID != "" {
		targetTherapist = params.NewTherapistID
	}
	startMinute := session.StartMinute
	if params.NewStartMinute != nil {
		startMinute = *params.NewStartMinute
	}
	endMinute := startMinute + session.DurationMinutes

	snap, err := s.conflicts.LoadSnapshot(ctx, targetTherapist, targetDate, targetDate)
	if err != nil {
		return err
	}
	candidate := CandidateSlot{
		TherapistID:      targetTherapist,
		Date:             targetDate,
		StartMinute:      startMinute,
		EndMinute:        endMinute,
		ExcludeSessionID: session.ID,
	}
	if session.RoomID != nil {
		candidate.RoomID = *session.RoomID
	}
	if session.StudentID != nil {
		candidate.StudentID = *session.StudentID
	}
	candidate.EquipmentIDs = append(candidate.EquipmentIDs, session.EquipmentIDs...)

	if conflicts := DetectConflicts(candidate, *snap, s.conflicts.Policy()); len(conflicts) > 0 {
		return errItemConflict
	}

	successor := *session
	successor.ID = ""
	successor.TherapistID = targetTherapist
	successor.Date = targetDate
	successor.StartMinute = startMinute
	successor.EndMinute = endMinute
	successor.Status = models.SessionStatusScheduled
	successor.RescheduleCount = session.RescheduleCount + 1
	successor.CreatedAt = time.Time{}
	predecessorID := session.ID
	successor.OriginalSessionID = &predecessorID
	if params.Reason != "" {
		successor.Notes = params.Reason
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.sessions.UpdateStatus(ctx, tx, session.ID, models.SessionStatusRescheduled); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark session rescheduled")
	}
	batch := []models.ScheduledSession{successor}
	if err := s.sessions.CreateBatch(ctx, tx, batch); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create rescheduled session")
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reschedule")
	}
	result.NewSessionIDs[session.ID] = batch[0].ID
	return nil
}

// Rollback restores the prior state captured by a previous bulk call and
// cancels any successor sessions the call created. Best effort per item; the
// partitions behave like a regular bulk result.
func (s *BulkService) Rollback(ctx context.Context, token string) (*dto.BulkOperationResult, error) {
	priorStates, successors, ok := s.rollbacks.Take(token)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "rollback token unknown or expired")
	}

	result := &dto.BulkOperationResult{}
	for _, successorID := range successors {
		if err := s.sessions.UpdateStatus(ctx, nil, successorID, models.SessionStatusCancelled); err != nil {
			result.FailedSessionIDs = append(result.FailedSessionIDs, successorID)
			result.Errors = append(result.Errors, itemError(successorID, err))
			continue
		}
		result.SuccessfulSessionIDs = append(result.SuccessfulSessionIDs, successorID)
	}
	for i := range priorStates {
		prior := priorStates[i]
		current, err := s.sessions.FindByID(ctx, prior.ID)
		if err != nil {
			result.FailedSessionIDs = append(result.FailedSessionIDs, prior.ID)
			result.Errors = append(result.Errors, dto.BulkItemError{SessionID: prior.ID, Code: appErrors.ErrNotFound.Code, Message: "session no longer exists"})
			continue
		}
		if err := s.sessions.Update(ctx, nil, &prior, current.UpdatedAt); err != nil {
			result.FailedSessionIDs = append(result.FailedSessionIDs, prior.ID)
			result.Errors = append(result.Errors, itemError(prior.ID, err))
			continue
		}
		result.SuccessfulSessionIDs = append(result.SuccessfulSessionIDs, prior.ID)
	}
	s.logger.Info("bulk rollback applied",
		zap.Int("restored", len(result.SuccessfulSessionIDs)),
		zap.Int("failed", len(result.FailedSessionIDs)),
	)
	return result, nil
}
