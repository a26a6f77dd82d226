package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/internal/repository"
	"github.com/amalcenter/scheduling-api/pkg/config"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

const algorithmHillClimbV1 = "hill_climb_v1"

type optimizerSessionRepo interface {
	Update(ctx context.Context, exec sqlx.ExtContext, s *models.ScheduledSession, snapshotUpdatedAt time.Time) error
}

// OptimizerService improves an existing schedule with a bounded
// hill-climbing pass. It is a local-optimum heuristic, not a global solver:
// it accepts only strictly-improving conflict-free relocations and stops at
// the iteration cap or when no improving move remains. The trade-off is
// bounded runtime over optimality.
type OptimizerService struct {
	db        *sqlx.DB
	sessions  optimizerSessionRepo
	conflicts *ConflictService
	locker    TherapistLocker
	notifier  Notifier
	metrics   *MetricsService
	cfg       config.SchedulerConfig
	validator *validator.Validate
	logger    *zap.Logger
}

// NewOptimizerService wires the schedule optimizer.
func NewOptimizerService(
	db *sqlx.DB,
	sessions optimizerSessionRepo,
	conflicts *ConflictService,
	locker TherapistLocker,
	notifier Notifier,
	metrics *MetricsService,
	cfg config.SchedulerConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *OptimizerService {
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
	if cfg.MaxOptimizerIterations <= 0 {
		cfg.MaxOptimizerIterations = 100
	}
	return &OptimizerService{
		db:        db,
		sessions:  sessions,
		conflicts: conflicts,
		locker:    locker,
		notifier:  notifier,
		metrics:   metrics,
		cfg:       cfg,
		validator: validate,
		logger:    logger,
	}
}

// Optimize runs the hill-climbing pass over a therapist's sessions in the
// requested date range and persists accepted moves unless DryRun is set.
func (s *OptimizerService) Optimize(ctx context.Context, req dto.OptimizeRequest) (*dto.OptimizationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid optimize request")
	}
	startDate, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid startDate")
	}
	endDate, err := time.Parse(models.DateLayout, req.EndDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid endDate")
	}
	startDate, endDate = models.DateOnly(startDate), models.DateOnly(endDate)
	if endDate.Before(startDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must not be after endDate")
	}

	if !req.DryRun {
		release, err := s.locker.Acquire(ctx, req.TherapistID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	snap, err := s.conflicts.LoadSnapshot(ctx, req.TherapistID, startDate, endDate)
	if err != nil {
		return nil, err
	}

	cfg := req.Config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = s.cfg.MaxOptimizerIterations
	}

	result := s.climb(req, snap, cfg, startDate, endDate)

	if !req.DryRun && len(result.Moves) > 0 {
		if err := s.persistMoves(ctx, result); err != nil {
			return nil, err
		}
		sessionIDs := make([]string, 0, len(result.Moves))
		for _, m := range result.Moves {
			sessionIDs = append(sessionIDs, m.SessionID)
		}
		s.notifier.Notify(ctx, ScheduleEvent{
			Kind:        EventScheduleOptimized,
			TherapistID: req.TherapistID,
			SessionIDs:  sessionIDs,
		})
	}
	if s.metrics != nil {
		s.metrics.ObserveOptimization(result.Iterations, result.ImprovementPercentage)
	}
	s.logger.Info("schedule optimized",
		zap.String("therapist_id", req.TherapistID),
		zap.Int("moves", len(result.Moves)),
		zap.Float64("score_before", result.ScoreBefore),
		zap.Float64("score_after", result.ScoreAfter),
		zap.Bool("dry_run", req.DryRun),
	)
	return result, nil
}

// climb performs the in-memory hill-climbing pass over a working copy of the
// snapshot. Only conflict-free moves that strictly improve the composite
// score are kept, so the result never regresses and never gains a high or
// critical conflict.
func (s *OptimizerService) climb(req dto.OptimizeRequest, snap *ScheduleSnapshot, cfg dto.OptimizationConfig, startDate, endDate time.Time) *dto.OptimizationResult {
	working := make([]models.ScheduledSession, len(snap.TherapistSessions))
	copy(working, snap.TherapistSessions)
	sort.SliceStable(working, func(i, j int) bool {
		if !working[i].Date.Equal(working[j].Date) {
			return working[i].Date.Before(working[j].Date)
		}
		if working[i].StartMinute != working[j].StartMinute {
			return working[i].StartMinute < working[j].StartMinute
		}
		return working[i].ID < working[j].ID
	})

	snaps := map[string]*ScheduleSnapshot{req.TherapistID: snap}
	scoreBefore := compositeScore(working, snaps, req.PreferredTimes, cfg)
	currentScore := scoreBefore

	result := &dto.OptimizationResult{
		ScoreBefore: scoreBefore,
		Algorithm:   algorithmHillClimbV1,
	}
	policy := s.conflicts.Policy()

	for result.Iterations < cfg.MaxIterations {
		improved := false
		for i := range working {
			if result.Iterations >= cfg.MaxIterations {
				break
			}
			session := &working[i]
			if !relocatable(session, req.PreferredTimes, policy, snap) {
				continue
			}
			result.Iterations++

			move, newScore, ok := s.bestMove(req, snap, snaps, cfg, working, i, startDate, endDate, currentScore, policy)
			if !ok {
				continue
			}

			result.Moves = append(result.Moves, dto.RelocatedSession{
				SessionID:  session.ID,
				FromDate:   session.Date.Format(models.DateLayout),
				FromStart:  session.StartMinute,
				ToDate:     move.Date.Format(models.DateLayout),
				ToStart:    move.StartMinute,
				ScoreDelta: newScore - currentScore,
			})
			session.Date = models.DateOnly(move.Date)
			session.StartMinute = move.StartMinute
			session.EndMinute = move.EndMinute
			session.HasConflicts = false
			session.ConflictDetails = nil
			session.ResolutionStatus = models.ResolutionResolved
			syncSnapshot(snap, session)
			currentScore = newScore
			improved = true
		}
		if !improved {
			break
		}
	}

	result.Sessions = working
	result.ScoreAfter = currentScore
	if scoreBefore > 0 {
		result.ImprovementPercentage = (currentScore - scoreBefore) / scoreBefore * 100
	}
	return result
}

// relocatable filters the sessions the optimizer may touch: upcoming,
// unfinished sessions that carry an at-most-medium conflict or sit outside
// every preferred window.
func relocatable(session *models.ScheduledSession, preferred []dto.TimeRange, policy SeverityPolicy, snap *ScheduleSnapshot) bool {
	if session.Status != models.SessionStatusScheduled && session.Status != models.SessionStatusConfirmed {
		return false
	}
	if session.HasConflicts {
		candidate := CandidateSlot{
			TherapistID:      session.TherapistID,
			Date:             session.Date,
			StartMinute:      session.StartMinute,
			EndMinute:        session.EndMinute,
			ExcludeSessionID: session.ID,
		}
		severity := models.MaxSeverity(DetectConflicts(candidate, *snap, policy))
		return severity == "" || severity.Rank() <= models.SeverityMedium.Rank()
	}
	if len(preferred) == 0 {
		return true
	}
	return preferenceRank(preferred, session.StartMinute, session.EndMinute) < 2
}

// bestMove scans alternative conflict-free slots for one session and returns
// the highest-scoring one that strictly improves the composite score.
func (s *OptimizerService) bestMove(
	req dto.OptimizeRequest,
	snap *ScheduleSnapshot,
	snaps map[string]*ScheduleSnapshot,
	cfg dto.OptimizationConfig,
	working []models.ScheduledSession,
	idx int,
	startDate, endDate time.Time,
	currentScore float64,
	policy SeverityPolicy,
) (CandidateSlot, float64, bool) {
	session := working[idx]
	enumReq := dto.SchedulingRequest{
		DurationMinutes: session.DurationMinutes,
		PreferredTimes:  req.PreferredTimes,
	}
	if session.RoomID != nil {
		enumReq.RoomID = *session.RoomID
	}
	if session.StudentID != nil {
		enumReq.StudentID = *session.StudentID
	}
	enumReq.EquipmentIDs = append(enumReq.EquipmentIDs, session.EquipmentIDs...)

	var best CandidateSlot
	bestScore := currentScore
	found := false

	for day := startDate; !day.After(endDate); day = day.AddDate(0, 0, 1) {
		for _, candidate := range enumerateDaySlots(snap, session.TherapistID, day, enumReq) {
			slot := candidate.slot
			if models.SameDay(slot.Date, session.Date) && slot.StartMinute == session.StartMinute {
				continue
			}
			slot.ExcludeSessionID = session.ID
			if len(DetectConflicts(slot, *snap, policy)) > 0 {
				continue
			}

			trial := working[idx]
			trial.Date = models.DateOnly(slot.Date)
			trial.StartMinute = slot.StartMinute
			trial.EndMinute = slot.EndMinute
			working[idx] = trial
			score := compositeScore(working, snaps, req.PreferredTimes, cfg)
			working[idx] = session

			if score > bestScore {
				bestScore = score
				best = slot
				found = true
			}
		}
	}
	return best, bestScore, found
}

// syncSnapshot mirrors an accepted move into the snapshot session lists so
// later conflict checks see the new position.
func syncSnapshot(snap *ScheduleSnapshot, moved *models.ScheduledSession) {
	for i := range snap.TherapistSessions {
		if snap.TherapistSessions[i].ID == moved.ID {
			snap.TherapistSessions[i] = *moved
		}
	}
	for i := range snap.DateSessions {
		if snap.DateSessions[i].ID == moved.ID {
			snap.DateSessions[i] = *moved
		}
	}
}

// persistMoves writes relocated sessions under one transaction with the
// optimistic updated_at guard. A stale row fails the whole pass so the
// caller refetches and retries.
func (s *OptimizerService) persistMoves(ctx context.Context, result *dto.OptimizationResult) error {
	moved := make(map[string]bool, len(result.Moves))
	for _, m := range result.Moves {
		moved[m.SessionID] = true
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := range result.Sessions {
		session := &result.Sessions[i]
		if !moved[session.ID] {
			continue
		}
		snapshotUpdatedAt := session.UpdatedAt
		if err := s.sessions.Update(ctx, tx, session, snapshotUpdatedAt); err != nil {
			if errors.Is(err, repository.ErrStale) {
				return appErrors.Clone(appErrors.ErrStaleSnapshot, "session changed while optimizing, retry with a fresh snapshot")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store relocated session")
		}
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit optimization")
	}
	return nil
}
