package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	"github.com/amalcenter/scheduling-api/pkg/config"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

const (
	candidateStepMinutes = 15
	algorithmGreedyV1    = "greedy_week_walk_v1"
)

type generatorSessionRepo interface {
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, sessions []models.ScheduledSession) error
	CountForDemand(ctx context.Context, demandRef string) (int, error)
}

type generatorTherapistSource interface {
	DistinctTherapists(ctx context.Context) ([]string, error)
}

// GeneratorService builds session schedules from demand requests using a
// deterministic greedy week walk. Identical requests over an identical
// snapshot produce identical placements.
type GeneratorService struct {
	db           *sqlx.DB
	sessions     generatorSessionRepo
	therapists   generatorTherapistSource
	availability *AvailabilityService
	conflicts    *ConflictService
	locker       TherapistLocker
	notifier     Notifier
	metrics      *MetricsService
	cfg          config.SchedulerConfig
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewGeneratorService wires the schedule generator.
func NewGeneratorService(
	db *sqlx.DB,
	sessions generatorSessionRepo,
	therapists generatorTherapistSource,
	availability *AvailabilityService,
	conflicts *ConflictService,
	locker TherapistLocker,
	notifier Notifier,
	metrics *MetricsService,
	cfg config.SchedulerConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *GeneratorService {
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
	if cfg.FlexibilityThreshold <= 0 {
		cfg.FlexibilityThreshold = 70
	}
	if cfg.MaxGenerationDays <= 0 {
		cfg.MaxGenerationDays = 180
	}
	return &GeneratorService{
		db:           db,
		sessions:     sessions,
		therapists:   therapists,
		availability: availability,
		conflicts:    conflicts,
		locker:       locker,
		notifier:     notifier,
		metrics:      metrics,
		cfg:          cfg,
		validator:    validate,
		logger:       logger,
	}
}

// placement pairs a planned session with the window that will hold it.
type placement struct {
	session   models.ScheduledSession
	window    models.AvailabilityWindow
	conflicts []models.ScheduleConflict
}

// Preview runs the planning pass without persisting anything. Replayable:
// the same request over the same snapshot yields the same result.
func (s *GeneratorService) Preview(ctx context.Context, req dto.SchedulingRequest) (*dto.SchedulingResult, error) {
	started := time.Now()
	result, _, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	result.GenerationMillis = time.Since(started).Milliseconds()
	return result, nil
}

// Generate plans and persists a schedule. The per-therapist lease is held
// across the snapshot read, planning and write so concurrent generators
// cannot both claim the same free slot.
func (s *GeneratorService) Generate(ctx context.Context, req dto.SchedulingRequest) (*dto.SchedulingResult, error) {
	started := time.Now()

	therapistIDs, err := s.involvedTherapists(ctx, req)
	if err != nil {
		return nil, err
	}
	releases := make([]func(), 0, len(therapistIDs))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, therapistID := range therapistIDs {
		release, err := s.locker.Acquire(ctx, therapistID)
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)
	}

	result, placements, err := s.plan(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(placements) > 0 {
		if err := s.persist(ctx, req, result, placements); err != nil {
			return nil, err
		}
	}
	StampConflicts(result.UnresolvedConflicts, time.Now().UTC())
	result.GenerationMillis = time.Since(started).Milliseconds()

	sessionIDs := make([]string, 0, len(result.Sessions))
	for i := range result.Sessions {
		sessionIDs = append(sessionIDs, result.Sessions[i].ID)
	}
	s.notifier.Notify(ctx, ScheduleEvent{
		Kind:        EventScheduleGenerated,
		TherapistID: req.TherapistID,
		SessionIDs:  sessionIDs,
	})
	if s.metrics != nil {
		s.metrics.ObserveGeneration(time.Since(started), len(result.Sessions), result.UnscheduledSessions)
		for i := range result.UnresolvedConflicts {
			s.metrics.RecordConflict(string(result.UnresolvedConflicts[i].Type), string(result.UnresolvedConflicts[i].Severity))
		}
	}
	s.logger.Info("schedule generated",
		zap.String("demand_ref", req.DemandRef),
		zap.Int("placed", len(result.Sessions)),
		zap.Int("unscheduled", result.UnscheduledSessions),
		zap.Int64("elapsed_ms", result.GenerationMillis),
	)
	return result, nil
}

func (s *GeneratorService) involvedTherapists(ctx context.Context, req dto.SchedulingRequest) ([]string, error) {
	if req.TherapistID != "" {
		return []string{req.TherapistID}, nil
	}
	ids, err := s.therapists.DistinctTherapists(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list therapists")
	}
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no therapist has published availability")
	}
	sort.Strings(ids)
	return ids, nil
}

// plan is the allocation pass shared by Preview and Generate. It never
// writes; session ids are assigned only at persistence.
func (s *GeneratorService) plan(ctx context.Context, req dto.SchedulingRequest) (*dto.SchedulingResult, []placement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scheduling request")
	}
	startDate, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid startDate")
	}
	endDate, err := time.Parse(models.DateLayout, req.EndDate)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid endDate")
	}
	startDate, endDate = models.DateOnly(startDate), models.DateOnly(endDate)
	if !startDate.Before(endDate) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "startDate must be before endDate")
	}

	result := &dto.SchedulingResult{Algorithm: algorithmGreedyV1}

	if maxEnd := startDate.AddDate(0, 0, s.cfg.MaxGenerationDays-1); endDate.After(maxEnd) {
		endDate = maxEnd
		result.Warnings = append(result.Warnings, fmt.Sprintf("date range clamped to %d days", s.cfg.MaxGenerationDays))
	}

	therapistIDs, err := s.involvedTherapists(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	snaps := make(map[string]*ScheduleSnapshot, len(therapistIDs))
	for _, therapistID := range therapistIDs {
		snap, err := s.conflicts.LoadSnapshot(ctx, therapistID, startDate, endDate)
		if err != nil {
			return nil, nil, err
		}
		snaps[therapistID] = snap
	}

	candidateDays := candidateWeekdays(req)
	totalDays := int(endDate.Sub(startDate).Hours()/24) + 1
	totalWeeks := (totalDays + 6) / 7
	if totalWeeks*req.SessionsPerWeek < req.TotalSessions {
		result.Warnings = append(result.Warnings, "requested cadence cannot reach the total session count within the date range")
	}

	policy := s.conflicts.Policy()
	var placements []placement
	placed := 0

	for weekStart := startDate; !weekStart.After(endDate) && placed < req.TotalSessions; weekStart = weekStart.AddDate(0, 0, 7) {
		weekEnd := weekStart.AddDate(0, 0, 6)
		if weekEnd.After(endDate) {
			weekEnd = endDate
		}
		needed := req.SessionsPerWeek
		if remaining := req.TotalSessions - placed; remaining < needed {
			needed = remaining
		}

		weekPlaced, rejected := s.placeWeek(req, therapistIDs, snaps, policy, candidateDays, weekStart, weekEnd, needed)
		for _, p := range weekPlaced {
			placements = append(placements, p)
			result.Sessions = append(result.Sessions, p.session)
			result.UnresolvedConflicts = append(result.UnresolvedConflicts, p.conflicts...)
		}
		placed += len(weekPlaced)

		if missing := needed - len(weekPlaced); missing > 0 {
			result.Shortfalls = append(result.Shortfalls, dto.Shortfall{
				WeekStart:   weekStart.Format(models.DateLayout),
				Missing:     missing,
				Reason:      "no conflict-free slot matched the requested constraints",
				Suggestions: buildSuggestions(rejected, req),
			})
		}
	}

	result.UnscheduledSessions = req.TotalSessions - placed
	if result.UnscheduledSessions > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d of %d requested sessions could not be placed", result.UnscheduledSessions, req.TotalSessions))
	}
	if req.RequireConsecutive && !placementsConsecutive(placements) {
		result.Warnings = append(result.Warnings, "consecutive-session requirement could not be fully satisfied")
	}
	if req.MaxGapDays > 0 && maxPlacementGapDays(placements) > req.MaxGapDays {
		result.Warnings = append(result.Warnings, fmt.Sprintf("gap between sessions exceeds %d days", req.MaxGapDays))
	}

	result.OptimizationScore = compositeScore(result.Sessions, snaps, req.PreferredTimes, dto.OptimizationConfig{})
	result.PreferenceMatchScore = preferenceScore(result.Sessions, req.PreferredTimes) / 100
	return result, placements, nil
}

// rejectedCandidate keeps a conflicting candidate around for shortfall
// suggestions.
type rejectedCandidate struct {
	slot      CandidateSlot
	window    models.AvailabilityWindow
	conflicts []models.ScheduleConflict
}

// placeWeek fills one week's demand, one placement per pass over the
// candidate days so sessions spread before doubling up on a day.
func (s *GeneratorService) placeWeek(
	req dto.SchedulingRequest,
	therapistIDs []string,
	snaps map[string]*ScheduleSnapshot,
	policy SeverityPolicy,
	candidateDays map[time.Weekday]bool,
	weekStart, weekEnd time.Time,
	needed int,
) ([]placement, []rejectedCandidate) {
	var placements []placement
	var rejected []rejectedCandidate

	for len(placements) < needed {
		progress := false
		for day := weekStart; !day.After(weekEnd) && len(placements) < needed; day = day.AddDate(0, 0, 1) {
			if !candidateDays[day.Weekday()] {
				continue
			}
			p, dayRejected, ok := s.placeOnDay(req, therapistIDs, snaps, policy, day)
			rejected = append(rejected, dayRejected...)
			if !ok {
				continue
			}
			placements = append(placements, *p)
			applyToSnapshot(snaps[p.session.TherapistID], p.session)
			progress = true
		}
		if !progress {
			break
		}
	}
	return placements, rejected
}

// placeOnDay tries every therapist's candidate slots for the date. The first
// conflict-free slot wins; otherwise the lowest-severity conflicting slot is
// accepted when the request is flexible enough and the conflicts stay at or
// below medium severity, so a hard double booking is never committed.
func (s *GeneratorService) placeOnDay(
	req dto.SchedulingRequest,
	therapistIDs []string,
	snaps map[string]*ScheduleSnapshot,
	policy SeverityPolicy,
	day time.Time,
) (*placement, []rejectedCandidate, bool) {
	var rejected []rejectedCandidate
	var fallback *rejectedCandidate

	for _, therapistID := range therapistIDs {
		snap := snaps[therapistID]
		for _, candidate := range enumerateDaySlots(snap, therapistID, day, req) {
			conflicts := DetectConflicts(candidate.slot, *snap, policy)
			if len(conflicts) == 0 {
				p := s.buildPlacement(req, candidate, nil)
				return &p, rejected, true
			}
			rc := rejectedCandidate{slot: candidate.slot, window: candidate.window, conflicts: conflicts}
			rejected = append(rejected, rc)
			if models.MaxSeverity(conflicts).Rank() <= models.SeverityMedium.Rank() {
				if fallback == nil || betterFallback(rc, *fallback) {
					clone := rc
					fallback = &clone
				}
			}
		}
	}

	if fallback != nil && req.FlexibilityScore >= s.cfg.FlexibilityThreshold {
		p := s.buildPlacement(req, scoredCandidate{slot: fallback.slot, window: fallback.window}, fallback.conflicts)
		return &p, rejected, true
	}
	return nil, rejected, false
}

func betterFallback(a, b rejectedCandidate) bool {
	ra, rb := models.MaxSeverity(a.conflicts).Rank(), models.MaxSeverity(b.conflicts).Rank()
	if ra != rb {
		return ra < rb
	}
	if len(a.conflicts) != len(b.conflicts) {
		return len(a.conflicts) < len(b.conflicts)
	}
	return a.slot.StartMinute < b.slot.StartMinute
}

func (s *GeneratorService) buildPlacement(req dto.SchedulingRequest, candidate scoredCandidate, conflicts []models.ScheduleConflict) placement {
	category := req.Category
	if category == "" {
		category = models.SessionCategoryTherapy
	}
	priority := req.Priority
	if priority == 0 {
		priority = 3
	}

	session := models.ScheduledSession{
		DemandRef:        req.DemandRef,
		TherapistID:      candidate.slot.TherapistID,
		Date:             models.DateOnly(candidate.slot.Date),
		StartMinute:      candidate.slot.StartMinute,
		EndMinute:        candidate.slot.EndMinute,
		DurationMinutes:  req.DurationMinutes,
		Category:         category,
		Priority:         priority,
		Status:           models.SessionStatusScheduled,
		ResolutionStatus: models.ResolutionResolved,
		IsBillable:       req.IsBillable,
	}
	if req.StudentID != "" {
		studentID := req.StudentID
		session.StudentID = &studentID
	}
	if req.RoomID != "" {
		roomID := req.RoomID
		session.RoomID = &roomID
	}
	if len(req.EquipmentIDs) > 0 {
		session.EquipmentIDs = append(session.EquipmentIDs, req.EquipmentIDs...)
	}
	if len(conflicts) > 0 {
		session.HasConflicts = true
		session.ResolutionStatus = models.ResolutionPending
		if raw, err := json.Marshal(conflicts); err == nil {
			session.ConflictDetails = types.JSONText(raw)
		}
	}
	return placement{session: session, window: candidate.window, conflicts: conflicts}
}

// applyToSnapshot makes an accepted placement visible to the rest of the
// planning pass so later candidates see it as an existing session.
func applyToSnapshot(snap *ScheduleSnapshot, session models.ScheduledSession) {
	snap.TherapistSessions = append(snap.TherapistSessions, session)
	snap.DateSessions = append(snap.DateSessions, session)
}

// scoredCandidate orders enumerated slots by preferred-time affinity.
type scoredCandidate struct {
	slot   CandidateSlot
	window models.AvailabilityWindow
	rank   int
}

// enumerateDaySlots lists the therapist's bookable slots of the requested
// duration on a date, best preference rank first, earliest start first.
func enumerateDaySlots(snap *ScheduleSnapshot, therapistID string, day time.Time, req dto.SchedulingRequest) []scoredCandidate {
	var out []scoredCandidate
	for _, w := range ResolveDay(day, snap.Windows, snap.Exceptions) {
		if !w.Bookable() || w.DurationMinutes() < req.DurationMinutes {
			continue
		}
		for start := w.StartMinute; start+req.DurationMinutes <= w.EndMinute; start += candidateStepMinutes {
			end := start + req.DurationMinutes
			if overlapsAny(req.AvoidTimes, start, end) {
				continue
			}
			out = append(out, scoredCandidate{
				slot: CandidateSlot{
					TherapistID:  therapistID,
					Date:         day,
					StartMinute:  start,
					EndMinute:    end,
					RoomID:       req.RoomID,
					EquipmentIDs: req.EquipmentIDs,
					StudentID:    req.StudentID,
					BreakMinutes: req.BreakMinutes,
				},
				window: w,
				rank:   preferenceRank(req.PreferredTimes, start, end),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank > out[j].rank
		}
		return out[i].slot.StartMinute < out[j].slot.StartMinute
	})
	return out
}

func preferenceRank(preferred []dto.TimeRange, start, end int) int {
	rank := 0
	for _, r := range preferred {
		if r.Contains(start, end) {
			return 2
		}
		if r.Overlaps(start, end) {
			rank = 1
		}
	}
	return rank
}

func overlapsAny(ranges []dto.TimeRange, start, end int) bool {
	for _, r := range ranges {
		if r.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func candidateWeekdays(req dto.SchedulingRequest) map[time.Weekday]bool {
	days := make(map[time.Weekday]bool, 7)
	if len(req.PreferredDays) > 0 {
		for _, d := range req.PreferredDays {
			days[time.Weekday(d)] = true
		}
		return days
	}
	avoided := make(map[time.Weekday]bool, len(req.AvoidDays))
	for _, d := range req.AvoidDays {
		avoided[time.Weekday(d)] = true
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !avoided[d] {
			days[d] = true
		}
	}
	return days
}

// buildSuggestions ranks a shortfall week's conflicting candidates by
// confidence and keeps the top three.
func buildSuggestions(rejected []rejectedCandidate, req dto.SchedulingRequest) []models.SchedulingSuggestion {
	suggestions := make([]models.SchedulingSuggestion, 0, len(rejected))
	for _, rc := range rejected {
		severity := models.MaxSeverity(rc.conflicts)
		confidence := 85 - float64(severity.Rank()*20)
		switch preferenceRank(req.PreferredTimes, rc.slot.StartMinute, rc.slot.EndMinute) {
		case 2:
			confidence += 10
		case 1:
			confidence += 5
		}
		if confidence < 0 {
			confidence = 0
		}

		reasons := make([]string, 0, len(rc.conflicts))
		for _, c := range rc.conflicts {
			reasons = append(reasons, c.Description.EN)
		}
		window := rc.window
		suggestions = append(suggestions, models.SchedulingSuggestion{
			Date:         models.DateOnly(rc.slot.Date),
			StartMinute:  rc.slot.StartMinute,
			EndMinute:    rc.slot.EndMinute,
			TherapistID:  rc.slot.TherapistID,
			Confidence:   confidence,
			Reasons:      reasons,
			TradeOffs:    []string{fmt.Sprintf("requires accepting a %s severity conflict", severity)},
			Availability: &window,
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		if !suggestions[i].Date.Equal(suggestions[j].Date) {
			return suggestions[i].Date.Before(suggestions[j].Date)
		}
		return suggestions[i].StartMinute < suggestions[j].StartMinute
	})
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}

func placementsConsecutive(placements []placement) bool {
	dates := placementDates(placements)
	for i := 1; i < len(dates); i++ {
		if int(dates[i].Sub(dates[i-1]).Hours()/24) > 1 {
			return false
		}
	}
	return true
}

func maxPlacementGapDays(placements []placement) int {
	dates := placementDates(placements)
	maxGap := 0
	for i := 1; i < len(dates); i++ {
		if gap := int(dates[i].Sub(dates[i-1]).Hours() / 24); gap > maxGap {
			maxGap = gap
		}
	}
	return maxGap
}

func placementDates(placements []placement) []time.Time {
	dates := make([]time.Time, 0, len(placements))
	for i := range placements {
		dates = append(dates, placements[i].session.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// persist writes the planned sessions and window reservations in one
// transaction. Date-specific window counters are incremented; recurring
// windows track occupancy through the sessions themselves.
func (s *GeneratorService) persist(ctx context.Context, req dto.SchedulingRequest, result *dto.SchedulingResult, placements []placement) error {
	base, err := s.sessions.CountForDemand(ctx, req.DemandRef)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to number sessions")
	}
	for i := range result.Sessions {
		result.Sessions[i].SessionNumber = fmt.Sprintf("%s-%03d", req.DemandRef, base+i+1)
		result.Sessions[i].OptimizationScore = result.OptimizationScore
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.sessions.CreateBatch(ctx, tx, result.Sessions); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store sessions")
	}
	for i := range placements {
		if placements[i].window.IsRecurring {
			continue
		}
		if err := s.availability.ReserveSlot(ctx, tx, placements[i].window.ID); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule")
	}

	for i := range result.UnresolvedConflicts {
		if result.UnresolvedConflicts[i].SessionID == "" && i < len(result.Sessions) {
			result.UnresolvedConflicts[i].SessionID = sessionIDForConflict(result, i)
		}
	}
	return nil
}

// sessionIDForConflict links a stored conflict back to the persisted session
// that carries it.
func sessionIDForConflict(result *dto.SchedulingResult, conflictIdx int) string {
	c := &result.UnresolvedConflicts[conflictIdx]
	for i := range result.Sessions {
		s := &result.Sessions[i]
		if s.TherapistID == c.TherapistID && models.SameDay(s.Date, c.Date) && s.HasConflicts {
			return s.ID
		}
	}
	return ""
}
