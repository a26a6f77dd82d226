package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

// SeverityPolicy maps collision classes to severities. The boundary between
// advisory and blocking conflicts is policy, not a constant.
type SeverityPolicy struct {
	TherapistOverlap     models.ConflictSeverity
	TherapistOverlapHard models.ConflictSeverity
	RoomOverlap          models.ConflictSeverity
	EquipmentOverlap     models.ConflictSeverity
	StudentOverlap       models.ConflictSeverity
	NoCoverage           models.ConflictSeverity
	WindowClosed         models.ConflictSeverity
	AtCapacity           models.ConflictSeverity
	MissingBreak         models.ConflictSeverity
}

// DefaultSeverityPolicy returns the severity mapping used when the caller
// does not override thresholds. A hard overlap (the existing session is
// confirmed or already running) escalates to critical.
func DefaultSeverityPolicy() SeverityPolicy {
	return SeverityPolicy{
		TherapistOverlap:     models.SeverityHigh,
		TherapistOverlapHard: models.SeverityCritical,
		RoomOverlap:          models.SeverityHigh,
		EquipmentOverlap:     models.SeverityHigh,
		StudentOverlap:       models.SeverityHigh,
		NoCoverage:           models.SeverityMedium,
		WindowClosed:         models.SeverityHigh,
		AtCapacity:           models.SeverityMedium,
		MissingBreak:         models.SeverityLow,
	}
}

// CandidateSlot is a proposed placement to be checked against a snapshot.
type CandidateSlot struct {
	TherapistID      string
	Date             time.Time
	StartMinute      int
	EndMinute        int
	RoomID           string
	EquipmentIDs     []string
	StudentID        string
	BreakMinutes     int
	ExcludeSessionID string
}

// ScheduleSnapshot is the state the detector evaluates a candidate against.
// The detector never mutates it.
type ScheduleSnapshot struct {
	Windows           []models.AvailabilityWindow
	Exceptions        []models.AvailabilityException
	TherapistSessions []models.ScheduledSession
	DateSessions      []models.ScheduledSession
}

// DetectConflicts evaluates a candidate slot against a snapshot and returns
// every collision found. Pure function: identical inputs yield identical
// output, and the snapshot is read-only.
func DetectConflicts(candidate CandidateSlot, snap ScheduleSnapshot, policy SeverityPolicy) []models.ScheduleConflict {
	var conflicts []models.ScheduleConflict

	conflicts = append(conflicts, checkAvailabilityCoverage(candidate, snap, policy)...)
	conflicts = append(conflicts, checkTherapistOverlap(candidate, snap, policy)...)

	if candidate.RoomID != "" {
		conflicts = append(conflicts, checkResourceOverlap(candidate, snap, policy.RoomOverlap, models.ConflictRoomUnavailable,
			func(s *models.ScheduledSession) bool { return s.RoomID != nil && *s.RoomID == candidate.RoomID },
			"room is occupied in this time range", "الغرفة مشغولة في هذا الوقت")...)
	}
	for _, equipmentID := range candidate.EquipmentIDs {
		id := equipmentID
		conflicts = append(conflicts, checkResourceOverlap(candidate, snap, policy.EquipmentOverlap, models.ConflictEquipment,
			func(s *models.ScheduledSession) bool { return containsID(s.EquipmentIDs, id) },
			fmt.Sprintf("equipment %s is in use in this time range", id),
			fmt.Sprintf("المعدات %s مستخدمة في هذا الوقت", id))...)
	}
	if candidate.StudentID != "" {
		conflicts = append(conflicts, checkResourceOverlap(candidate, snap, policy.StudentOverlap, models.ConflictStudentUnavailable,
			func(s *models.ScheduledSession) bool {
				return s.StudentID != nil && *s.StudentID == candidate.StudentID
			},
			"student already has a session in this time range", "لدى الطالب جلسة أخرى في هذا الوقت")...)
	}
	if candidate.BreakMinutes > 0 {
		conflicts = append(conflicts, checkBreakPreference(candidate, snap, policy)...)
	}

	return conflicts
}

func checkAvailabilityCoverage(candidate CandidateSlot, snap ScheduleSnapshot, policy SeverityPolicy) []models.ScheduleConflict {
	resolved := ResolveDay(candidate.Date, snap.Windows, snap.Exceptions)

	// Prefer an open covering window; a closed one is only reported when no
	// open window also covers the range.
	var covering *models.AvailabilityWindow
	for i := range resolved {
		w := &resolved[i]
		if !w.Covers(candidate.StartMinute, candidate.EndMinute) {
			continue
		}
		if !w.IsTimeOff && w.IsAvailable {
			covering = w
			break
		}
		if covering == nil {
			covering = w
		}
	}

	if covering == nil {
		return []models.ScheduleConflict{newConflict(candidate, models.ConflictTimeConstraint, policy.NoCoverage,
			"no availability window covers the requested time",
			"لا توجد فترة توفر تغطي الوقت المطلوب", "")}
	}
	if covering.IsTimeOff || !covering.IsAvailable {
		return []models.ScheduleConflict{newConflict(candidate, models.ConflictTimeConstraint, policy.WindowClosed,
			"the covering availability window is closed or marked time off",
			"فترة التوفر المطابقة مغلقة أو إجازة", "")}
	}
	if windowOccupancy(covering, candidate, snap) >= covering.MaxSessionsPerSlot {
		return []models.ScheduleConflict{newConflict(candidate, models.ConflictTherapistDoubleBooking, policy.AtCapacity,
			"the covering availability window is at capacity",
			"فترة التوفر المطابقة مكتملة العدد", "")}
	}
	return nil
}

// windowOccupancy counts the sessions already occupying the window on the
// candidate's date. Recurring windows repeat weekly, so their occupancy comes
// from the sessions on that date rather than the stored counter; the stored
// counter still wins for date-specific windows where external bookings may
// not appear in the snapshot.
func windowOccupancy(w *models.AvailabilityWindow, candidate CandidateSlot, snap ScheduleSnapshot) int {
	occupied := 0
	for i := range snap.TherapistSessions {
		s := &snap.TherapistSessions[i]
		if s.ID == candidate.ExcludeSessionID || !s.IsActive() {
			continue
		}
		if models.SameDay(s.Date, candidate.Date) && w.Covers(s.StartMinute, s.EndMinute) {
			occupied++
		}
	}
	if !w.IsRecurring && w.CurrentBookings > occupied {
		occupied = w.CurrentBookings
	}
	return occupied
}

func checkTherapistOverlap(candidate CandidateSlot, snap ScheduleSnapshot, policy SeverityPolicy) []models.ScheduleConflict {
	var conflicts []models.ScheduleConflict
	for i := range snap.TherapistSessions {
		existing := &snap.TherapistSessions[i]
		if existing.ID == candidate.ExcludeSessionID || !existing.IsActive() {
			continue
		}
		if !models.SameDay(existing.Date, candidate.Date) || !existing.Overlaps(candidate.StartMinute, candidate.EndMinute) {
			continue
		}
		severity := policy.TherapistOverlap
		if existing.Status == models.SessionStatusConfirmed || existing.Status == models.SessionStatusInProgress {
			severity = policy.TherapistOverlapHard
		}
		conflicts = append(conflicts, newConflict(candidate, models.ConflictTherapistDoubleBooking, severity,
			fmt.Sprintf("therapist already booked %s-%s", models.FormatMinute(existing.StartMinute), models.FormatMinute(existing.EndMinute)),
			fmt.Sprintf("الأخصائي محجوز من %s إلى %s", models.FormatMinute(existing.StartMinute), models.FormatMinute(existing.EndMinute)),
			existing.ID))
	}
	return conflicts
}

func checkResourceOverlap(
	candidate CandidateSlot,
	snap ScheduleSnapshot,
	severity models.ConflictSeverity,
	conflictType models.ConflictType,
	matches func(*models.ScheduledSession) bool,
	descEN, descAR string,
) []models.ScheduleConflict {
	var conflicts []models.ScheduleConflict
	for i := range snap.DateSessions {
		existing := &snap.DateSessions[i]
		if existing.ID == candidate.ExcludeSessionID || !existing.IsActive() {
			continue
		}
		if !models.SameDay(existing.Date, candidate.Date) || !matches(existing) {
			continue
		}
		if existing.Overlaps(candidate.StartMinute, candidate.EndMinute) {
			conflicts = append(conflicts, newConflict(candidate, conflictType, severity, descEN, descAR, existing.ID))
		}
	}
	return conflicts
}

// checkBreakPreference emits an advisory conflict when the candidate sits
// back-to-back with another session and the caller asked for a break.
func checkBreakPreference(candidate CandidateSlot, snap ScheduleSnapshot, policy SeverityPolicy) []models.ScheduleConflict {
	for i := range snap.TherapistSessions {
		existing := &snap.TherapistSessions[i]
		if existing.ID == candidate.ExcludeSessionID || !existing.IsActive() || !models.SameDay(existing.Date, candidate.Date) {
			continue
		}
		gapBefore := candidate.StartMinute - existing.EndMinute
		gapAfter := existing.StartMinute - candidate.EndMinute
		if (gapBefore >= 0 && gapBefore < candidate.BreakMinutes) || (gapAfter >= 0 && gapAfter < candidate.BreakMinutes) {
			return []models.ScheduleConflict{newConflict(candidate, models.ConflictTimeConstraint, policy.MissingBreak,
				fmt.Sprintf("back-to-back with another session, requested break of %d minutes not met", candidate.BreakMinutes),
				fmt.Sprintf("متتالية مع جلسة أخرى، استراحة %d دقيقة غير متوفرة", candidate.BreakMinutes),
				existing.ID)}
		}
	}
	return nil
}

// newConflict builds a conflict without an id or detection timestamp so the
// detector stays deterministic; StampConflicts assigns both when a conflict
// is about to be stored or returned to a caller.
func newConflict(candidate CandidateSlot, conflictType models.ConflictType, severity models.ConflictSeverity, descEN, descAR, conflictingID string) models.ScheduleConflict {
	return models.ScheduleConflict{
		Type:                 conflictType,
		Severity:             severity,
		ConflictingSessionID: conflictingID,
		TherapistID:          candidate.TherapistID,
		Date:                 models.DateOnly(candidate.Date),
		Description:          models.BilingualText{EN: descEN, AR: descAR},
		ResolutionStatus:     models.ResolutionPending,
	}
}

// StampConflicts assigns ids and a detection timestamp in place.
func StampConflicts(conflicts []models.ScheduleConflict, at time.Time) {
	for i := range conflicts {
		if conflicts[i].ID == "" {
			conflicts[i].ID = uuid.NewString()
		}
		if conflicts[i].DetectedAt.IsZero() {
			conflicts[i].DetectedAt = at
		}
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

type conflictWindowReader interface {
	ListForRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.AvailabilityWindow, error)
}

type conflictExceptionReader interface {
	ListForRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.AvailabilityException, error)
}

type conflictSessionReader interface {
	ListForTherapistRange(ctx context.Context, therapistID string, from, to time.Time) ([]models.ScheduledSession, error)
	ListForDate(ctx context.Context, date time.Time) ([]models.ScheduledSession, error)
}

// ConflictService exposes conflict detection over stored state.
type ConflictService struct {
	windows    conflictWindowReader
	exceptions conflictExceptionReader
	sessions   conflictSessionReader
	policy     SeverityPolicy
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewConflictService wires the detector's store readers.
func NewConflictService(windows conflictWindowReader, exceptions conflictExceptionReader, sessions conflictSessionReader, policy SeverityPolicy, validate *validator.Validate, logger *zap.Logger) *ConflictService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == (SeverityPolicy{}) {
		policy = DefaultSeverityPolicy()
	}
	return &ConflictService{
		windows:    windows,
		exceptions: exceptions,
		sessions:   sessions,
		policy:     policy,
		validator:  validate,
		logger:     logger,
	}
}

// Policy returns the severity policy in effect.
func (s *ConflictService) Policy() SeverityPolicy {
	return s.policy
}

// Check fetches the relevant snapshot and runs the detector. Read-only.
func (s *ConflictService) Check(ctx context.Context, req dto.ConflictCheckRequest) ([]models.ScheduleConflict, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict check payload")
	}
	date, err := time.Parse(models.DateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date")
	}

	snap, err := s.LoadSnapshot(ctx, req.TherapistID, date, date)
	if err != nil {
		return nil, err
	}

	candidate := CandidateSlot{
		TherapistID:      req.TherapistID,
		Date:             date,
		StartMinute:      req.StartMinute,
		EndMinute:        req.EndMinute,
		RoomID:           req.RoomID,
		EquipmentIDs:     req.EquipmentIDs,
		StudentID:        req.StudentID,
		BreakMinutes:     req.BreakMinutes,
		ExcludeSessionID: req.ExcludeID,
	}
	return DetectConflicts(candidate, *snap, s.policy), nil
}

// LoadSnapshot assembles the detector's view of a therapist's calendar for a
// date range, including every session on those dates for resource scans.
func (s *ConflictService) LoadSnapshot(ctx context.Context, therapistID string, from, to time.Time) (*ScheduleSnapshot, error) {
	windows, err := s.windows.ListForRange(ctx, therapistID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability windows")
	}
	exceptions, err := s.exceptions.ListForRange(ctx, therapistID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability exceptions")
	}
	therapistSessions, err := s.sessions.ListForTherapistRange(ctx, therapistID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}

	snap := &ScheduleSnapshot{
		Windows:           windows,
		Exceptions:        exceptions,
		TherapistSessions: therapistSessions,
	}
	for day := models.DateOnly(from); !day.After(models.DateOnly(to)); day = day.AddDate(0, 0, 1) {
		daySessions, err := s.sessions.ListForDate(ctx, day)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load day sessions")
		}
		snap.DateSessions = append(snap.DateSessions, daySessions...)
	}
	return snap, nil
}
