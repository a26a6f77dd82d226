package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
	appErrors "github.com/amalcenter/scheduling-api/pkg/errors"
)

// ComputeScheduleMetrics is the pure reducer behind the metrics endpoint:
// given the sessions and availability snapshots of a period it derives
// utilization, conflict and rate figures without touching storage. Safe to
// recompute on demand.
func ComputeScheduleMetrics(sessions []models.ScheduledSession, snaps map[string]*ScheduleSnapshot, periodStart, periodEnd time.Time) *models.ScheduleMetrics {
	metrics := &models.ScheduleMetrics{
		PeriodStart: periodStart.Format(models.DateLayout),
		PeriodEnd:   periodEnd.Format(models.DateLayout),
		Conflicts: models.ConflictBreakdown{
			ByType:     make(map[models.ConflictType]int),
			BySeverity: make(map[models.ConflictSeverity]int),
		},
	}

	rescheduled, noShows, cancelled := 0, 0, 0
	var latencySum float64
	var latencyCount int

	for i := range sessions {
		s := &sessions[i]
		metrics.TotalSessions++
		switch s.Status {
		case models.SessionStatusCompleted:
			metrics.CompletedSessions++
		case models.SessionStatusNoShow:
			noShows++
		case models.SessionStatusCancelled:
			cancelled++
		case models.SessionStatusRescheduled:
			rescheduled++
		}

		if len(s.ConflictDetails) > 0 {
			var conflicts []models.ScheduleConflict
			if err := json.Unmarshal(s.ConflictDetails, &conflicts); err == nil {
				for _, c := range conflicts {
					metrics.Conflicts.Total++
					metrics.Conflicts.ByType[c.Type]++
					metrics.Conflicts.BySeverity[c.Severity]++
					if c.ResolvedAt != nil && !c.DetectedAt.IsZero() {
						latencySum += c.ResolvedAt.Sub(c.DetectedAt).Minutes()
						latencyCount++
					}
				}
			}
		}
	}

	if metrics.TotalSessions > 0 {
		total := float64(metrics.TotalSessions)
		metrics.RescheduleRate = round2(float64(rescheduled) / total)
		metrics.NoShowRate = round2(float64(noShows) / total)
		metrics.CancellationRate = round2(float64(cancelled) / total)
	}
	if latencyCount > 0 {
		metrics.AvgResolutionLatencyMins = round2(latencySum / float64(latencyCount))
	}

	metrics.TherapistUtilization = therapistUtilization(sessions, snaps, periodStart, periodEnd)
	metrics.RoomUtilization = groupedUtilization(sessions, "room", func(s *models.ScheduledSession) []string {
		if s.RoomID == nil {
			return nil
		}
		return []string{*s.RoomID}
	})
	metrics.EquipmentUtilization = groupedUtilization(sessions, "equipment", func(s *models.ScheduledSession) []string {
		return s.EquipmentIDs
	})
	metrics.OptimizationScore = compositeScore(sessions, snaps, nil, dto.OptimizationConfig{})
	return metrics
}

func therapistUtilization(sessions []models.ScheduledSession, snaps map[string]*ScheduleSnapshot, periodStart, periodEnd time.Time) []models.ResourceUtilization {
	booked := make(map[string]int)
	count := make(map[string]int)
	for i := range sessions {
		s := &sessions[i]
		if !s.IsActive() {
			continue
		}
		booked[s.TherapistID] += s.EndMinute - s.StartMinute
		count[s.TherapistID]++
	}

	out := make([]models.ResourceUtilization, 0, len(snaps))
	for therapistID, snap := range snaps {
		available := 0
		for day := periodStart; !day.After(periodEnd); day = day.AddDate(0, 0, 1) {
			for _, w := range ResolveDay(day, snap.Windows, snap.Exceptions) {
				if w.Bookable() {
					available += w.DurationMinutes()
				}
			}
		}
		u := models.ResourceUtilization{
			ResourceID:       therapistID,
			ResourceType:     "therapist",
			BookedMinutes:    booked[therapistID],
			AvailableMinutes: available,
			SessionCount:     count[therapistID],
		}
		if available > 0 {
			u.UtilizationPct = round2(float64(u.BookedMinutes) / float64(available) * 100)
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

// groupedUtilization aggregates booked time per room or equipment item.
// Rooms and equipment carry no availability windows of their own, so only
// booked minutes and counts are reported.
func groupedUtilization(sessions []models.ScheduledSession, resourceType string, idsOf func(*models.ScheduledSession) []string) []models.ResourceUtilization {
	booked := make(map[string]int)
	count := make(map[string]int)
	for i := range sessions {
		s := &sessions[i]
		if !s.IsActive() {
			continue
		}
		for _, id := range idsOf(s) {
			booked[id] += s.EndMinute - s.StartMinute
			count[id]++
		}
	}

	out := make([]models.ResourceUtilization, 0, len(booked))
	for id, minutes := range booked {
		out = append(out, models.ResourceUtilization{
			ResourceID:    id,
			ResourceType:  resourceType,
			BookedMinutes: minutes,
			SessionCount:  count[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ScheduleMetricsService feeds the pure reducer from storage.
type ScheduleMetricsService struct {
	conflicts  *ConflictService
	therapists generatorTherapistSource
	logger     *zap.Logger
}

func NewScheduleMetricsService(conflicts *ConflictService, therapists generatorTherapistSource, logger *zap.Logger) *ScheduleMetricsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleMetricsService{
		conflicts:  conflicts,
		therapists: therapists,
		logger:     logger,
	}
}

// Compute loads the period's sessions and availability and reduces them.
// therapistID narrows the report to one therapist when set.
func (s *ScheduleMetricsService) Compute(ctx context.Context, therapistID string, periodStart, periodEnd time.Time) (*models.ScheduleMetrics, error) {
	periodStart, periodEnd = models.DateOnly(periodStart), models.DateOnly(periodEnd)
	if periodEnd.Before(periodStart) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "period end must not precede period start")
	}

	therapistIDs := []string{therapistID}
	if therapistID == "" {
		ids, err := s.therapists.DistinctTherapists(ctx)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list therapists")
		}
		therapistIDs = ids
	}

	var sessions []models.ScheduledSession
	snaps := make(map[string]*ScheduleSnapshot, len(therapistIDs))
	for _, id := range therapistIDs {
		snap, err := s.conflicts.LoadSnapshot(ctx, id, periodStart, periodEnd)
		if err != nil {
			return nil, err
		}
		snaps[id] = snap
		sessions = append(sessions, snap.TherapistSessions...)
	}

	return ComputeScheduleMetrics(sessions, snaps, periodStart, periodEnd), nil
}
