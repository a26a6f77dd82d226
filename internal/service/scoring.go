package service

import (
	"math"
	"sort"
	"time"

	"github.com/amalcenter/scheduling-api/internal/dto"
	"github.com/amalcenter/scheduling-api/internal/models"
)

const (
	defaultUtilizationWeight = 0.4
	defaultPreferenceWeight  = 0.3
	defaultGapWeight         = 0.3
	defaultMaxGapMinutes     = 120
)

// normalizeWeights fills missing weights with defaults and scales the three
// weights to sum to one.
func normalizeWeights(cfg dto.OptimizationConfig) dto.OptimizationConfig {
	if cfg.UtilizationWeight == 0 && cfg.PreferenceWeight == 0 && cfg.GapWeight == 0 {
		cfg.UtilizationWeight = defaultUtilizationWeight
		cfg.PreferenceWeight = defaultPreferenceWeight
		cfg.GapWeight = defaultGapWeight
	}
	total := cfg.UtilizationWeight + cfg.PreferenceWeight + cfg.GapWeight
	if total > 0 {
		cfg.UtilizationWeight /= total
		cfg.PreferenceWeight /= total
		cfg.GapWeight /= total
	}
	if cfg.MaxGapMinutes <= 0 {
		cfg.MaxGapMinutes = defaultMaxGapMinutes
	}
	return cfg
}

// compositeScore is the 0-100 schedule quality metric: weighted utilization,
// preference match and gap minimization.
func compositeScore(sessions []models.ScheduledSession, snaps map[string]*ScheduleSnapshot, preferred []dto.TimeRange, cfg dto.OptimizationConfig) float64 {
	cfg = normalizeWeights(cfg)
	score := cfg.UtilizationWeight*utilizationScore(sessions, snaps) +
		cfg.PreferenceWeight*preferenceScore(sessions, preferred) +
		cfg.GapWeight*gapScore(sessions, cfg.MaxGapMinutes)
	return math.Round(score*100) / 100
}

// utilizationScore averages booked-minutes over available-minutes across the
// therapists present in the snapshot set.
func utilizationScore(sessions []models.ScheduledSession, snaps map[string]*ScheduleSnapshot) float64 {
	if len(snaps) == 0 {
		return 0
	}

	bookedByTherapist := make(map[string]int)
	datesByTherapist := make(map[string]map[time.Time]struct{})
	for i := range sessions {
		s := &sessions[i]
		if !s.IsActive() {
			continue
		}
		bookedByTherapist[s.TherapistID] += s.EndMinute - s.StartMinute
		if datesByTherapist[s.TherapistID] == nil {
			datesByTherapist[s.TherapistID] = make(map[time.Time]struct{})
		}
		datesByTherapist[s.TherapistID][models.DateOnly(s.Date)] = struct{}{}
	}

	var sum float64
	var counted int
	for therapistID, snap := range snaps {
		available := 0
		for date := range datesByTherapist[therapistID] {
			for _, w := range ResolveDay(date, snap.Windows, snap.Exceptions) {
				if w.Bookable() {
					available += w.DurationMinutes()
				}
			}
		}
		if available == 0 {
			continue
		}
		ratio := float64(bookedByTherapist[therapistID]) / float64(available)
		sum += math.Min(ratio, 1) * 100
		counted++
	}
	if counted == 0 {
		return 0
	}
	return sum / float64(counted)
}

// preferenceScore is the fraction of active sessions placed fully inside a
// preferred time range. No stated preference counts as a full match.
func preferenceScore(sessions []models.ScheduledSession, preferred []dto.TimeRange) float64 {
	if len(preferred) == 0 {
		return 100
	}
	active, matched := 0, 0
	for i := range sessions {
		s := &sessions[i]
		if !s.IsActive() {
			continue
		}
		active++
		for _, r := range preferred {
			if r.Contains(s.StartMinute, s.EndMinute) {
				matched++
				break
			}
		}
	}
	if active == 0 {
		return 100
	}
	return float64(matched) / float64(active) * 100
}

// gapScore penalizes idle time between a therapist's consecutive same-day
// sessions, scaled against the configured maximum acceptable gap.
func gapScore(sessions []models.ScheduledSession, maxGapMinutes int) float64 {
	byDay := make(map[string][]models.ScheduledSession)
	for i := range sessions {
		s := sessions[i]
		if !s.IsActive() {
			continue
		}
		key := s.TherapistID + "|" + models.DateOnly(s.Date).Format(models.DateLayout)
		byDay[key] = append(byDay[key], s)
	}

	totalGap, gapCount := 0, 0
	for _, daySessions := range byDay {
		sort.Slice(daySessions, func(i, j int) bool { return daySessions[i].StartMinute < daySessions[j].StartMinute })
		for i := 1; i < len(daySessions); i++ {
			gap := daySessions[i].StartMinute - daySessions[i-1].EndMinute
			if gap > 0 {
				totalGap += gap
				gapCount++
			}
		}
	}
	if gapCount == 0 {
		return 100
	}
	avgGap := float64(totalGap) / float64(gapCount)
	return math.Max(0, 100*(1-avgGap/float64(maxGapMinutes)))
}
