package dto

import "github.com/amalcenter/scheduling-api/internal/models"

// OptimizationConfig carries scoring weights and iteration bounds for the
// hill-climbing optimizer. Weights are normalised before use.
type OptimizationConfig struct {
	UtilizationWeight float64 `json:"utilizationWeight" validate:"omitempty,min=0,max=1"`
	PreferenceWeight  float64 `json:"preferenceWeight" validate:"omitempty,min=0,max=1"`
	GapWeight         float64 `json:"gapWeight" validate:"omitempty,min=0,max=1"`
	MaxIterations     int     `json:"maxIterations" validate:"omitempty,min=1,max=500"`
	MaxGapMinutes     int     `json:"maxGapMinutes" validate:"omitempty,min=0,max=480"`
}

// OptimizeRequest selects the session set to improve.
type OptimizeRequest struct {
	TherapistID    string             `json:"therapistId" validate:"required"`
	StartDate      string             `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate        string             `json:"endDate" validate:"required,datetime=2006-01-02"`
	PreferredTimes []TimeRange        `json:"preferredTimes" validate:"omitempty,dive"`
	Config         OptimizationConfig `json:"config"`
	DryRun         bool               `json:"dryRun"`
}

// RelocatedSession records one accepted optimizer move.
type RelocatedSession struct {
	SessionID  string  `json:"sessionId"`
	FromDate   string  `json:"fromDate"`
	FromStart  int     `json:"fromStartMinute"`
	ToDate     string  `json:"toDate"`
	ToStart    int     `json:"toStartMinute"`
	ScoreDelta float64 `json:"scoreDelta"`
}

// OptimizationResult reports the outcome of an optimization pass.
type OptimizationResult struct {
	Sessions              []models.ScheduledSession `json:"sessions"`
	Moves                 []RelocatedSession        `json:"moves"`
	ScoreBefore           float64                   `json:"scoreBefore"`
	ScoreAfter            float64                   `json:"scoreAfter"`
	ImprovementPercentage float64                   `json:"improvementPercentage"`
	Iterations            int                       `json:"iterations"`
	Algorithm             string                    `json:"algorithm"`
}
