package models

// ResourceUtilization summarises booked versus available time for one
// therapist, room, or equipment item over a period.
type ResourceUtilization struct {
	ResourceID       string  `json:"resource_id"`
	ResourceType     string  `json:"resource_type"`
	BookedMinutes    int     `json:"booked_minutes"`
	AvailableMinutes int     `json:"available_minutes"`
	UtilizationPct   float64 `json:"utilization_pct"`
	SessionCount     int     `json:"session_count"`
}

// ConflictBreakdown counts conflicts grouped by type and severity.
type ConflictBreakdown struct {
	ByType     map[ConflictType]int     `json:"by_type"`
	BySeverity map[ConflictSeverity]int `json:"by_severity"`
	Total      int                      `json:"total"`
}

// ScheduleMetrics is the read-side metric set derived from a session set and
// availability windows for a period.
type ScheduleMetrics struct {
	PeriodStart              string                `json:"period_start"`
	PeriodEnd                string                `json:"period_end"`
	TotalSessions            int                   `json:"total_sessions"`
	CompletedSessions        int                   `json:"completed_sessions"`
	TherapistUtilization     []ResourceUtilization `json:"therapist_utilization"`
	RoomUtilization          []ResourceUtilization `json:"room_utilization"`
	EquipmentUtilization     []ResourceUtilization `json:"equipment_utilization"`
	Conflicts                ConflictBreakdown     `json:"conflicts"`
	AvgResolutionLatencyMins float64               `json:"avg_resolution_latency_mins"`
	RescheduleRate           float64               `json:"reschedule_rate"`
	NoShowRate               float64               `json:"no_show_rate"`
	CancellationRate         float64               `json:"cancellation_rate"`
	OptimizationScore        float64               `json:"optimization_score"`
}
