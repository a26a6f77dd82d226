package dto

// Bulk operation kinds accepted by the coordinator.
const (
	BulkOpReschedule = "reschedule"
	BulkOpCancel     = "cancel"
	BulkOpModify     = "modify"
)

// BulkParams carries the per-operation parameters. Only the fields relevant
// to the requested operation are consulted.
type BulkParams struct {
	NewStartDate   string   `json:"newStartDate" validate:"omitempty,datetime=2006-01-02"`
	NewEndDate     string   `json:"newEndDate" validate:"omitempty,datetime=2006-01-02"`
	NewStartMinute *int     `json:"newStartMinute" validate:"omitempty,min=0,max=1439"`
	NewTherapistID string   `json:"newTherapistId"`
	NewRoomID      *string  `json:"newRoomId"`
	NewEquipment   []string `json:"newEquipmentIds"`
	Priority       *int     `json:"priority" validate:"omitempty,min=1,max=5"`
	IsBillable     *bool    `json:"isBillable"`
	Notes          *string  `json:"notes"`
	Reason         string   `json:"reason"`
}

// BulkOperationRequest applies one operation across many sessions.
type BulkOperationRequest struct {
	SessionIDs []string   `json:"sessionIds" validate:"required,min=1,max=500,dive,required"`
	Operation  string     `json:"operation" validate:"required,oneof=reschedule cancel modify"`
	Params     BulkParams `json:"params"`
	BatchSize  int        `json:"batchSize" validate:"omitempty,min=1,max=100"`
}

// BulkItemError describes why one item failed.
type BulkItemError struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BulkOperationResult partitions the processed items. The three id lists
// always sum to the number of requested sessions.
type BulkOperationResult struct {
	SuccessfulSessionIDs []string          `json:"successfulSessionIds"`
	FailedSessionIDs     []string          `json:"failedSessionIds"`
	ConflictSessionIDs   []string          `json:"conflictSessionIds"`
	Errors               []BulkItemError   `json:"errors,omitempty"`
	NewSessionIDs        map[string]string `json:"newSessionIds,omitempty"`
	RollbackAvailable    bool              `json:"rollbackAvailable"`
	RollbackToken        string            `json:"rollbackToken,omitempty"`
}
