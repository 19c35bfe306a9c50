package core

// Delegation record statuses.
const (
	DelegationCompleted = "completed"
	DelegationFailed    = "failed"
)

// DelegationRecord is one entry of the "delegations" log.
type DelegationRecord struct {
	DelegationID    string
	From            string
	To              string
	TaskDescription string
	Status          string
	Timestamp       string
	Error           string
}

// Map renders the record as a log entry.
func (r DelegationRecord) Map() map[string]any {
	m := map[string]any{
		"delegation_id":    r.DelegationID,
		"from":             r.From,
		"to":               r.To,
		"task_description": r.TaskDescription,
		"status":           r.Status,
		"timestamp":        r.Timestamp,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

// TransferRecord is one entry of the "transfers" log.
type TransferRecord struct {
	From      string
	To        string
	Reason    string
	Timestamp string
}

// Map renders the record as a log entry.
func (r TransferRecord) Map() map[string]any {
	return map[string]any{
		"from":      r.From,
		"to":        r.To,
		"reason":    r.Reason,
		"timestamp": r.Timestamp,
	}
}

// ToolExecutionRecord is one entry of the "tool_executions" log.
type ToolExecutionRecord struct {
	Tool       string
	Status     string
	DurationMS int64
	Timestamp  string
	Error      string
}

// Map renders the record as a log entry.
func (r ToolExecutionRecord) Map() map[string]any {
	m := map[string]any{
		"tool":        r.Tool,
		"status":      r.Status,
		"duration_ms": r.DurationMS,
		"timestamp":   r.Timestamp,
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}
