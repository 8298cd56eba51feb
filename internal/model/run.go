package model

import "time"

// RunStatus is the lifecycle state of a capture run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFail    RunStatus = "fail"
)

// IsTerminal reports whether the status can no longer change.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusPartial || s == RunStatusFail
}

// Run is one capture attempt spanning every configured broker account.
// A Run value is passed explicitly to each unit of work.
type Run struct {
	ID            string     `json:"id"`
	TriggerType   string     `json:"triggerType"`
	TriggeredBy   *string    `json:"triggeredBy,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty"`
	Status        RunStatus  `json:"status"`
	SchemaVersion int64      `json:"schemaVersion"`
	AppVersion    string     `json:"appVersion"`
	ErrorSummary  *string    `json:"errorSummary,omitempty"`
}

// OutcomeKind records how one account unit of a run ended.
type OutcomeKind string

const (
	OutcomeOK           OutcomeKind = "ok"
	OutcomeAdapterError OutcomeKind = "adapter_error"
	OutcomeWriterError  OutcomeKind = "writer_error"
)

// RunAccountOutcome is the terminal result of one broker account within a run.
type RunAccountOutcome struct {
	ID              string      `json:"id"`
	RunID           string      `json:"runId"`
	AccountID       string      `json:"accountId"`
	Broker          string      `json:"broker"`
	BrokerAccountID string      `json:"brokerAccountId"`
	Outcome         OutcomeKind `json:"outcome"`
	Category        string      `json:"category,omitempty"`
	Message         string      `json:"message,omitempty"`
	Attempts        int         `json:"attempts"`
	SnapshotID      *string     `json:"snapshotId,omitempty"`
	StartedAt       time.Time   `json:"startedAt"`
	FinishedAt      time.Time   `json:"finishedAt"`
}

// RunDetail is a run together with its per-account outcomes.
type RunDetail struct {
	Run
	Outcomes []RunAccountOutcome `json:"outcomes"`
}
